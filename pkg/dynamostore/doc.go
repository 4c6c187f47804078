// Package dynamostore implements the typed table store backing the push
// subscriber registry, tag directory, membership tables and delivery log.
//
// Records map one-to-one onto DynamoDB tables sharing a configurable name
// prefix so multiple applications can coexist in one account. Reads give
// read-after-write consistency per key; there are no cross-key
// transactions, consumers reconcile on the next read.
package dynamostore
