// Package publog records delivered notifications in the delivery log
// table without blocking the publish path.
//
// Entries are queued to a background writer; a full queue drops the
// entry with a warning rather than slowing delivery. The log is an
// operational trail, not an audit requirement.
package publog
