// Package snsgateway wraps the SNS mobile push API surface used by
// pushkit: platform endpoints, broadcast topics, topic subscriptions and
// publishes. Gateway errors that carry business meaning (disabled or
// missing endpoints, duplicate device tokens) are classified into
// sentinel errors so callers never inspect raw SDK failures.
package snsgateway
