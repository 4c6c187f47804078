package dynamostore

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrTableNotFound indicates the backing table has not been provisioned.
	ErrTableNotFound = errors.New("table not found")

	ErrThroughputExceeded = errors.New("provisioned throughput exceeded")
	ErrConditionFailed    = errors.New("conditional check failed")

	ErrOperationTimeout  = errors.New("operation timed out")
	ErrOperationCanceled = errors.New("operation canceled")

	ErrInvalidKey = errors.New("invalid record key")
)
