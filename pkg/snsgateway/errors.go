package snsgateway

import "errors"

var (
	// ErrEndpointDisabled indicates the platform endpoint exists but has
	// been disabled by the push platform (dead or revoked token).
	ErrEndpointDisabled = errors.New("endpoint disabled")

	// ErrEndpointNotFound indicates the endpoint handle no longer refers
	// to a live registration.
	ErrEndpointNotFound = errors.New("endpoint not found")

	// ErrTopicNotFound indicates the broadcast topic no longer exists.
	ErrTopicNotFound = errors.New("topic not found")

	ErrOperationTimeout  = errors.New("operation timed out")
	ErrOperationCanceled = errors.New("operation canceled")
)
