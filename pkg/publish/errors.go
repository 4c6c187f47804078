package publish

import "errors"

var (
	// ErrUserNotFound indicates the user has no registered devices.
	ErrUserNotFound = errors.New("user not found")

	// ErrSubscriberNotFound indicates no registration exists for the
	// (user, token) pair.
	ErrSubscriberNotFound = errors.New("subscriber not found")

	// ErrMessageEmpty indicates the message resolves to no platform
	// payload at all.
	ErrMessageEmpty = errors.New("message has no payload")

	// ErrPlatformMismatch indicates the message carries no payload for
	// the target device's platform.
	ErrPlatformMismatch = errors.New("message has no payload for the device platform")
)
