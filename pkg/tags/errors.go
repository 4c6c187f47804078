package tags

import "errors"

var (
	// ErrTagNotFound indicates the named tag has no directory row.
	ErrTagNotFound = errors.New("tag not found")

	// ErrTagTypeConflict indicates an attempt to use an existing tag
	// under a different type. Tag types are immutable; this is permanent.
	ErrTagTypeConflict = errors.New("tag already exists with a different type")

	// ErrTaggingUnavailable indicates the tag tables are not provisioned.
	ErrTaggingUnavailable = errors.New("tagging is not available")

	// ErrUserNotFound indicates the user has no registered devices.
	ErrUserNotFound = errors.New("user not found")
)
