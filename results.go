package pushkit

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/mobilepush/pushkit/pkg/dynamostore"
	"github.com/mobilepush/pushkit/pkg/publish"
	"github.com/mobilepush/pushkit/pkg/snsgateway"
	"github.com/mobilepush/pushkit/pkg/tags"
)

// ErrorKind is a stable, machine-readable classification of an
// operation failure.
type ErrorKind string

const (
	KindUserNotFound       ErrorKind = "user_not_found"
	KindSubscriberNotFound ErrorKind = "subscriber_not_found"
	KindTagNotFound        ErrorKind = "tag_not_found"
	KindTagTypeConflict    ErrorKind = "tag_type_conflict"
	KindTaggingUnavailable ErrorKind = "tagging_unavailable"
	KindPlatformUnknown    ErrorKind = "platform_unknown"
	KindPlatformMismatch   ErrorKind = "platform_mismatch"
	KindEndpointDisabled   ErrorKind = "endpoint_disabled"
	KindEndpointNotFound   ErrorKind = "endpoint_not_found"
	KindMessageEmpty       ErrorKind = "message_empty"
	KindModelInvalid       ErrorKind = "model_invalid"
	KindInternal           ErrorKind = "internal"
)

// Error is a classified operation failure.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Message: cause.Error(), cause: cause}
}

// classify maps package sentinels onto error kinds. Anything
// unrecognized is KindInternal.
func classify(err error) *Error {
	switch {
	case errors.Is(err, publish.ErrUserNotFound), errors.Is(err, tags.ErrUserNotFound):
		return newError(KindUserNotFound, err)
	case errors.Is(err, publish.ErrSubscriberNotFound):
		return newError(KindSubscriberNotFound, err)
	case errors.Is(err, tags.ErrTagNotFound):
		return newError(KindTagNotFound, err)
	case errors.Is(err, tags.ErrTagTypeConflict):
		return newError(KindTagTypeConflict, err)
	case errors.Is(err, tags.ErrTaggingUnavailable):
		return newError(KindTaggingUnavailable, err)
	case errors.Is(err, publish.ErrPlatformMismatch):
		return newError(KindPlatformMismatch, err)
	case errors.Is(err, publish.ErrMessageEmpty):
		return newError(KindMessageEmpty, err)
	case errors.Is(err, snsgateway.ErrEndpointDisabled):
		return newError(KindEndpointDisabled, err)
	case errors.Is(err, snsgateway.ErrEndpointNotFound):
		return newError(KindEndpointNotFound, err)
	case errors.Is(err, dynamostore.ErrInvalidKey):
		return newError(KindModelInvalid, err)
	default:
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			return newError(KindModelInvalid, err)
		}
		return newError(KindInternal, err)
	}
}

// RegisterResult is the outcome of a successful registration.
type RegisterResult struct {
	EndpointARN string
}

// UnregisterResult reports whether the user had anything to remove.
type UnregisterResult struct {
	NotRegistered bool
}

// SwitchResult is the outcome of a successful identity switch.
type SwitchResult struct {
	EndpointARN string
}

// TagOperationResult reports how many device registrations a tag
// mutation touched.
type TagOperationResult struct {
	Devices int
}

// EndpointResult re-exports the per-device publish outcome.
type EndpointResult = publish.EndpointResult

// TagPublishResult re-exports the tag publish outcome.
type TagPublishResult = publish.TagResult
