package pushkit

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/mobilepush/pushkit/pkg/dynamostore"
	"github.com/mobilepush/pushkit/pkg/publish"
	"github.com/mobilepush/pushkit/pkg/tags"
)

// Re-exported domain types so most callers need only this package.
type (
	Platform      = dynamostore.Platform
	TagType       = dynamostore.TagType
	AttributedTag = tags.AttributedTag
	Message       = publish.Message
	Payload       = publish.Payload
	APNSPayload   = publish.APNSPayload
	FCMPayload    = publish.FCMPayload
)

const (
	PlatformAPNS = dynamostore.PlatformAPNS
	PlatformFCM  = dynamostore.PlatformFCM

	TagTypeIterative = dynamostore.TagTypeIterative
	TagTypeTopic     = dynamostore.TagTypeTopic
)

// keyPart rejects values that cannot participate in the composite
// subscriber key.
func keyPart(v any) error {
	s, _ := v.(string)
	if !dynamostore.ValidKeyPart(s) {
		return errors.New("must not be empty or contain the key separator")
	}
	return nil
}

// RegisterRequest registers one device token under a user identity.
type RegisterRequest struct {
	UserID   string
	Token    string
	DeviceID string
	Platform Platform
	// Tags to join after registration.
	Tags []AttributedTag
}

func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required, validation.By(keyPart)),
		validation.Field(&r.Token, validation.Required, validation.By(keyPart)),
	)
}

// SwitchRequest moves a device token to a new user identity. Only the
// (PrevUserID, PrevToken) registration is vacated; other devices of the
// previous identity keep theirs.
type SwitchRequest struct {
	PrevUserID string
	PrevToken  string
	UserID     string
	Token      string
	DeviceID   string
	Platform   Platform
	// IgnoredTags are memberships of the previous registration that
	// must not carry over.
	IgnoredTags []string
}

func (r SwitchRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PrevUserID, validation.Required),
		validation.Field(&r.PrevToken, validation.Required),
		validation.Field(&r.UserID, validation.Required, validation.By(keyPart)),
		validation.Field(&r.Token, validation.Required, validation.By(keyPart)),
	)
}
