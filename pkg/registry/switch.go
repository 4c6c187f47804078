package registry

import (
	"context"
	"errors"

	"github.com/mobilepush/pushkit/pkg/dynamostore"
	"github.com/mobilepush/pushkit/pkg/tags"
)

// SwitchParams moves a device from one user identity to another.
type SwitchParams struct {
	// PrevUserID and PrevToken identify the registration being vacated.
	// Other devices of the previous identity are untouched.
	PrevUserID string
	PrevToken  string

	UserID                 string
	Token                  string
	DeviceID               string
	Platform               dynamostore.Platform
	PlatformApplicationARN string

	// IgnoredTags names memberships of the previous registration that
	// must not carry over, typically per-user tags like a personal inbox.
	IgnoredTags []string
}

// Switch re-registers a device under a new user identity. Tag
// memberships of the previous registration carry over except those
// listed in IgnoredTags. A missing previous registration is tolerated;
// the device is simply registered under the new identity. Returns the
// endpoint handle of the new registration.
func (s *Service) Switch(ctx context.Context, p SwitchParams) (string, error) {
	prev, err := s.store.GetSubscriber(ctx, p.PrevUserID, p.PrevToken)
	if err != nil && !errors.Is(err, dynamostore.ErrNotFound) {
		return "", err
	}

	var carried []tags.AttributedTag
	if prev != nil {
		if s.taggingAvailable(ctx) {
			memberships, err := s.tags.MembershipsOfSubscriber(ctx, prev.Key())
			if err != nil {
				return "", err
			}
			carried = carriedTags(memberships, p.IgnoredTags)
		}
		if err := s.unregisterSubscriber(ctx, prev); err != nil {
			return "", err
		}
	}

	return s.Register(ctx, RegisterParams{
		UserID:                 p.UserID,
		Token:                  p.Token,
		DeviceID:               p.DeviceID,
		Platform:               p.Platform,
		PlatformApplicationARN: p.PlatformApplicationARN,
		Tags:                   carried,
	})
}
