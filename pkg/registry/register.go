package registry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mobilepush/pushkit/pkg/dynamostore"
	"github.com/mobilepush/pushkit/pkg/logger"
	"github.com/mobilepush/pushkit/pkg/snsgateway"
	"github.com/mobilepush/pushkit/pkg/tags"
)

// RegisterParams describes one device registration.
type RegisterParams struct {
	UserID                 string
	Token                  string
	DeviceID               string
	Platform               dynamostore.Platform
	PlatformApplicationARN string
	// Tags is the tag set applied after registration. On an endpoint
	// replacement the user's previously recorded tags are re-applied as
	// well, so memberships survive a token rotation.
	Tags []tags.AttributedTag
}

// Register creates or repairs the (user, token) endpoint registration
// and returns the resolved endpoint handle.
//
// The algorithm follows the AWS mobile push token flow: create the
// endpoint if no registration exists (reusing the existing endpoint on a
// duplicate token), verify the stored handle against the gateway,
// recreate it when the gateway no longer knows it, and push the token
// back when the gateway's copy diverged or the endpoint was disabled.
func (s *Service) Register(ctx context.Context, p RegisterParams) (string, error) {
	sub, err := s.store.GetSubscriber(ctx, p.UserID, p.Token)
	if err != nil && !errors.Is(err, dynamostore.ErrNotFound) {
		return "", err
	}

	if sub == nil {
		if sub, err = s.createSubscriber(ctx, p, nil); err != nil {
			return "", err
		}
	}

	// Verify the endpoint even if it was just created: the handle may
	// have been recovered from a duplicate-token error and carry stale
	// attributes.
	updateNeeded := false
	attrs, err := s.gateway.EndpointAttrs(ctx, sub.EndpointARN)
	switch {
	case errors.Is(err, snsgateway.ErrEndpointNotFound):
		// Stored handle went stale out-of-band. Recreate.
		if sub, err = s.createSubscriber(ctx, p, sub); err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	default:
		updateNeeded = attrs.Token != sub.Token || !attrs.Enabled
	}

	if updateNeeded {
		if err := s.gateway.UpdateEndpoint(ctx, sub.EndpointARN, sub.Token); err != nil {
			return "", err
		}
	}

	if s.taggingAvailable(ctx) {
		if err := s.tags.JoinAll(ctx, sub, p.Tags); err != nil {
			return "", err
		}
	}

	return sub.EndpointARN, nil
}

// createSubscriber resolves an endpoint handle for the token and stores
// the registration row. When it replaces a prior registration whose
// handle differs, the old endpoint is deleted best-effort in the
// background and the user's recorded tag memberships are re-applied to
// the new handle.
func (s *Service) createSubscriber(ctx context.Context, p RegisterParams, prev *dynamostore.Subscriber) (*dynamostore.Subscriber, error) {
	endpointARN, err := s.gateway.CreateEndpoint(ctx, p.PlatformApplicationARN, p.Token)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sub := &dynamostore.Subscriber{
		UserID:      p.UserID,
		Token:       p.Token,
		DeviceID:    p.DeviceID,
		PlatformID:  int(p.Platform),
		EndpointARN: endpointARN,
		UpdatedAt:   now,
		TTL:         s.subscriberExpiry(now),
	}
	if err := s.store.PutSubscriber(ctx, sub); err != nil {
		return nil, err
	}

	if prev != nil && prev.EndpointARN != endpointARN {
		s.deleteEndpointAsync(ctx, prev.EndpointARN)
	}

	if s.taggingAvailable(ctx) {
		current, err := s.tags.AttributedTagsOfUser(ctx, p.UserID)
		if err != nil {
			return nil, err
		}
		if err := s.tags.JoinAll(ctx, sub, current); err != nil {
			return nil, err
		}
	}

	return sub, nil
}

// deleteEndpointAsync removes a replaced endpoint without blocking the
// registration that replaced it.
func (s *Service) deleteEndpointAsync(ctx context.Context, endpointARN string) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := s.gateway.DeleteEndpoint(ctx, endpointARN); err != nil {
			s.logger.LogAttrs(ctx, slog.LevelWarn, "failed to delete replaced endpoint",
				logger.Endpoint(endpointARN), logger.Error(err),
			)
		}
	}()
}
