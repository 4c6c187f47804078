package registry

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mobilepush/pushkit/pkg/dynamostore"
	"github.com/mobilepush/pushkit/pkg/logger"
	"github.com/mobilepush/pushkit/pkg/tags"
)

// UnregisterUser removes every registration of the user along with its
// endpoint and tag memberships. It reports notRegistered=true when the
// user had no devices, which is not an error.
func (s *Service) UnregisterUser(ctx context.Context, userID string) (notRegistered bool, err error) {
	subs, err := s.store.SubscribersOfUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if len(subs) == 0 {
		return true, nil
	}

	for i := range subs {
		if err := s.unregisterSubscriber(ctx, &subs[i]); err != nil {
			return false, err
		}
	}
	return false, nil
}

// UnregisterSubscriber removes a single (user, token) registration.
// Unknown registrations are a no-op, so the call is safe to repeat and
// safe to use for self-healing after a delivery failure.
func (s *Service) UnregisterSubscriber(ctx context.Context, userID, token string) error {
	sub, err := s.store.GetSubscriber(ctx, userID, token)
	if err != nil {
		if errors.Is(err, dynamostore.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.unregisterSubscriber(ctx, sub)
}

// unregisterSubscriber tears down one registration: tag memberships
// first, then the registry row, then the gateway endpoint. Endpoint
// deletion failures are logged, not returned, since the registration is
// already gone and the endpoint is unreachable without it.
func (s *Service) unregisterSubscriber(ctx context.Context, sub *dynamostore.Subscriber) error {
	if s.taggingAvailable(ctx) {
		memberships, err := s.tags.MembershipsOfSubscriber(ctx, sub.Key())
		if err != nil {
			return err
		}
		if err := s.tags.RemoveMemberships(ctx, memberships); err != nil {
			return err
		}
	}

	if err := s.store.DeleteSubscriber(ctx, sub.UserID, sub.Token); err != nil {
		return err
	}

	if err := s.gateway.DeleteEndpoint(ctx, sub.EndpointARN); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "failed to delete endpoint during unregistration",
			logger.UserID(sub.UserID), logger.Endpoint(sub.EndpointARN), logger.Error(err),
		)
	}
	return nil
}

// carriedTags distills memberships into the attributed tag set to
// re-apply, dropping names on the ignore list and duplicates.
func carriedTags(memberships []tags.Membership, ignore []string) []tags.AttributedTag {
	ignored := make(map[string]struct{}, len(ignore))
	for _, name := range ignore {
		ignored[name] = struct{}{}
	}

	seen := make(map[string]struct{}, len(memberships))
	carried := make([]tags.AttributedTag, 0, len(memberships))
	for _, m := range memberships {
		if _, skip := ignored[m.Tag]; skip {
			continue
		}
		if _, dup := seen[m.Tag]; dup {
			continue
		}
		seen[m.Tag] = struct{}{}
		carried = append(carried, tags.AttributedTag{Name: m.Tag, Type: m.Type})
	}
	return carried
}
