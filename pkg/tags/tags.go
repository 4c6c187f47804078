package tags

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mobilepush/pushkit/pkg/dynamostore"
	"github.com/mobilepush/pushkit/pkg/logger"
	"github.com/mobilepush/pushkit/pkg/snsgateway"
)

// topicNameSeparator joins the app identifier and tag name into the
// gateway topic name, isolating topics of applications sharing an
// account.
const topicNameSeparator = "___"

// AttributedTag names a tag together with its type. Joins require the
// type because the directory row may not exist yet.
type AttributedTag struct {
	Name string
	Type dynamostore.TagType
}

// Membership is a unified view over rows of both membership stores.
// SubscriptionARN is set for topic memberships only.
type Membership struct {
	Tag             string
	Subscriber      dynamostore.SubscriberKey
	Type            dynamostore.TagType
	SubscriptionARN string
}

// Service orchestrates tag directory and membership mutations.
// Safe for concurrent use.
type Service struct {
	store         *dynamostore.Store
	gateway       *snsgateway.Gateway
	appIdentifier string
	membershipTTL time.Duration
	joinLimit     int
	logger        *slog.Logger

	// Tag tables are optional. Existence is probed once per process;
	// provisioning does not change at runtime in practice.
	availOnce sync.Once
	available bool
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger for the Service.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMembershipTTL sets the expiry applied to iterative membership
// rows. Zero disables expiration.
func WithMembershipTTL(ttl time.Duration) Option {
	return func(s *Service) { s.membershipTTL = ttl }
}

// WithJoinLimit bounds how many tag joins run concurrently when a
// subscriber is assigned its tag set.
func WithJoinLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.joinLimit = n
		}
	}
}

// New creates a tag Service. appIdentifier prefixes gateway topic names.
func New(store *dynamostore.Store, gateway *snsgateway.Gateway, appIdentifier string, opts ...Option) *Service {
	s := &Service{
		store:         store,
		gateway:       gateway,
		appIdentifier: appIdentifier,
		joinLimit:     4,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available reports whether the tag tables are provisioned. The probe
// runs once per process lifetime.
func (s *Service) Available(ctx context.Context) bool {
	s.availOnce.Do(func() {
		exists, err := s.store.TableExists(ctx, dynamostore.TableTags)
		if err != nil {
			s.logger.LogAttrs(ctx, slog.LevelWarn, "tag table probe failed, tagging disabled",
				logger.Error(err),
			)
			return
		}
		s.available = exists
	})
	return s.available
}

func (s *Service) topicName(tag string) string {
	return s.appIdentifier + topicNameSeparator + tag
}

func (s *Service) membershipExpiry() int64 {
	if s.membershipTTL <= 0 {
		return 0
	}
	return time.Now().Add(s.membershipTTL).Unix()
}

// Join adds one subscriber to one tag, creating the directory row and,
// for topic tags, the gateway topic on first use.
func (s *Service) Join(ctx context.Context, sub *dynamostore.Subscriber, tag AttributedTag) error {
	if tag.Name == "" {
		return nil
	}
	switch tag.Type {
	case dynamostore.TagTypeIterative:
		return s.joinIterative(ctx, sub, tag.Name)
	case dynamostore.TagTypeTopic:
		return s.joinTopic(ctx, sub, tag.Name)
	default:
		return fmt.Errorf("unknown tag type %v for tag %q", tag.Type, tag.Name)
	}
}

// JoinAll assigns a subscriber to a set of tags. Joins touch disjoint
// membership rows and run concurrently, bounded by the join limit.
func (s *Service) JoinAll(ctx context.Context, sub *dynamostore.Subscriber, tagSet []AttributedTag) error {
	if len(tagSet) == 0 {
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.joinLimit)
	for _, tag := range tagSet {
		tag := tag
		g.Go(func() error {
			return s.Join(ctx, sub, tag)
		})
	}
	return g.Wait()
}

// loadTagForType loads the directory row for a join, enforcing type
// immutability. Returns nil when the row does not exist yet.
func (s *Service) loadTagForType(ctx context.Context, name string, want dynamostore.TagType) (*dynamostore.Tag, error) {
	row, err := s.store.GetTag(ctx, name)
	if errors.Is(err, dynamostore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if row.Type() != want {
		return nil, fmt.Errorf("%w: tag %q is %s", ErrTagTypeConflict, name, row.Type())
	}
	return row, nil
}

func (s *Service) joinIterative(ctx context.Context, sub *dynamostore.Subscriber, name string) error {
	row, err := s.loadTagForType(ctx, name, dynamostore.TagTypeIterative)
	if err != nil {
		return err
	}
	if row == nil {
		if err := s.store.PutTag(ctx, &dynamostore.Tag{
			Name:    name,
			TagType: int(dynamostore.TagTypeIterative),
		}); err != nil {
			return err
		}
	}

	return s.store.PutIterativeMembership(ctx, &dynamostore.IterativeMembership{
		Tag:         name,
		Subscriber:  sub.Key().String(),
		EndpointARN: sub.EndpointARN,
		PlatformID:  sub.PlatformID,
		TTL:         s.membershipExpiry(),
	})
}

func (s *Service) joinTopic(ctx context.Context, sub *dynamostore.Subscriber, name string) error {
	row, err := s.loadTagForType(ctx, name, dynamostore.TagTypeTopic)
	if err != nil {
		return err
	}

	var topicARN string
	if row != nil {
		topicARN = row.TopicARN
	}
	if topicARN == "" {
		topicARN, err = s.gateway.CreateTopic(ctx, s.topicName(name))
		if err != nil {
			return err
		}
	}

	subscriptionARN, err := s.gateway.Subscribe(ctx, topicARN, sub.EndpointARN)
	if err != nil {
		return err
	}

	// Directory row is written only after the topic is confirmed, so a
	// failed create leaves no orphaned membership.
	if row == nil || row.TopicARN == "" {
		if err := s.store.PutTag(ctx, &dynamostore.Tag{
			Name:     name,
			TagType:  int(dynamostore.TagTypeTopic),
			TopicARN: topicARN,
		}); err != nil {
			return err
		}
	}

	return s.store.PutTopicMembership(ctx, &dynamostore.TopicMembership{
		Tag:             name,
		Subscriber:      sub.Key().String(),
		SubscriptionARN: subscriptionARN,
	})
}

// AddUserToTags joins every registered device of a user to the given
// tags and returns the number of devices touched.
func (s *Service) AddUserToTags(ctx context.Context, userID string, tagSet []AttributedTag) (int, error) {
	subs, err := s.store.SubscribersOfUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(subs) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	for i := range subs {
		if err := s.JoinAll(ctx, &subs[i], tagSet); err != nil {
			return 0, err
		}
	}
	return len(subs), nil
}

// RemoveUserFromTags removes every device of a user from the named tags
// and returns the number of memberships removed. Unknown tags and tags
// the user never joined contribute nothing to the count.
func (s *Service) RemoveUserFromTags(ctx context.Context, userID string, tagNames []string) (int, error) {
	subs, err := s.store.SubscribersOfUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	keys := make([]dynamostore.SubscriberKey, len(subs))
	for i := range subs {
		keys[i] = subs[i].Key()
	}
	memberships, err := s.MembershipsOfSubscribers(ctx, keys)
	if err != nil {
		return 0, err
	}

	named := make(map[string]struct{}, len(tagNames))
	for _, name := range tagNames {
		named[name] = struct{}{}
	}
	selected := make([]Membership, 0, len(memberships))
	for _, m := range memberships {
		if _, ok := named[m.Tag]; ok {
			selected = append(selected, m)
		}
	}

	if err := s.RemoveMemberships(ctx, selected); err != nil {
		return 0, err
	}
	return len(selected), nil
}

// RemoveAllTagsOfUser removes every membership of every device of a
// user and returns the number of memberships removed.
func (s *Service) RemoveAllTagsOfUser(ctx context.Context, userID string) (int, error) {
	subs, err := s.store.SubscribersOfUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	keys := make([]dynamostore.SubscriberKey, len(subs))
	for i := range subs {
		keys[i] = subs[i].Key()
	}
	memberships, err := s.MembershipsOfSubscribers(ctx, keys)
	if err != nil {
		return 0, err
	}
	if err := s.RemoveMemberships(ctx, memberships); err != nil {
		return 0, err
	}
	return len(memberships), nil
}

// MembershipsOfSubscriber reverse-queries both membership stores for one
// subscriber.
func (s *Service) MembershipsOfSubscriber(ctx context.Context, key dynamostore.SubscriberKey) ([]Membership, error) {
	return s.MembershipsOfSubscribers(ctx, []dynamostore.SubscriberKey{key})
}

// MembershipsOfSubscribers reverse-queries both membership stores for a
// set of subscribers.
func (s *Service) MembershipsOfSubscribers(ctx context.Context, keys []dynamostore.SubscriberKey) ([]Membership, error) {
	var all []Membership
	for _, key := range keys {
		iter, err := s.store.IterativeMembershipsOfSubscriber(ctx, key)
		if err != nil {
			return nil, err
		}
		for _, m := range iter {
			all = append(all, Membership{
				Tag:        m.Tag,
				Subscriber: key,
				Type:       dynamostore.TagTypeIterative,
			})
		}

		topic, err := s.store.TopicMembershipsOfSubscriber(ctx, key)
		if err != nil {
			return nil, err
		}
		for _, m := range topic {
			all = append(all, Membership{
				Tag:             m.Tag,
				Subscriber:      key,
				Type:            dynamostore.TagTypeTopic,
				SubscriptionARN: m.SubscriptionARN,
			})
		}
	}
	return all, nil
}

// AttributedTagsOfUser returns the tag set of a user across all devices,
// suitable for re-applying memberships after an endpoint replacement.
func (s *Service) AttributedTagsOfUser(ctx context.Context, userID string) ([]AttributedTag, error) {
	subs, err := s.store.SubscribersOfUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	keys := make([]dynamostore.SubscriberKey, len(subs))
	for i := range subs {
		keys[i] = subs[i].Key()
	}
	memberships, err := s.MembershipsOfSubscribers(ctx, keys)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(memberships))
	tagSet := make([]AttributedTag, 0, len(memberships))
	for _, m := range memberships {
		if _, ok := seen[m.Tag]; ok {
			continue
		}
		seen[m.Tag] = struct{}{}
		tagSet = append(tagSet, AttributedTag{Name: m.Tag, Type: m.Type})
	}
	return tagSet, nil
}

// RemoveMemberships removes the given membership rows, grouped per tag
// so topic cleanup runs once per tag on its last member.
func (s *Service) RemoveMemberships(ctx context.Context, memberships []Membership) error {
	type group struct {
		tagType dynamostore.TagType
		keys    []dynamostore.SubscriberKey
	}
	groups := make(map[string]*group)
	order := make([]string, 0, len(memberships))
	for _, m := range memberships {
		g, ok := groups[m.Tag]
		if !ok {
			g = &group{tagType: m.Type}
			groups[m.Tag] = g
			order = append(order, m.Tag)
		}
		g.keys = append(g.keys, m.Subscriber)
	}

	for _, tag := range order {
		g := groups[tag]
		if err := s.removeMembersFromTag(ctx, tag, g.keys, g.tagType); err != nil {
			return err
		}
	}
	return nil
}

// RemoveSubscribers removes every membership of the given subscribers.
func (s *Service) RemoveSubscribers(ctx context.Context, keys []dynamostore.SubscriberKey) error {
	memberships, err := s.MembershipsOfSubscribers(ctx, keys)
	if err != nil {
		return err
	}
	return s.RemoveMemberships(ctx, memberships)
}

func (s *Service) removeMembersFromTag(ctx context.Context, tag string, keys []dynamostore.SubscriberKey, tagType dynamostore.TagType) error {
	if len(keys) == 0 {
		return nil
	}
	switch tagType {
	case dynamostore.TagTypeIterative:
		return s.store.BatchDeleteIterativeMemberships(ctx, tag, keys)
	case dynamostore.TagTypeTopic:
		for i, key := range keys {
			lastMember := i == len(keys)-1
			if err := s.leaveTopic(ctx, tag, key, "", lastMember); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

// leaveTopic unsubscribes one member from a topic tag and deletes its
// membership row; both must complete. When removing the last known
// member, the topic's own confirmed subscription count decides whether
// the topic and directory row are deleted. That count is read from the
// gateway, not the local store, and the cleanup is best effort: two
// concurrent last-member leaves may both attempt the delete, which the
// gateway treats as idempotent.
func (s *Service) leaveTopic(ctx context.Context, tag string, key dynamostore.SubscriberKey, subscriptionARN string, checkDeleteTopic bool) error {
	if subscriptionARN == "" {
		m, err := s.store.GetTopicMembership(ctx, tag, key)
		if errors.Is(err, dynamostore.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		subscriptionARN = m.SubscriptionARN
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.gateway.Unsubscribe(gctx, subscriptionARN)
	})
	g.Go(func() error {
		return s.store.DeleteTopicMembership(gctx, tag, key)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if checkDeleteTopic {
		s.reapEmptyTopic(ctx, tag)
	}
	return nil
}

// reapEmptyTopic deletes the topic and directory row once the gateway
// reports zero confirmed subscriptions. Failures are logged, not
// returned: the leave itself already succeeded.
func (s *Service) reapEmptyTopic(ctx context.Context, tag string) {
	row, err := s.store.GetTag(ctx, tag)
	if err != nil {
		if !errors.Is(err, dynamostore.ErrNotFound) {
			s.logger.LogAttrs(ctx, slog.LevelWarn, "topic cleanup: tag lookup failed",
				logger.Tag(tag), logger.Error(err),
			)
		}
		return
	}

	count, err := s.gateway.ConfirmedSubscriptionCount(ctx, row.TopicARN)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "topic cleanup: subscription count unavailable",
			logger.Tag(tag), logger.Error(err),
		)
		return
	}
	if count > 0 {
		return
	}

	if err := s.gateway.DeleteTopic(ctx, row.TopicARN); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "topic cleanup: topic delete failed",
			logger.Tag(tag), logger.Error(err),
		)
		return
	}
	if err := s.store.DeleteTag(ctx, tag); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "topic cleanup: tag row delete failed",
			logger.Tag(tag), logger.Error(err),
		)
	}
}

// DeleteTag removes a tag entirely: every membership (and topic
// subscription), then the directory row. Returns the number of members
// removed.
func (s *Service) DeleteTag(ctx context.Context, name string) (int, error) {
	row, err := s.store.GetTag(ctx, name)
	if errors.Is(err, dynamostore.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrTagNotFound, name)
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	switch row.Type() {
	case dynamostore.TagTypeIterative:
		members, err := s.store.IterativeMembersOfTag(ctx, name)
		if err != nil {
			return 0, err
		}
		keys := make([]dynamostore.SubscriberKey, 0, len(members))
		for _, m := range members {
			key, err := dynamostore.ParseSubscriberKey(m.Subscriber)
			if err != nil {
				s.logger.LogAttrs(ctx, slog.LevelWarn, "delete tag: skipping malformed membership key",
					logger.Tag(name), logger.Error(err),
				)
				continue
			}
			keys = append(keys, key)
		}
		if err := s.removeMembersFromTag(ctx, name, keys, dynamostore.TagTypeIterative); err != nil {
			return 0, err
		}
		removed = len(keys)

	case dynamostore.TagTypeTopic:
		members, err := s.store.TopicMembersOfTag(ctx, name)
		if err != nil {
			return 0, err
		}
		for i, m := range members {
			key, err := dynamostore.ParseSubscriberKey(m.Subscriber)
			if err != nil {
				s.logger.LogAttrs(ctx, slog.LevelWarn, "delete tag: skipping malformed membership key",
					logger.Tag(name), logger.Error(err),
				)
				continue
			}
			lastMember := i == len(members)-1
			if err := s.leaveTopic(ctx, name, key, m.SubscriptionARN, lastMember); err != nil {
				return removed, err
			}
			removed++
		}
	}

	if err := s.store.DeleteTag(ctx, name); err != nil {
		return removed, err
	}
	return removed, nil
}
