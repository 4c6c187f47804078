package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/mobilepush/pushkit/pkg/dynamostore"
	"github.com/mobilepush/pushkit/pkg/snsgateway"
	"github.com/mobilepush/pushkit/pkg/tags"
)

// Service runs the registration lifecycle. Safe for concurrent use,
// though two concurrent registrations of the same (user, token) race and
// the last registry write wins; this is accepted, not guarded.
type Service struct {
	store         *dynamostore.Store
	gateway       *snsgateway.Gateway
	tags          *tags.Service
	subscriberTTL time.Duration
	logger        *slog.Logger
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

// WithSubscriberTTL sets the expiry applied to registry rows. Zero
// disables expiration.
func WithSubscriberTTL(ttl time.Duration) Option {
	return func(s *Service) { s.subscriberTTL = ttl }
}

// New creates a registration Service.
func New(store *dynamostore.Store, gateway *snsgateway.Gateway, tagSvc *tags.Service, opts ...Option) *Service {
	s := &Service{
		store:   store,
		gateway: gateway,
		tags:    tagSvc,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) subscriberExpiry(now time.Time) int64 {
	if s.subscriberTTL <= 0 {
		return 0
	}
	return now.Add(s.subscriberTTL).Unix()
}

func (s *Service) taggingAvailable(ctx context.Context) bool {
	return s.tags != nil && s.tags.Available(ctx)
}
