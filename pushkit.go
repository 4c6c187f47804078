package pushkit

import (
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/mobilepush/pushkit/pkg/dynamostore"
	"github.com/mobilepush/pushkit/pkg/publish"
	"github.com/mobilepush/pushkit/pkg/publog"
	"github.com/mobilepush/pushkit/pkg/registry"
	"github.com/mobilepush/pushkit/pkg/snsgateway"
	"github.com/mobilepush/pushkit/pkg/tags"
)

// Service is the facade over the registry, tagging, and publishing
// layers. Safe for concurrent use.
type Service struct {
	cfg      Config
	store    *dynamostore.Store
	gateway  *snsgateway.Gateway
	tags     *tags.Service
	registry *registry.Service
	engine   *publish.Engine
	recorder *publog.Recorder
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger shared by every layer.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds a Service with AWS clients constructed from the config.
// Static credentials are used when configured, otherwise the default
// provider chain applies.
func New(ctx context.Context, cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewWithClients(cfg, dynamodb.NewFromConfig(awsCfg), sns.NewFromConfig(awsCfg), opts...), nil
}

// NewWithClients builds a Service on caller-supplied storage and
// gateway clients. Useful for tests and custom client middleware.
func NewWithClients(cfg Config, db dynamostore.Client, gateway snsgateway.Client, opts ...Option) *Service {
	s := &Service{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	s.store = dynamostore.New(db, cfg.TablePrefix)
	s.gateway = snsgateway.New(gateway, snsgateway.WithLogger(s.logger))
	s.tags = tags.New(s.store, s.gateway, cfg.AppIdentifier,
		tags.WithLogger(s.logger),
		tags.WithMembershipTTL(cfg.MembershipTTL),
		tags.WithJoinLimit(cfg.JoinConcurrency),
	)
	s.registry = registry.New(s.store, s.gateway, s.tags,
		registry.WithLogger(s.logger),
		registry.WithSubscriberTTL(cfg.SubscriberTTL),
	)
	s.recorder = publog.New(s.store, s.logger, publog.Options{BufferSize: cfg.LogBufferSize})
	s.engine = publish.New(s.store, s.gateway, s.tags,
		publish.WithLogger(s.logger),
		publish.WithSandbox(cfg.Sandbox),
		publish.WithSelfHealing(s.registry),
		publish.WithRecorder(s.recorder),
	)
	return s
}

// Close flushes the delivery log. Call during shutdown.
func (s *Service) Close(ctx context.Context) error {
	return s.recorder.Close(ctx)
}

// wrap converts package sentinels into *Error values. Transport
// failures stay raw unless the catch-all policy is on.
func (s *Service) wrap(err error) error {
	if err == nil {
		return nil
	}
	classified := classify(err)
	if classified.Kind == KindInternal && !s.cfg.CatchAllErrors {
		return err
	}
	return classified
}

func (s *Service) wrapEndpointErrs(results []EndpointResult) {
	for i := range results {
		if results[i].Err != nil {
			results[i].Err = s.wrap(results[i].Err)
		}
	}
}

// platformApplicationARN resolves the platform application handle for
// the device platform.
func (s *Service) platformApplicationARN(p Platform) (string, error) {
	var arn string
	switch p {
	case PlatformAPNS:
		arn = s.cfg.APNSApplicationARN
	case PlatformFCM:
		arn = s.cfg.FCMApplicationARN
	}
	if arn == "" {
		return "", &Error{Kind: KindPlatformUnknown, Message: fmt.Sprintf("no platform application configured for %s", p)}
	}
	return arn, nil
}

// Register creates or repairs the registration for the device token and
// joins the requested tags.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if err := req.Validate(); err != nil {
		return nil, newError(KindModelInvalid, err)
	}
	appARN, err := s.platformApplicationARN(req.Platform)
	if err != nil {
		return nil, err
	}

	arn, err := s.registry.Register(ctx, registry.RegisterParams{
		UserID:                 req.UserID,
		Token:                  req.Token,
		DeviceID:               req.DeviceID,
		Platform:               req.Platform,
		PlatformApplicationARN: appARN,
		Tags:                   req.Tags,
	})
	if err != nil {
		return nil, s.wrap(err)
	}
	return &RegisterResult{EndpointARN: arn}, nil
}

// UnregisterUser removes every registration of the user. A user with no
// registrations is reported, not an error.
func (s *Service) UnregisterUser(ctx context.Context, userID string) (*UnregisterResult, error) {
	notRegistered, err := s.registry.UnregisterUser(ctx, userID)
	if err != nil {
		return nil, s.wrap(err)
	}
	return &UnregisterResult{NotRegistered: notRegistered}, nil
}

// UnregisterSubscriber removes one (user, token) registration.
// Idempotent.
func (s *Service) UnregisterSubscriber(ctx context.Context, userID, token string) error {
	return s.wrap(s.registry.UnregisterSubscriber(ctx, userID, token))
}

// Switch re-registers a device under a new user identity, carrying tag
// memberships except the ignored ones.
func (s *Service) Switch(ctx context.Context, req SwitchRequest) (*SwitchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, newError(KindModelInvalid, err)
	}
	appARN, err := s.platformApplicationARN(req.Platform)
	if err != nil {
		return nil, err
	}

	arn, err := s.registry.Switch(ctx, registry.SwitchParams{
		PrevUserID:             req.PrevUserID,
		PrevToken:              req.PrevToken,
		UserID:                 req.UserID,
		Token:                  req.Token,
		DeviceID:               req.DeviceID,
		Platform:               req.Platform,
		PlatformApplicationARN: appARN,
		IgnoredTags:            req.IgnoredTags,
	})
	if err != nil {
		return nil, s.wrap(err)
	}
	return &SwitchResult{EndpointARN: arn}, nil
}

func (s *Service) taggingUnavailable(ctx context.Context) error {
	if s.tags.Available(ctx) {
		return nil
	}
	return newError(KindTaggingUnavailable, tags.ErrTaggingUnavailable)
}

// AddUserToTags joins every device of the user to the given tags.
func (s *Service) AddUserToTags(ctx context.Context, userID string, tagSet []AttributedTag) (*TagOperationResult, error) {
	if err := s.taggingUnavailable(ctx); err != nil {
		return nil, err
	}
	devices, err := s.tags.AddUserToTags(ctx, userID, tagSet)
	if err != nil {
		return nil, s.wrap(err)
	}
	return &TagOperationResult{Devices: devices}, nil
}

// RemoveUserFromTags removes every device of the user from the named
// tags.
func (s *Service) RemoveUserFromTags(ctx context.Context, userID string, tagNames []string) (*TagOperationResult, error) {
	if err := s.taggingUnavailable(ctx); err != nil {
		return nil, err
	}
	devices, err := s.tags.RemoveUserFromTags(ctx, userID, tagNames)
	if err != nil {
		return nil, s.wrap(err)
	}
	return &TagOperationResult{Devices: devices}, nil
}

// RemoveAllTags removes every tag membership of the user.
func (s *Service) RemoveAllTags(ctx context.Context, userID string) (*TagOperationResult, error) {
	if err := s.taggingUnavailable(ctx); err != nil {
		return nil, err
	}
	devices, err := s.tags.RemoveAllTagsOfUser(ctx, userID)
	if err != nil {
		return nil, s.wrap(err)
	}
	return &TagOperationResult{Devices: devices}, nil
}

// DeleteTag removes the tag, its memberships, and its broadcast topic
// if it has one. Returns how many memberships were removed.
func (s *Service) DeleteTag(ctx context.Context, name string) (*TagOperationResult, error) {
	if err := s.taggingUnavailable(ctx); err != nil {
		return nil, err
	}
	members, err := s.tags.DeleteTag(ctx, name)
	if err != nil {
		return nil, s.wrap(err)
	}
	return &TagOperationResult{Devices: members}, nil
}

// PublishToUser delivers the message to every device of the user.
// Per-device failures are reported inside the results.
func (s *Service) PublishToUser(ctx context.Context, userID string, msg *Message) ([]EndpointResult, error) {
	results, err := s.engine.PublishToUser(ctx, userID, msg)
	s.wrapEndpointErrs(results)
	if err != nil {
		return results, s.wrap(err)
	}
	return results, nil
}

// PublishToSubscriber delivers the message to a single device.
func (s *Service) PublishToSubscriber(ctx context.Context, userID, token string, msg *Message) (*EndpointResult, error) {
	res := s.engine.PublishToSubscriber(ctx, userID, token, msg)
	if res.Err != nil {
		res.Err = s.wrap(res.Err)
	}
	return &res, nil
}

// PublishToTag delivers the message to every member of the tag.
func (s *Service) PublishToTag(ctx context.Context, tag string, msg *Message) (*TagPublishResult, error) {
	result, err := s.engine.PublishToTag(ctx, tag, msg)
	if result != nil {
		s.wrapEndpointErrs(result.Endpoints)
	}
	if err != nil {
		return result, s.wrap(err)
	}
	return result, nil
}
