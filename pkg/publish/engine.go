package publish

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mobilepush/pushkit/pkg/dynamostore"
	"github.com/mobilepush/pushkit/pkg/logger"
	"github.com/mobilepush/pushkit/pkg/snsgateway"
	"github.com/mobilepush/pushkit/pkg/tags"
)

// DeliveryRecorder receives the message id of every successful delivery.
// Implementations must not block the publish path.
type DeliveryRecorder interface {
	Record(ctx context.Context, target, messageID string)
}

// SubscriberRemover unregisters a dead device registration. Satisfied by
// the registry service.
type SubscriberRemover interface {
	UnregisterSubscriber(ctx context.Context, userID, token string) error
}

// Engine delivers messages and prunes endpoints that delivery proves
// dead. Safe for concurrent use.
type Engine struct {
	store    *dynamostore.Store
	gateway  *snsgateway.Gateway
	tags     *tags.Service
	remover  SubscriberRemover
	recorder DeliveryRecorder
	sandbox  bool
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for the Engine.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithSelfHealing unregisters subscribers whose endpoints the gateway
// reports disabled or gone.
func WithSelfHealing(r SubscriberRemover) Option {
	return func(e *Engine) { e.remover = r }
}

// WithRecorder records successful deliveries.
func WithRecorder(r DeliveryRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithSandbox targets the APNs sandbox environment.
func WithSandbox(sandbox bool) Option {
	return func(e *Engine) { e.sandbox = sandbox }
}

// New creates a publish Engine. tagSvc may be nil when tagging is not
// provisioned; tag publishes then fail with ErrTaggingUnavailable.
func New(store *dynamostore.Store, gateway *snsgateway.Gateway, tagSvc *tags.Service, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		gateway: gateway,
		tags:    tagSvc,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EndpointResult is the delivery outcome for one device.
type EndpointResult struct {
	UserID    string
	Token     string
	MessageID string
	Err       error
}

// TagResult is the outcome of a tag publish. Endpoints is populated for
// iterative tags; MessageID for topic tags.
type TagResult struct {
	Tag       string
	Type      dynamostore.TagType
	MessageID string
	Endpoints []EndpointResult
}

// PublishToUser delivers the message to every device of the user, one
// endpoint at a time. Per-device failures land in the corresponding
// EndpointResult; the slice covers every device unless the context is
// canceled, in which case the partial results are returned with the
// context error.
func (e *Engine) PublishToUser(ctx context.Context, userID string, msg *Message) ([]EndpointResult, error) {
	subs, err := e.store.SubscribersOfUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrUserNotFound
	}

	results := make([]EndpointResult, 0, len(subs))
	for i := range subs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, e.publishEndpoint(ctx, subs[i].Key(), subs[i].EndpointARN, subs[i].Platform(), msg))
	}
	return results, nil
}

// PublishToSubscriber delivers the message to a single device.
func (e *Engine) PublishToSubscriber(ctx context.Context, userID, token string, msg *Message) EndpointResult {
	sub, err := e.store.GetSubscriber(ctx, userID, token)
	if err != nil {
		if errors.Is(err, dynamostore.ErrNotFound) {
			err = ErrSubscriberNotFound
		}
		return EndpointResult{UserID: userID, Token: token, Err: err}
	}
	return e.publishEndpoint(ctx, sub.Key(), sub.EndpointARN, sub.Platform(), msg)
}

// PublishToTag delivers the message to every member of the tag. Topic
// tags publish once to the broadcast topic; iterative tags fan out to
// each member endpoint sequentially using the endpoint handle
// denormalized onto the membership row.
func (e *Engine) PublishToTag(ctx context.Context, tag string, msg *Message) (*TagResult, error) {
	if e.tags == nil || !e.tags.Available(ctx) {
		return nil, tags.ErrTaggingUnavailable
	}

	row, err := e.store.GetTag(ctx, tag)
	if err != nil {
		if errors.Is(err, dynamostore.ErrNotFound) {
			return nil, tags.ErrTagNotFound
		}
		return nil, err
	}

	result := &TagResult{Tag: tag, Type: row.Type()}
	if row.Type() == dynamostore.TagTypeTopic {
		body, err := msg.Envelope(e.sandbox)
		if err != nil {
			return nil, err
		}
		id, err := e.gateway.PublishToTopic(ctx, row.TopicARN, body)
		if err != nil {
			return nil, err
		}
		result.MessageID = id
		e.record(ctx, tag, id)
		return result, nil
	}

	members, err := e.store.IterativeMembersOfTag(ctx, tag)
	if err != nil {
		return nil, err
	}
	for i := range members {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		key, err := dynamostore.ParseSubscriberKey(members[i].Subscriber)
		if err != nil {
			e.logger.LogAttrs(ctx, slog.LevelWarn, "skipping malformed membership key",
				logger.Tag(tag), logger.Error(err),
			)
			continue
		}
		result.Endpoints = append(result.Endpoints,
			e.publishEndpoint(ctx, key, members[i].EndpointARN, members[i].Platform(), msg))
	}
	return result, nil
}

func (e *Engine) publishEndpoint(ctx context.Context, key dynamostore.SubscriberKey, endpointARN string, platform dynamostore.Platform, msg *Message) EndpointResult {
	res := EndpointResult{UserID: key.UserID, Token: key.Token}
	if !msg.targets(platform) {
		res.Err = ErrPlatformMismatch
		return res
	}
	if msg.empty() {
		res.Err = ErrMessageEmpty
		return res
	}
	if !msg.hasPayloadFor(platform) {
		res.Err = ErrPlatformMismatch
		return res
	}
	body, err := msg.Envelope(e.sandbox)
	if err != nil {
		res.Err = err
		return res
	}

	opts := snsgateway.PublishOptions{TTLSeconds: msg.TTLSeconds, Sandbox: e.sandbox}
	id, err := e.gateway.PublishToEndpoint(ctx, endpointARN, body, opts)
	if err != nil {
		res.Err = err
		if errors.Is(err, snsgateway.ErrEndpointDisabled) || errors.Is(err, snsgateway.ErrEndpointNotFound) {
			e.selfHeal(ctx, key, endpointARN)
		}
		return res
	}

	res.MessageID = id
	e.record(ctx, key.UserID, id)
	return res
}

// selfHeal removes a registration whose endpoint delivery proved dead.
// Failures are logged, not returned, so the publish outcome stays the
// delivery error.
func (e *Engine) selfHeal(ctx context.Context, key dynamostore.SubscriberKey, endpointARN string) {
	if e.remover == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := e.remover.UnregisterSubscriber(ctx, key.UserID, key.Token); err != nil {
		e.logger.LogAttrs(ctx, slog.LevelWarn, "failed to unregister dead endpoint",
			logger.UserID(key.UserID), logger.Endpoint(endpointARN), logger.Error(err),
		)
	}
}

func (e *Engine) record(ctx context.Context, target, messageID string) {
	if e.recorder != nil {
		e.recorder.Record(ctx, target, messageID)
	}
}
