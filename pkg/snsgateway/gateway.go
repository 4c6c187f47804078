package snsgateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/mobilepush/pushkit/pkg/logger"
)

// existingEndpointPattern recognizes the SNS error raised when a
// platform endpoint already exists for a token with different custom
// data. The existing handle is extracted from the message instead of
// failing, which is what makes endpoint creation idempotent.
var existingEndpointPattern = regexp.MustCompile(`.*Endpoint (arn:aws:sns[^ ]+) already exists with the same [Tt]oken.*`)

// noEndpointForTarget is the InvalidParameter message fragment SNS
// returns when publishing to a deleted endpoint.
const noEndpointForTarget = "No endpoint found for the target arn specified"

// Client defines the SNS operations used by Gateway.
type Client interface {
	CreatePlatformEndpoint(ctx context.Context, params *sns.CreatePlatformEndpointInput, optFns ...func(*sns.Options)) (*sns.CreatePlatformEndpointOutput, error)
	GetEndpointAttributes(ctx context.Context, params *sns.GetEndpointAttributesInput, optFns ...func(*sns.Options)) (*sns.GetEndpointAttributesOutput, error)
	SetEndpointAttributes(ctx context.Context, params *sns.SetEndpointAttributesInput, optFns ...func(*sns.Options)) (*sns.SetEndpointAttributesOutput, error)
	DeleteEndpoint(ctx context.Context, params *sns.DeleteEndpointInput, optFns ...func(*sns.Options)) (*sns.DeleteEndpointOutput, error)
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	CreateTopic(ctx context.Context, params *sns.CreateTopicInput, optFns ...func(*sns.Options)) (*sns.CreateTopicOutput, error)
	DeleteTopic(ctx context.Context, params *sns.DeleteTopicInput, optFns ...func(*sns.Options)) (*sns.DeleteTopicOutput, error)
	Subscribe(ctx context.Context, params *sns.SubscribeInput, optFns ...func(*sns.Options)) (*sns.SubscribeOutput, error)
	Unsubscribe(ctx context.Context, params *sns.UnsubscribeInput, optFns ...func(*sns.Options)) (*sns.UnsubscribeOutput, error)
	GetTopicAttributes(ctx context.Context, params *sns.GetTopicAttributesInput, optFns ...func(*sns.Options)) (*sns.GetTopicAttributesOutput, error)
}

// EndpointAttributes is the gateway's current view of an endpoint.
type EndpointAttributes struct {
	Token   string
	Enabled bool
}

// Gateway is the delivery gateway adapter. Safe for concurrent use.
type Gateway struct {
	client Client
	logger *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the Gateway.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a Gateway on top of an SNS client.
func New(client Client, opts ...Option) *Gateway {
	g := &Gateway{client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func classify(err error, operation string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrOperationTimeout, operation)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s", ErrOperationCanceled, operation)
	}
	return fmt.Errorf("%s failed: %w", operation, err)
}

// CreateEndpoint registers a device token with a platform application
// and returns the endpoint handle. Creation is idempotent: when the
// token already has an endpoint, the existing handle is recovered from
// the duplicate-token error.
func (g *Gateway) CreateEndpoint(ctx context.Context, platformApplicationARN, token string) (string, error) {
	resp, err := g.client.CreatePlatformEndpoint(ctx, &sns.CreatePlatformEndpointInput{
		PlatformApplicationArn: aws.String(platformApplicationARN),
		Token:                  aws.String(token),
	})
	if err != nil {
		var ipe *types.InvalidParameterException
		if errors.As(err, &ipe) && ipe.Message != nil {
			if match := existingEndpointPattern.FindStringSubmatch(*ipe.Message); match != nil {
				g.logger.LogAttrs(ctx, slog.LevelDebug, "reusing existing endpoint for token",
					logger.Endpoint(match[1]),
				)
				return match[1], nil
			}
		}
		return "", classify(err, "create endpoint")
	}
	return aws.ToString(resp.EndpointArn), nil
}

// EndpointAttrs fetches the gateway's recorded token and enabled flag
// for an endpoint. Returns ErrEndpointNotFound when the handle is stale.
func (g *Gateway) EndpointAttrs(ctx context.Context, endpointARN string) (*EndpointAttributes, error) {
	resp, err := g.client.GetEndpointAttributes(ctx, &sns.GetEndpointAttributesInput{
		EndpointArn: aws.String(endpointARN),
	})
	if err != nil {
		var nfe *types.NotFoundException
		if errors.As(err, &nfe) {
			return nil, fmt.Errorf("%w: %s", ErrEndpointNotFound, endpointARN)
		}
		return nil, classify(err, "get endpoint attributes")
	}
	return &EndpointAttributes{
		Token:   resp.Attributes["Token"],
		Enabled: strings.EqualFold(resp.Attributes["Enabled"], "true"),
	}, nil
}

// UpdateEndpoint pushes the current token to the endpoint and re-enables
// it.
func (g *Gateway) UpdateEndpoint(ctx context.Context, endpointARN, token string) error {
	_, err := g.client.SetEndpointAttributes(ctx, &sns.SetEndpointAttributesInput{
		EndpointArn: aws.String(endpointARN),
		Attributes: map[string]string{
			"Token":   token,
			"Enabled": "true",
		},
	})
	if err != nil {
		return classify(err, "set endpoint attributes")
	}
	return nil
}

// DeleteEndpoint removes a platform endpoint. Deleting an already absent
// endpoint succeeds.
func (g *Gateway) DeleteEndpoint(ctx context.Context, endpointARN string) error {
	_, err := g.client.DeleteEndpoint(ctx, &sns.DeleteEndpointInput{
		EndpointArn: aws.String(endpointARN),
	})
	if err != nil {
		var nfe *types.NotFoundException
		if errors.As(err, &nfe) {
			return nil
		}
		return classify(err, "delete endpoint")
	}
	return nil
}

// PublishOptions carries per-publish delivery attributes.
type PublishOptions struct {
	// TTLSeconds, when positive, is forwarded to the push platforms as
	// the notification time-to-live.
	TTLSeconds int
	// Sandbox selects the sandbox APNs TTL attribute key.
	Sandbox bool
}

func (o PublishOptions) messageAttributes() map[string]types.MessageAttributeValue {
	if o.TTLSeconds <= 0 {
		return nil
	}
	ttl := types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(strconv.Itoa(o.TTLSeconds)),
	}
	apnsKey := "AWS.SNS.MOBILE.APNS.TTL"
	if o.Sandbox {
		apnsKey = "AWS.SNS.MOBILE.APNS_SANDBOX.TTL"
	}
	return map[string]types.MessageAttributeValue{
		apnsKey:                  ttl,
		"AWS.SNS.MOBILE.GCM.TTL": ttl,
	}
}

// PublishToEndpoint sends a structured message to a single endpoint and
// returns the gateway message id. Dead endpoints surface as
// ErrEndpointDisabled or ErrEndpointNotFound.
func (g *Gateway) PublishToEndpoint(ctx context.Context, endpointARN, message string, opts PublishOptions) (string, error) {
	resp, err := g.client.Publish(ctx, &sns.PublishInput{
		TargetArn:         aws.String(endpointARN),
		Message:           aws.String(message),
		MessageStructure:  aws.String("json"),
		MessageAttributes: opts.messageAttributes(),
	})
	if err != nil {
		return "", classifyPublishError(err)
	}
	return aws.ToString(resp.MessageId), nil
}

// PublishToTopic sends a structured message to a broadcast topic.
func (g *Gateway) PublishToTopic(ctx context.Context, topicARN, message string) (string, error) {
	resp, err := g.client.Publish(ctx, &sns.PublishInput{
		TopicArn:         aws.String(topicARN),
		Message:          aws.String(message),
		MessageStructure: aws.String("json"),
	})
	if err != nil {
		return "", classifyPublishError(err)
	}
	return aws.ToString(resp.MessageId), nil
}

func classifyPublishError(err error) error {
	var ede *types.EndpointDisabledException
	if errors.As(err, &ede) {
		return ErrEndpointDisabled
	}
	var ipe *types.InvalidParameterException
	if errors.As(err, &ipe) && ipe.Message != nil && strings.Contains(*ipe.Message, noEndpointForTarget) {
		return ErrEndpointNotFound
	}
	return classify(err, "publish")
}

// CreateTopic creates (or returns the existing) broadcast topic with the
// given name and returns its handle.
func (g *Gateway) CreateTopic(ctx context.Context, name string) (string, error) {
	resp, err := g.client.CreateTopic(ctx, &sns.CreateTopicInput{
		Name: aws.String(name),
	})
	if err != nil {
		return "", classify(err, "create topic")
	}
	return aws.ToString(resp.TopicArn), nil
}

// DeleteTopic removes a broadcast topic. Deleting an absent topic
// succeeds, which keeps concurrent last-member cleanups harmless.
func (g *Gateway) DeleteTopic(ctx context.Context, topicARN string) error {
	_, err := g.client.DeleteTopic(ctx, &sns.DeleteTopicInput{
		TopicArn: aws.String(topicARN),
	})
	if err != nil {
		var nfe *types.NotFoundException
		if errors.As(err, &nfe) {
			return nil
		}
		return classify(err, "delete topic")
	}
	return nil
}

// Subscribe attaches an endpoint to a broadcast topic and returns the
// subscription handle.
func (g *Gateway) Subscribe(ctx context.Context, topicARN, endpointARN string) (string, error) {
	resp, err := g.client.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn: aws.String(topicARN),
		Protocol: aws.String("application"),
		Endpoint: aws.String(endpointARN),
	})
	if err != nil {
		return "", classify(err, "subscribe")
	}
	return aws.ToString(resp.SubscriptionArn), nil
}

// Unsubscribe detaches a topic subscription.
func (g *Gateway) Unsubscribe(ctx context.Context, subscriptionARN string) error {
	_, err := g.client.Unsubscribe(ctx, &sns.UnsubscribeInput{
		SubscriptionArn: aws.String(subscriptionARN),
	})
	if err != nil {
		return classify(err, "unsubscribe")
	}
	return nil
}

// ConfirmedSubscriptionCount reads the topic's own confirmed subscriber
// count. Local membership rows may lag actual subscription state, so the
// last-member topic cleanup trusts this number instead.
func (g *Gateway) ConfirmedSubscriptionCount(ctx context.Context, topicARN string) (int, error) {
	resp, err := g.client.GetTopicAttributes(ctx, &sns.GetTopicAttributesInput{
		TopicArn: aws.String(topicARN),
	})
	if err != nil {
		var nfe *types.NotFoundException
		if errors.As(err, &nfe) {
			return 0, fmt.Errorf("%w: %s", ErrTopicNotFound, topicARN)
		}
		return 0, classify(err, "get topic attributes")
	}
	count, err := strconv.Atoi(resp.Attributes["SubscriptionsConfirmed"])
	if err != nil {
		return 0, fmt.Errorf("get topic attributes: parse SubscriptionsConfirmed: %w", err)
	}
	return count, nil
}
