package dynamostore

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies the mobile push platform of a device registration.
type Platform int

const (
	PlatformAPNS Platform = 1
	PlatformFCM  Platform = 2
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	return p == PlatformAPNS || p == PlatformFCM
}

func (p Platform) String() string {
	switch p {
	case PlatformAPNS:
		return "apns"
	case PlatformFCM:
		return "fcm"
	default:
		return fmt.Sprintf("platform(%d)", int(p))
	}
}

// TagType determines how a publish to a tag is delivered: iterative tags
// are fanned out endpoint by endpoint, topic tags publish once to a
// gateway broadcast topic.
type TagType int

const (
	TagTypeIterative TagType = 0
	TagTypeTopic     TagType = 1
)

func (t TagType) String() string {
	switch t {
	case TagTypeIterative:
		return "iterative"
	case TagTypeTopic:
		return "topic"
	default:
		return fmt.Sprintf("tagtype(%d)", int(t))
	}
}

// keySeparator joins user id and token into the composite subscriber key
// used as the reverse-index partition key. It must never occur in either
// component.
const keySeparator = ":::"

// SubscriberKey is the (user id, device token) pair identifying one
// device registration.
type SubscriberKey struct {
	UserID string
	Token  string
}

// String returns the composite key persisted in membership rows.
func (k SubscriberKey) String() string {
	return k.UserID + keySeparator + k.Token
}

// ValidKeyPart reports whether s can participate in a composite
// subscriber key: non-empty and free of the separator.
func ValidKeyPart(s string) bool {
	return s != "" && !strings.Contains(s, keySeparator)
}

// ParseSubscriberKey splits a composite membership key back into its
// user id and token.
func ParseSubscriberKey(s string) (SubscriberKey, error) {
	userID, token, ok := strings.Cut(s, keySeparator)
	if !ok || userID == "" || token == "" {
		return SubscriberKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return SubscriberKey{UserID: userID, Token: token}, nil
}

// Subscriber is one device registration row. Keyed by (UserID, Token).
type Subscriber struct {
	UserID      string    `dynamodbav:"UserId"`
	Token       string    `dynamodbav:"NotificationToken"`
	DeviceID    string    `dynamodbav:"DeviceId,omitempty"`
	PlatformID  int       `dynamodbav:"PlatformId"`
	EndpointARN string    `dynamodbav:"EndpointARN"`
	UpdatedAt   time.Time `dynamodbav:"UpdatedDateTime"`
	TTL         int64     `dynamodbav:"ttl,omitempty"`
}

// Platform returns the typed platform of the registration.
func (s *Subscriber) Platform() Platform { return Platform(s.PlatformID) }

// Key returns the subscriber's composite key.
func (s *Subscriber) Key() SubscriberKey {
	return SubscriberKey{UserID: s.UserID, Token: s.Token}
}

// Tag is one row of the tag directory. A tag's type is immutable once
// set; TopicARN is populated only for topic tags.
type Tag struct {
	Name     string `dynamodbav:"Tag"`
	TagType  int    `dynamodbav:"TaggingType"`
	TopicARN string `dynamodbav:"SnsTopicArn,omitempty"`
}

// Type returns the typed tag type.
func (t *Tag) Type() TagType { return TagType(t.TagType) }

// IterativeMembership records one subscriber's membership in an
// iterative tag. Endpoint and platform are denormalized so a tag publish
// needs no registry lookups.
type IterativeMembership struct {
	Tag         string `dynamodbav:"Tag"`
	Subscriber  string `dynamodbav:"Subscriber"`
	EndpointARN string `dynamodbav:"EndpointArn"`
	PlatformID  int    `dynamodbav:"PlatformId"`
	TTL         int64  `dynamodbav:"ttl,omitempty"`
}

// Platform returns the typed platform denormalized onto the row.
func (m *IterativeMembership) Platform() Platform { return Platform(m.PlatformID) }

// TopicMembership records one subscriber's membership in a topic tag
// together with the gateway subscription handle needed to unsubscribe.
type TopicMembership struct {
	Tag             string `dynamodbav:"Tag"`
	Subscriber      string `dynamodbav:"Subscriber"`
	SubscriptionARN string `dynamodbav:"SnsSubscriptionArn"`
}

// LogEntry is one append-only delivery log row. Target is either a user
// id or a tag name depending on the publish target.
type LogEntry struct {
	Target    string    `dynamodbav:"UserId"`
	MessageID string    `dynamodbav:"SNSMessageId"`
	Date      time.Time `dynamodbav:"Date"`
}

// Raw table names. The store prepends its configured prefix.
const (
	TableSubscribers          = "PNSubscribers"
	TableTags                 = "PNTags"
	TableIterativeMemberships = "PNIterativeTags"
	TableTopicMemberships     = "PNSNSTopicTags"
	TableLogs                 = "PNLogs"
)

// SubscriberIndex is the global secondary index on membership tables
// keyed by the composite subscriber key, used for reverse lookups.
const SubscriberIndex = "Subscriber-index"
