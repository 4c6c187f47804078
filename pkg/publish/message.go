package publish

import (
	"encoding/json"

	"github.com/mobilepush/pushkit/pkg/dynamostore"
)

// Payload holds the platform-neutral fields of a notification.
type Payload struct {
	Title string
	Body  string
	// Badge, when set, updates the app icon badge count.
	Badge *int
	Sound string
	// Custom keys are carried alongside the notification fields. The
	// reserved "aps" and "data" keys are ignored.
	Custom map[string]any
}

// APNSPayload extends Payload with APNs-only fields.
type APNSPayload struct {
	Payload

	ContentAvailable bool
	MutableContent   bool
	Category         string
	ThreadID         string
	TitleLocKey      string
	TitleLocArgs     []string
	LocKey           string
	LocArgs          []string
	LaunchImage      string
}

// FCMPayload holds the FCM rendition of a notification.
type FCMPayload struct {
	Payload
}

// Message is one notification to deliver. Platform payloads take
// precedence over Generic; a platform with neither is skipped on
// endpoint publishes and omitted from topic envelopes.
type Message struct {
	// Default is the plain-text fallback the gateway requires in every
	// structured envelope. Empty falls back to the resolved body.
	Default string

	APNS    *APNSPayload
	FCM     *FCMPayload
	Generic *Payload

	// TargetPlatform, when set, pins endpoint delivery to devices of
	// that platform; other devices are skipped with a platform mismatch
	// before any gateway call.
	TargetPlatform dynamostore.Platform

	// TTLSeconds, when positive, bounds how long the push platforms
	// retain an undeliverable notification.
	TTLSeconds int
}

func (m *Message) resolveAPNS() *APNSPayload {
	if m.APNS != nil {
		return m.APNS
	}
	if m.Generic != nil {
		return &APNSPayload{Payload: *m.Generic}
	}
	return nil
}

func (m *Message) resolveFCM() *FCMPayload {
	if m.FCM != nil {
		return m.FCM
	}
	if m.Generic != nil {
		return &FCMPayload{Payload: *m.Generic}
	}
	return nil
}

// empty reports whether the message resolves no payload at all.
func (m *Message) empty() bool {
	return m.resolveAPNS() == nil && m.resolveFCM() == nil
}

// targets reports whether the platform pin allows delivery to p.
func (m *Message) targets(p dynamostore.Platform) bool {
	return m.TargetPlatform == 0 || m.TargetPlatform == p
}

// hasPayloadFor reports whether the message renders anything for the
// given platform.
func (m *Message) hasPayloadFor(p dynamostore.Platform) bool {
	switch p {
	case dynamostore.PlatformAPNS:
		return m.resolveAPNS() != nil
	case dynamostore.PlatformFCM:
		return m.resolveFCM() != nil
	default:
		return false
	}
}

func (m *Message) defaultText() string {
	if m.Default != "" {
		return m.Default
	}
	if m.Generic != nil {
		return m.Generic.Body
	}
	if m.APNS != nil && m.APNS.Body != "" {
		return m.APNS.Body
	}
	if m.FCM != nil {
		return m.FCM.Body
	}
	return ""
}

// Envelope serializes the message into the gateway's multi-platform
// JSON envelope. Platform payloads are nested as JSON strings, the way
// MessageStructure "json" requires. Returns ErrMessageEmpty when
// neither platform resolves a payload.
func (m *Message) Envelope(sandbox bool) (string, error) {
	apns := m.resolveAPNS()
	fcm := m.resolveFCM()
	if apns == nil && fcm == nil {
		return "", ErrMessageEmpty
	}

	envelope := map[string]string{"default": m.defaultText()}
	if apns != nil {
		raw, err := json.Marshal(apns.wire())
		if err != nil {
			return "", err
		}
		key := "APNS"
		if sandbox {
			key = "APNS_SANDBOX"
		}
		envelope[key] = string(raw)
	}
	if fcm != nil {
		raw, err := json.Marshal(fcm.wire())
		if err != nil {
			return "", err
		}
		envelope["GCM"] = string(raw)
	}

	out, err := json.Marshal(envelope)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// wire renders the APNs payload: an "aps" dictionary plus custom keys
// at the top level.
func (p *APNSPayload) wire() map[string]any {
	alert := map[string]any{}
	if p.Title != "" {
		alert["title"] = p.Title
	}
	if p.Body != "" {
		alert["body"] = p.Body
	}
	if p.TitleLocKey != "" {
		alert["title-loc-key"] = p.TitleLocKey
		if len(p.TitleLocArgs) > 0 {
			alert["title-loc-args"] = p.TitleLocArgs
		}
	}
	if p.LocKey != "" {
		alert["loc-key"] = p.LocKey
		if len(p.LocArgs) > 0 {
			alert["loc-args"] = p.LocArgs
		}
	}
	if p.LaunchImage != "" {
		alert["launch-image"] = p.LaunchImage
	}

	aps := map[string]any{}
	if len(alert) > 0 {
		aps["alert"] = alert
	}
	if p.Badge != nil {
		aps["badge"] = *p.Badge
	}
	if p.Sound != "" {
		aps["sound"] = p.Sound
	}
	if p.ContentAvailable {
		aps["content-available"] = 1
	}
	if p.MutableContent {
		aps["mutable-content"] = 1
	}
	if p.Category != "" {
		aps["category"] = p.Category
	}
	if p.ThreadID != "" {
		aps["thread-id"] = p.ThreadID
	}

	out := map[string]any{"aps": aps}
	for k, v := range p.Custom {
		if k == "aps" {
			continue
		}
		out[k] = v
	}
	return out
}

// wire renders the FCM payload: notification fields and custom keys
// under a "data" object, so the app controls presentation on both
// foreground and background deliveries.
func (p *FCMPayload) wire() map[string]any {
	data := map[string]any{}
	if p.Title != "" {
		data["title"] = p.Title
	}
	if p.Body != "" {
		data["body"] = p.Body
	}
	if p.Badge != nil {
		data["badge"] = *p.Badge
	}
	if p.Sound != "" {
		data["sound"] = p.Sound
	}
	for k, v := range p.Custom {
		if k == "data" {
			continue
		}
		data[k] = v
	}
	return map[string]any{"data": data}
}
