package notify

import (
	"time"

	"firebase.google.com/go/v4/messaging"

	"waitercall-platform/internal/tokens"
)

// PayloadBuilder shapes the provider message for one platform. Adding a
// platform means adding a builder to the registry, not another branch in the
// dispatch path.
type PayloadBuilder interface {
	Build(n Notification, token string) *messaging.Message
}

// NewBuilderRegistry wires the default builder per platform.
func NewBuilderRegistry(androidTTL time.Duration) map[tokens.Platform]PayloadBuilder {
	if androidTTL <= 0 {
		androidTTL = DefaultAndroidTTL
	}
	return map[tokens.Platform]PayloadBuilder{
		tokens.PlatformWeb:     WebPayloadBuilder{},
		tokens.PlatformAndroid: AndroidPayloadBuilder{TTL: androidTTL},
		tokens.PlatformIOS:     IOSPayloadBuilder{},
	}
}

// WebPayloadBuilder targets browser push. The payload carries both a visible
// notification block and the data block: both are required for delivery while
// the page is backgrounded or closed.
type WebPayloadBuilder struct{}

func (WebPayloadBuilder) Build(n Notification, token string) *messaging.Message {
	msg := &messaging.Message{
		Token: token,
		Data:  n.Data,
		Webpush: &messaging.WebpushConfig{
			Data: n.Data,
		},
	}
	if n.Priority == PriorityHigh {
		msg.Webpush.Headers = map[string]string{"Urgency": "high"}
	}
	if !n.Silent {
		msg.Notification = &messaging.Notification{Title: n.Title, Body: n.Body}
		msg.Webpush.Notification = &messaging.WebpushNotification{Title: n.Title, Body: n.Body}
	}
	return msg
}

// AndroidPayloadBuilder targets FCM on Android.
type AndroidPayloadBuilder struct {
	TTL time.Duration
}

func (b AndroidPayloadBuilder) Build(n Notification, token string) *messaging.Message {
	ttl := b.TTL
	if ttl <= 0 {
		ttl = DefaultAndroidTTL
	}
	android := &messaging.AndroidConfig{
		Priority:    androidPriority(n.Priority),
		CollapseKey: n.CollapseID,
		TTL:         &ttl,
	}
	msg := &messaging.Message{
		Token:   token,
		Data:    n.Data,
		Android: android,
	}
	if !n.Silent {
		msg.Notification = &messaging.Notification{Title: n.Title, Body: n.Body}
		android.Notification = &messaging.AndroidNotification{
			ChannelID: androidChannel(n.Priority),
		}
	}
	return msg
}

func androidPriority(p Priority) string {
	if p == PriorityHigh {
		return "high"
	}
	return "normal"
}

func androidChannel(p Priority) string {
	if p == PriorityHigh {
		return ChannelWaiterUrgent
	}
	return ChannelWaiterNormal
}

// IOSPayloadBuilder targets APNs through FCM.
type IOSPayloadBuilder struct{}

func (IOSPayloadBuilder) Build(n Notification, token string) *messaging.Message {
	aps := &messaging.Aps{}
	headers := map[string]string{"apns-priority": "5"}
	if n.Priority == PriorityHigh {
		headers["apns-priority"] = "10"
		aps.CustomData = map[string]interface{}{"interruption-level": "critical"}
	}
	if n.Silent {
		aps.ContentAvailable = true
	} else {
		badge := 1
		aps.Badge = &badge
		aps.Alert = &messaging.ApsAlert{Title: n.Title, Body: n.Body}
	}
	if n.CollapseID != "" {
		headers["apns-collapse-id"] = n.CollapseID
	}
	msg := &messaging.Message{
		Token: token,
		Data:  n.Data,
		APNS: &messaging.APNSConfig{
			Headers: headers,
			Payload: &messaging.APNSPayload{Aps: aps},
		},
	}
	if !n.Silent {
		msg.Notification = &messaging.Notification{Title: n.Title, Body: n.Body}
	}
	return msg
}
