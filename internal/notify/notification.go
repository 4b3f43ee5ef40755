// Package notify fans push notifications out to heterogeneous client
// platforms with platform-specific payload shaping and bounded concurrency.
package notify

import "time"

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Notification is the platform-neutral input to the fanout engine. Builders
// translate it into provider payloads per platform.
//
// Data values must be strings; the push provider rejects anything else.
type Notification struct {
	Title string
	Body  string
	Data  map[string]string

	Priority Priority

	// CollapseID groups repeated updates for one call so they replace rather
	// than stack on the device.
	CollapseID string

	// Silent sends a data-only payload with no visible notification block,
	// used for state-sync updates (e.g. another device acknowledged the call).
	Silent bool

	// RestrictRole, when set, limits delivery to tokens registered under that
	// role. Mismatched tokens are skipped with a logged reason, not an error.
	RestrictRole string
}

// Android notification channels; the client app registers both, urgency picks
// one at send time.
const (
	ChannelWaiterUrgent = "waiter_urgent"
	ChannelWaiterNormal = "waiter_normal"
)

// DefaultAndroidTTL bounds how long FCM may buffer an undelivered call
// notification. A stale "table is calling" alert is worse than none.
const DefaultAndroidTTL = 30 * time.Second
