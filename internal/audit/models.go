package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - business_id is required for tenancy isolation.
// - Actor and IP capture are best-effort; never block call processing on audit failures.
//
// Storage recommendation (Postgres):
// - Table audit_events with an INSERT-only policy.
// - Optional: trigger to prevent UPDATE/DELETE.
// - Optional: partition by time for retention.

type Event struct {
	ID         string `json:"id" db:"id"`
	BusinessID string `json:"business_id" db:"business_id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user causing the event (if applicable);
	// table-originated events have no actor.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress should capture the original client IP when available.
	// Prefer X-Forwarded-For processing at the edge; store the resolved client IP here.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// Target identifiers (optional, depending on the event type).
	CallID   string `json:"call_id,omitempty" db:"call_id"`
	TableID  string `json:"table_id,omitempty" db:"table_id"`
	WaiterID string `json:"waiter_id,omitempty" db:"waiter_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallCreated      EventType = "call_created"
	EventTypeCallAcknowledged EventType = "call_acknowledged"
	EventTypeCallCompleted    EventType = "call_completed"
	EventTypeTokenRegistered  EventType = "token_registered"
)
