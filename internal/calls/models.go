package calls

import "time"

// Call is one instance of a table requesting waiter attention.
//
// Status invariant: transitions only move forward
// (pending -> acknowledged -> completed), and AcknowledgedAt/CompletedAt are
// set exactly once, on the first transition into that state. Repeated
// acknowledge/complete requests are no-ops, not errors, so client retries are
// harmless.
//
// Current-call invariant: at most one non-completed call per table. Older
// calls become historical once completed; rows are never hard-deleted (the
// call history feeds reporting).
type Call struct {
	ID         string `json:"call_id" db:"call_id"`
	TableID    string `json:"table_id" db:"table_id"`
	WaiterID   string `json:"waiter_id" db:"waiter_id"`
	BusinessID string `json:"business_id" db:"business_id"`

	Status  CallStatus `json:"status" db:"status"`
	Message string     `json:"message" db:"message"`
	Urgency Urgency    `json:"urgency" db:"urgency"`

	CalledAt       time.Time  `json:"called_at" db:"called_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	// Metadata carries request provenance (source channel, requester IP,
	// user agent). Free-form, never interpreted by the lifecycle.
	Metadata map[string]string `json:"metadata,omitempty" db:"metadata"`
}

type CallStatus string

const (
	CallStatusPending      CallStatus = "pending"
	CallStatusAcknowledged CallStatus = "acknowledged"
	CallStatusCompleted    CallStatus = "completed"
)

type Urgency string

const (
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// DefaultMessage is used when a table request carries no message text.
const DefaultMessage = "Table requests attention"

// Active reports whether the call still occupies the table's current slot.
func (c Call) Active() bool {
	return c.Status == CallStatusPending || c.Status == CallStatusAcknowledged
}

// ValidUrgency normalizes free-form client input to a known urgency.
func ValidUrgency(v string) (Urgency, bool) {
	switch Urgency(v) {
	case UrgencyNormal, UrgencyHigh:
		return Urgency(v), true
	case "":
		return UrgencyNormal, true
	default:
		return "", false
	}
}

// RequesterInfo identifies the party behind a create request; it is recorded
// into Call.Metadata and consulted by the abuse guard.
type RequesterInfo struct {
	IP        string
	UserAgent string
	Source    string
}
