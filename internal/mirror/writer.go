package mirror

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"waitercall-platform/internal/calls"
)

type EventType string

const (
	EventCreated      EventType = "created"
	EventAcknowledged EventType = "acknowledged"
	EventCompleted    EventType = "completed"
)

// Key space. All paths are derivable from the call record alone so a
// projection never needs a second read.
func KeyActiveCall(callID string) string    { return "active_calls/" + callID }
func KeyTableCurrent(tableID string) string { return "tables/" + tableID + "/current_call" }
func KeyTableStatus(tableID string) string  { return "tables/" + tableID + "/status/current" }
func KeyWaiterActive(waiterID string) string {
	return "waiters/" + waiterID + "/active_calls"
}
func KeyBusinessActive(businessID string) string {
	return "businesses/" + businessID + "/active_calls"
}

// Writer projects call state changes into the realtime store.
//
// Failure policy: the authoritative call-store write has already succeeded by
// the time Project runs, so mirror failures are logged and swallowed, never
// rolled back or retried synchronously. The flat active_calls node is
// written first in the sequential fallback because subscribers can rebuild
// everything else from it.
type Writer struct {
	batch BatchWriter
	log   *slog.Logger
	ttl   time.Duration
	clock func() time.Time
}

func NewWriter(batch BatchWriter, ttl time.Duration, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Writer{batch: batch, log: log, ttl: ttl, clock: time.Now}
}

// Project mirrors one lifecycle event. The returned error is non-nil only
// when even the flat active_calls write failed; callers log it, nothing more.
func (w *Writer) Project(ctx context.Context, c calls.Call, event EventType) error {
	ops := BuildOps(c, event, w.ttl, w.clock().UTC())
	if len(ops) == 0 {
		return nil
	}

	res, err := w.batch.Apply(ctx, ops)
	if err == nil {
		for _, f := range res.Failed() {
			w.log.Warn("mirror path write failed",
				"call_id", c.ID, "event", string(event), "key", f.Op.Key, "err", f.Err)
		}
		return nil
	}
	w.log.Warn("mirror batch write failed, falling back to sequential",
		"call_id", c.ID, "event", string(event), "err", err)

	// Best-effort sequential fallback. BuildOps orders the flat node first.
	var flatErr error
	for i, op := range ops {
		if opErr := w.batch.ApplyOne(ctx, op); opErr != nil {
			if i == 0 {
				flatErr = opErr
			}
			w.log.Warn("mirror path write failed",
				"call_id", c.ID, "event", string(event), "key", op.Key, "err", opErr)
		}
	}
	return flatErr
}

// BuildOps translates a lifecycle event into realtime-store writes. Pure, so
// the projection shape is testable without a store.
func BuildOps(c calls.Call, event EventType, ttl time.Duration, now time.Time) []Op {
	switch event {
	case EventCreated:
		return []Op{
			{Kind: OpSet, Key: KeyActiveCall(c.ID), Value: encodeCall(c, now), TTL: ttl},
			{Kind: OpSAdd, Key: KeyWaiterActive(c.WaiterID), Member: c.ID},
			{Kind: OpSet, Key: KeyTableCurrent(c.TableID), Value: c.ID, TTL: ttl},
			{Kind: OpSAdd, Key: KeyBusinessActive(c.BusinessID), Member: c.ID},
			{Kind: OpSet, Key: KeyTableStatus(c.TableID), Value: encodeTableStatus(c, true, now)},
		}
	case EventAcknowledged:
		// Still active: update fields in place across the paths that carry them.
		return []Op{
			{Kind: OpSet, Key: KeyActiveCall(c.ID), Value: encodeCall(c, now), TTL: ttl},
			{Kind: OpSet, Key: KeyTableStatus(c.TableID), Value: encodeTableStatus(c, true, now)},
		}
	case EventCompleted:
		return []Op{
			{Kind: OpDel, Key: KeyActiveCall(c.ID)},
			{Kind: OpSRem, Key: KeyWaiterActive(c.WaiterID), Member: c.ID},
			{Kind: OpDel, Key: KeyTableCurrent(c.TableID)},
			{Kind: OpSRem, Key: KeyBusinessActive(c.BusinessID), Member: c.ID},
			{Kind: OpSet, Key: KeyTableStatus(c.TableID), Value: encodeTableStatus(c, false, now)},
		}
	default:
		return nil
	}
}

// Mirror payloads keep every scalar string-typed; the push layer and the
// realtime subscribers both require string-only maps.
type mirrorCall struct {
	CallID         string `json:"call_id"`
	TableID        string `json:"table_id"`
	WaiterID       string `json:"waiter_id"`
	BusinessID     string `json:"business_id"`
	Status         string `json:"status"`
	Message        string `json:"message"`
	Urgency        string `json:"urgency"`
	CalledAt       string `json:"called_at"`
	AcknowledgedAt string `json:"acknowledged_at,omitempty"`
	CompletedAt    string `json:"completed_at,omitempty"`
	UpdatedAt      string `json:"updated_at"`
}

type mirrorTableStatus struct {
	HasActiveCall string `json:"has_active_call"`
	CallID        string `json:"call_id,omitempty"`
	Status        string `json:"status,omitempty"`
	UpdatedAt     string `json:"updated_at"`
}

func encodeCall(c calls.Call, now time.Time) string {
	m := mirrorCall{
		CallID:     c.ID,
		TableID:    c.TableID,
		WaiterID:   c.WaiterID,
		BusinessID: c.BusinessID,
		Status:     string(c.Status),
		Message:    c.Message,
		Urgency:    string(c.Urgency),
		CalledAt:   c.CalledAt.UTC().Format(time.RFC3339),
		UpdatedAt:  now.Format(time.RFC3339),
	}
	if c.AcknowledgedAt != nil {
		m.AcknowledgedAt = c.AcknowledgedAt.UTC().Format(time.RFC3339)
	}
	if c.CompletedAt != nil {
		m.CompletedAt = c.CompletedAt.UTC().Format(time.RFC3339)
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func encodeTableStatus(c calls.Call, active bool, now time.Time) string {
	m := mirrorTableStatus{
		HasActiveCall: strconv.FormatBool(active),
		UpdatedAt:     now.Format(time.RFC3339),
	}
	if active {
		m.CallID = c.ID
		m.Status = string(c.Status)
	}
	b, _ := json.Marshal(m)
	return string(b)
}
