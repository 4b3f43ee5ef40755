// Package lifecycle coordinates the waiter call state machine: it owns the
// ordering between the authoritative store write, the realtime mirror
// projection, the push fanout and the audit trail. Handlers talk to the
// Manager, never to the downstream packages directly.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"waitercall-platform/internal/abuse"
	"waitercall-platform/internal/audit"
	"waitercall-platform/internal/calls"
	"waitercall-platform/internal/mirror"
	"waitercall-platform/internal/notify"
	"waitercall-platform/internal/tables"
	"waitercall-platform/internal/tokens"
)

var (
	ErrUnknownTable          = errors.New("unknown table")
	ErrNoWaiterAssigned      = errors.New("no waiter assigned to table")
	ErrNotificationsDisabled = errors.New("notifications disabled for table")
)

// Projector mirrors call state into the realtime tree. Satisfied by
// *mirror.Writer.
type Projector interface {
	Project(ctx context.Context, c calls.Call, event mirror.EventType) error
}

// Fanout delivers one notification to a set of device tokens. Satisfied by
// *notify.Engine.
type Fanout interface {
	Dispatch(ctx context.Context, toks []tokens.DeviceToken, n notify.Notification) notify.FanoutResult
}

// Auditor records lifecycle transitions. Satisfied by *audit.Service.
type Auditor interface {
	LogCallEvent(ctx context.Context, typ audit.EventType, businessID, callID, tableID, waiterID, actorUserID, actorRole, ip string) error
}

// Deferrer runs side effects off the request path. Satisfied by
// *async.Executor.
type Deferrer interface {
	Submit(name string, fn func(ctx context.Context)) bool
}

// Blocklist answers the two abuse questions the lifecycle asks. Satisfied by
// *abuse.Guard.
type Blocklist interface {
	IsBlocked(ctx context.Context, ip, businessID string) bool
	IsSilenced(ctx context.Context, tableID string) bool
}

type Manager struct {
	store     calls.Store
	tables    tables.Directory
	guard     Blocklist
	projector Projector
	fanout    Fanout
	registry  tokens.Registry
	auditor   Auditor
	deferrer  Deferrer
	log       *slog.Logger

	clock func() time.Time
}

func NewManager(
	store calls.Store,
	dir tables.Directory,
	guard Blocklist,
	projector Projector,
	fanout Fanout,
	registry tokens.Registry,
	auditor Auditor,
	deferrer Deferrer,
	log *slog.Logger,
) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store:     store,
		tables:    dir,
		guard:     guard,
		projector: projector,
		fanout:    fanout,
		registry:  registry,
		auditor:   auditor,
		deferrer:  deferrer,
		log:       log,
		clock:     time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (m *Manager) SetClock(fn func() time.Time) { m.clock = fn }

// CreateInput is a table-originated request for attention.
type CreateInput struct {
	TableID   string
	Message   string
	Urgency   string
	Requester calls.RequesterInfo
}

// CreateResult distinguishes the three shapes a successful create can take.
//
// Synthetic means the requester's IP is blocked: the response looks like a
// normal create so the block is not observable, but nothing was stored,
// mirrored or delivered.
//
// Existing means the table already had a non-completed call; the existing
// call is returned unchanged and no notification is re-sent.
type CreateResult struct {
	Call      calls.Call
	Existing  bool
	Synthetic bool
}

// Actor identifies the authenticated user driving an acknowledge/complete.
type Actor struct {
	UserID string
	Role   string
}

func (m *Manager) Create(ctx context.Context, in CreateInput) (CreateResult, error) {
	urgency, ok := calls.ValidUrgency(in.Urgency)
	if !ok {
		return CreateResult{}, fmt.Errorf("%w: urgency %q", calls.ErrInvalidArgument, in.Urgency)
	}
	if in.TableID == "" {
		return CreateResult{}, fmt.Errorf("%w: table_id required", calls.ErrInvalidArgument)
	}

	tbl, err := m.tables.Lookup(ctx, in.TableID)
	if err != nil {
		if errors.Is(err, tables.ErrNotFound) {
			return CreateResult{}, ErrUnknownTable
		}
		return CreateResult{}, fmt.Errorf("lookup table: %w", err)
	}

	// Blocked requesters get a response indistinguishable from success.
	// The call id is real-looking but nothing is persisted under it.
	if in.Requester.IP != "" && m.guard.IsBlocked(ctx, in.Requester.IP, tbl.BusinessID) {
		m.log.Info("blocked create absorbed",
			"table_id", in.TableID,
			"ip", in.Requester.IP,
		)
		return CreateResult{Call: m.syntheticCall(tbl, in, urgency), Synthetic: true}, nil
	}

	if !tbl.NotificationsEnabled {
		return CreateResult{}, ErrNotificationsDisabled
	}
	if !tbl.HasWaiter() {
		return CreateResult{}, ErrNoWaiterAssigned
	}

	if existing, found, err := m.store.CurrentForTable(ctx, in.TableID); err != nil {
		return CreateResult{}, fmt.Errorf("current call: %w", err)
	} else if found {
		return CreateResult{Call: existing, Existing: true}, nil
	}

	silenced := m.guard.IsSilenced(ctx, in.TableID)

	c := m.newCall(tbl, in, urgency)
	if err := m.store.Create(ctx, c); err != nil {
		// Lost a race with a concurrent create for the same table; the
		// winner's call is what the table gets back.
		if errors.Is(err, calls.ErrActiveCallExists) {
			winner, found, curErr := m.store.CurrentForTable(ctx, in.TableID)
			if curErr != nil {
				return CreateResult{}, fmt.Errorf("current call: %w", curErr)
			}
			if found {
				return CreateResult{Call: winner, Existing: true}, nil
			}
		}
		return CreateResult{}, fmt.Errorf("create call: %w", err)
	}

	m.afterCreate(c, silenced, in.Requester.IP)
	return CreateResult{Call: c}, nil
}

// Lookup returns the current record for one call.
func (m *Manager) Lookup(ctx context.Context, callID string) (calls.Call, error) {
	return m.store.Get(ctx, callID)
}

// Acknowledge moves a pending call to acknowledged. Repeats are no-ops that
// return the current record.
func (m *Manager) Acknowledge(ctx context.Context, callID string, actor Actor) (calls.Call, error) {
	now := m.clock().UTC()
	applied, err := m.store.MarkAcknowledged(ctx, callID, now)
	if err != nil {
		return calls.Call{}, fmt.Errorf("acknowledge: %w", err)
	}

	c, err := m.store.Get(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	if !applied {
		return c, nil
	}

	m.afterTransition(c, mirror.EventAcknowledged, audit.EventTypeCallAcknowledged, actor)
	return c, nil
}

// Complete finishes a call from either pending or acknowledged. Repeats are
// no-ops that return the current record.
func (m *Manager) Complete(ctx context.Context, callID string, actor Actor) (calls.Call, error) {
	now := m.clock().UTC()
	applied, err := m.store.MarkCompleted(ctx, callID, now)
	if err != nil {
		return calls.Call{}, fmt.Errorf("complete: %w", err)
	}

	c, err := m.store.Get(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	if !applied {
		return c, nil
	}

	m.afterTransition(c, mirror.EventCompleted, audit.EventTypeCallCompleted, actor)
	return c, nil
}

func (m *Manager) newCall(tbl tables.Table, in CreateInput, urgency calls.Urgency) calls.Call {
	msg := in.Message
	if msg == "" {
		msg = calls.DefaultMessage
	}
	meta := map[string]string{}
	if in.Requester.IP != "" {
		meta["requester_ip"] = in.Requester.IP
	}
	if in.Requester.UserAgent != "" {
		meta["user_agent"] = in.Requester.UserAgent
	}
	if in.Requester.Source != "" {
		meta["source"] = in.Requester.Source
	}
	return calls.Call{
		ID:         uuid.NewString(),
		TableID:    tbl.ID,
		WaiterID:   tbl.WaiterID,
		BusinessID: tbl.BusinessID,
		Status:     calls.CallStatusPending,
		Message:    msg,
		Urgency:    urgency,
		CalledAt:   m.clock().UTC(),
		Metadata:   meta,
	}
}

// syntheticCall fabricates a plausible pending call for a blocked requester.
// It never touches storage; the id resolves to nothing if probed.
func (m *Manager) syntheticCall(tbl tables.Table, in CreateInput, urgency calls.Urgency) calls.Call {
	msg := in.Message
	if msg == "" {
		msg = calls.DefaultMessage
	}
	return calls.Call{
		ID:         uuid.NewString(),
		TableID:    tbl.ID,
		WaiterID:   tbl.WaiterID,
		BusinessID: tbl.BusinessID,
		Status:     calls.CallStatusPending,
		Message:    msg,
		Urgency:    urgency,
		CalledAt:   m.clock().UTC(),
	}
}

// afterCreate schedules the post-commit side effects. The store write has
// already succeeded; everything here is best-effort and must not fail the
// request.
func (m *Manager) afterCreate(c calls.Call, silenced bool, requesterIP string) {
	m.deferrer.Submit("call.created", func(ctx context.Context) {
		if err := m.projector.Project(ctx, c, mirror.EventCreated); err != nil {
			m.log.Error("mirror projection failed", "call_id", c.ID, "error", err)
		}

		if silenced {
			m.log.Info("table silenced, fanout skipped", "call_id", c.ID, "table_id", c.TableID)
		} else {
			m.notifyWaiter(ctx, c)
		}

		if err := m.auditor.LogCallEvent(ctx, audit.EventTypeCallCreated, c.BusinessID, c.ID, c.TableID, c.WaiterID, "", "", requesterIP); err != nil {
			m.log.Warn("audit append failed", "call_id", c.ID, "error", err)
		}
	})
}

func (m *Manager) afterTransition(c calls.Call, event mirror.EventType, auditType audit.EventType, actor Actor) {
	m.deferrer.Submit("call."+string(event), func(ctx context.Context) {
		if err := m.projector.Project(ctx, c, event); err != nil {
			m.log.Error("mirror projection failed", "call_id", c.ID, "error", err)
		}

		// Acknowledge pushes a silent state-sync so the waiter's other
		// devices collapse the original alert. Completion sends nothing;
		// the mirror removal is the signal.
		if event == mirror.EventAcknowledged {
			m.syncWaiterDevices(ctx, c)
		}

		if err := m.auditor.LogCallEvent(ctx, auditType, c.BusinessID, c.ID, c.TableID, c.WaiterID, actor.UserID, actor.Role, ""); err != nil {
			m.log.Warn("audit append failed", "call_id", c.ID, "error", err)
		}
	})
}

func (m *Manager) notifyWaiter(ctx context.Context, c calls.Call) {
	toks, err := m.registry.TokensFor(ctx, c.WaiterID, "")
	if err != nil {
		m.log.Error("token lookup failed", "waiter_id", c.WaiterID, "error", err)
		return
	}

	n := notify.Notification{
		Title:        "Table " + c.TableID,
		Body:         c.Message,
		Data:         callData(c),
		Priority:     notify.PriorityNormal,
		CollapseID:   "call-" + c.ID,
		RestrictRole: "waiter",
	}
	if c.Urgency == calls.UrgencyHigh {
		n.Priority = notify.PriorityHigh
	}

	res := m.fanout.Dispatch(ctx, toks, n)
	if res.FullFailure() {
		m.log.Error("push fanout failed for every device",
			"call_id", c.ID,
			"waiter_id", c.WaiterID,
			"devices", res.Total,
		)
		return
	}
	m.log.Info("push fanout done",
		"call_id", c.ID,
		"waiter_id", c.WaiterID,
		"sent", res.Sent,
		"devices", res.Total,
	)
}

// syncWaiterDevices pushes a data-only update under the original collapse id
// so already-delivered alerts update in place instead of stacking.
func (m *Manager) syncWaiterDevices(ctx context.Context, c calls.Call) {
	toks, err := m.registry.TokensFor(ctx, c.WaiterID, "")
	if err != nil {
		m.log.Error("token lookup failed", "waiter_id", c.WaiterID, "error", err)
		return
	}

	m.fanout.Dispatch(ctx, toks, notify.Notification{
		Data:         callData(c),
		Priority:     notify.PriorityNormal,
		CollapseID:   "call-" + c.ID,
		Silent:       true,
		RestrictRole: "waiter",
	})
}

func callData(c calls.Call) map[string]string {
	return map[string]string{
		"type":      "waiter_call",
		"call_id":   c.ID,
		"table_id":  c.TableID,
		"status":    string(c.Status),
		"urgency":   string(c.Urgency),
		"message":   c.Message,
		"called_at": c.CalledAt.UTC().Format(time.RFC3339),
	}
}

var _ Blocklist = (*abuse.Guard)(nil)
