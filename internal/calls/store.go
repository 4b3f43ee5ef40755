package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound        = errors.New("call not found")
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrActiveCallExists reports that another call for the same table is
	// already active. Raised when a concurrent create wins the race between
	// the caller's current-call check and its insert.
	ErrActiveCallExists = errors.New("table already has an active call")
)

// Store is the authoritative persistence contract for call records.
//
// The relational store is the source of truth for status; the realtime mirror
// is derived from it and disposable. Rows are never deleted.
//
// MarkAcknowledged/MarkCompleted are conditional single-row updates: they
// apply only when the current status permits the forward transition, and
// report whether they did. Losers of a concurrent race observe applied=false
// and re-read.
type Store interface {
	Create(ctx context.Context, c Call) error
	Get(ctx context.Context, id string) (Call, error)
	MarkAcknowledged(ctx context.Context, id string, at time.Time) (applied bool, err error)
	MarkCompleted(ctx context.Context, id string, at time.Time) (applied bool, err error)

	// CurrentForTable returns the table's non-completed call, if any.
	CurrentForTable(ctx context.Context, tableID string) (Call, bool, error)
	// LatestForTable returns the most recent call regardless of status.
	LatestForTable(ctx context.Context, tableID string) (Call, bool, error)
	// PendingForWaiter lists the waiter's pending calls, oldest first.
	PendingForWaiter(ctx context.Context, waiterID string) ([]Call, error)
	// ListByBusiness lists calls created within [from, to) for reporting.
	ListByBusiness(ctx context.Context, businessID string, from, to time.Time) ([]Call, error)
}

// SQLStore implements Store on Postgres via database/sql.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

const callColumns = `call_id, table_id, waiter_id, business_id, status, message, urgency, called_at, acknowledged_at, completed_at, metadata`

func (s *SQLStore) Create(ctx context.Context, c Call) error {
	if c.ID == "" || c.TableID == "" || c.BusinessID == "" {
		return ErrInvalidArgument
	}
	meta, err := marshalMetadata(c.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	const q = `
INSERT INTO calls (call_id, table_id, waiter_id, business_id, status, message, urgency, called_at, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
	_, err = s.db.ExecContext(ctx, q,
		c.ID, c.TableID, c.WaiterID, c.BusinessID,
		string(c.Status), c.Message, string(c.Urgency), c.CalledAt, meta,
	)
	if err != nil {
		// The partial unique index on active calls per table backstops the
		// current-call check against concurrent creates.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrActiveCallExists
		}
		return err
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (Call, error) {
	const q = `SELECT ` + callColumns + ` FROM calls WHERE call_id = $1`
	c, err := scanCall(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	return c, nil
}

func (s *SQLStore) MarkAcknowledged(ctx context.Context, id string, at time.Time) (bool, error) {
	// acknowledged_at is written exactly once, on the pending->acknowledged edge.
	const q = `
UPDATE calls
SET status = $1, acknowledged_at = $2
WHERE call_id = $3 AND status = $4
`
	res, err := s.db.ExecContext(ctx, q, string(CallStatusAcknowledged), at, id, string(CallStatusPending))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLStore) MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error) {
	const q = `
UPDATE calls
SET status = $1, completed_at = $2
WHERE call_id = $3 AND status IN ($4, $5)
`
	res, err := s.db.ExecContext(ctx, q,
		string(CallStatusCompleted), at, id,
		string(CallStatusPending), string(CallStatusAcknowledged),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLStore) CurrentForTable(ctx context.Context, tableID string) (Call, bool, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE table_id = $1 AND status IN ($2, $3)
ORDER BY called_at DESC
LIMIT 1
`
	c, err := scanCall(s.db.QueryRowContext(ctx, q, tableID, string(CallStatusPending), string(CallStatusAcknowledged)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, false, nil
		}
		return Call{}, false, err
	}
	return c, true, nil
}

func (s *SQLStore) LatestForTable(ctx context.Context, tableID string) (Call, bool, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE table_id = $1
ORDER BY called_at DESC
LIMIT 1
`
	c, err := scanCall(s.db.QueryRowContext(ctx, q, tableID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, false, nil
		}
		return Call{}, false, err
	}
	return c, true, nil
}

func (s *SQLStore) PendingForWaiter(ctx context.Context, waiterID string) ([]Call, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE waiter_id = $1 AND status = $2
ORDER BY called_at ASC
`
	rows, err := s.db.QueryContext(ctx, q, waiterID, string(CallStatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCalls(rows)
}

func (s *SQLStore) ListByBusiness(ctx context.Context, businessID string, from, to time.Time) ([]Call, error) {
	const q = `
SELECT ` + callColumns + `
FROM calls
WHERE business_id = $1 AND called_at >= $2 AND called_at < $3
ORDER BY called_at ASC
`
	rows, err := s.db.QueryContext(ctx, q, businessID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCalls(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(r rowScanner) (Call, error) {
	var (
		c       Call
		status  string
		urgency string
		meta    []byte
	)
	if err := r.Scan(
		&c.ID, &c.TableID, &c.WaiterID, &c.BusinessID,
		&status, &c.Message, &urgency,
		&c.CalledAt, &c.AcknowledgedAt, &c.CompletedAt, &meta,
	); err != nil {
		return Call{}, err
	}
	c.Status = CallStatus(status)
	c.Urgency = Urgency(urgency)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return Call{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return c, nil
}

func collectCalls(rows *sql.Rows) ([]Call, error) {
	out := make([]Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}
