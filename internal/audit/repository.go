package audit

import (
	"context"
	"database/sql"
)

// SQLRepo persists audit events in Postgres. Insert-only by construction.
type SQLRepo struct {
	db *sql.DB
}

func NewSQLRepo(db *sql.DB) *SQLRepo { return &SQLRepo{db: db} }

func (r *SQLRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, business_id, type, actor_user_id, actor_role, ip_address, call_id, table_id, waiter_id, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.BusinessID, string(e.Type),
		e.ActorUserID, e.ActorRole, e.IPAddress,
		e.CallID, e.TableID, e.WaiterID,
		e.Message, e.Metadata, e.CreatedAt,
	)
	return err
}
