package abuse

import (
	"context"
	"database/sql"
	"time"
)

// SQL-backed repos. Both tables are maintained by the back office; this
// service only reads them.
//
// ip_blocks: a NULL business_id means the block applies everywhere.
// table_silences: a NULL ends_at means the silence is open-ended.

type SQLBlockRepo struct {
	db *sql.DB
}

func NewSQLBlockRepo(db *sql.DB) *SQLBlockRepo { return &SQLBlockRepo{db: db} }

func (r *SQLBlockRepo) Blocked(ctx context.Context, ip, businessID string) (bool, error) {
	const q = `
SELECT EXISTS (
	SELECT 1 FROM ip_blocks
	WHERE ip = $1 AND (business_id IS NULL OR business_id = $2)
)
`
	var blocked bool
	if err := r.db.QueryRowContext(ctx, q, ip, businessID).Scan(&blocked); err != nil {
		return false, err
	}
	return blocked, nil
}

type SQLSilenceRepo struct {
	db *sql.DB
}

func NewSQLSilenceRepo(db *sql.DB) *SQLSilenceRepo { return &SQLSilenceRepo{db: db} }

func (r *SQLSilenceRepo) Silenced(ctx context.Context, tableID string, at time.Time) (bool, error) {
	const q = `
SELECT EXISTS (
	SELECT 1 FROM table_silences
	WHERE table_id = $1 AND starts_at <= $2 AND (ends_at IS NULL OR ends_at > $2)
)
`
	var silenced bool
	if err := r.db.QueryRowContext(ctx, q, tableID, at).Scan(&silenced); err != nil {
		return false, err
	}
	return silenced, nil
}
