// Package tables exposes the narrow back-office contract the call lifecycle
// needs: given a table id, who owns it and which waiter is assigned. Table
// CRUD lives in the administrative back office, not here.
package tables

import (
	"context"
	"database/sql"
	"errors"
)

var ErrNotFound = errors.New("table not found")

type Table struct {
	ID                   string `json:"table_id" db:"table_id"`
	BusinessID           string `json:"business_id" db:"business_id"`
	WaiterID             string `json:"waiter_id" db:"waiter_id"`
	NotificationsEnabled bool   `json:"notifications_enabled" db:"notifications_enabled"`
}

// HasWaiter reports whether a waiter is assigned to the table.
func (t Table) HasWaiter() bool { return t.WaiterID != "" }

type Directory interface {
	Lookup(ctx context.Context, tableID string) (Table, error)
}

type SQLDirectory struct {
	db *sql.DB
}

func NewSQLDirectory(db *sql.DB) *SQLDirectory { return &SQLDirectory{db: db} }

func (d *SQLDirectory) Lookup(ctx context.Context, tableID string) (Table, error) {
	const q = `
SELECT table_id, business_id, COALESCE(waiter_id, ''), notifications_enabled
FROM tables
WHERE table_id = $1
`
	var t Table
	if err := d.db.QueryRowContext(ctx, q, tableID).Scan(
		&t.ID,
		&t.BusinessID,
		&t.WaiterID,
		&t.NotificationsEnabled,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Table{}, ErrNotFound
		}
		return Table{}, err
	}
	return t, nil
}
