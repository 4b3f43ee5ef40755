// Package db owns schema bootstrap for the service's Postgres database.
package db

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSchema creates all tables needed by the service.
// Safe to call multiple times - uses IF NOT EXISTS.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const schema = `
-- Tables (the physical restaurant kind)
CREATE TABLE IF NOT EXISTS tables (
    table_id TEXT PRIMARY KEY,
    business_id TEXT NOT NULL,
    waiter_id TEXT,
    notifications_enabled BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS idx_tables_business ON tables(business_id);
CREATE INDEX IF NOT EXISTS idx_tables_waiter ON tables(waiter_id);

-- Waiter calls. Rows are never deleted; history feeds reporting.
CREATE TABLE IF NOT EXISTS calls (
    call_id TEXT PRIMARY KEY,
    table_id TEXT NOT NULL,
    waiter_id TEXT NOT NULL,
    business_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'acknowledged', 'completed')),
    message TEXT NOT NULL DEFAULT '',
    urgency TEXT NOT NULL DEFAULT 'normal' CHECK (urgency IN ('normal', 'high')),
    called_at TIMESTAMPTZ NOT NULL,
    acknowledged_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    metadata JSONB
);

CREATE INDEX IF NOT EXISTS idx_calls_table ON calls(table_id);
CREATE INDEX IF NOT EXISTS idx_calls_waiter_status ON calls(waiter_id, status);
CREATE INDEX IF NOT EXISTS idx_calls_business_called_at ON calls(business_id, called_at);

-- At most one non-completed call per table.
CREATE UNIQUE INDEX IF NOT EXISTS idx_calls_table_active
    ON calls(table_id) WHERE status <> 'completed';

-- Device push tokens, upserted on the natural key.
CREATE TABLE IF NOT EXISTS device_tokens (
    user_id TEXT NOT NULL,
    token TEXT NOT NULL,
    platform TEXT NOT NULL CHECK (platform IN ('web', 'android', 'ios')),
    role TEXT NOT NULL DEFAULT '',
    expires_at TIMESTAMPTZ,
    last_used_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, token, platform)
);

CREATE INDEX IF NOT EXISTS idx_device_tokens_token ON device_tokens(token);

-- IP blocklist. business_id NULL means blocked everywhere.
CREATE TABLE IF NOT EXISTS ip_blocks (
    ip TEXT NOT NULL,
    business_id TEXT,
    reason TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_ip_blocks_ip ON ip_blocks(ip);

-- Per-table notification silences. ends_at NULL means open-ended.
CREATE TABLE IF NOT EXISTS table_silences (
    table_id TEXT NOT NULL,
    starts_at TIMESTAMPTZ NOT NULL,
    ends_at TIMESTAMPTZ,
    reason TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_table_silences_table ON table_silences(table_id);

-- Internal audit trail. INSERT-only.
CREATE TABLE IF NOT EXISTS audit_events (
    id TEXT PRIMARY KEY,
    business_id TEXT NOT NULL,
    type TEXT NOT NULL,
    actor_user_id TEXT NOT NULL DEFAULT '',
    actor_role TEXT NOT NULL DEFAULT '',
    ip_address TEXT NOT NULL DEFAULT '',
    call_id TEXT NOT NULL DEFAULT '',
    table_id TEXT NOT NULL DEFAULT '',
    waiter_id TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    metadata TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_events_business_created ON audit_events(business_id, created_at);
`
