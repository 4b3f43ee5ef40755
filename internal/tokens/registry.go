// Package tokens stores and serves device push tokens per user and platform.
package tokens

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrInvalidArgument = errors.New("invalid argument")

type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

func ValidPlatform(v string) (Platform, bool) {
	switch Platform(v) {
	case PlatformWeb, PlatformAndroid, PlatformIOS:
		return Platform(v), true
	default:
		return "", false
	}
}

// DeviceToken addresses one installation of one user's device.
//
// (UserID, Token, Platform) is the natural key. Refreshing must upsert on that
// key, never delete-then-insert, so a user with several concurrently connected
// devices keeps all of them.
type DeviceToken struct {
	UserID   string   `json:"user_id" db:"user_id"`
	Token    string   `json:"token" db:"token"`
	Platform Platform `json:"platform" db:"platform"`

	// Role of the owning user at registration time; lets the fanout engine
	// skip role-restricted notifications without a directory lookup.
	Role string `json:"role,omitempty" db:"role"`

	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

func (t DeviceToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}

// PurgeGrace is how long an expired token is retained before PurgeExpired
// deletes it. Expired tokens are excluded from fanout immediately regardless.
const PurgeGrace = 72 * time.Hour

type Registry interface {
	Upsert(ctx context.Context, t DeviceToken) error
	// TokensFor returns the user's non-expired tokens, optionally filtered by
	// platform (empty = all platforms).
	TokensFor(ctx context.Context, userID string, platform Platform) ([]DeviceToken, error)
	// Invalidate deletes a token the push provider reported as permanently
	// invalid, regardless of expiry.
	Invalidate(ctx context.Context, token string) error
	PurgeExpired(ctx context.Context) (int64, error)
}

// SQLRegistry implements Registry on Postgres.
type SQLRegistry struct {
	db    *sql.DB
	clock func() time.Time
}

func NewSQLRegistry(db *sql.DB) *SQLRegistry {
	return &SQLRegistry{db: db, clock: time.Now}
}

func (r *SQLRegistry) Upsert(ctx context.Context, t DeviceToken) error {
	if t.UserID == "" || t.Token == "" || t.Platform == "" {
		return ErrInvalidArgument
	}
	now := r.clock().UTC()
	const q = `
INSERT INTO device_tokens (user_id, token, platform, role, expires_at, last_used_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (user_id, token, platform)
DO UPDATE SET role = EXCLUDED.role, expires_at = EXCLUDED.expires_at, last_used_at = EXCLUDED.last_used_at
`
	_, err := r.db.ExecContext(ctx, q, t.UserID, t.Token, string(t.Platform), t.Role, t.ExpiresAt, now)
	return err
}

func (r *SQLRegistry) TokensFor(ctx context.Context, userID string, platform Platform) ([]DeviceToken, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	now := r.clock().UTC()
	const q = `
SELECT user_id, token, platform, role, expires_at, last_used_at
FROM device_tokens
WHERE user_id = $1
  AND ($2 = '' OR platform = $2)
  AND (expires_at IS NULL OR expires_at > $3)
`
	rows, err := r.db.QueryContext(ctx, q, userID, string(platform), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]DeviceToken, 0)
	for rows.Next() {
		var (
			t        DeviceToken
			platform string
		)
		if err := rows.Scan(&t.UserID, &t.Token, &platform, &t.Role, &t.ExpiresAt, &t.LastUsedAt); err != nil {
			return nil, err
		}
		t.Platform = Platform(platform)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *SQLRegistry) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidArgument
	}
	const q = `DELETE FROM device_tokens WHERE token = $1`
	_, err := r.db.ExecContext(ctx, q, token)
	return err
}

func (r *SQLRegistry) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := r.clock().UTC().Add(-PurgeGrace)
	const q = `DELETE FROM device_tokens WHERE expires_at IS NOT NULL AND expires_at < $1`
	res, err := r.db.ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
