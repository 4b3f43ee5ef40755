package tokens

import (
	"context"
	"sync"
	"time"
)

// MemoryRegistry is an in-memory Registry for tests.

type MemoryRegistry struct {
	mu     sync.Mutex
	byKey  map[memoryKey]DeviceToken
	clock  func() time.Time
}

type memoryKey struct {
	userID   string
	token    string
	platform Platform
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{byKey: map[memoryKey]DeviceToken{}, clock: time.Now}
}

// SetClock makes expiry deterministic in tests.
func (r *MemoryRegistry) SetClock(clock func() time.Time) { r.clock = clock }

func (r *MemoryRegistry) Upsert(ctx context.Context, t DeviceToken) error {
	if t.UserID == "" || t.Token == "" || t.Platform == "" {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock().UTC()
	t.LastUsedAt = &now
	r.byKey[memoryKey{t.UserID, t.Token, t.Platform}] = t
	return nil
}

func (r *MemoryRegistry) TokensFor(ctx context.Context, userID string, platform Platform) ([]DeviceToken, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock().UTC()
	out := make([]DeviceToken, 0)
	for k, t := range r.byKey {
		if k.userID != userID {
			continue
		}
		if platform != "" && k.platform != platform {
			continue
		}
		if t.Expired(now) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *MemoryRegistry) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.byKey {
		if k.token == token {
			delete(r.byKey, k)
		}
	}
	return nil
}

func (r *MemoryRegistry) PurgeExpired(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.clock().UTC().Add(-PurgeGrace)
	var n int64
	for k, t := range r.byKey {
		if t.ExpiresAt != nil && t.ExpiresAt.Before(cutoff) {
			delete(r.byKey, k)
			n++
		}
	}
	return n, nil
}

// Count is a test helper.
func (r *MemoryRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey)
}
