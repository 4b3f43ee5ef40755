package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and early development.
// It mirrors the SQL store's conditional-update semantics exactly.

type MemoryStore struct {
	mu    sync.Mutex
	byID  map[string]Call
	order []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[string]Call{}}
}

func (s *MemoryStore) Create(ctx context.Context, c Call) error {
	if c.ID == "" || c.TableID == "" || c.BusinessID == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Same invariant the partial unique index enforces in Postgres.
	if c.Active() {
		for _, other := range s.byID {
			if other.TableID == c.TableID && other.Active() {
				return ErrActiveCallExists
			}
		}
	}
	s.byID[c.ID] = c
	s.order = append(s.order, c.ID)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) MarkAcknowledged(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok || c.Status != CallStatusPending {
		return false, nil
	}
	c.Status = CallStatusAcknowledged
	c.AcknowledgedAt = &at
	s.byID[id] = c
	return true, nil
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok || !c.Active() {
		return false, nil
	}
	c.Status = CallStatusCompleted
	c.CompletedAt = &at
	s.byID[id] = c
	return true, nil
}

func (s *MemoryStore) CurrentForTable(ctx context.Context, tableID string) (Call, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		found bool
		best  Call
	)
	for _, c := range s.byID {
		if c.TableID != tableID || !c.Active() {
			continue
		}
		if !found || c.CalledAt.After(best.CalledAt) {
			best = c
			found = true
		}
	}
	return best, found, nil
}

func (s *MemoryStore) LatestForTable(ctx context.Context, tableID string) (Call, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		found bool
		best  Call
	)
	for _, c := range s.byID {
		if c.TableID != tableID {
			continue
		}
		if !found || c.CalledAt.After(best.CalledAt) {
			best = c
			found = true
		}
	}
	return best, found, nil
}

func (s *MemoryStore) PendingForWaiter(ctx context.Context, waiterID string) ([]Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, 0)
	for _, c := range s.byID {
		if c.WaiterID == waiterID && c.Status == CallStatusPending {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CalledAt.Before(out[j].CalledAt) })
	return out, nil
}

func (s *MemoryStore) ListByBusiness(ctx context.Context, businessID string, from, to time.Time) ([]Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, 0)
	for _, c := range s.byID {
		if c.BusinessID != businessID {
			continue
		}
		if c.CalledAt.Before(from) || !c.CalledAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CalledAt.Before(out[j].CalledAt) })
	return out, nil
}
