package abuse

import (
	"context"
	"sync"
	"time"
)

// In-memory repos for tests.

type MemoryBlockRepo struct {
	mu     sync.Mutex
	blocks []memoryBlock
	Err    error
}

type memoryBlock struct {
	ip         string
	businessID string // empty = global
}

func NewMemoryBlockRepo() *MemoryBlockRepo { return &MemoryBlockRepo{} }

func (r *MemoryBlockRepo) Block(ip, businessID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks = append(r.blocks, memoryBlock{ip: ip, businessID: businessID})
}

func (r *MemoryBlockRepo) Blocked(ctx context.Context, ip, businessID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return false, r.Err
	}
	for _, b := range r.blocks {
		if b.ip == ip && (b.businessID == "" || b.businessID == businessID) {
			return true, nil
		}
	}
	return false, nil
}

type MemorySilenceRepo struct {
	mu       sync.Mutex
	silences []memorySilence
	Err      error
}

type memorySilence struct {
	tableID  string
	startsAt time.Time
	endsAt   *time.Time
}

func NewMemorySilenceRepo() *MemorySilenceRepo { return &MemorySilenceRepo{} }

func (r *MemorySilenceRepo) Silence(tableID string, startsAt time.Time, endsAt *time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.silences = append(r.silences, memorySilence{tableID: tableID, startsAt: startsAt, endsAt: endsAt})
}

func (r *MemorySilenceRepo) Silenced(ctx context.Context, tableID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return false, r.Err
	}
	for _, s := range r.silences {
		if s.tableID != tableID {
			continue
		}
		if s.startsAt.After(at) {
			continue
		}
		if s.endsAt != nil && !s.endsAt.After(at) {
			continue
		}
		return true, nil
	}
	return false, nil
}
