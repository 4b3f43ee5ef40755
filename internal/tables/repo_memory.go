package tables

import (
	"context"
	"sync"
)

// MemoryDirectory is an in-memory Directory for tests.

type MemoryDirectory struct {
	mu     sync.Mutex
	tables map[string]Table
}

func NewMemoryDirectory(ts ...Table) *MemoryDirectory {
	d := &MemoryDirectory{tables: map[string]Table{}}
	for _, t := range ts {
		d.tables[t.ID] = t
	}
	return d
}

func (d *MemoryDirectory) Put(t Table) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tables[t.ID] = t
}

func (d *MemoryDirectory) Lookup(ctx context.Context, tableID string) (Table, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[tableID]
	if !ok {
		return Table{}, ErrNotFound
	}
	return t, nil
}
