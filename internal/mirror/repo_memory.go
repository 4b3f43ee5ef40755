package mirror

import (
	"context"
	"sync"
)

// MemoryBatchWriter is an in-memory realtime store for tests. Failure
// injection covers both whole-batch failures and individual keys.

type MemoryBatchWriter struct {
	mu sync.Mutex

	Values map[string]string
	Sets   map[string]map[string]struct{}

	BatchErr error            // non-nil: Apply fails as a whole
	KeyErr   map[string]error // per-key failures, honored by both paths
}

func NewMemoryBatchWriter() *MemoryBatchWriter {
	return &MemoryBatchWriter{
		Values: map[string]string{},
		Sets:   map[string]map[string]struct{}{},
		KeyErr: map[string]error{},
	}
}

func (w *MemoryBatchWriter) Apply(ctx context.Context, ops []Op) (PartialResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.BatchErr != nil {
		return PartialResult{}, w.BatchErr
	}
	res := PartialResult{Results: make([]OpResult, 0, len(ops))}
	for _, op := range ops {
		res.Results = append(res.Results, OpResult{Op: op, Err: w.applyLocked(op)})
	}
	return res, nil
}

func (w *MemoryBatchWriter) ApplyOne(ctx context.Context, op Op) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.applyLocked(op)
}

func (w *MemoryBatchWriter) applyLocked(op Op) error {
	if err := w.KeyErr[op.Key]; err != nil {
		return err
	}
	switch op.Kind {
	case OpSet:
		w.Values[op.Key] = op.Value
	case OpDel:
		delete(w.Values, op.Key)
	case OpSAdd:
		if w.Sets[op.Key] == nil {
			w.Sets[op.Key] = map[string]struct{}{}
		}
		w.Sets[op.Key][op.Member] = struct{}{}
	case OpSRem:
		delete(w.Sets[op.Key], op.Member)
	}
	return nil
}

func (w *MemoryBatchWriter) Get(key string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.Values[key]
	return v, ok
}

func (w *MemoryBatchWriter) SetContains(key, member string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.Sets[key][member]
	return ok
}
