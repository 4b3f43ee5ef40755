// Package mirror projects call records into the denormalized realtime key
// space push-style subscribers read. The mirror is derived, disposable, and
// reconstructable from the call store; it is never the source of truth.
package mirror

import (
	"context"
	"time"
)

type OpKind string

const (
	OpSet  OpKind = "set"  // write a value, optionally TTL-tagged
	OpDel  OpKind = "del"  // delete a key
	OpSAdd OpKind = "sadd" // add a member to a set
	OpSRem OpKind = "srem" // remove a member from a set
)

// Op is one write against the external realtime store.
type Op struct {
	Kind   OpKind
	Key    string
	Value  string // OpSet payload (JSON, string-typed scalars only)
	Member string // OpSAdd / OpSRem
	TTL    time.Duration
}

// OpResult pairs an op with its individual outcome, so the writer's
// log-and-continue policy is explicit rather than hidden in error handling.
type OpResult struct {
	Op  Op
	Err error
}

type PartialResult struct {
	Results []OpResult
}

func (p PartialResult) Failed() []OpResult {
	var out []OpResult
	for _, r := range p.Results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// BatchWriter applies ops against the realtime store.
//
// Apply should be atomic when the store supports a batch primitive (Redis
// MULTI/EXEC); a non-nil error means the whole batch failed and the caller may
// fall back to sequential ApplyOne writes.
type BatchWriter interface {
	Apply(ctx context.Context, ops []Op) (PartialResult, error)
	ApplyOne(ctx context.Context, op Op) error
}
