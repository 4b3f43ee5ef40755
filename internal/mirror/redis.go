package mirror

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBatchWriter applies mirror ops against Redis. Apply uses MULTI/EXEC via
// TxPipelined, so one Project call lands atomically; the realtime store's
// last-write-wins semantics handle cross-call ordering.
type RedisBatchWriter struct {
	rdb *redis.Client
}

func NewRedisBatchWriter(rdb *redis.Client) *RedisBatchWriter {
	return &RedisBatchWriter{rdb: rdb}
}

func (w *RedisBatchWriter) Apply(ctx context.Context, ops []Op) (PartialResult, error) {
	cmds, err := w.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, op := range ops {
			if err := queueOp(ctx, p, op); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PartialResult{}, err
	}

	// Per-command results; with EXEC these should all agree, but the contract
	// is per-path, so report them individually.
	res := PartialResult{Results: make([]OpResult, 0, len(ops))}
	for i, op := range ops {
		var cmdErr error
		if i < len(cmds) {
			cmdErr = cmds[i].Err()
		}
		res.Results = append(res.Results, OpResult{Op: op, Err: cmdErr})
	}
	return res, nil
}

func (w *RedisBatchWriter) ApplyOne(ctx context.Context, op Op) error {
	return queueOp(ctx, w.rdb, op)
}

// queueOp works for both a pipeline and the bare client; redis.Cmdable covers
// both.
func queueOp(ctx context.Context, c redis.Cmdable, op Op) error {
	switch op.Kind {
	case OpSet:
		return c.Set(ctx, op.Key, op.Value, op.TTL).Err()
	case OpDel:
		return c.Del(ctx, op.Key).Err()
	case OpSAdd:
		return c.SAdd(ctx, op.Key, op.Member).Err()
	case OpSRem:
		return c.SRem(ctx, op.Key, op.Member).Err()
	default:
		return fmt.Errorf("unknown mirror op kind %q", op.Kind)
	}
}
