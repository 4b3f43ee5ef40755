// Package abuse holds the admission predicates consulted before a waiter call
// is accepted: IP blocks and table silences.
package abuse

import (
	"context"
	"log/slog"
	"time"
)

// BlockRepo answers whether an IP is blocked, either globally or scoped to a
// business.
type BlockRepo interface {
	Blocked(ctx context.Context, ip, businessID string) (bool, error)
}

// SilenceRepo answers whether a table is inside an active silence window.
type SilenceRepo interface {
	Silenced(ctx context.Context, tableID string, at time.Time) (bool, error)
}

// Guard wraps the repos with a fail-open policy: an infrastructure error in a
// check must never prevent a legitimate service call, only produce a logged
// warning. Both predicates are side-effect-free.
type Guard struct {
	blocks   BlockRepo
	silences SilenceRepo
	log      *slog.Logger
	clock    func() time.Time
}

func NewGuard(blocks BlockRepo, silences SilenceRepo, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{blocks: blocks, silences: silences, log: log, clock: time.Now}
}

func (g *Guard) IsBlocked(ctx context.Context, ip, businessID string) bool {
	if g.blocks == nil || ip == "" {
		return false
	}
	blocked, err := g.blocks.Blocked(ctx, ip, businessID)
	if err != nil {
		g.log.Warn("ip block check failed, failing open", "ip", ip, "err", err)
		return false
	}
	return blocked
}

func (g *Guard) IsSilenced(ctx context.Context, tableID string) bool {
	if g.silences == nil || tableID == "" {
		return false
	}
	silenced, err := g.silences.Silenced(ctx, tableID, g.clock().UTC())
	if err != nil {
		g.log.Warn("table silence check failed, failing open", "table_id", tableID, "err", err)
		return false
	}
	return silenced
}
