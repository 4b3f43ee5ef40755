package notify

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"waitercall-platform/internal/tokens"
)

// TokenResult is the per-token outcome of one dispatch.
type TokenResult struct {
	Token      string
	Platform   tokens.Platform
	Err        error
	Skipped    bool
	SkipReason string
}

// FanoutResult aggregates a dispatch. Callers treat partial success as
// success: at least one device reached is a win. Full failure is a warning,
// not a fatal error.
type FanoutResult struct {
	Sent    int
	Total   int
	Results []TokenResult
}

func (r FanoutResult) FullFailure() bool {
	return r.Total > 0 && r.Sent == 0
}

type Options struct {
	// MaxInFlight caps concurrent outbound provider calls. Never unbounded:
	// call bursts must not overwhelm the provider or local resources.
	MaxInFlight int
	// SendTimeout bounds each provider call independently of the
	// caller-facing request timeout.
	SendTimeout time.Duration
	AndroidTTL  time.Duration
}

func (o Options) withDefaults() Options {
	out := o
	if out.MaxInFlight <= 0 {
		out.MaxInFlight = 10
	}
	if out.SendTimeout <= 0 {
		out.SendTimeout = 5 * time.Second
	}
	if out.AndroidTTL <= 0 {
		out.AndroidTTL = DefaultAndroidTTL
	}
	return out
}

// Engine dispatches notifications to device tokens, grouped by platform.
type Engine struct {
	sender    PushSender
	registry  tokens.Registry
	builders  map[tokens.Platform]PayloadBuilder
	log       *slog.Logger
	opts      Options
	permanent func(error) bool
}

func NewEngine(sender PushSender, registry tokens.Registry, opts Options, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	opts = opts.withDefaults()
	return &Engine{
		sender:    sender,
		registry:  registry,
		builders:  NewBuilderRegistry(opts.AndroidTTL),
		log:       log,
		opts:      opts,
		permanent: PermanentSendError,
	}
}

// Dispatch builds a platform-shaped payload per token and sends them
// concurrently under the in-flight cap, collecting per-token outcomes.
//
// A provider "token is gone" response deletes that token from the registry
// inline (self-healing); transient errors are recorded and retried at the
// next send, not here. An empty token set returns a zero-cost success with no
// network calls.
func (e *Engine) Dispatch(ctx context.Context, toks []tokens.DeviceToken, n Notification) FanoutResult {
	res := FanoutResult{Total: len(toks), Results: make([]TokenResult, len(toks))}
	if len(toks) == 0 {
		return res
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxInFlight)

	for i, tok := range toks {
		res.Results[i] = TokenResult{Token: tok.Token, Platform: tok.Platform}

		if n.RestrictRole != "" && tok.Role != n.RestrictRole {
			res.Results[i].Skipped = true
			res.Results[i].SkipReason = "role mismatch"
			e.log.Debug("skipping token: role mismatch",
				"user_id", tok.UserID, "token_role", tok.Role, "required_role", n.RestrictRole)
			continue
		}

		builder, ok := e.builders[tok.Platform]
		if !ok {
			res.Results[i].Skipped = true
			res.Results[i].SkipReason = "unknown platform"
			e.log.Warn("skipping token: no payload builder", "platform", string(tok.Platform))
			continue
		}

		msg := builder.Build(n, tok.Token)
		r := &res.Results[i]
		token := tok.Token
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(gctx, e.opts.SendTimeout)
			defer cancel()

			if err := e.sender.Send(sendCtx, msg); err != nil {
				r.Err = err
				if e.permanent(err) {
					e.invalidate(token)
				} else {
					e.log.Warn("push send failed", "platform", string(r.Platform), "err", err)
				}
			}
			// Failures are isolated per token; never abort the group.
			return nil
		})
	}

	_ = g.Wait()

	for _, r := range res.Results {
		if !r.Skipped && r.Err == nil {
			res.Sent++
		}
	}
	if res.FullFailure() {
		e.log.Warn("push fanout reached no devices", "total", res.Total)
	}
	return res
}

func (e *Engine) invalidate(token string) {
	if e.registry == nil {
		return
	}
	// Registry cleanup gets its own context: the dispatch context may already
	// be expiring, and a missed deletion just resurfaces on the next send.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.registry.Invalidate(ctx, token); err != nil {
		e.log.Warn("failed to delete invalid token", "err", err)
		return
	}
	e.log.Info("deleted permanently invalid token")
}
