// Package delivery serves the fallback channels for clients that cannot hold
// a realtime mirror connection: a server-sent-events stream for table clients
// watching their call, and an adaptive polling endpoint for waiter apps.
package delivery

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"waitercall-platform/internal/calls"
	"waitercall-platform/internal/config"
)

// ackGraceTicks is how many ticks a stream stays open after observing the
// acknowledged state, in case completion follows immediately.
const ackGraceTicks = 2

// Streamer pushes call status snapshots over SSE.
//
// The stream is deliberately dumb: it re-reads the authoritative store on a
// fixed tick instead of subscribing to anything, so it works even when Redis
// is down. Streams are bounded by MaxAge so abandoned tabs cannot pin
// connections forever.
type Streamer struct {
	store calls.Store
	cfg   config.StreamConfig
	log   *slog.Logger

	clock func() time.Time
}

func NewStreamer(store calls.Store, cfg config.StreamConfig, log *slog.Logger) *Streamer {
	if log == nil {
		log = slog.Default()
	}
	return &Streamer{store: store, cfg: cfg, log: log, clock: time.Now}
}

type callUpdate struct {
	CallID         string `json:"call_id"`
	TableID        string `json:"table_id"`
	Status         string `json:"status"`
	Message        string `json:"message"`
	Urgency        string `json:"urgency"`
	CalledAt       string `json:"called_at"`
	AcknowledgedAt string `json:"acknowledged_at,omitempty"`
	CompletedAt    string `json:"completed_at,omitempty"`
}

func toCallUpdate(c calls.Call) callUpdate {
	ev := callUpdate{
		CallID:   c.ID,
		TableID:  c.TableID,
		Status:   string(c.Status),
		Message:  c.Message,
		Urgency:  string(c.Urgency),
		CalledAt: c.CalledAt.UTC().Format(time.RFC3339),
	}
	if c.AcknowledgedAt != nil {
		ev.AcknowledgedAt = c.AcknowledgedAt.UTC().Format(time.RFC3339)
	}
	if c.CompletedAt != nil {
		ev.CompletedAt = c.CompletedAt.UTC().Format(time.RFC3339)
	}
	return ev
}

// StreamCall handles GET /calls/:call_id/stream.
//
// Event types on the wire:
//   - connected: subscription confirmed, sent once before anything else
//   - call_update: a call snapshot, sent immediately and on every change
//   - heartbeat: keepalive so proxies do not reap the idle connection
//   - error: in-band store failure report; the stream keeps retrying
//   - connection_close: the server is ending the stream, with a reason
//
// Every server-initiated termination is preceded by connection_close, so a
// client that sees the socket drop without one knows it lost the network and
// should reconnect immediately rather than back off.
//
// The stream ends when the call completes, shortly after it is acknowledged,
// when the client disconnects, or at the MaxAge ceiling.
func (s *Streamer) StreamCall(c *gin.Context) {
	callID := c.Param("call_id")
	cur, err := s.store.Get(c.Request.Context(), callID)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	s.stream(c, cur)
}

// StreamTable handles GET /tables/:table_id/call/stream: same wire protocol,
// addressed by table for clients that lost the call id.
func (s *Streamer) StreamTable(c *gin.Context) {
	cur, found, err := s.store.LatestForTable(c.Request.Context(), c.Param("table_id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	if !found {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no call for table"})
		return
	}
	s.stream(c, cur)
}

func (s *Streamer) stream(c *gin.Context, cur calls.Call) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	tick := time.NewTicker(s.cfg.Tick)
	defer tick.Stop()
	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()
	deadline := time.NewTimer(s.cfg.MaxAge)
	defer deadline.Stop()

	callID := cur.ID
	lastStatus := cur.Status
	graceLeft := -1 // ticks until close once a terminal-ish state is seen
	if lastStatus == calls.CallStatusAcknowledged {
		graceLeft = ackGraceTicks
	}
	first := true

	c.Stream(func(w io.Writer) bool {
		if first {
			first = false
			c.SSEvent("connected", gin.H{"call_id": callID, "ts": s.clock().UTC().Format(time.RFC3339)})
			c.SSEvent("call_update", toCallUpdate(cur))
			if lastStatus == calls.CallStatusCompleted {
				s.closeEvent(c, "call_completed")
				return false
			}
			return true
		}

		select {
		case <-c.Request.Context().Done():
			// Client gone; no point writing a close event into the void.
			return false

		case <-deadline.C:
			s.log.Debug("stream reached max age", "call_id", callID)
			s.closeEvent(c, "max_age")
			return false

		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"ts": s.clock().UTC().Format(time.RFC3339)})
			return true

		case <-tick.C:
			latest, err := s.store.Get(c.Request.Context(), callID)
			if err != nil {
				s.log.Warn("stream re-read failed", "call_id", callID, "error", err)
				c.SSEvent("error", gin.H{"error": "status refresh failed"})
				return true
			}
			if latest.Status != lastStatus {
				lastStatus = latest.Status
				c.SSEvent("call_update", toCallUpdate(latest))
				// Completion is terminal; acknowledged gets a short grace in
				// case completion follows right behind it.
				if lastStatus == calls.CallStatusCompleted {
					s.closeEvent(c, "call_completed")
					return false
				}
				if lastStatus == calls.CallStatusAcknowledged {
					graceLeft = ackGraceTicks
				}
				return true
			}
			if graceLeft > 0 {
				graceLeft--
				if graceLeft == 0 {
					s.closeEvent(c, "call_acknowledged")
					return false
				}
			}
			return true
		}
	})
}

// closeEvent announces a deliberate server-side termination. A stream ending
// without one means the transport died.
func (s *Streamer) closeEvent(c *gin.Context, reason string) {
	c.SSEvent("connection_close", gin.H{"reason": reason})
}
