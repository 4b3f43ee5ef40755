package delivery

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"waitercall-platform/internal/auth"
	"waitercall-platform/internal/calls"
	"waitercall-platform/internal/config"
	"waitercall-platform/internal/rbac"
)

// Poller answers waiter apps that fall back to HTTP polling. The response
// carries the next poll interval so the server, not the client, decides the
// cadence: short while calls are pending, long while the floor is quiet.
type Poller struct {
	store calls.Store
	cfg   config.StreamConfig
	log   *slog.Logger

	clock func() time.Time
}

func NewPoller(store calls.Store, cfg config.StreamConfig, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{store: store, cfg: cfg, log: log, clock: time.Now}
}

type pollResponse struct {
	NewCalls       []calls.Call `json:"new_calls"`
	TotalPending   int          `json:"total_pending"`
	LastCheck      string       `json:"last_check"`
	PollIntervalMs int          `json:"poll_interval_ms"`
}

// Poll handles GET /waiters/:waiter_id/calls/poll?since=<unix seconds>.
//
// A waiter may only poll their own queue; managers and super admins may poll
// anyone's.
func (p *Poller) Poll(c *gin.Context) {
	waiterID := c.Param("waiter_id")
	if waiterID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "waiter_id required"})
		return
	}

	userID, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	businessID, _ := auth.BusinessID(c.Request.Context())
	if userID != waiterID && role != rbac.RoleManager && !rbac.IsSuperAdmin(role) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	var since time.Time
	if raw := c.Query("since"); raw != "" {
		sec, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "since must be a unix timestamp"})
			return
		}
		since = time.Unix(sec, 0)
	}

	pending, err := p.store.PendingForWaiter(c.Request.Context(), waiterID)
	if err != nil {
		p.log.Error("poll query failed", "waiter_id", waiterID, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "poll failed"})
		return
	}

	// There is no waiter directory to check membership against, so tenancy is
	// enforced on the data: a manager polling a waiter from another business
	// sees an empty queue. Super admins see everything.
	if !rbac.IsSuperAdmin(role) {
		scoped := make([]calls.Call, 0, len(pending))
		for _, call := range pending {
			if call.BusinessID == businessID {
				scoped = append(scoped, call)
			}
		}
		pending = scoped
	}

	fresh := make([]calls.Call, 0, len(pending))
	for _, call := range pending {
		if call.CalledAt.After(since) {
			fresh = append(fresh, call)
		}
	}

	interval := p.cfg.IdlePollMs
	if len(pending) > 0 {
		interval = p.cfg.BusyPollMs
	}

	c.JSON(http.StatusOK, pollResponse{
		NewCalls:       fresh,
		TotalPending:   len(pending),
		LastCheck:      p.clock().UTC().Format(time.RFC3339),
		PollIntervalMs: interval,
	})
}
