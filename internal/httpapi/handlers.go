package httpapi

import (
	"errors"
	"net/http"
	"time"

	"waitercall-platform/internal/auth"
	"waitercall-platform/internal/calls"
	"waitercall-platform/internal/lifecycle"
	"waitercall-platform/internal/rbac"
	"waitercall-platform/internal/reporting"
	"waitercall-platform/internal/tokens"
	"waitercall-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth      *auth.Manager
	Lifecycle *lifecycle.Manager
	Registry  tokens.Registry
	Reporting *reporting.Service

	// RateLimit gates table-originated creates per client IP. Nil disables
	// throttling (tests, local runs without Redis).
	RateLimit func(c *gin.Context, ip string) (bool, error)
}

// --- Auth ---

type loginRequest struct {
	UserID     string `json:"user_id"`
	BusinessID string `json:"business_id"`
	Role       string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.BusinessID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, business_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.BusinessID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

type createCallRequest struct {
	TableID string `json:"table_id"`
	Message string `json:"message"`
	Urgency string `json:"urgency"`
	Source  string `json:"source"`
}

// CreateCall handles a table asking for its waiter. Unauthenticated: the
// table page carries no credentials, the table id comes from the QR code.
func (h Handlers) CreateCall(c *gin.Context) {
	if h.Lifecycle == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lifecycle not configured"})
		return
	}

	var req createCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.TableID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "table_id required"})
		return
	}

	ip := c.ClientIP()
	if h.RateLimit != nil {
		ok, err := h.RateLimit(c, ip)
		if err != nil {
			// Throttle backend down: let the request through rather than
			// refuse service for everyone.
			logger.FromGin(c).Warn("rate limiter unavailable", "error", err)
		} else if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
	}

	res, err := h.Lifecycle.Create(c.Request.Context(), lifecycle.CreateInput{
		TableID: req.TableID,
		Message: req.Message,
		Urgency: req.Urgency,
		Requester: calls.RequesterInfo{
			IP:        ip,
			UserAgent: c.Request.UserAgent(),
			Source:    req.Source,
		},
	})
	if err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrUnknownTable):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown table"})
		case errors.Is(err, lifecycle.ErrNotificationsDisabled):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "notifications disabled for table"})
		case errors.Is(err, lifecycle.ErrNoWaiterAssigned):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "no waiter assigned"})
		case errors.Is(err, calls.ErrInvalidArgument):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			logger.FromGin(c).Error("create call failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		}
		return
	}

	status := http.StatusCreated
	if res.Existing {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"call": res.Call, "existing": res.Existing})
}

// GetCall returns one call's current state; the polling fallback for table
// pages that cannot hold a stream open.
func (h Handlers) GetCall(c *gin.Context) {
	if h.Lifecycle == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lifecycle not configured"})
		return
	}
	call, err := h.Lifecycle.Lookup(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) AcknowledgeCall(c *gin.Context) { h.transition(c, h.ackFn) }
func (h Handlers) CompleteCall(c *gin.Context)    { h.transition(c, h.completeFn) }

func (h Handlers) ackFn(c *gin.Context, id string, actor lifecycle.Actor) (calls.Call, error) {
	return h.Lifecycle.Acknowledge(c.Request.Context(), id, actor)
}

func (h Handlers) completeFn(c *gin.Context, id string, actor lifecycle.Actor) (calls.Call, error) {
	return h.Lifecycle.Complete(c.Request.Context(), id, actor)
}

func (h Handlers) transition(c *gin.Context, fn func(*gin.Context, string, lifecycle.Actor) (calls.Call, error)) {
	if h.Lifecycle == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lifecycle not configured"})
		return
	}
	userID, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())

	call, err := fn(c, c.Param("call_id"), lifecycle.Actor{UserID: userID, Role: role})
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		logger.FromGin(c).Error("call transition failed", "call_id", c.Param("call_id"), "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "transition failed"})
		return
	}
	c.JSON(http.StatusOK, call)
}

// --- Device tokens ---

type registerTokenRequest struct {
	Token     string `json:"token"`
	Platform  string `json:"platform"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// RegisterToken upserts a push token for the authenticated user.
func (h Handlers) RegisterToken(c *gin.Context) {
	if h.Registry == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "registry not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	role, _ := auth.Role(c.Request.Context())

	var req registerTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Token == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "token required"})
		return
	}
	platform, ok := tokens.ValidPlatform(req.Platform)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "platform must be web, android or ios"})
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "expires_at must be RFC3339"})
			return
		}
		expiresAt = &t
	}

	if err := h.Registry.Upsert(c.Request.Context(), tokens.DeviceToken{
		UserID:    userID,
		Token:     req.Token,
		Platform:  platform,
		Role:      role,
		ExpiresAt: expiresAt,
	}); err != nil {
		logger.FromGin(c).Error("token upsert failed", "user_id", userID, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "registered"})
}

// PurgeTokens deletes long-expired tokens. Manager/admin housekeeping.
func (h Handlers) PurgeTokens(c *gin.Context) {
	if h.Registry == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "registry not configured"})
		return
	}
	n, err := h.Registry.PurgeExpired(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("token purge failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "purge failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": n})
}

// --- Reporting ---

// CallsReport aggregates call volume and response latency for one business.
// RBAC: manager of that business, or super_admin for any business.
func (h Handlers) CallsReport(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	businessID := c.Param("business_id")
	if businessID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "business_id required"})
		return
	}
	claimed, err := auth.BusinessID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	if err != nil || (claimed != businessID && !rbac.IsSuperAdmin(role)) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
		return
	}

	out, err := h.Reporting.CallsSummary(c.Request.Context(), reporting.SummaryRequest{
		BusinessID: businessID,
		TableID:    c.Query("table_id"),
		Range:      reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		logger.FromGin(c).Error("report failed", "business_id", businessID, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// Convenience middleware bundles.

func RequireBusinessAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireBusiness(), rbac.RequireAnyRole(roles...)}
}
