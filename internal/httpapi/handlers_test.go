package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"waitercall-platform/internal/abuse"
	"waitercall-platform/internal/audit"
	"waitercall-platform/internal/auth"
	"waitercall-platform/internal/calls"
	"waitercall-platform/internal/lifecycle"
	"waitercall-platform/internal/mirror"
	"waitercall-platform/internal/notify"
	"waitercall-platform/internal/rbac"
	"waitercall-platform/internal/reporting"
	"waitercall-platform/internal/tables"
	"waitercall-platform/internal/tokens"
)

type syncDeferrer struct{}

func (syncDeferrer) Submit(name string, fn func(ctx context.Context)) bool {
	fn(context.Background())
	return true
}

type nopFanout struct{}

func (nopFanout) Dispatch(ctx context.Context, toks []tokens.DeviceToken, n notify.Notification) notify.FanoutResult {
	return notify.FanoutResult{Sent: len(toks), Total: len(toks)}
}

type env struct {
	store    *calls.MemoryStore
	registry *tokens.MemoryRegistry
	handlers Handlers
	router   *gin.Engine
}

func identity(userID, businessID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), userID, businessID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := calls.NewMemoryStore()
	registry := tokens.NewMemoryRegistry()

	dir := tables.NewMemoryDirectory(
		tables.Table{ID: "t-1", BusinessID: "biz-1", WaiterID: "w-1", NotificationsEnabled: true},
	)
	guard := abuse.NewGuard(abuse.NewMemoryBlockRepo(), abuse.NewMemorySilenceRepo(), nil)
	writer := mirror.NewWriter(mirror.NewMemoryBatchWriter(), time.Hour, nil)
	mgr := lifecycle.NewManager(store, dir, guard, writer, nopFanout{}, registry,
		audit.NewService(audit.NewMemoryRepo()), syncDeferrer{}, nil)

	h := Handlers{
		Lifecycle: mgr,
		Registry:  registry,
		Reporting: reporting.NewService(store),
	}

	r := gin.New()
	r.POST("/calls", h.CreateCall)
	r.GET("/calls/:call_id", h.GetCall)
	r.POST("/calls/:call_id/acknowledge", identity("w-1", "biz-1", rbac.RoleWaiter), h.AcknowledgeCall)
	r.POST("/calls/:call_id/complete", identity("w-1", "biz-1", rbac.RoleWaiter), h.CompleteCall)
	r.POST("/devices/tokens", identity("w-1", "biz-1", rbac.RoleWaiter), h.RegisterToken)
	r.GET("/businesses/:business_id/calls/report", identity("mgr-1", "biz-1", rbac.RoleManager), h.CallsReport)

	return &env{store: store, registry: registry, handlers: h, router: r}
}

func do(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateCall_CreatedThenExisting(t *testing.T) {
	e := newEnv(t)

	w := do(t, e.router, http.MethodPost, "/calls", `{"table_id":"t-1","message":"check please","urgency":"high"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var out struct {
		Call     calls.Call `json:"call"`
		Existing bool       `json:"existing"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Call.Message != "check please" || out.Call.Urgency != calls.UrgencyHigh {
		t.Fatalf("unexpected call: %+v", out.Call)
	}

	w = do(t, e.router, http.MethodPost, "/calls", `{"table_id":"t-1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for repeat, got %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Existing {
		t.Fatalf("expected existing flag")
	}
}

func TestCreateCall_UnknownTable(t *testing.T) {
	e := newEnv(t)
	w := do(t, e.router, http.MethodPost, "/calls", `{"table_id":"t-404"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCreateCall_MissingTableID(t *testing.T) {
	e := newEnv(t)
	w := do(t, e.router, http.MethodPost, "/calls", `{"message":"hi"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateCall_RateLimited(t *testing.T) {
	e := newEnv(t)
	e.handlers.RateLimit = func(c *gin.Context, ip string) (bool, error) { return false, nil }

	r := gin.New()
	r.POST("/calls", e.handlers.CreateCall)
	w := do(t, r, http.MethodPost, "/calls", `{"table_id":"t-1"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}

func TestTransitionEndpoints(t *testing.T) {
	e := newEnv(t)

	w := do(t, e.router, http.MethodPost, "/calls", `{"table_id":"t-1"}`)
	var created struct {
		Call calls.Call `json:"call"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := created.Call.ID

	w = do(t, e.router, http.MethodPost, "/calls/"+id+"/acknowledge", "")
	if w.Code != http.StatusOK {
		t.Fatalf("ack: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var c calls.Call
	if err := json.Unmarshal(w.Body.Bytes(), &c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.Status != calls.CallStatusAcknowledged {
		t.Fatalf("expected acknowledged, got %s", c.Status)
	}

	w = do(t, e.router, http.MethodPost, "/calls/"+id+"/complete", "")
	if w.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d", w.Code)
	}

	w = do(t, e.router, http.MethodGet, "/calls/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.Status != calls.CallStatusCompleted {
		t.Fatalf("expected completed, got %s", c.Status)
	}

	w = do(t, e.router, http.MethodPost, "/calls/nope/acknowledge", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown call, got %d", w.Code)
	}
}

func TestRegisterToken(t *testing.T) {
	e := newEnv(t)

	w := do(t, e.router, http.MethodPost, "/devices/tokens", `{"token":"tok-1","platform":"android"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	toks, err := e.registry.TokensFor(context.Background(), "w-1", "")
	if err != nil || len(toks) != 1 {
		t.Fatalf("expected registered token, got %v %v", toks, err)
	}
	if toks[0].Role != rbac.RoleWaiter {
		t.Fatalf("expected role captured from claims, got %q", toks[0].Role)
	}

	w = do(t, e.router, http.MethodPost, "/devices/tokens", `{"token":"tok-2","platform":"vax"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad platform, got %d", w.Code)
	}
}

func TestCallsReport(t *testing.T) {
	e := newEnv(t)

	if w := do(t, e.router, http.MethodPost, "/calls", `{"table_id":"t-1"}`); w.Code != http.StatusCreated {
		t.Fatalf("seed create failed: %d", w.Code)
	}

	from := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	to := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	w := do(t, e.router, http.MethodGet, "/businesses/biz-1/calls/report?from="+from+"&to="+to, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var sum reporting.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.TotalCalls != 1 || sum.PendingCalls != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	w = do(t, e.router, http.MethodGet, "/businesses/biz-1/calls/report?from=bad&to="+to, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad range, got %d", w.Code)
	}

	w = do(t, e.router, http.MethodGet, "/businesses/biz-2/calls/report?from="+from+"&to="+to, "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign business, got %d", w.Code)
	}
}
