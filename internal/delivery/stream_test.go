package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"waitercall-platform/internal/calls"
	"waitercall-platform/internal/config"
)

func streamConfig() config.StreamConfig {
	return config.StreamConfig{
		Tick:       5 * time.Millisecond,
		Heartbeat:  40 * time.Millisecond,
		MaxAge:     150 * time.Millisecond,
		BusyPollMs: 5000,
		IdlePollMs: 15000,
	}
}

// sseRecorder adds the CloseNotify method that gin's c.Stream requires,
// which httptest.ResponseRecorder does not implement.
type sseRecorder struct {
	*httptest.ResponseRecorder
	closeCh chan bool
}

func newSSERecorder() *sseRecorder {
	return &sseRecorder{ResponseRecorder: httptest.NewRecorder(), closeCh: make(chan bool, 1)}
}

func (r *sseRecorder) CloseNotify() <-chan bool { return r.closeCh }

func newStreamRouter(store calls.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	s := NewStreamer(store, streamConfig(), nil)
	r.GET("/calls/:call_id/stream", s.StreamCall)
	r.GET("/tables/:table_id/call/stream", s.StreamTable)
	return r
}

func TestStreamCall_UnknownCall(t *testing.T) {
	r := newStreamRouter(calls.NewMemoryStore())

	w := newSSERecorder()
	req := httptest.NewRequest(http.MethodGet, "/calls/nope/stream", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestStreamCall_CompletedCallClosesAfterSnapshot(t *testing.T) {
	store := calls.NewMemoryStore()
	now := time.Now().UTC()
	done := now.Add(time.Minute)
	_ = store.Create(context.Background(), calls.Call{
		ID: "c1", TableID: "t1", BusinessID: "b", Status: calls.CallStatusCompleted,
		CalledAt: now, CompletedAt: &done,
	})
	r := newStreamRouter(store)

	w := newSSERecorder()
	req := httptest.NewRequest(http.MethodGet, "/calls/c1/stream", nil)

	start := time.Now()
	r.ServeHTTP(w, req)
	elapsed := time.Since(start)

	if w.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", w.Header().Get("Content-Type"))
	}
	body := w.Body.String()
	if !strings.Contains(body, "event:connected") {
		t.Fatalf("expected connected hello, got: %s", body)
	}
	if !strings.Contains(body, "event:call_update") || !strings.Contains(body, `"completed"`) {
		t.Fatalf("expected completed snapshot, got: %s", body)
	}
	if !strings.Contains(body, "event:connection_close") || !strings.Contains(body, `"call_completed"`) {
		t.Fatalf("expected close announcement, got: %s", body)
	}
	// Terminal calls must not hold the connection open until max age.
	if elapsed > 100*time.Millisecond {
		t.Fatalf("stream for completed call should close immediately, took %s", elapsed)
	}
}

func TestStreamCall_EndsAtMaxAgeWithHeartbeats(t *testing.T) {
	store := calls.NewMemoryStore()
	_ = store.Create(context.Background(), calls.Call{
		ID: "c1", TableID: "t1", BusinessID: "b", Status: calls.CallStatusPending,
		CalledAt: time.Now().UTC(),
	})
	r := newStreamRouter(store)

	w := newSSERecorder()
	req := httptest.NewRequest(http.MethodGet, "/calls/c1/stream", nil)
	r.ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "event:heartbeat") {
		t.Fatalf("expected at least one heartbeat, got: %s", body)
	}
	// A pending call with no transitions sends exactly one snapshot.
	if strings.Count(body, "event:call_update") != 1 {
		t.Fatalf("expected single snapshot, got: %s", body)
	}
	if !strings.Contains(body, "event:connection_close") || !strings.Contains(body, `"max_age"`) {
		t.Fatalf("expected max-age close announcement, got: %s", body)
	}
}

func TestStreamCall_ObservesCompletion(t *testing.T) {
	store := calls.NewMemoryStore()
	_ = store.Create(context.Background(), calls.Call{
		ID: "c1", TableID: "t1", BusinessID: "b", Status: calls.CallStatusPending,
		CalledAt: time.Now().UTC(),
	})
	r := newStreamRouter(store)

	go func() {
		time.Sleep(25 * time.Millisecond)
		_, _ = store.MarkCompleted(context.Background(), "c1", time.Now().UTC())
	}()

	w := newSSERecorder()
	req := httptest.NewRequest(http.MethodGet, "/calls/c1/stream", nil)

	start := time.Now()
	r.ServeHTTP(w, req)
	elapsed := time.Since(start)

	body := w.Body.String()
	if strings.Count(body, "event:call_update") != 2 {
		t.Fatalf("expected pending + completed snapshots, got: %s", body)
	}
	if !strings.Contains(body, `"completed"`) {
		t.Fatalf("expected completed event, got: %s", body)
	}
	if !strings.Contains(body, `"call_completed"`) {
		t.Fatalf("expected close reason, got: %s", body)
	}
	if elapsed >= 150*time.Millisecond {
		t.Fatalf("stream should close on completion before max age, took %s", elapsed)
	}
}

func TestStreamCall_ClosesShortlyAfterAcknowledge(t *testing.T) {
	store := calls.NewMemoryStore()
	_ = store.Create(context.Background(), calls.Call{
		ID: "c1", TableID: "t1", BusinessID: "b", Status: calls.CallStatusPending,
		CalledAt: time.Now().UTC(),
	})
	r := newStreamRouter(store)

	go func() {
		time.Sleep(25 * time.Millisecond)
		_, _ = store.MarkAcknowledged(context.Background(), "c1", time.Now().UTC())
	}()

	w := newSSERecorder()
	req := httptest.NewRequest(http.MethodGet, "/calls/c1/stream", nil)

	start := time.Now()
	r.ServeHTTP(w, req)
	elapsed := time.Since(start)

	body := w.Body.String()
	if !strings.Contains(body, `"acknowledged"`) {
		t.Fatalf("expected acknowledged update, got: %s", body)
	}
	if !strings.Contains(body, "event:connection_close") || !strings.Contains(body, `"call_acknowledged"`) {
		t.Fatalf("expected close announcement after grace, got: %s", body)
	}
	// The grace window is ticks, not the full max age.
	if elapsed >= 150*time.Millisecond {
		t.Fatalf("stream should close shortly after acknowledge, took %s", elapsed)
	}
}

func TestStreamTable_UsesLatestCall(t *testing.T) {
	store := calls.NewMemoryStore()
	now := time.Now().UTC()
	done := now.Add(time.Minute)
	_ = store.Create(context.Background(), calls.Call{
		ID: "c1", TableID: "t1", BusinessID: "b", Status: calls.CallStatusCompleted,
		CalledAt: now, CompletedAt: &done,
	})
	r := newStreamRouter(store)

	w := newSSERecorder()
	req := httptest.NewRequest(http.MethodGet, "/tables/t1/call/stream", nil)
	r.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), `"c1"`) {
		t.Fatalf("expected table's call in stream, got: %s", w.Body.String())
	}

	w = newSSERecorder()
	req = httptest.NewRequest(http.MethodGet, "/tables/t2/call/stream", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for table without calls, got %d", w.Code)
	}
}
