package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"waitercall-platform/internal/calls"
)

var ctx = context.Background()

func sampleCall() calls.Call {
	return calls.Call{
		ID:         "c-1",
		TableID:    "t-7",
		WaiterID:   "w-1",
		BusinessID: "b-1",
		Status:     calls.CallStatusPending,
		Message:    "Necesito la cuenta",
		Urgency:    calls.UrgencyHigh,
		CalledAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestProject_CreatedWritesAllPaths(t *testing.T) {
	store := NewMemoryBatchWriter()
	w := NewWriter(store, 2*time.Hour, nil)

	if err := w.Project(ctx, sampleCall(), EventCreated); err != nil {
		t.Fatalf("project: %v", err)
	}

	raw, ok := store.Get(KeyActiveCall("c-1"))
	if !ok {
		t.Fatalf("expected active_calls node")
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("active call payload must be string-typed JSON: %v", err)
	}
	if payload["urgency"] != "high" {
		t.Fatalf("expected urgency high, got %q", payload["urgency"])
	}
	if got, _ := store.Get(KeyTableCurrent("t-7")); got != "c-1" {
		t.Fatalf("expected table current pointer, got %q", got)
	}
	if !store.SetContains(KeyWaiterActive("w-1"), "c-1") {
		t.Fatalf("expected waiter active set membership")
	}
	if !store.SetContains(KeyBusinessActive("b-1"), "c-1") {
		t.Fatalf("expected business active set membership")
	}
}

func TestProject_CompletedRemovesActivePaths(t *testing.T) {
	store := NewMemoryBatchWriter()
	w := NewWriter(store, 2*time.Hour, nil)

	c := sampleCall()
	if err := w.Project(ctx, c, EventCreated); err != nil {
		t.Fatalf("project created: %v", err)
	}

	done := time.Now().UTC()
	c.Status = calls.CallStatusCompleted
	c.CompletedAt = &done
	if err := w.Project(ctx, c, EventCompleted); err != nil {
		t.Fatalf("project completed: %v", err)
	}

	if _, ok := store.Get(KeyActiveCall("c-1")); ok {
		t.Fatalf("active_calls node must be absent after completion")
	}
	if got, _ := store.Get(KeyTableCurrent("t-7")); got == "c-1" {
		t.Fatalf("table current pointer must no longer reference the call")
	}
	if store.SetContains(KeyWaiterActive("w-1"), "c-1") {
		t.Fatalf("waiter active set must not contain the call")
	}

	raw, ok := store.Get(KeyTableStatus("t-7"))
	if !ok {
		t.Fatalf("expected queryable per-table status node")
	}
	var status map[string]string
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status["has_active_call"] != "false" {
		t.Fatalf("expected has_active_call=false, got %q", status["has_active_call"])
	}
}

func TestProject_AcknowledgedUpdatesInPlace(t *testing.T) {
	store := NewMemoryBatchWriter()
	w := NewWriter(store, 2*time.Hour, nil)

	c := sampleCall()
	if err := w.Project(ctx, c, EventCreated); err != nil {
		t.Fatalf("project created: %v", err)
	}
	ack := time.Now().UTC()
	c.Status = calls.CallStatusAcknowledged
	c.AcknowledgedAt = &ack
	if err := w.Project(ctx, c, EventAcknowledged); err != nil {
		t.Fatalf("project acknowledged: %v", err)
	}

	raw, _ := store.Get(KeyActiveCall("c-1"))
	var payload map[string]string
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "acknowledged" {
		t.Fatalf("expected acknowledged status in mirror, got %q", payload["status"])
	}
	// Still active: the table pointer survives.
	if got, _ := store.Get(KeyTableCurrent("t-7")); got != "c-1" {
		t.Fatalf("table pointer must survive acknowledge, got %q", got)
	}
}

func TestProject_BatchFailureFallsBackSequentially(t *testing.T) {
	store := NewMemoryBatchWriter()
	store.BatchErr = errors.New("pipeline unavailable")
	w := NewWriter(store, 2*time.Hour, nil)

	if err := w.Project(ctx, sampleCall(), EventCreated); err != nil {
		t.Fatalf("sequential fallback should succeed: %v", err)
	}
	if _, ok := store.Get(KeyActiveCall("c-1")); !ok {
		t.Fatalf("fallback must still write the flat node")
	}
}

func TestProject_SecondaryPathFailureDoesNotFailProjection(t *testing.T) {
	store := NewMemoryBatchWriter()
	store.BatchErr = errors.New("pipeline unavailable")
	store.KeyErr[KeyWaiterActive("w-1")] = errors.New("path down")
	w := NewWriter(store, 2*time.Hour, nil)

	if err := w.Project(ctx, sampleCall(), EventCreated); err != nil {
		t.Fatalf("secondary path failure must be swallowed: %v", err)
	}
	if _, ok := store.Get(KeyActiveCall("c-1")); !ok {
		t.Fatalf("flat node must be written")
	}
}

func TestProject_FlatNodeFailureSurfaces(t *testing.T) {
	store := NewMemoryBatchWriter()
	store.BatchErr = errors.New("pipeline unavailable")
	store.KeyErr[KeyActiveCall("c-1")] = errors.New("store down")
	w := NewWriter(store, 2*time.Hour, nil)

	if err := w.Project(ctx, sampleCall(), EventCreated); err == nil {
		t.Fatalf("flat node failure should surface to the caller's log")
	}
}

func TestBuildOps_FlatNodeFirst(t *testing.T) {
	ops := BuildOps(sampleCall(), EventCreated, time.Hour, time.Now())
	if len(ops) == 0 || ops[0].Key != KeyActiveCall("c-1") {
		t.Fatalf("flat active_calls node must be ordered first, got %+v", ops)
	}
}
