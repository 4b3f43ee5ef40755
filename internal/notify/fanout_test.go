package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"firebase.google.com/go/v4/messaging"

	"waitercall-platform/internal/tokens"
)

var ctx = context.Background()

// stubSender records sends and fails configured tokens.
type stubSender struct {
	mu       sync.Mutex
	sent     []*messaging.Message
	failWith map[string]error
	inFlight int
	maxSeen  int
}

func newStubSender() *stubSender {
	return &stubSender{failWith: map[string]error{}}
}

func (s *stubSender) Send(ctx context.Context, msg *messaging.Message) error {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.maxSeen {
		s.maxSeen = s.inFlight
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failWith[msg.Token]; ok {
		return err
	}
	s.sent = append(s.sent, msg)
	return nil
}

var errPermanent = errors.New("unregistered")

func newTestEngine(sender PushSender, reg tokens.Registry, opts Options) *Engine {
	e := NewEngine(sender, reg, opts, nil)
	e.permanent = func(err error) bool { return errors.Is(err, errPermanent) }
	return e
}

func deviceTokens(n int) []tokens.DeviceToken {
	out := make([]tokens.DeviceToken, 0, n)
	platforms := []tokens.Platform{tokens.PlatformWeb, tokens.PlatformAndroid, tokens.PlatformIOS}
	for i := 0; i < n; i++ {
		out = append(out, tokens.DeviceToken{
			UserID:   "w-1",
			Token:    string(rune('a' + i)),
			Platform: platforms[i%len(platforms)],
			Role:     "waiter",
		})
	}
	return out
}

func TestDispatch_EmptyTokenSetIsZeroCost(t *testing.T) {
	sender := newStubSender()
	e := newTestEngine(sender, nil, Options{})

	res := e.Dispatch(ctx, nil, Notification{Title: "x"})
	if res.Total != 0 || res.Sent != 0 {
		t.Fatalf("expected zero-cost success, got %+v", res)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("no network calls expected")
	}
}

func TestDispatch_AllPlatformsDelivered(t *testing.T) {
	sender := newStubSender()
	e := newTestEngine(sender, nil, Options{})

	toks := deviceTokens(6)
	res := e.Dispatch(ctx, toks, Notification{Title: "t", Body: "b", Priority: PriorityHigh})

	if res.Total != 6 || res.Sent != 6 {
		t.Fatalf("expected 6/6 sent, got %d/%d", res.Sent, res.Total)
	}
	if len(sender.sent) != 6 {
		t.Fatalf("expected 6 provider calls, got %d", len(sender.sent))
	}
}

func TestDispatch_SingleFailureDoesNotReduceOtherSuccesses(t *testing.T) {
	sender := newStubSender()
	sender.failWith["b"] = errors.New("transient 500")
	e := newTestEngine(sender, nil, Options{})

	toks := deviceTokens(4)
	res := e.Dispatch(ctx, toks, Notification{Title: "t"})

	if res.Total != 4 {
		t.Fatalf("total must equal token count, got %d", res.Total)
	}
	if res.Sent != 3 {
		t.Fatalf("one failure must not reduce other successes, got sent=%d", res.Sent)
	}
	var failed int
	for _, r := range res.Results {
		if r.Err != nil {
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("expected exactly one per-token failure, got %d", failed)
	}
}

func TestDispatch_PermanentErrorDeletesToken(t *testing.T) {
	sender := newStubSender()
	sender.failWith["a"] = errPermanent
	reg := tokens.NewMemoryRegistry()
	if err := reg.Upsert(ctx, tokens.DeviceToken{UserID: "w-1", Token: "a", Platform: tokens.PlatformWeb}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	e := newTestEngine(sender, reg, Options{})

	res := e.Dispatch(ctx, deviceTokens(2), Notification{Title: "t"})
	if res.Sent != 1 {
		t.Fatalf("expected one success, got %d", res.Sent)
	}
	if reg.Count() != 0 {
		t.Fatalf("permanently invalid token must be deleted from the registry")
	}
}

func TestDispatch_RoleRestrictedSkips(t *testing.T) {
	sender := newStubSender()
	e := newTestEngine(sender, nil, Options{})

	toks := []tokens.DeviceToken{
		{UserID: "u1", Token: "a", Platform: tokens.PlatformWeb, Role: "waiter"},
		{UserID: "u2", Token: "b", Platform: tokens.PlatformWeb, Role: "manager"},
	}
	res := e.Dispatch(ctx, toks, Notification{Title: "t", RestrictRole: "waiter"})

	if res.Sent != 1 {
		t.Fatalf("expected one delivery, got %d", res.Sent)
	}
	var skipped *TokenResult
	for i := range res.Results {
		if res.Results[i].Skipped {
			skipped = &res.Results[i]
		}
	}
	if skipped == nil || skipped.SkipReason != "role mismatch" {
		t.Fatalf("expected a role-mismatch skip, got %+v", res.Results)
	}
	if skipped.Err != nil {
		t.Fatalf("a skip is not an error")
	}
}

func TestDispatch_ConcurrencyIsBounded(t *testing.T) {
	sender := newStubSender()
	e := newTestEngine(sender, nil, Options{MaxInFlight: 3})

	e.Dispatch(ctx, deviceTokens(20), Notification{Title: "t"})

	if sender.maxSeen > 3 {
		t.Fatalf("in-flight sends exceeded cap: %d", sender.maxSeen)
	}
}
