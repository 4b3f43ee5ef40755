package calls

import "testing"

func TestCallStatusValuesAreNonEmpty(t *testing.T) {
	statuses := []CallStatus{
		CallStatusPending,
		CallStatusAcknowledged,
		CallStatusCompleted,
	}
	for _, s := range statuses {
		if s == "" {
			t.Fatalf("expected non-empty status")
		}
	}
}

func TestCall_Active(t *testing.T) {
	if !(Call{Status: CallStatusPending}).Active() {
		t.Fatalf("pending should be active")
	}
	if !(Call{Status: CallStatusAcknowledged}).Active() {
		t.Fatalf("acknowledged should be active")
	}
	if (Call{Status: CallStatusCompleted}).Active() {
		t.Fatalf("completed should not be active")
	}
}

func TestValidUrgency(t *testing.T) {
	if u, ok := ValidUrgency(""); !ok || u != UrgencyNormal {
		t.Fatalf("empty urgency should default to normal, got %q ok=%v", u, ok)
	}
	if u, ok := ValidUrgency("high"); !ok || u != UrgencyHigh {
		t.Fatalf("high should be valid, got %q ok=%v", u, ok)
	}
	if _, ok := ValidUrgency("critical"); ok {
		t.Fatalf("unknown urgency should be rejected")
	}
}
