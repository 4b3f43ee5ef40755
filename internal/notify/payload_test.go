package notify

import (
	"testing"
	"time"
)

func TestWebPayload_CarriesNotificationAndData(t *testing.T) {
	n := Notification{
		Title:    "Table 7",
		Body:     "Necesito la cuenta",
		Data:     map[string]string{"call_id": "c-1"},
		Priority: PriorityHigh,
	}
	msg := (WebPayloadBuilder{}).Build(n, "tok")

	if msg.Notification == nil || msg.Webpush == nil || msg.Webpush.Notification == nil {
		t.Fatalf("web payload needs both notification and data blocks")
	}
	if msg.Webpush.Headers["Urgency"] != "high" {
		t.Fatalf("expected Urgency header for high priority")
	}
	if msg.Data["call_id"] != "c-1" {
		t.Fatalf("data block missing")
	}
}

func TestWebPayload_NormalPriorityHasNoUrgencyHeader(t *testing.T) {
	msg := (WebPayloadBuilder{}).Build(Notification{Title: "t"}, "tok")
	if _, ok := msg.Webpush.Headers["Urgency"]; ok {
		t.Fatalf("normal priority must not set Urgency header")
	}
}

func TestAndroidPayload_ChannelAndCollapse(t *testing.T) {
	b := AndroidPayloadBuilder{TTL: 30 * time.Second}

	high := b.Build(Notification{Title: "t", Priority: PriorityHigh, CollapseID: "c-1"}, "tok")
	if high.Android.Priority != "high" {
		t.Fatalf("expected high android priority, got %q", high.Android.Priority)
	}
	if high.Android.Notification.ChannelID != ChannelWaiterUrgent {
		t.Fatalf("expected urgent channel, got %q", high.Android.Notification.ChannelID)
	}
	if high.Android.CollapseKey != "c-1" {
		t.Fatalf("repeated updates for one call must collapse, got %q", high.Android.CollapseKey)
	}
	if high.Android.TTL == nil || *high.Android.TTL != 30*time.Second {
		t.Fatalf("expected short ttl, got %v", high.Android.TTL)
	}

	normal := b.Build(Notification{Title: "t"}, "tok")
	if normal.Android.Notification.ChannelID != ChannelWaiterNormal {
		t.Fatalf("expected normal channel, got %q", normal.Android.Notification.ChannelID)
	}
}

func TestIOSPayload_PriorityAndInterruption(t *testing.T) {
	b := IOSPayloadBuilder{}

	high := b.Build(Notification{Title: "t", Priority: PriorityHigh}, "tok")
	if high.APNS.Headers["apns-priority"] != "10" {
		t.Fatalf("expected apns-priority 10, got %q", high.APNS.Headers["apns-priority"])
	}
	if high.APNS.Payload.Aps.CustomData["interruption-level"] != "critical" {
		t.Fatalf("expected critical interruption level")
	}
	if high.APNS.Payload.Aps.Badge == nil || *high.APNS.Payload.Aps.Badge != 1 {
		t.Fatalf("expected badge increment")
	}

	normal := b.Build(Notification{Title: "t"}, "tok")
	if normal.APNS.Headers["apns-priority"] != "5" {
		t.Fatalf("expected apns-priority 5, got %q", normal.APNS.Headers["apns-priority"])
	}
}

func TestSilentPayloads_OmitNotificationBlocks(t *testing.T) {
	n := Notification{Data: map[string]string{"call_id": "c-1", "status": "acknowledged"}, Silent: true}

	web := (WebPayloadBuilder{}).Build(n, "tok")
	if web.Notification != nil || web.Webpush.Notification != nil {
		t.Fatalf("silent web payload must be data-only")
	}

	android := (AndroidPayloadBuilder{}).Build(n, "tok")
	if android.Notification != nil || android.Android.Notification != nil {
		t.Fatalf("silent android payload must be data-only")
	}

	ios := (IOSPayloadBuilder{}).Build(n, "tok")
	if ios.Notification != nil {
		t.Fatalf("silent ios payload must be data-only")
	}
	if !ios.APNS.Payload.Aps.ContentAvailable {
		t.Fatalf("silent ios payload must set content-available")
	}
}
