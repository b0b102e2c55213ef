package mcp

import (
	"encoding/json"
	"testing"
)

func TestMessageIsRequestIsNotification(t *testing.T) {
	req := Message{Method: "ping", ID: json.RawMessage("1")}
	if !req.IsRequest() || req.IsNotification() {
		t.Fatalf("expected a request, got IsRequest=%v IsNotification=%v", req.IsRequest(), req.IsNotification())
	}

	note := Message{Method: "notifications/initialized"}
	if note.IsRequest() || !note.IsNotification() {
		t.Fatalf("expected a notification, got IsRequest=%v IsNotification=%v", note.IsRequest(), note.IsNotification())
	}
}

// TestResponseIDPreservation covers spec invariant 3 for both string and
// numeric ids, which is why Message.ID is kept as raw JSON rather than
// normalized to a single Go type.
func TestResponseIDPreservation(t *testing.T) {
	for _, id := range []string{`1`, `"abc"`, `42`} {
		msg, err := newResult(json.RawMessage(id), map[string]any{"ok": true})
		if err != nil {
			t.Fatalf("newResult: %v", err)
		}
		if !sameID(msg.ID, json.RawMessage(id)) {
			t.Fatalf("expected id %s preserved, got %s", id, msg.ID)
		}
	}
}

func TestNewErrorUsesNullIDWhenAbsent(t *testing.T) {
	msg := newError(nil, *errParse("bad json"))
	if string(msg.ID) != "null" {
		t.Fatalf("expected null id, got %s", msg.ID)
	}
}
