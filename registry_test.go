package mcp

import (
	"testing"
	"time"
)

func TestRegistryRegisterLookupUnregister(t *testing.T) {
	registry := NewRegistry(nil)
	sess := NewSession("s1", TransportStdio, nil)

	if err := registry.Register(sess); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(sess); err != ErrAlreadyRegistered {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}

	got, err := registry.Lookup("s1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got != sess {
		t.Fatalf("lookup returned a different session record")
	}

	registry.Unregister("s1")
	if _, err := registry.Lookup("s1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after unregister, got %v", err)
	}

	// Unregistering an absent id must be a no-op, not an error.
	registry.Unregister("s1")
}

// TestRegistryOwnerLiveness covers spec invariant 5 / scenario S6: when a
// session's owner terminates, lookup(s) returns not_found within a bounded
// time with no further action from the caller.
func TestRegistryOwnerLiveness(t *testing.T) {
	registry := NewRegistry(nil)
	owner := newFakeOwner()
	sess := NewSession("s1", TransportSSE, owner)
	if err := registry.Register(sess); err != nil {
		t.Fatalf("register: %v", err)
	}

	owner.terminate()

	deadline := time.After(time.Second)
	for {
		if _, err := registry.Lookup("s1"); err == ErrNotFound {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("session was not removed within the bound")
		case <-time.After(time.Millisecond):
		}
	}
}

// TestRegistryUpdate covers the Update operation spec §4.1 lists alongside
// register/unregister/lookup/list: it is the single choke point the
// Dispatcher routes session-state mutation through, rather than mutating a
// *Session pointer obtained earlier.
func TestRegistryUpdate(t *testing.T) {
	registry := NewRegistry(nil)
	sess := NewSession("s1", TransportStdio, nil)
	if err := registry.Register(sess); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := registry.Update("s1", func(s *Session) {
		s.markInitialized(initializeResultPatch{
			protocolVersion: ProtocolVersion,
			clientInfo:      Info{Name: "c", Version: "0"},
			serverInfo:      Info{Name: "srv", Version: "0"},
		})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !sess.Initialized() {
		t.Fatalf("expected session to be initialized after update")
	}

	if err := registry.Update("missing", func(s *Session) {}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound updating an absent session, got %v", err)
	}
}

func TestRegistryList(t *testing.T) {
	registry := NewRegistry(nil)
	_ = registry.Register(NewSession("a", TransportStdio, nil))
	_ = registry.Register(NewSession("b", TransportStdio, nil))

	all := registry.List()
	if len(all) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(all))
	}
}
