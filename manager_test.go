package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// TestManagerOrdering covers spec §4.5's ordering guarantee: requests
// enqueued on one session are dispatched, and their responses delivered,
// in arrival order.
func TestManagerOrdering(t *testing.T) {
	registry := NewRegistry(nil)
	dispatcher := NewDispatcher(registry, &echoHandler{})
	sess := NewSession("s1", TransportStdio, nil)
	if err := registry.Register(sess); err != nil {
		t.Fatalf("register: %v", err)
	}

	sink := newRecordingSink()
	manager := NewManager(sess, dispatcher, registry, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go manager.Start(ctx)

	manager.Enqueue(Message{
		JSONRPC: JSONRPCVersion,
		ID:      json.RawMessage("1"),
		Method:  MethodInitialize,
		Params: mustMarshalParams(InitializeParams{
			ProtocolVersion: ProtocolVersion,
			ClientInfo:      Info{Name: "c", Version: "0"},
		}),
	})
	for i := 2; i <= 5; i++ {
		manager.Enqueue(Message{
			JSONRPC: JSONRPCVersion,
			ID:      json.RawMessage(intToJSON(i)),
			Method:  MethodPing,
		})
	}

	for i := 1; i <= 5; i++ {
		select {
		case resp := <-sink.ch:
			if !sameID(resp.Message.ID, json.RawMessage(intToJSON(i))) {
				t.Fatalf("expected response %d in order, got id %s", i, resp.Message.ID)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for response %d", i)
		}
	}

	manager.Shutdown()
	select {
	case <-manager.Done():
	case <-time.After(time.Second):
		t.Fatalf("manager did not stop after shutdown")
	}
	if _, err := registry.Lookup("s1"); err != ErrNotFound {
		t.Fatalf("expected session unregistered on terminate, got err=%v", err)
	}
}

func intToJSON(i int) string {
	bs, _ := json.Marshal(i)
	return string(bs)
}

// TestManagerCancelsInFlightRequest covers the notifications/cancelled
// bookkeeping: a blocking tools/call is aborted as soon as a matching
// cancellation notification arrives, and its error response is still
// delivered in its arrival-order slot.
func TestManagerCancelsInFlightRequest(t *testing.T) {
	registry := NewRegistry(nil)
	dispatcher := NewDispatcher(registry, &echoHandler{})
	sess := NewSession("s1", TransportStdio, nil)
	if err := registry.Register(sess); err != nil {
		t.Fatalf("register: %v", err)
	}

	sink := newRecordingSink()
	manager := NewManager(sess, dispatcher, registry, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go manager.Start(ctx)

	manager.Enqueue(Message{
		JSONRPC: JSONRPCVersion,
		ID:      json.RawMessage("1"),
		Method:  MethodInitialize,
		Params: mustMarshalParams(InitializeParams{
			ProtocolVersion: ProtocolVersion,
			ClientInfo:      Info{Name: "c", Version: "0"},
		}),
	})
	select {
	case <-sink.ch:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for initialize response")
	}

	manager.Enqueue(Message{
		JSONRPC: JSONRPCVersion,
		ID:      json.RawMessage("2"),
		Method:  MethodToolsCall,
		Params:  mustMarshalParams(map[string]any{"name": "block"}),
	})
	manager.Enqueue(Message{
		JSONRPC: JSONRPCVersion,
		Method:  MethodNotificationsCancelled,
		Params:  mustMarshalParams(map[string]any{"requestId": 2, "reason": "client gave up"}),
	})

	select {
	case resp := <-sink.ch:
		if !sameID(resp.Message.ID, json.RawMessage("2")) {
			t.Fatalf("expected response for id 2, got %s", resp.Message.ID)
		}
		if resp.Message.Error == nil {
			t.Fatalf("expected an error response for the canceled call, got %+v", resp.Message)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the canceled call's response")
	}

	manager.Shutdown()
	select {
	case <-manager.Done():
	case <-time.After(time.Second):
		t.Fatalf("manager did not stop after shutdown")
	}
}
