package mcp

import (
	"context"
	"encoding/json"
)

// echoHandler is a minimal Handler used across this package's tests: it
// accepts any initialize, advertises a single "echo" tool, and echoes back
// the "message" argument as tools/call text content. Grounded on the
// teacher's servers/everything echo tool, reduced to what the dispatcher
// tests need.
type echoHandler struct {
	BaseHandler
	notifications []notificationCall
}

type notificationCall struct {
	Method string
	Params map[string]any
}

func (h *echoHandler) Initialize(ctx context.Context, sessionID string, params InitializeParams) (InitializeResult, *JSONRPCError) {
	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		ServerInfo:      Info{Name: "echo-fixture", Version: "0.0.0"},
		Capabilities: ServerCapabilities{
			Tools: &ToolsCapability{},
		},
	}, nil
}

func (h *echoHandler) ListTools(ctx context.Context, sessionID string) (ListToolsResult, *JSONRPCError) {
	return ListToolsResult{Tools: []ToolDescriptor{{Name: "echo", Description: "echoes its input"}}}, nil
}

func (h *echoHandler) CallTool(ctx context.Context, sessionID, name string, arguments map[string]any) (CallToolResult, *JSONRPCError) {
	switch name {
	case "echo":
		message, _ := arguments["message"].(string)
		return CallToolResult{Content: []Content{{Type: ContentTypeText, Text: message}}}, nil
	case "block":
		// Used by cancellation tests: blocks until ctx is canceled (by a
		// notifications/cancelled notification) or the test's own timeout
		// fires, whichever comes first.
		<-ctx.Done()
		return CallToolResult{}, newJSONRPCError(CodeInternalError, "canceled: "+ctx.Err().Error(), nil)
	default:
		return CallToolResult{}, errToolNotFound(name)
	}
}

func (h *echoHandler) Notification(ctx context.Context, sessionID, method string, params map[string]any, session SessionSnapshot) error {
	h.notifications = append(h.notifications, notificationCall{Method: method, Params: params})
	return nil
}

// fakeOwner is a manually controlled Owner for tests that need to simulate
// a connection dying.
type fakeOwner struct {
	done chan struct{}
}

func newFakeOwner() *fakeOwner { return &fakeOwner{done: make(chan struct{})} }

func (o *fakeOwner) Done() <-chan struct{} { return o.done }

func (o *fakeOwner) terminate() { close(o.done) }

// recordingSink captures every Response handed to it, for assertions.
type recordingSink struct {
	ch chan Response
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan Response, 32)}
}

func (s *recordingSink) Deliver(resp Response) error {
	s.ch <- resp
	return nil
}

func mustMarshalParams(v any) json.RawMessage {
	bs, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return bs
}
