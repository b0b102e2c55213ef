package mcp

import "context"

// Handler is the single polymorphic interface a server implementation
// satisfies (spec §4.4). Every method is pure with respect to session
// state: a Handler reads and writes nothing in the Registry directly; the
// Dispatcher performs all state updates from the returned values.
//
// Every method returns either a JSON-serializable result or a
// *JSONRPCError drawn from the codes in §7. BaseHandler supplies a default
// for each one, so a concrete implementation can embed it and override only
// the capabilities it supports.
type Handler interface {
	Initialize(ctx context.Context, sessionID string, params InitializeParams) (InitializeResult, *JSONRPCError)
	Ping(ctx context.Context, sessionID string) (map[string]any, *JSONRPCError)

	ListTools(ctx context.Context, sessionID string) (ListToolsResult, *JSONRPCError)
	CallTool(ctx context.Context, sessionID, name string, arguments map[string]any) (CallToolResult, *JSONRPCError)

	ListResources(ctx context.Context, sessionID string) (ListResourcesResult, *JSONRPCError)
	ReadResource(ctx context.Context, sessionID, uri string) (ReadResourceResult, *JSONRPCError)
	ListResourceTemplates(ctx context.Context, sessionID string) ([]ResourceTemplate, *JSONRPCError)
	SubscribeResource(ctx context.Context, sessionID, uri string) (map[string]any, *JSONRPCError)
	UnsubscribeResource(ctx context.Context, sessionID, uri string) (map[string]any, *JSONRPCError)

	ListPrompts(ctx context.Context, sessionID string) (ListPromptsResult, *JSONRPCError)
	GetPrompt(ctx context.Context, sessionID, name string, arguments map[string]string) (GetPromptResult, *JSONRPCError)

	Complete(ctx context.Context, sessionID string, params map[string]any) (CompleteResult, *JSONRPCError)

	SetLogLevel(ctx context.Context, sessionID string, level LogLevel) (map[string]any, *JSONRPCError)
	CreateMessage(ctx context.Context, sessionID string, params map[string]any) (map[string]any, *JSONRPCError)
	ListRoots(ctx context.Context, sessionID string) (map[string]any, *JSONRPCError)

	// Notification handles a fire-and-forget inbound message. It has no
	// wire-visible outcome: any returned error is logged, never delivered
	// (spec §4.5 notification flow).
	Notification(ctx context.Context, sessionID, method string, params map[string]any, session SessionSnapshot) error
}

// BaseHandler implements Handler with a default for every capability: a
// "method not found" error for most of them, except that Ping succeeds with
// an empty result, ListTools returns an empty tool list, CallTool reports
// ToolNotFound, and Notification accepts and ignores the message. Concrete
// handlers embed it and override the methods they support.
type BaseHandler struct{}

var _ Handler = BaseHandler{}

func (BaseHandler) Initialize(ctx context.Context, sessionID string, params InitializeParams) (InitializeResult, *JSONRPCError) {
	return InitializeResult{}, errMethodNotFound(MethodInitialize)
}

func (BaseHandler) Ping(ctx context.Context, sessionID string) (map[string]any, *JSONRPCError) {
	return map[string]any{}, nil
}

func (BaseHandler) ListTools(ctx context.Context, sessionID string) (ListToolsResult, *JSONRPCError) {
	return ListToolsResult{Tools: []ToolDescriptor{}}, nil
}

func (BaseHandler) CallTool(ctx context.Context, sessionID, name string, arguments map[string]any) (CallToolResult, *JSONRPCError) {
	return CallToolResult{}, errToolNotFound(name)
}

func (BaseHandler) ListResources(ctx context.Context, sessionID string) (ListResourcesResult, *JSONRPCError) {
	return ListResourcesResult{}, errMethodNotFound(MethodResourcesList)
}

func (BaseHandler) ReadResource(ctx context.Context, sessionID, uri string) (ReadResourceResult, *JSONRPCError) {
	return ReadResourceResult{}, errMethodNotFound(MethodResourcesRead)
}

func (BaseHandler) ListResourceTemplates(ctx context.Context, sessionID string) ([]ResourceTemplate, *JSONRPCError) {
	return nil, errMethodNotFound(MethodResourcesTemplatesList)
}

func (BaseHandler) SubscribeResource(ctx context.Context, sessionID, uri string) (map[string]any, *JSONRPCError) {
	return nil, errMethodNotFound(MethodResourcesSubscribe)
}

func (BaseHandler) UnsubscribeResource(ctx context.Context, sessionID, uri string) (map[string]any, *JSONRPCError) {
	return nil, errMethodNotFound(MethodResourcesUnsubscribe)
}

func (BaseHandler) ListPrompts(ctx context.Context, sessionID string) (ListPromptsResult, *JSONRPCError) {
	return ListPromptsResult{}, errMethodNotFound(MethodPromptsList)
}

func (BaseHandler) GetPrompt(ctx context.Context, sessionID, name string, arguments map[string]string) (GetPromptResult, *JSONRPCError) {
	return GetPromptResult{}, errMethodNotFound(MethodPromptsGet)
}

func (BaseHandler) Complete(ctx context.Context, sessionID string, params map[string]any) (CompleteResult, *JSONRPCError) {
	return CompleteResult{}, errMethodNotFound(MethodCompletionComplete)
}

func (BaseHandler) SetLogLevel(ctx context.Context, sessionID string, level LogLevel) (map[string]any, *JSONRPCError) {
	return nil, errMethodNotFound(MethodLoggingSetLevel)
}

func (BaseHandler) CreateMessage(ctx context.Context, sessionID string, params map[string]any) (map[string]any, *JSONRPCError) {
	return nil, errMethodNotFound(MethodSamplingCreateMessage)
}

func (BaseHandler) ListRoots(ctx context.Context, sessionID string) (map[string]any, *JSONRPCError) {
	return nil, errMethodNotFound(MethodRootsList)
}

func (BaseHandler) Notification(ctx context.Context, sessionID, method string, params map[string]any, session SessionSnapshot) error {
	return nil
}
