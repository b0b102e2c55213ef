package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Response is what the Dispatcher decided should be delivered for a
// request, plus a hint about how it should be framed on transports (like
// SSE) that distinguish named events from anonymous data chunks. Event is
// empty for an ordinary response and eventInitializeResult for a
// successful initialize (spec §4.5 delivery matrix).
type Response struct {
	Message Message
	Event   string

	// FollowUp, when non-nil, is a server-initiated notification the
	// Session Manager delivers immediately after Message, in the same
	// arrival-order slot (e.g. tools/register's notifications/tools/list_changed).
	FollowUp *Message
}

// DispatcherOption configures a Dispatcher, mirroring the teacher's
// functional-options ServerOption pattern in server.go.
type DispatcherOption func(*Dispatcher)

// WithSupportedVersions overrides the set of protocolVersion strings this
// dispatcher accepts on initialize. Default: {"2024-11-05"}.
func WithSupportedVersions(versions ...string) DispatcherOption {
	return func(d *Dispatcher) {
		d.supportedVersions = versions
	}
}

// WithDispatcherLogger overrides the dispatcher's logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger.With(slog.String("component", "dispatcher"))
	}
}

// WithToolRegistration enables the `tools/register` extension method (spec
// §9 Open Question O2). Disabled by default.
func WithToolRegistration(enabled bool) DispatcherOption {
	return func(d *Dispatcher) {
		d.toolRegistrationEnabled = enabled
	}
}

// Dispatcher is the protocol core (component C5): it validates session
// state, routes JSON-RPC methods to a Handler, and formats responses and
// errors, leaving delivery mechanics to the caller (a Session Manager).
type Dispatcher struct {
	registry                *Registry
	handler                 Handler
	supportedVersions       []string
	toolRegistrationEnabled bool
	logger                  *slog.Logger
}

// NewDispatcher constructs a Dispatcher bound to registry and handler.
func NewDispatcher(registry *Registry, handler Handler, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:          registry,
		handler:           handler,
		supportedVersions: []string{ProtocolVersion},
		logger:            slog.Default().With(slog.String("component", "dispatcher")),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) supports(version string) bool {
	for _, v := range d.supportedVersions {
		if v == version {
			return true
		}
	}
	return false
}

// HandleRequest implements the request flow of spec §4.5. It always
// returns a Response — for a NotInitialized rejection just as much as for
// a successful call — leaving the choice of where that Response goes
// (inline return vs. stream push) to the transport-specific Session
// Manager.
func (d *Dispatcher) HandleRequest(ctx context.Context, sess *Session, msg Message) Response {
	if sess == nil {
		return Response{Message: newError(msg.ID, *errInternal("Session not found", nil))}
	}
	// The Manager holds sess by direct reference, but the registry is the
	// single source of truth for liveness (spec §4.5 step 1): a session
	// whose owner died concurrently with an in-flight dispatch must not be
	// served, even though the Manager's pointer is still valid.
	if _, err := d.registry.Lookup(sess.SessionID); err != nil {
		return Response{Message: newError(msg.ID, *errInternal("Session not found", nil))}
	}

	requiresInitCheck := msg.Method != MethodInitialize && msg.Method != MethodNotificationsInitialized
	if requiresInitCheck && !sess.Initialized() {
		return Response{Message: newError(msg.ID, *errNotInitialized())}
	}

	switch msg.Method {
	case MethodInitialize:
		return d.handleInitialize(ctx, sess, msg)
	case MethodPing:
		// spec §4.5's ping step ignores whatever the handler's result map
		// contains and always answers result:{} — a Handler that returns
		// non-empty diagnostic content from Ping must not leak it onto the
		// wire.
		return d.wrapResult(msg.ID, "", func() (any, *JSONRPCError) {
			_, rpcErr := d.handler.Ping(ctx, sess.SessionID)
			return map[string]any{}, rpcErr
		})
	case MethodToolsList:
		return d.handleToolsList(ctx, sess, msg)
	case MethodToolsCall:
		return d.handleToolsCall(ctx, sess, msg)
	case MethodToolsRegister:
		return d.handleToolsRegister(sess, msg)
	case MethodResourcesList:
		return d.wrapResult(msg.ID, "", func() (any, *JSONRPCError) {
			return d.handler.ListResources(ctx, sess.SessionID)
		})
	case MethodResourcesRead:
		return d.handleResourcesRead(ctx, sess, msg)
	case MethodResourcesTemplatesList:
		return d.wrapResult(msg.ID, "", func() (any, *JSONRPCError) {
			templates, rpcErr := d.handler.ListResourceTemplates(ctx, sess.SessionID)
			return map[string]any{"resourceTemplates": templates}, rpcErr
		})
	case MethodResourcesSubscribe:
		return d.handleResourceURIOp(ctx, sess, msg, d.handler.SubscribeResource)
	case MethodResourcesUnsubscribe:
		return d.handleResourceURIOp(ctx, sess, msg, d.handler.UnsubscribeResource)
	case MethodPromptsList:
		return d.wrapResult(msg.ID, "", func() (any, *JSONRPCError) {
			return d.handler.ListPrompts(ctx, sess.SessionID)
		})
	case MethodPromptsGet:
		return d.handlePromptsGet(ctx, sess, msg)
	case MethodCompletionComplete:
		return d.handleComplete(ctx, sess, msg)
	case MethodLoggingSetLevel:
		return d.handleSetLogLevel(ctx, sess, msg)
	case MethodSamplingCreateMessage:
		return d.wrapResult(msg.ID, "", func() (any, *JSONRPCError) {
			return d.handler.CreateMessage(ctx, sess.SessionID, rawToMap(msg.Params))
		})
	case MethodRootsList:
		return d.wrapResult(msg.ID, "", func() (any, *JSONRPCError) {
			return d.handler.ListRoots(ctx, sess.SessionID)
		})
	default:
		return Response{Message: newError(msg.ID, *errMethodNotFound(msg.Method))}
	}
}

// HandleNotification implements the notification flow of spec §4.5: no
// response is ever produced. notifications/initialized is accepted and
// dropped here without reaching the handler (the session was already marked
// initialized by its initialize request); every other notification is
// forwarded to the handler on its own goroutine, and any error it returns
// is logged, never surfaced to the client.
func (d *Dispatcher) HandleNotification(ctx context.Context, sess *Session, msg Message) {
	if sess == nil {
		d.logger.Debug("dropping notification for absent session", slog.String("method", msg.Method))
		return
	}

	if msg.Method == MethodNotificationsInitialized {
		return
	}

	params := rawToMap(msg.Params)
	snapshot := sess.Snapshot()
	sessionID := sess.SessionID
	go func() {
		if err := d.handler.Notification(ctx, sessionID, msg.Method, params, snapshot); err != nil {
			d.logger.Warn("notification handler failed",
				slog.String("session_id", sessionID),
				slog.String("method", msg.Method),
				slog.String("err", err.Error()))
		}
	}()
}

func (d *Dispatcher) handleInitialize(ctx context.Context, sess *Session, msg Message) Response {
	var params InitializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return Response{Message: newError(msg.ID, *errInvalidParams(err.Error()))}
		}
	}
	if params.ProtocolVersion == "" {
		return Response{Message: newError(msg.ID, *errProtocolVersionMismatch("Missing protocolVersion parameter"))}
	}
	if !d.supports(params.ProtocolVersion) {
		return Response{Message: newError(msg.ID, *errProtocolVersionMismatch(fmt.Sprintf("Unsupported protocol version: %s", params.ProtocolVersion)))}
	}

	result, rpcErr := d.handler.Initialize(ctx, sess.SessionID, params)
	if rpcErr != nil {
		return Response{Message: newError(msg.ID, *rpcErr)}
	}

	patch := initializeResultPatch{
		protocolVersion: result.ProtocolVersion,
		clientInfo:      params.ClientInfo,
		serverInfo:      result.ServerInfo,
		capabilities:    result.Capabilities,
	}
	if err := d.registry.Update(sess.SessionID, func(s *Session) { s.markInitialized(patch) }); err != nil {
		return Response{Message: newError(msg.ID, *errInternal(err.Error(), nil))}
	}

	respMsg, err := newResult(msg.ID, result)
	if err != nil {
		return Response{Message: newError(msg.ID, *errInternal(err.Error(), nil))}
	}
	return Response{Message: respMsg, Event: eventInitializeResult}
}

func (d *Dispatcher) handleToolsList(ctx context.Context, sess *Session, msg Message) Response {
	return d.wrapResult(msg.ID, "", func() (any, *JSONRPCError) {
		result, rpcErr := d.handler.ListTools(ctx, sess.SessionID)
		if rpcErr != nil {
			return nil, rpcErr
		}
		snap := sess.Snapshot()
		if len(snap.CustomTools) > 0 {
			seen := make(map[string]bool, len(result.Tools))
			for _, t := range result.Tools {
				seen[t.Name] = true
			}
			for name, tool := range snap.CustomTools {
				if !seen[name] {
					result.Tools = append(result.Tools, tool)
				}
			}
		}
		if result.Tools == nil {
			result.Tools = []ToolDescriptor{}
		}
		return result, nil
	})
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, sess *Session, msg Message) Response {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return Response{Message: newError(msg.ID, *errInvalidParams(err.Error()))}
		}
	}
	if params.Name == "" {
		return Response{Message: newError(msg.ID, *errInvalidParams("missing tool name"))}
	}

	result, rpcErr := d.handler.CallTool(ctx, sess.SessionID, params.Name, params.Arguments)
	if rpcErr != nil {
		return Response{Message: newError(msg.ID, *rpcErr)}
	}
	if result.Content == nil {
		// A Handler that hasn't shaped its own Content is allowed to return
		// a bare result; string(asJSON) below re-embeds that JSON as an
		// escaped string inside the outer response's JSON, matching what a
		// text-only MCP client expects from tools/call but doubling the
		// encoding for structured payloads. Only hit when Content is nil.
		asJSON, err := json.Marshal(result)
		if err != nil {
			return Response{Message: newError(msg.ID, *errInternal(err.Error(), nil))}
		}
		result = CallToolResult{Content: []Content{{Type: ContentTypeText, Text: string(asJSON)}}}
	}
	respMsg, err := newResult(msg.ID, result)
	if err != nil {
		return Response{Message: newError(msg.ID, *errInternal(err.Error(), nil))}
	}
	return Response{Message: respMsg}
}

func (d *Dispatcher) handleToolsRegister(sess *Session, msg Message) Response {
	if !d.toolRegistrationEnabled {
		return Response{Message: newError(msg.ID, *errMethodNotFound(MethodToolsRegister))}
	}
	var tool ToolDescriptor
	if len(msg.Params) == 0 {
		return Response{Message: newError(msg.ID, *errInvalidParams("missing tool definition"))}
	}
	if err := json.Unmarshal(msg.Params, &tool); err != nil {
		return Response{Message: newError(msg.ID, *errInvalidParams(err.Error()))}
	}
	if tool.Name == "" {
		return Response{Message: newError(msg.ID, *errInvalidParams("tool definition missing non-empty name"))}
	}
	if err := d.registry.Update(sess.SessionID, func(s *Session) { s.registerCustomTool(tool) }); err != nil {
		return Response{Message: newError(msg.ID, *errInternal(err.Error(), nil))}
	}
	respMsg, err := newResult(msg.ID, map[string]any{"registered": tool.Name})
	if err != nil {
		return Response{Message: newError(msg.ID, *errInternal(err.Error(), nil))}
	}
	resp := Response{Message: respMsg}
	if notif, err := newNotification(MethodNotificationsToolsListChanged, nil); err == nil {
		resp.FollowUp = &notif
	}
	return resp
}

func (d *Dispatcher) handleResourcesRead(ctx context.Context, sess *Session, msg Message) Response {
	var params struct {
		URI string `json:"uri"`
	}
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return Response{Message: newError(msg.ID, *errInvalidParams(err.Error()))}
		}
	}
	return d.wrapResult(msg.ID, "", func() (any, *JSONRPCError) {
		return d.handler.ReadResource(ctx, sess.SessionID, params.URI)
	})
}

func (d *Dispatcher) handleResourceURIOp(ctx context.Context, sess *Session, msg Message, op func(context.Context, string, string) (map[string]any, *JSONRPCError)) Response {
	var params struct {
		URI string `json:"uri"`
	}
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return Response{Message: newError(msg.ID, *errInvalidParams(err.Error()))}
		}
	}
	return d.wrapResult(msg.ID, "", func() (any, *JSONRPCError) {
		return op(ctx, sess.SessionID, params.URI)
	})
}

func (d *Dispatcher) handlePromptsGet(ctx context.Context, sess *Session, msg Message) Response {
	var params struct {
		Name      string            `json:"name"`
		Arguments map[string]string `json:"arguments"`
	}
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return Response{Message: newError(msg.ID, *errInvalidParams(err.Error()))}
		}
	}
	return d.wrapResult(msg.ID, "", func() (any, *JSONRPCError) {
		return d.handler.GetPrompt(ctx, sess.SessionID, params.Name, params.Arguments)
	})
}

func (d *Dispatcher) handleComplete(ctx context.Context, sess *Session, msg Message) Response {
	return d.wrapResult(msg.ID, "", func() (any, *JSONRPCError) {
		return d.handler.Complete(ctx, sess.SessionID, rawToMap(msg.Params))
	})
}

func (d *Dispatcher) handleSetLogLevel(ctx context.Context, sess *Session, msg Message) Response {
	var params struct {
		Level LogLevel `json:"level"`
	}
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return Response{Message: newError(msg.ID, *errInvalidParams(err.Error()))}
		}
	}
	return d.wrapResult(msg.ID, "", func() (any, *JSONRPCError) {
		return d.handler.SetLogLevel(ctx, sess.SessionID, params.Level)
	})
}

// wrapResult runs fn (a Handler call plus any shaping), catching a panic
// from within it and mapping it to an InternalError per spec §4.5 step 4,
// then formats the successful result as a JSON-RPC result Message tagged
// with event.
func (d *Dispatcher) wrapResult(id json.RawMessage, event string, fn func() (any, *JSONRPCError)) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = Response{Message: newError(id, *errInternal(fmt.Sprintf("panic: %v", r), nil))}
		}
	}()

	result, rpcErr := fn()
	if rpcErr != nil {
		return Response{Message: newError(id, *rpcErr)}
	}
	msg, err := newResult(id, result)
	if err != nil {
		return Response{Message: newError(id, *errInternal(err.Error(), nil))}
	}
	return Response{Message: msg, Event: event}
}

func rawToMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
