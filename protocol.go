package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the single MCP protocol version this runtime speaks.
const ProtocolVersion = "2024-11-05"

// JSONRPCVersion is the fixed "jsonrpc" field value required by JSON-RPC 2.0.
const JSONRPCVersion = "2.0"

// Method names recognized by the dispatcher (spec §6.3).
const (
	MethodInitialize              = "initialize"
	MethodPing                    = "ping"
	MethodToolsList                = "tools/list"
	MethodToolsCall                = "tools/call"
	MethodToolsRegister            = "tools/register"
	MethodResourcesList             = "resources/list"
	MethodResourcesRead             = "resources/read"
	MethodResourcesTemplatesList    = "resources/templates/list"
	MethodResourcesSubscribe        = "resources/subscribe"
	MethodResourcesUnsubscribe      = "resources/unsubscribe"
	MethodPromptsList               = "prompts/list"
	MethodPromptsGet                = "prompts/get"
	MethodCompletionComplete        = "completion/complete"
	MethodLoggingSetLevel           = "logging/setLevel"
	MethodSamplingCreateMessage     = "sampling/createMessage"
	MethodRootsList                 = "roots/list"

	MethodNotificationsInitialized           = "notifications/initialized"
	MethodNotificationsProgress              = "notifications/progress"
	MethodNotificationsCancelled             = "notifications/cancelled"
	MethodNotificationsResourcesListChanged  = "notifications/resources/list_changed"
	MethodNotificationsResourcesUpdated      = "notifications/resources/updated"
	MethodNotificationsToolsListChanged      = "notifications/tools/list_changed"
	MethodNotificationsPromptsListChanged    = "notifications/prompts/list_changed"
	MethodNotificationsRootsListChanged      = "notifications/roots/list_changed"
	MethodNotificationsMessage               = "notifications/message"
)

// eventInitializeResult is the SSE event name used for the response to a
// successful initialize request (spec §4.5 delivery matrix).
const eventInitializeResult = "InitializeResult"

// eventEndpoint is the SSE event name used for the bootstrap chunk emitted
// when a stream is opened (spec §4.3).
const eventEndpoint = "endpoint"

// Message is a JSON-RPC 2.0 envelope. Depending on which fields are
// populated it represents a request (ID + Method), a notification (Method,
// no ID), a success response (ID + Result), or an error response (ID +
// Error). ID is kept as raw JSON so that the exact wire representation a
// client sent (string or number) is preserved verbatim on the matching
// response, satisfying the response-id-preservation invariant without
// forcing every id through a single Go type.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// IsNotification reports whether the message carries no id, i.e. it MUST
// NOT receive a response.
func (m Message) IsNotification() bool {
	return m.Method != "" && len(m.ID) == 0
}

// IsRequest reports whether the message is a request expecting a response.
func (m Message) IsRequest() bool {
	return m.Method != "" && len(m.ID) != 0
}

// nullID is the JSON representation used for the id of a response when no
// id could be recovered from a malformed inbound message (parse errors).
var nullID = json.RawMessage("null")

func idOrNull(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return nullID
	}
	return id
}

func sameID(a, b json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b))
}

// idKey normalizes a JSON-RPC id (or a notifications/cancelled requestId,
// which shares the same wire representation) into a comparable map key.
func idKey(id json.RawMessage) string {
	return string(bytes.TrimSpace(id))
}

func newResult(id json.RawMessage, result any) (Message, error) {
	resultBs, err := json.Marshal(result)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal result: %w", err)
	}
	return Message{
		JSONRPC: JSONRPCVersion,
		ID:      idOrNull(id),
		Result:  resultBs,
	}, nil
}

func newError(id json.RawMessage, rpcErr JSONRPCError) Message {
	return Message{
		JSONRPC: JSONRPCVersion,
		ID:      idOrNull(id),
		Error:   &rpcErr,
	}
}

func newNotification(method string, params any) (Message, error) {
	var paramsBs json.RawMessage
	if params != nil {
		bs, err := json.Marshal(params)
		if err != nil {
			return Message{}, fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsBs = bs
	}
	return Message{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  paramsBs,
	}, nil
}
