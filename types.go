package mcp

import "github.com/google/jsonschema-go/jsonschema"

// Info identifies either the client or the server implementation taking
// part in the handshake (spec §3 client_info/server_info).
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities is the opaque capability map a client advertises on
// initialize. The dispatcher never interprets it; it reaches the handler as
// part of InitializeParams and is not kept on the session record.
type ClientCapabilities struct {
	Roots    *RootsCapability    `json:"roots,omitempty"`
	Sampling map[string]any      `json:"sampling,omitempty"`
	Elicitation map[string]any   `json:"elicitation,omitempty"`
}

// RootsCapability declares whether a client will notify the server when its
// set of filesystem roots changes.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities is the opaque capability map returned by the handler's
// Initialize implementation and mirrored onto the session record.
type ServerCapabilities struct {
	Logging   map[string]any        `json:"logging,omitempty"`
	Prompts   *PromptsCapability    `json:"prompts,omitempty"`
	Resources *ResourcesCapability  `json:"resources,omitempty"`
	Tools     *ToolsCapability      `json:"tools,omitempty"`
}

type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeParams is the params object of an `initialize` request.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Info               `json:"clientInfo"`
}

// InitializeResult is the result object of a successful `initialize`
// request, as returned by Handler.Initialize and mirrored onto the session
// record by the dispatcher.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Info               `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// ContentType tags the shape of a single Content item within a tool or
// prompt result.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeResource ContentType = "resource"
)

// Content is one element of a `content:[...]` array as returned by
// tools/call, prompts/get, and resources/read results.
type Content struct {
	Type     ContentType `json:"type"`
	Text     string      `json:"text,omitempty"`
	Data     string      `json:"data,omitempty"`
	MimeType string      `json:"mimeType,omitempty"`
	Resource *Resource   `json:"resource,omitempty"`
}

// ToolDescriptor describes a single tool, whether contributed by the
// handler's static ListTools or registered dynamically via tools/register.
type ToolDescriptor struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	InputSchema *jsonschema.Schema `json:"inputSchema,omitempty"`
}

// ListToolsResult wraps a tool listing, matching the wire envelope spec
// §4.5 requires for `tools/list`.
type ListToolsResult struct {
	Tools      []ToolDescriptor `json:"tools"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// CallToolResult is the wire shape `tools/call` responds with.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Resource describes a single MCP resource.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceTemplate describes a URI-templated family of resources.
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ListResourcesResult is the wire envelope for `resources/list`.
type ListResourcesResult struct {
	Resources  []Resource `json:"resources"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// ReadResourceResult is the wire envelope for `resources/read`.
type ReadResourceResult struct {
	Contents []Content `json:"contents"`
}

// Prompt describes a single prompt template.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// ListPromptsResult is the wire envelope for `prompts/list`.
type ListPromptsResult struct {
	Prompts    []Prompt `json:"prompts"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

// PromptMessage is one turn in a rendered prompt.
type PromptMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// GetPromptResult is the wire envelope for `prompts/get`.
type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// CompleteResult is the wire envelope for `completion/complete`.
type CompleteResult struct {
	Completion CompletionValues `json:"completion"`
}

type CompletionValues struct {
	Values  []string `json:"values"`
	Total   int      `json:"total,omitempty"`
	HasMore bool     `json:"hasMore,omitempty"`
}

// LogLevel is the severity accepted by `logging/setLevel`.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)
