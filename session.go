package mcp

import (
	"sync"
	"time"
)

// Transport identifies which wire model a session is bound to. It is
// immutable once a session is created (spec §3).
type Transport string

const (
	TransportSSE   Transport = "sse"
	TransportStdio Transport = "stdio"
)

// Owner is the opaque reference to a session's outbound-delivery endpoint —
// the SSE stream writer or the stdio writer. The registry monitors it for
// liveness; it never inspects its contents beyond that.
type Owner interface {
	// Done returns a channel that is closed when the owner terminates
	// (socket close, EOF, process exit).
	Done() <-chan struct{}
}

// Session is the record the registry keeps for a live client↔server
// conversation, keyed by SessionID (spec §3).
//
// The fields under the "set once by initialize" marker are set exactly
// once, atomically, by a successful `initialize`; the dispatcher is the only
// writer. customTools changes on every `tools/register`.
type Session struct {
	SessionID string
	Transport Transport
	Owner     Owner
	CreatedAt time.Time

	mu sync.RWMutex

	initialized bool

	// -- set once by initialize --
	protocolVersion        string
	clientInfo             Info
	serverInfo             Info
	negotiatedCapabilities ServerCapabilities

	customTools map[string]ToolDescriptor
}

// NewSession constructs a fresh, uninitialized session record.
func NewSession(id string, transport Transport, owner Owner) *Session {
	return &Session{
		SessionID:   id,
		Transport:   transport,
		Owner:       owner,
		CreatedAt:   time.Now(),
		customTools: make(map[string]ToolDescriptor),
	}
}

// Initialized reports whether the session has completed its handshake.
func (s *Session) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// initializeResultPatch bundles what markInitialized needs to atomically apply
// to a session record on a successful `initialize` (spec §3 invariant 6).
type initializeResultPatch struct {
	protocolVersion string
	clientInfo      Info
	serverInfo      Info
	capabilities    ServerCapabilities
}

// markInitialized transitions the session false->true exactly once,
// applying the immutable initialize-derived fields. It reports whether this
// call performed the transition (false if the session was already
// initialized, in which case none of the immutable fields are touched).
func (s *Session) markInitialized(patch initializeResultPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return false
	}
	s.initialized = true
	s.protocolVersion = patch.protocolVersion
	s.clientInfo = patch.clientInfo
	s.serverInfo = patch.serverInfo
	s.negotiatedCapabilities = patch.capabilities
	return true
}

// SessionSnapshot is a shallow, read-safe copy of a session's initialize-
// derived fields for inspection outside the lock.
type SessionSnapshot struct {
	Initialized            bool
	ProtocolVersion        string
	ClientInfo             Info
	ServerInfo             Info
	NegotiatedCapabilities ServerCapabilities
	CustomTools            map[string]ToolDescriptor
}

func (s *Session) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tools := make(map[string]ToolDescriptor, len(s.customTools))
	for k, v := range s.customTools {
		tools[k] = v
	}
	return SessionSnapshot{
		Initialized:            s.initialized,
		ProtocolVersion:        s.protocolVersion,
		ClientInfo:             s.clientInfo,
		ServerInfo:             s.serverInfo,
		NegotiatedCapabilities: s.negotiatedCapabilities,
		CustomTools:            tools,
	}
}

// registerCustomTool merges a tool descriptor into the session's
// dynamically registered tool set (spec §4.5 `tools/register`).
func (s *Session) registerCustomTool(tool ToolDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customTools[tool.Name] = tool
}
