package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// requestOwner adapts an *http.Request's context into the Owner interface
// the Registry monitors, so the session is torn down the moment the
// underlying connection goes away (spec §4.1 owner monitoring).
type requestOwner struct {
	ctx context.Context
}

func (o requestOwner) Done() <-chan struct{} { return o.ctx.Done() }

// sseSink delivers dispatcher Responses as SSE chunks over an open stream
// (component C3 outbound direction), grounded on the teacher's
// sseServerSession.Send in sse.go.
type sseSink struct {
	stream *sse.Session
}

func (s *sseSink) Deliver(resp Response) error {
	msg := sse.Message{}
	if resp.Event != "" {
		msg.Type = sse.Type(resp.Event)
	}
	msg.AppendData(string(resp.Message.mustJSON()))
	if err := s.stream.Send(&msg); err != nil {
		return fmt.Errorf("failed to write SSE message: %w", err)
	}
	return s.stream.Flush()
}

// mustJSON marshals the message; encode errors here would only occur for a
// Message the dispatcher itself constructed, so this is only ever called
// on already-validated values.
func (m Message) mustJSON() []byte {
	bs, err := json.Marshal(m)
	if err != nil {
		bs, _ = json.Marshal(newError(m.ID, *errInternal("failed to encode response", nil)))
	}
	return bs
}

// SSEAdapter is the SSE Transport Adapter (component C7): it accepts GET
// requests that open an event stream and mints a session, and POST
// requests that inject JSON-RPC messages into that session's Manager.
type SSEAdapter struct {
	registry     *Registry
	dispatcher   *Dispatcher
	pathPrefix   string
	pingInterval time.Duration
	logger       *slog.Logger

	mu       sync.RWMutex
	managers map[string]*Manager
}

// SSEAdapterOption configures an SSEAdapter.
type SSEAdapterOption func(*SSEAdapter)

// WithSSEPingInterval enables a server-initiated keep-alive ping on every
// session's outbound stream (see WithPingInterval on Manager). Disabled by
// default.
func WithSSEPingInterval(d time.Duration) SSEAdapterOption {
	return func(a *SSEAdapter) {
		a.pingInterval = d
	}
}

// NewSSEAdapter constructs an adapter mounted under pathPrefix (empty
// string mounts at the root, per spec §6.4's path_prefix default).
func NewSSEAdapter(registry *Registry, dispatcher *Dispatcher, pathPrefix string, logger *slog.Logger, opts ...SSEAdapterOption) *SSEAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &SSEAdapter{
		registry:   registry,
		dispatcher: dispatcher,
		pathPrefix: pathPrefix,
		logger:     logger.With(slog.String("component", "sse_adapter")),
		managers:   make(map[string]*Manager),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// rpcPath returns the relative URL a client must POST JSON-RPC requests to
// for sessionID, per spec §4.3's "<path_prefix>/rpc/<session_id>".
func (a *SSEAdapter) rpcPath(sessionID string) string {
	return a.pathPrefix + "/rpc/" + sessionID
}

// HandleSSE implements `GET {path_prefix}/sse` (spec §4.7).
func (a *SSEAdapter) HandleSSE(w http.ResponseWriter, r *http.Request) {
	stream, err := sse.Upgrade(w, r)
	if err != nil {
		a.logger.Error("failed to upgrade SSE stream", slog.String("err", err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sessionID := uuid.New().String()
	owner := requestOwner{ctx: r.Context()}
	sess := NewSession(sessionID, TransportSSE, owner)

	if err := a.registry.Register(sess); err != nil {
		a.logger.Error("failed to register SSE session", slog.String("err", err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	endpoint := sse.Message{Type: sse.Type(eventEndpoint)}
	endpoint.AppendData(a.rpcPath(sessionID))
	if err := stream.Send(&endpoint); err != nil {
		a.logger.Error("failed to write endpoint event", slog.String("err", err.Error()))
		a.registry.Unregister(sessionID)
		return
	}
	if err := stream.Flush(); err != nil {
		a.logger.Error("failed to flush endpoint event", slog.String("err", err.Error()))
		a.registry.Unregister(sessionID)
		return
	}

	var managerOpts []ManagerOption
	if a.pingInterval > 0 {
		managerOpts = append(managerOpts, WithPingInterval(a.pingInterval))
	}
	manager := NewManager(sess, a.dispatcher, a.registry, &sseSink{stream: stream}, a.logger, managerOpts...)
	a.mu.Lock()
	a.managers[sessionID] = manager
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.managers, sessionID)
		a.mu.Unlock()
	}()

	manager.Start(r.Context())
}

// HandleRPC implements `POST {path_prefix}/rpc/{session_id}` (spec §4.7).
// The session id is read from r.PathValue("session_id") when the caller's
// mux supports net/http 1.22+ pattern routing (e.g. "POST {prefix}/rpc/
// {session_id}"), falling back to trimming path_prefix+"/rpc/" off the raw
// URL path for a plain prefix-matched mux.
func (a *SSEAdapter) HandleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		sessionID = a.sessionIDFromPath(r.URL.Path)
	}

	if mediaType, err := contenttype.GetMediaType(r); err != nil || !mediaType.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusBadRequest, newError(nullID, *errParse("expected Content-Type: application/json")))
		return
	}

	var msg Message
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&msg); err != nil {
		writeJSONError(w, http.StatusBadRequest, newError(nullID, *errParse(err.Error())))
		return
	}

	a.mu.RLock()
	manager, ok := a.managers[sessionID]
	a.mu.RUnlock()
	if !ok {
		writeJSONError(w, http.StatusNotFound, newError(msg.ID, *errUnknownSession()))
		return
	}

	// A notification produces no response, so there is nothing to wait for:
	// ack immediately. A request's response is delivered on the stream, not
	// this POST, but per spec §4.5's delivery matrix the POST must still
	// wait for that delivery attempt so it can fall back to a 500 body if
	// the stream's owner is already gone.
	if !msg.IsRequest() {
		manager.Enqueue(msg)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := manager.EnqueueAndAwaitDelivery(r.Context(), msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		writeJSONError(w, http.StatusInternalServerError, newError(msg.ID, *errInternal(err.Error(), nil)))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *SSEAdapter) sessionIDFromPath(path string) string {
	prefix := a.pathPrefix + "/rpc/"
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	return strings.TrimPrefix(path, prefix)
}

func writeJSONError(w http.ResponseWriter, status int, msg Message) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(msg)
}
