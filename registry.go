package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrAlreadyRegistered is returned by Registry.Register when a session_id is
// already present in the registry.
var ErrAlreadyRegistered = fmt.Errorf("session already registered")

// ErrNotFound is returned by Registry lookups and updates for an absent
// session_id.
var ErrNotFound = fmt.Errorf("session not found")

// Registry is the process-wide mapping from session_id to Session record
// (component C1). It is the single serialization point for session-state
// mutation and the only place sessions are automatically removed, when
// their owner terminates (spec §4.1).
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	cancel   map[string]context.CancelFunc
}

// NewRegistry constructs an empty Registry. A nil logger falls back to
// slog.Default(), matching the teacher's WithServerLogger convention.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:   logger.With(slog.String("component", "registry")),
		sessions: make(map[string]*Session),
		cancel:   make(map[string]context.CancelFunc),
	}
}

// Register adds a session record and begins monitoring its owner, if it has
// one. Returns ErrAlreadyRegistered if the id is already present.
func (r *Registry) Register(sess *Session) error {
	r.mu.Lock()
	if _, exists := r.sessions[sess.SessionID]; exists {
		r.mu.Unlock()
		return ErrAlreadyRegistered
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.sessions[sess.SessionID] = sess
	r.cancel[sess.SessionID] = cancel
	r.mu.Unlock()

	if sess.Owner != nil {
		go r.monitorOwner(ctx, sess)
	}
	r.logger.Debug("session registered", slog.String("session_id", sess.SessionID), slog.String("transport", string(sess.Transport)))
	return nil
}

// monitorOwner removes the session as soon as its owner terminates or the
// monitor is canceled by an explicit Unregister.
func (r *Registry) monitorOwner(ctx context.Context, sess *Session) {
	select {
	case <-sess.Owner.Done():
		r.logger.Debug("session owner terminated", slog.String("session_id", sess.SessionID))
		r.Unregister(sess.SessionID)
	case <-ctx.Done():
	}
}

// Unregister removes a session, canceling its owner monitor. Idempotent if
// the id is absent.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	cancel, ok := r.cancel[sessionID]
	delete(r.sessions, sessionID)
	delete(r.cancel, sessionID)
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// Update applies fn to the session record identified by sessionID. It is
// the single choke point spec.md §3 requires all Dispatcher-driven session
// mutation to pass through, even though the Session record itself carries
// its own lock: routing `initialize`/`tools/register` state changes through
// here (rather than calling Session methods on a pointer obtained earlier)
// keeps the Registry authoritative for "does this session still exist" at
// the moment of mutation, not just at the moment it was looked up. Returns
// ErrNotFound if the session is absent.
func (r *Registry) Update(sessionID string, fn func(*Session)) error {
	r.mu.RLock()
	sess, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	fn(sess)
	return nil
}

// Lookup returns the session record for id, or ErrNotFound.
func (r *Registry) Lookup(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// List returns a snapshot copy of the id -> session mapping.
func (r *Registry) List() map[string]*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Session, len(r.sessions))
	for k, v := range r.sessions {
		out[k] = v
	}
	return out
}

// Shutdown unregisters every live session concurrently, fanning the work
// out with an errgroup the way the teacher's Serve() coordinates its
// per-session goroutines.
func (r *Registry) Shutdown(ctx context.Context) error {
	sessions := r.List()
	g, _ := errgroup.WithContext(ctx)
	for id := range sessions {
		id := id
		g.Go(func() error {
			r.Unregister(id)
			return nil
		})
	}
	return g.Wait()
}
