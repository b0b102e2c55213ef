package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is a Session Manager's position in the lifecycle spec §4.6 defines:
// Opening -> Ready -> Terminating -> gone.
type State int

const (
	StateOpening State = iota
	StateReady
	StateTerminating
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateReady:
		return "ready"
	case StateTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// Sink is how a Manager delivers a dispatch Response to the wire. Stdio's
// sink writes a framed JSON-RPC object; SSE's sink pushes an SSE chunk
// (named or unnamed depending on Response.Event). It is called only from
// the Manager's own goroutine, so a Sink implementation needs no internal
// locking of its own for ordering — matching how the teacher routes every
// write for a session through a single owned writer.
type Sink interface {
	Deliver(resp Response) error
}

// errManagerStopped is returned by EnqueueAndAwaitDelivery once the actor
// loop has already exited.
var errManagerStopped = fmt.Errorf("session manager stopped")

// inboundItem carries a message into the actor loop, optionally paired
// with a channel the enqueuing caller blocks on to learn whether the
// eventual response was delivered. result is nil for fire-and-forget
// callers (the stdio adapter, ordinary SSE notifications).
type inboundItem struct {
	msg    Message
	result chan error
}

// pendingRequest is one in-flight request's slot in the outbound reorder
// buffer. Requests past `initialize` are dispatched on their own goroutine
// so a slow call doesn't block the actor loop from noticing a matching
// notifications/cancelled, but spec §4.5 still requires responses to reach
// the Sink in arrival order regardless of completion order — this struct
// and Manager.order hold a response back until every earlier request has
// already been delivered.
type pendingRequest struct {
	key    string
	ready  bool
	resp   Response
	waiter chan error
}

// requestCompletion signals that a pendingRequest's handler call finished.
type requestCompletion struct {
	req  *pendingRequest
	resp Response
}

// Manager is one logical actor per session (component C6): it serializes
// inbound dispatch and outbound delivery for exactly one Session, and
// tracks that session's lifecycle state.
type Manager struct {
	session    *Session
	dispatcher *Dispatcher
	registry   *Registry
	sink       Sink
	logger     *slog.Logger

	inbound     chan inboundItem
	outbound    chan Response
	completions chan requestCompletion
	shutdown    chan struct{}
	done        chan struct{}

	pingInterval time.Duration
	pingSeq      uint64

	mu      sync.Mutex
	order   []*pendingRequest
	cancels map[string]context.CancelFunc

	// wg tracks dispatchRequest's outstanding per-request goroutines, so
	// CloseInbound's drain can wait for every already-enqueued request to
	// actually finish and deliver, not just for the inbound channel to run
	// empty.
	wg sync.WaitGroup

	state State
}

// ManagerOption configures a Manager, mirroring the Dispatcher's
// functional-options pattern.
type ManagerOption func(*Manager)

// WithPingInterval enables a server-initiated keep-alive ping request sent
// to the client on the given interval. Zero (the default) disables it,
// grounded on the teacher's opt-in pingTicker/WithServerPingInterval in
// pkg/mcp/session.go.
func WithPingInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.pingInterval = d
	}
}

// NewManager constructs a Manager bound to sess. Call Start to run its
// actor loop; the caller retains responsibility for registering sess with
// registry before or as part of Start (transport adapters do this so they
// can react to a failed Register before spinning up an actor).
func NewManager(sess *Session, dispatcher *Dispatcher, registry *Registry, sink Sink, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		session:     sess,
		dispatcher:  dispatcher,
		registry:    registry,
		sink:        sink,
		logger:      logger.With(slog.String("component", "manager"), slog.String("session_id", sess.SessionID)),
		inbound:     make(chan inboundItem, 32),
		outbound:    make(chan Response, 32),
		completions: make(chan requestCompletion, 32),
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
		cancels:     make(map[string]context.CancelFunc),
		state:       StateOpening,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue delivers an inbound JSON-RPC message to this session's actor for
// processing, preserving arrival order (spec §4.5 Ordering).
func (m *Manager) Enqueue(msg Message) {
	m.enqueue(inboundItem{msg: msg})
}

// EnqueueAndAwaitDelivery enqueues msg like Enqueue, but blocks until the
// dispatcher has produced a response and the Sink has attempted to deliver
// it, or ctx ends first, returning any delivery error. The SSE POST route
// uses this to choose between a bare ack and the 500 fallback spec §4.5's
// delivery matrix requires when the session's stream owner has already
// gone away. Only meaningful for requests — a notification never produces
// a response to deliver, so its result channel would never fire.
func (m *Manager) EnqueueAndAwaitDelivery(ctx context.Context, msg Message) error {
	result := make(chan error, 1)
	if !m.enqueue(inboundItem{msg: msg, result: result}) {
		return errManagerStopped
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return errManagerStopped
	}
}

func (m *Manager) enqueue(item inboundItem) bool {
	select {
	case m.inbound <- item:
		return true
	case <-m.done:
		return false
	}
}

// Push delivers a server-originated Response (a notification or async
// event) to the outbound side of this session's actor. Pushed responses
// are delivered in the order they were pushed; their order relative to
// request-driven responses is not fixed.
func (m *Manager) Push(resp Response) {
	select {
	case m.outbound <- resp:
	case <-m.done:
	}
}

// CloseInbound signals that no further messages will be enqueued (e.g. the
// stdio reader hit EOF). Unlike Shutdown, this lets the actor loop drain
// whatever is already queued — and wait for every dispatch goroutine those
// items spawned to actually finish and deliver — before it exits, rather
// than racing an immediate stop against pending work.
func (m *Manager) CloseInbound() {
	close(m.inbound)
}

// Shutdown requests the manager transition to Terminating and stop.
func (m *Manager) Shutdown() {
	select {
	case <-m.shutdown:
	default:
		close(m.shutdown)
	}
}

// Done reports when the manager's actor loop has fully exited.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// State reports the manager's current lifecycle state.
func (m *Manager) State() State {
	return m.state
}

// Start runs the actor loop until shutdown, EOF (signaled by closing
// inbound via the transport adapter), or the session's owner terminating.
// It must be called at most once, grounded on the teacher's
// session.listen()/serverSession.start() main loop.
func (m *Manager) Start(ctx context.Context) {
	defer close(m.done)
	defer m.terminate()

	m.state = StateReady
	m.logger.Debug("session ready")

	var ownerDone <-chan struct{}
	if m.session.Owner != nil {
		ownerDone = m.session.Owner.Done()
	}

	var pingC <-chan time.Time
	if m.pingInterval > 0 {
		ticker := time.NewTicker(m.pingInterval)
		defer ticker.Stop()
		pingC = ticker.C
	}

	// inbound is nilled out once CloseInbound is observed, disabling that
	// select case (a nil channel never becomes ready) instead of spinning
	// on the now-closed, drained channel. drained then fires once every
	// dispatchRequest goroutine spawned from an already-read item has
	// reported its completion — only then is it safe to stop, so
	// CloseInbound genuinely waits for in-flight work rather than for an
	// empty buffer.
	inbound := m.inbound
	var drained <-chan struct{}

	for {
		select {
		case item, ok := <-inbound:
			if !ok {
				inbound = nil
				ch := make(chan struct{})
				drained = ch
				go func() {
					m.wg.Wait()
					close(ch)
				}()
				continue
			}
			m.handleInbound(ctx, item)
		case resp := <-m.outbound:
			if err := m.sink.Deliver(resp); err != nil {
				m.logger.Warn("failed to deliver outbound message", slog.String("err", err.Error()))
			}
		case c := <-m.completions:
			m.resolveCompletion(c)
		case <-pingC:
			m.sendPing()
		case <-drained:
			// Every dispatchRequest goroutine has already sent its
			// completion (wg.Done runs after that send), so whatever is
			// sitting in m.completions right now is everything there ever
			// will be: drain it synchronously rather than risking a
			// completion still buffered when this case happened to win the
			// select race against it.
			for {
				select {
				case c := <-m.completions:
					m.resolveCompletion(c)
				default:
					return
				}
			}
		case <-m.shutdown:
			return
		case <-ownerDone:
			m.logger.Debug("session owner terminated")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) handleInbound(ctx context.Context, item inboundItem) {
	msg := item.msg
	if msg.IsNotification() {
		if msg.Method == MethodNotificationsCancelled {
			m.handleCancelled(msg)
			return
		}
		m.dispatcher.HandleNotification(ctx, m.session, msg)
		return
	}
	m.dispatchRequest(ctx, item)
}

// dispatchRequest runs a request's handling on its own goroutine so a slow
// call (a long tool invocation, say) doesn't stall the actor loop from
// noticing a matching notifications/cancelled, while the reorder buffer
// (order/completions) still guarantees responses reach the Sink in arrival
// order regardless of which goroutine finishes first. `initialize` is the
// one exception: it mutates state every later gated request depends on, so
// it runs inline and must finish before the actor reads its next message.
func (m *Manager) dispatchRequest(ctx context.Context, item inboundItem) {
	msg := item.msg
	if msg.Method == MethodInitialize {
		resp := m.dispatcher.HandleRequest(ctx, m.session, msg)
		err := m.deliver(resp)
		notifyWaiter(item.result, err)
		return
	}

	reqCtx, cancel := context.WithCancel(ctx)
	key := idKey(msg.ID)
	req := &pendingRequest{key: key, waiter: item.result}

	m.mu.Lock()
	m.order = append(m.order, req)
	m.cancels[key] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		resp := m.dispatcher.HandleRequest(reqCtx, m.session, msg)
		m.mu.Lock()
		delete(m.cancels, key)
		m.mu.Unlock()
		cancel()
		select {
		case m.completions <- requestCompletion{req: req, resp: resp}:
		case <-m.done:
		}
	}()
}

// deliver hands resp's primary Message to the Sink, followed by its
// FollowUp notification (if any) in the same slot, logging rather than
// failing on either delivery error.
func (m *Manager) deliver(resp Response) error {
	err := m.sink.Deliver(resp)
	if err != nil {
		m.logger.Warn("failed to deliver response", slog.String("err", err.Error()))
	}
	if resp.FollowUp != nil {
		if err := m.sink.Deliver(Response{Message: *resp.FollowUp}); err != nil {
			m.logger.Warn("failed to deliver follow-up notification", slog.String("err", err.Error()))
		}
	}
	return err
}

// handleCancelled looks up the in-flight request named by a
// notifications/cancelled payload's requestId and cancels its context,
// letting a cooperating Handler implementation stop early. Grounded on the
// teacher's ctxCancels map / clientRequest.cancel bookkeeping.
func (m *Manager) handleCancelled(msg Message) {
	var params struct {
		RequestID json.RawMessage `json:"requestId"`
		Reason    string          `json:"reason"`
	}
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			m.logger.Warn("malformed notifications/cancelled params", slog.String("err", err.Error()))
			return
		}
	}

	key := idKey(params.RequestID)
	m.mu.Lock()
	cancel, ok := m.cancels[key]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.logger.Debug("cancelling in-flight request", slog.String("request_id", key), slog.String("reason", params.Reason))
	cancel()
}

// resolveCompletion marks req ready and flushes every consecutive ready
// request from the front of the reorder buffer, in arrival order.
func (m *Manager) resolveCompletion(c requestCompletion) {
	m.mu.Lock()
	c.req.ready = true
	c.req.resp = c.resp
	ready := m.drainReady()
	m.mu.Unlock()

	for _, req := range ready {
		err := m.deliver(req.resp)
		notifyWaiter(req.waiter, err)
	}
}

// drainReady pops every ready request from the front of order. Caller
// holds m.mu.
func (m *Manager) drainReady() []*pendingRequest {
	var out []*pendingRequest
	for len(m.order) > 0 && m.order[0].ready {
		out = append(out, m.order[0])
		m.order = m.order[1:]
	}
	return out
}

func notifyWaiter(waiter chan error, err error) {
	if waiter != nil {
		waiter <- err
	}
}

// sendPing pushes a server-initiated keep-alive ping request to the
// client. Grounded on the teacher's pingTicker case in
// pkg/mcp/session.go's listen() loop.
func (m *Manager) sendPing() {
	m.pingSeq++
	id, _ := json.Marshal(fmt.Sprintf("srv-ping-%d", m.pingSeq))
	if err := m.sink.Deliver(Response{Message: Message{JSONRPC: JSONRPCVersion, ID: id, Method: MethodPing}}); err != nil {
		m.logger.Warn("failed to deliver keep-alive ping", slog.String("err", err.Error()))
	}
}

func (m *Manager) terminate() {
	m.state = StateTerminating
	m.mu.Lock()
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.Unlock()
	m.registry.Unregister(m.session.SessionID)
	m.logger.Debug("session terminated")
}
