package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/google/uuid"
)

// stdioOwner closes its Done channel when Run finishes, after the stdio
// reader has stopped and the session's Manager has exited; by then the
// Manager has already unregistered the session as it terminated.
type stdioOwner struct {
	done chan struct{}
}

func newStdioOwner() *stdioOwner { return &stdioOwner{done: make(chan struct{})} }

func (o *stdioOwner) Done() <-chan struct{} { return o.done }

func (o *stdioOwner) close() {
	select {
	case <-o.done:
	default:
		close(o.done)
	}
}

// stdioSink delivers dispatcher Responses as framed JSON-RPC objects on the
// stdio adapter's writer (component C2 outbound direction).
type stdioSink struct {
	writer *FrameWriter
}

func (s *stdioSink) Deliver(resp Response) error {
	return s.writer.WriteFrame(resp.Message.mustJSON())
}

// StdioAdapter is the Stdio Transport Adapter (component C8): it mints a
// single persistent session bound to an io.Reader/io.Writer pair on
// startup, drives the Frame Codec, and feeds every parsed frame to that
// session's Manager. Stdout is reserved exclusively for framed protocol
// traffic; the adapter never writes anything else to it (spec §4.8).
type StdioAdapter struct {
	registry   *Registry
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewStdioAdapter constructs a stdio adapter.
func NewStdioAdapter(registry *Registry, dispatcher *Dispatcher, logger *slog.Logger) *StdioAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioAdapter{
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger.With(slog.String("component", "stdio_adapter")),
	}
}

// Run mints the stdio session, registers it, and blocks reading frames
// from r until EOF or a read error, writing responses to w as they're
// produced. If ctx is done first, the session's Manager stops, but the read
// loop does not watch ctx and returns only once r reports EOF or an error.
// It returns when the session has been unregistered and its Manager has
// fully stopped.
func (a *StdioAdapter) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	sessionID := uuid.New().String()
	owner := newStdioOwner()
	sess := NewSession(sessionID, TransportStdio, owner)

	if err := a.registry.Register(sess); err != nil {
		return err
	}

	manager := NewManager(sess, a.dispatcher, a.registry, &stdioSink{writer: NewFrameWriter(w)}, a.logger)

	managerDone := make(chan struct{})
	go func() {
		manager.Start(ctx)
		close(managerDone)
	}()

	reader := NewFrameReader(r, a.logger)
	for {
		body, err := reader.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				a.logger.Warn("stdio read failed", slog.String("err", err.Error()))
			}
			manager.CloseInbound()
			break
		}

		var msg Message
		if err := json.Unmarshal(body, &msg); err != nil {
			errMsg := newError(nullID, *errParse(err.Error()))
			manager.Push(Response{Message: errMsg})
			continue
		}
		manager.Enqueue(msg)
	}

	<-managerDone
	owner.close()
	return nil
}
