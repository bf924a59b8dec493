package generation

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/alantheprice/webforge/pkg/utils"
	"github.com/google/uuid"
)

// Reason records how a session ended.
type Reason int

const (
	// ReasonRunning means the session has not ended yet.
	ReasonRunning Reason = iota
	ReasonCompleted
	ReasonFailed
	// ReasonCancelled is a deliberate close by the client; no error is surfaced.
	ReasonCancelled
)

func (r Reason) String() string {
	switch r {
	case ReasonRunning:
		return "running"
	case ReasonCompleted:
		return "completed"
	case ReasonFailed:
		return "failed"
	case ReasonCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Handler receives a session's events in order. It is called from the
// session's goroutine and must not call back into the session or its Manager.
type Handler func(Event)

// Session owns one in-flight generation.
type Session struct {
	id      string
	req     Request
	handler Handler
	logger  *utils.Logger

	// mu serializes handler calls with Cancel: once Cancel returns no
	// further handler call can start.
	mu        sync.Mutex
	cancelled bool
	reason    Reason

	cancel context.CancelFunc
	done   chan struct{}
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Request returns the request the session was started with.
func (s *Session) Request() Request { return s.req }

// Done is closed when the session's transport has been released.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session ends and returns why.
func (s *Session) Wait() Reason {
	<-s.done
	return s.Reason()
}

// Reason returns how the session ended, or ReasonRunning.
func (s *Session) Reason() Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Cancel closes the transport. No event is delivered after Cancel returns,
// including events already received but not yet handed to the handler.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.reason == ReasonRunning {
		s.cancelled = true
		s.reason = ReasonCancelled
	}
	s.mu.Unlock()
	s.cancel()
}

// deliver hands ev to the handler unless the session was cancelled or has
// already ended. It reports whether the session should keep reading.
func (s *Session) deliver(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled || s.reason != ReasonRunning {
		return false
	}
	switch e := ev.(type) {
	case CompleteEvent:
		s.reason = ReasonCompleted
	case ErrorEvent:
		s.reason = ReasonFailed
		s.log("error", utils.FormatError(e.Err))
	case StatusEvent:
		s.log("status", e.Message)
	}
	s.handler(ev)
	return !ev.Terminal()
}

func (s *Session) markCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason == ReasonRunning {
		s.cancelled = true
		s.reason = ReasonCancelled
	}
}

func (s *Session) log(event, detail string) {
	if s.logger != nil {
		s.logger.LogSessionEvent(s.id, event, detail)
	}
}

func (s *Session) run(ctx context.Context, transport Transport) {
	defer close(s.done)
	defer s.cancel()

	s.log("start", transport.Name()+" "+string(s.req.Kind)+" "+s.req.ModelName)

	stream, err := transport.Open(ctx, s.req)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	defer stream.Close()

	for {
		msg, err := stream.Recv()
		if err != nil {
			s.fail(ctx, err)
			return
		}
		if !s.deliver(decodeMessage(s.req, msg)) {
			return
		}
	}
}

// fail turns a transport failure into the session's terminal event. A failure
// caused by cancellation is not an error and ends the session silently.
func (s *Session) fail(ctx context.Context, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		s.markCancelled()
		s.log("cancelled", "")
		return
	}
	if errors.Is(err, io.EOF) {
		err = utils.NewProtocolError("Backend closed the connection before the generation finished", nil).
			WithComponent("generation").WithOperation("recv")
	} else if _, ok := utils.KindOf(err); !ok {
		err = utils.NewTransportError("Lost connection to the generation backend", err).
			WithComponent("generation")
	}
	s.deliver(ErrorEvent{Err: err})
}

// Manager enforces a single live session: starting a new one cancels the
// previous one first. Sessions are never queued.
type Manager struct {
	transport Transport
	logger    *utils.Logger

	mu      sync.Mutex
	current *Session
}

// NewManager creates a manager over transport. logger may be nil.
func NewManager(transport Transport, logger *utils.Logger) *Manager {
	return &Manager{transport: transport, logger: logger}
}

// Transport returns the transport new sessions use.
func (m *Manager) Transport() Transport {
	return m.transport
}

// Start validates req and launches a session delivering to handler. An invalid
// request is rejected before any network call. Cancelling ctx cancels the session.
func (m *Manager) Start(ctx context.Context, req Request, handler Handler) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		handler = func(Event) {}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.Cancel()
	}

	sessCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:      uuid.NewString(),
		req:     req,
		handler: handler,
		logger:  m.logger,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	m.current = s
	go s.run(sessCtx, m.transport)
	return s, nil
}

// Current returns the most recently started session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Cancel cancels the current session, if any. It reports whether a running
// session was cancelled.
func (m *Manager) Cancel() bool {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s == nil || s.Reason() != ReasonRunning {
		return false
	}
	s.Cancel()
	return true
}
