package generation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alantheprice/webforge/pkg/utils"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects delivered events.
type recorder struct {
	mu     sync.Mutex
	events []Event
	seen   chan Event
}

func newRecorder() *recorder {
	return &recorder{seen: make(chan Event, 16)}
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.seen <- ev
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.seen:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func waitReason(t *testing.T, s *Session) Reason {
	t.Helper()
	select {
	case <-s.Done():
		return s.Reason()
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
		return ReasonRunning
	}
}

// assertGrammar checks that events are status* followed by exactly one terminal.
func assertGrammar(t *testing.T, events []Event) {
	t.Helper()
	require.NotEmpty(t, events)
	for i, ev := range events {
		if i < len(events)-1 {
			assert.False(t, ev.Terminal(), "event %d is terminal but not last", i)
		} else {
			assert.True(t, ev.Terminal(), "last event is not terminal")
		}
	}
}

var upgrader = websocket.Upgrader{}

type streamScript func(t *testing.T, conn *websocket.Conn, init WireRequest)

// newStreamServer runs script for every connection and records initiation messages.
func newStreamServer(t *testing.T, script streamScript) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var connections atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ollama"+StreamPath {
			http.NotFound(w, r)
			return
		}
		connections.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var init WireRequest
		if err := conn.ReadJSON(&init); err != nil {
			return
		}
		script(t, conn, init)
	}))
	t.Cleanup(srv.Close)
	return srv, &connections
}

func wsBase(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ollama"
}

func htmlRequest() Request {
	return Request{
		Description: "A landing page for a coffee shop",
		ModelName:   "llama3.2:3b",
		Kind:        KindHTML,
	}
}

func TestStreamStatusThenComplete(t *testing.T) {
	var got WireRequest
	extraFrames := make(chan int, 1)
	srv, _ := newStreamServer(t, func(t *testing.T, conn *websocket.Conn, init WireRequest) {
		got = init
		_ = conn.WriteJSON(map[string]any{"type": "status", "message": "Generating HTML..."})
		_ = conn.WriteJSON(map[string]any{"type": "status", "message": "Received 512 characters"})
		_ = conn.WriteJSON(map[string]any{"type": "complete", "data": map[string]any{"html": "<div>Coffee</div>", "css": "body{color:brown}"}})

		// The client never sends a second message on the channel.
		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		frames := 0
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
			frames++
		}
		extraFrames <- frames
	})

	rec := newRecorder()
	m := NewManager(NewStreamTransport(wsBase(srv), time.Second), nil)
	s, err := m.Start(context.Background(), htmlRequest(), rec.handle)
	require.NoError(t, err)

	assert.Equal(t, ReasonCompleted, waitReason(t, s))
	events := rec.all()
	assertGrammar(t, events)
	require.Len(t, events, 3)
	assert.Equal(t, StatusEvent{Message: "Generating HTML..."}, events[0])
	assert.Equal(t, StatusEvent{Message: "Received 512 characters"}, events[1])

	done, ok := events[2].(CompleteEvent)
	require.True(t, ok)
	assert.Equal(t, KindHTML, done.Kind)
	assert.Equal(t, "<div>Coffee</div>", done.Payload.Primary)
	assert.Equal(t, "body{color:brown}", done.Payload.Companion("css"))

	select {
	case n := <-extraFrames:
		assert.Equal(t, 0, n)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not finish")
	}

	assert.Equal(t, "html", got.Type)
	assert.Equal(t, "A landing page for a coffee shop", got.Description)
	assert.Equal(t, "llama3.2:3b", got.ModelName)
}

func TestStreamBackendErrorIsVerbatim(t *testing.T) {
	srv, _ := newStreamServer(t, func(t *testing.T, conn *websocket.Conn, init WireRequest) {
		_ = conn.WriteJSON(map[string]any{"type": "status", "message": "Generating HTML..."})
		_ = conn.WriteJSON(map[string]any{"type": "error", "message": "model not found"})
	})

	rec := newRecorder()
	s, err := NewManager(NewStreamTransport(wsBase(srv), time.Second), nil).Start(context.Background(), htmlRequest(), rec.handle)
	require.NoError(t, err)

	assert.Equal(t, ReasonFailed, waitReason(t, s))
	events := rec.all()
	assertGrammar(t, events)
	errEv, ok := events[len(events)-1].(ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, "model not found", errEv.Message())
	assert.True(t, utils.IsBackendError(errEv.Err))
}

func TestStreamNothingAfterTerminal(t *testing.T) {
	srv, _ := newStreamServer(t, func(t *testing.T, conn *websocket.Conn, init WireRequest) {
		_ = conn.WriteJSON(map[string]any{"type": "complete", "data": map[string]any{"html": "<p>x</p>"}})
		_ = conn.WriteJSON(map[string]any{"type": "status", "message": "late"})
		_ = conn.WriteJSON(map[string]any{"type": "error", "message": "late"})
	})

	rec := newRecorder()
	s, err := NewManager(NewStreamTransport(wsBase(srv), time.Second), nil).Start(context.Background(), htmlRequest(), rec.handle)
	require.NoError(t, err)

	assert.Equal(t, ReasonCompleted, waitReason(t, s))
	require.Len(t, rec.all(), 1)
}

func TestStreamMissingFieldIsProtocolError(t *testing.T) {
	srv, _ := newStreamServer(t, func(t *testing.T, conn *websocket.Conn, init WireRequest) {
		// enhanced_code is not accepted in place of html
		_ = conn.WriteJSON(map[string]any{"type": "complete", "data": map[string]any{"enhanced_code": "<p>x</p>"}})
	})

	rec := newRecorder()
	s, err := NewManager(NewStreamTransport(wsBase(srv), time.Second), nil).Start(context.Background(), htmlRequest(), rec.handle)
	require.NoError(t, err)

	assert.Equal(t, ReasonFailed, waitReason(t, s))
	events := rec.all()
	require.Len(t, events, 1)
	errEv := events[0].(ErrorEvent)
	assert.True(t, utils.IsProtocolError(errEv.Err))
	assert.Equal(t, `Backend response is missing the "html" field`, errEv.Message())
}

func TestStreamAbnormalDisconnectIsTransportError(t *testing.T) {
	srv, _ := newStreamServer(t, func(t *testing.T, conn *websocket.Conn, init WireRequest) {
		_ = conn.WriteJSON(map[string]any{"type": "status", "message": "Generating HTML..."})
		// drop the TCP connection without a close frame
		_ = conn.UnderlyingConn().Close()
	})

	rec := newRecorder()
	s, err := NewManager(NewStreamTransport(wsBase(srv), time.Second), nil).Start(context.Background(), htmlRequest(), rec.handle)
	require.NoError(t, err)

	assert.Equal(t, ReasonFailed, waitReason(t, s))
	events := rec.all()
	assertGrammar(t, events)
	errEv := events[len(events)-1].(ErrorEvent)
	assert.True(t, utils.IsTransportError(errEv.Err))
	assert.Equal(t, "Lost connection to the generation backend", errEv.Message())
}

func TestStreamCleanCloseBeforeTerminal(t *testing.T) {
	srv, _ := newStreamServer(t, func(t *testing.T, conn *websocket.Conn, init WireRequest) {
		_ = conn.WriteJSON(map[string]any{"type": "status", "message": "Generating HTML..."})
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	})

	rec := newRecorder()
	s, err := NewManager(NewStreamTransport(wsBase(srv), time.Second), nil).Start(context.Background(), htmlRequest(), rec.handle)
	require.NoError(t, err)

	assert.Equal(t, ReasonFailed, waitReason(t, s))
	events := rec.all()
	assertGrammar(t, events)
	assert.True(t, utils.IsProtocolError(events[len(events)-1].(ErrorEvent).Err))
}

func TestStreamDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	rec := newRecorder()
	s, err := NewManager(NewStreamTransport(base, time.Second), nil).Start(context.Background(), htmlRequest(), rec.handle)
	require.NoError(t, err)

	assert.Equal(t, ReasonFailed, waitReason(t, s))
	events := rec.all()
	require.Len(t, events, 1)
	assert.True(t, utils.IsTransportError(events[0].(ErrorEvent).Err))
}

func TestStreamCancelSilencesSession(t *testing.T) {
	release := make(chan struct{})
	srv, _ := newStreamServer(t, func(t *testing.T, conn *websocket.Conn, init WireRequest) {
		_ = conn.WriteJSON(map[string]any{"type": "status", "message": "Generating HTML..."})
		<-release
		_ = conn.WriteJSON(map[string]any{"type": "complete", "data": map[string]any{"html": "<p>late</p>"}})
	})

	rec := newRecorder()
	s, err := NewManager(NewStreamTransport(wsBase(srv), time.Second), nil).Start(context.Background(), htmlRequest(), rec.handle)
	require.NoError(t, err)

	rec.next(t)
	s.Cancel()
	close(release)

	assert.Equal(t, ReasonCancelled, waitReason(t, s))
	assert.Len(t, rec.all(), 1)
}

func TestValidationRejectsBeforeNetwork(t *testing.T) {
	srv, connections := newStreamServer(t, func(t *testing.T, conn *websocket.Conn, init WireRequest) {})

	m := NewManager(NewStreamTransport(wsBase(srv), time.Second), nil)
	for _, desc := range []string{"", "   ", "\n\t"} {
		req := htmlRequest()
		req.Description = desc
		s, err := m.Start(context.Background(), req, nil)
		assert.Nil(t, s)
		require.Error(t, err)
		assert.True(t, utils.IsValidationError(err))
	}
	assert.Equal(t, int32(0), connections.Load())
	assert.Nil(t, m.Current())
}

// stubTransport replays scripted frames; a frame with Type "" blocks until release is closed.
type stubTransport struct {
	frames  []Message
	release chan struct{}
}

func (t *stubTransport) Name() string { return "stub" }

func (t *stubTransport) Open(ctx context.Context, req Request) (Stream, error) {
	return &stubStream{t: t}, nil
}

type stubStream struct {
	t *stubTransport
	i int
}

func (s *stubStream) Recv() (Message, error) {
	if s.i >= len(s.t.frames) {
		return Message{}, io.EOF
	}
	msg := s.t.frames[s.i]
	s.i++
	if msg.Type == "" {
		<-s.t.release
		return s.Recv()
	}
	return msg, nil
}

func (s *stubStream) Close() error { return nil }

func TestCancelDropsFramesAlreadyInFlight(t *testing.T) {
	tr := &stubTransport{
		frames: []Message{
			{Type: MessageStatus, Message: "first"},
			{},
			{Type: MessageStatus, Message: "in flight"},
			{Type: MessageComplete, Data: map[string]json.RawMessage{"html": json.RawMessage(`"<p>x</p>"`)}},
		},
		release: make(chan struct{}),
	}

	rec := newRecorder()
	s, err := NewManager(tr, nil).Start(context.Background(), htmlRequest(), rec.handle)
	require.NoError(t, err)

	assert.Equal(t, StatusEvent{Message: "first"}, rec.next(t))
	s.Cancel()
	// the transport ignores cancellation and keeps producing frames
	close(tr.release)

	assert.Equal(t, ReasonCancelled, waitReason(t, s))
	assert.Len(t, rec.all(), 1)
}

func TestManagerReplacesInFlightSession(t *testing.T) {
	firstRelease := make(chan struct{})
	var calls atomic.Int32
	srv, _ := newStreamServer(t, func(t *testing.T, conn *websocket.Conn, init WireRequest) {
		n := calls.Add(1)
		if n == 1 {
			_ = conn.WriteJSON(map[string]any{"type": "status", "message": "first: working"})
			<-firstRelease
			_ = conn.WriteJSON(map[string]any{"type": "complete", "data": map[string]any{"html": "<p>first</p>"}})
			return
		}
		_ = conn.WriteJSON(map[string]any{"type": "status", "message": "second: working"})
		_ = conn.WriteJSON(map[string]any{"type": "complete", "data": map[string]any{"html": "<p>second</p>"}})
	})
	defer close(firstRelease)

	m := NewManager(NewStreamTransport(wsBase(srv), time.Second), nil)

	first := newRecorder()
	s1, err := m.Start(context.Background(), htmlRequest(), first.handle)
	require.NoError(t, err)
	first.next(t)

	second := newRecorder()
	req := htmlRequest()
	req.Description = "A portfolio for a photographer"
	s2, err := m.Start(context.Background(), req, second.handle)
	require.NoError(t, err)

	assert.Equal(t, ReasonCancelled, waitReason(t, s1))
	assert.Equal(t, ReasonCompleted, waitReason(t, s2))
	assert.Same(t, s2, m.Current())

	assert.Len(t, first.all(), 1)
	events := second.all()
	assertGrammar(t, events)
	assert.Equal(t, "<p>second</p>", events[len(events)-1].(CompleteEvent).Payload.Primary)
}

func TestManagerCancel(t *testing.T) {
	m := NewManager(&stubTransport{frames: []Message{{}}, release: make(chan struct{})}, nil)
	assert.False(t, m.Cancel())

	s, err := m.Start(context.Background(), htmlRequest(), nil)
	require.NoError(t, err)
	assert.True(t, m.Cancel())
	close(m.transport.(*stubTransport).release)
	assert.Equal(t, ReasonCancelled, waitReason(t, s))
	assert.False(t, m.Cancel())
}

func TestParentContextCancellationIsNotAnError(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	srv, _ := newStreamServer(t, func(t *testing.T, conn *websocket.Conn, init WireRequest) {
		_ = conn.WriteJSON(map[string]any{"type": "status", "message": "Generating HTML..."})
		<-release
	})

	ctx, cancel := context.WithCancel(context.Background())
	rec := newRecorder()
	s, err := NewManager(NewStreamTransport(wsBase(srv), time.Second), nil).Start(ctx, htmlRequest(), rec.handle)
	require.NoError(t, err)

	rec.next(t)
	cancel()
	assert.Equal(t, ReasonCancelled, waitReason(t, s))
	assert.Len(t, rec.all(), 1)
}
