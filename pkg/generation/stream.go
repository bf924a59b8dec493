package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alantheprice/webforge/pkg/utils"
	"github.com/gorilla/websocket"
)

// StreamPath is the streaming endpoint, relative to the stream base URL.
const StreamPath = "/generate/stream"

// maxFrameBytes caps a single server frame.
const maxFrameBytes = 16 << 20

// StreamTransport talks to the backend over a WebSocket. The client sends
// exactly one initiation message and then only reads.
type StreamTransport struct {
	url    string
	dialer *websocket.Dialer
}

// NewStreamTransport creates a transport against the stream base URL, e.g.
// ws://localhost:8000/api/ollama. handshakeTimeout bounds the dial only.
func NewStreamTransport(baseURL string, handshakeTimeout time.Duration) *StreamTransport {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &StreamTransport{
		url: strings.TrimRight(baseURL, "/") + StreamPath,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

func (t *StreamTransport) Name() string { return "stream" }

// Open dials the channel and sends the initiation message.
func (t *StreamTransport) Open(ctx context.Context, req Request) (Stream, error) {
	conn, resp, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		msg := fmt.Sprintf("Cannot connect to the generation stream at %s", t.url)
		if resp != nil {
			msg = fmt.Sprintf("%s (HTTP %d)", msg, resp.StatusCode)
		}
		return nil, utils.NewTransportError(msg, err).WithComponent("generation").WithOperation("dial")
	}
	conn.SetReadLimit(maxFrameBytes)

	s := &wsStream{conn: conn, done: make(chan struct{})}

	if err := conn.WriteJSON(req.Wire(true)); err != nil {
		s.Close()
		return nil, utils.NewTransportError("Failed to send the generation request", err).
			WithComponent("generation").WithOperation("send")
	}

	// Unblock a pending read as soon as the session is cancelled.
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

type wsStream struct {
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
	closed    bool
	mu        sync.Mutex
}

func (s *wsStream) Recv() (Message, error) {
	var msg Message
	if err := s.conn.ReadJSON(&msg); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Message{}, io.EOF
		}
		if s.isClosed() {
			return Message{}, context.Canceled
		}
		var closeErr *websocket.CloseError
		if !errors.As(err, &closeErr) && !isNetworkError(err) {
			return Message{}, utils.NewProtocolError("Backend sent a frame that is not valid JSON", err).
				WithComponent("generation").WithOperation("recv")
		}
		return Message{}, utils.NewTransportError("Lost connection to the generation backend", err).
			WithComponent("generation").WithOperation("recv")
	}
	return msg, nil
}

// Close sends a normal closure frame and tears the connection down.
func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed"), deadline)
		err = s.conn.Close()
	})
	return err
}

func (s *wsStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// isNetworkError distinguishes connection failures from JSON decode failures.
func isNetworkError(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection reset")
}
