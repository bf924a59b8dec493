package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/alantheprice/webforge/pkg/generation"
	"github.com/gorilla/websocket"
)

// writeWait bounds a single frame write.
const writeWait = 10 * time.Second

type streamFrame struct {
	Type    string            `json:"type"`
	Message string            `json:"message,omitempty"`
	Data    map[string]string `json:"data,omitempty"`
}

type streamRequest struct {
	req generation.WireRequest
	err error
}

// handleStream serves generation requests over one WebSocket. Requests on a
// connection are handled one at a time; closing the connection cancels the
// generation in progress.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("backend: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxRequestBytes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	requests := make(chan streamRequest)
	go func() {
		defer cancel()
		defer close(requests)
		for {
			var req generation.WireRequest
			err := conn.ReadJSON(&req)
			if err != nil && !isJSONError(err) {
				return
			}
			select {
			case requests <- streamRequest{req: req, err: err}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for item := range requests {
		if item.err != nil {
			s.send(conn, streamFrame{Type: generation.MessageError, Message: "Invalid request: " + item.err.Error()})
			continue
		}
		s.serveStreamRequest(ctx, conn, item.req)
	}
}

func (s *Server) serveStreamRequest(ctx context.Context, conn *websocket.Conn, req generation.WireRequest) {
	kind := generation.OutputKind(req.Type)
	if !kind.Valid() {
		s.send(conn, streamFrame{Type: generation.MessageError, Message: fmt.Sprintf("Unknown request type: %s", req.Type)})
		return
	}
	if err := s.send(conn, streamFrame{Type: generation.MessageStatus, Message: kind.StatusLabel()}); err != nil {
		return
	}

	received := 0
	last := time.Now()
	onChunk := func(chunk string) {
		received += len(chunk)
		if time.Since(last) < s.opts.ProgressInterval {
			return
		}
		last = time.Now()
		_ = s.send(conn, streamFrame{Type: generation.MessageStatus, Message: fmt.Sprintf("Received %d characters", received)})
	}

	data, err := s.run(ctx, kind, req, onChunk)
	if ctx.Err() != nil {
		s.logf("stream %s cancelled by client", kind)
		return
	}
	if err != nil {
		s.logf("stream %s failed: %v", kind, err)
		s.send(conn, streamFrame{Type: generation.MessageError, Message: fmt.Sprintf("%s failed: %s", failureLabel(kind), err)})
		return
	}
	s.send(conn, streamFrame{Type: generation.MessageComplete, Data: data})
}

func (s *Server) send(conn *websocket.Conn, frame streamFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(frame); err != nil {
		s.logf("stream write failed: %v", err)
		return err
	}
	return nil
}

func failureLabel(kind generation.OutputKind) string {
	switch kind {
	case generation.KindHTML:
		return "HTML generation"
	case generation.KindCSS:
		return "CSS generation"
	case generation.KindReact:
		return "React generation"
	case generation.KindEnhance:
		return "Code enhancement"
	case generation.KindFix:
		return "Code fixing"
	default:
		return "Generation"
	}
}

// isJSONError reports whether a read failed on a bad payload rather than on
// the connection; the connection stays usable after one.
func isJSONError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
