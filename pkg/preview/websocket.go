package preview

import (
	"context"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// SafeConn wraps a WebSocket connection with write mutex and panic recovery
type SafeConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  bool
}

// NewSafeConn creates a new safe connection wrapper
func NewSafeConn(conn *websocket.Conn) *SafeConn {
	return &SafeConn{conn: conn}
}

// WriteJSON safely writes JSON to the WebSocket connection
func (sc *SafeConn) WriteJSON(v interface{}) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()

	if sc.closed {
		return nil // Silently ignore writes to closed connections
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("WebSocket write panic recovered: %v", r)
			sc.closed = true
		}
	}()

	_ = sc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return sc.conn.WriteJSON(v)
}

// Close closes the underlying connection
func (sc *SafeConn) Close() error {
	sc.writeMu.Lock()
	sc.closed = true
	sc.writeMu.Unlock()
	return sc.conn.Close()
}

// ConnectionInfo describes a connected browser.
type ConnectionInfo struct {
	ID          string
	ConnectedAt time.Time
}

// handleWebSocket pushes bus events to one browser until it disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("WebSocket handler panic: %v", r)
		}
	}()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	safeConn := NewSafeConn(conn)
	defer safeConn.Close()

	id := "preview_" + uuid.NewString()
	s.connections.Store(conn, &ConnectionInfo{ID: id, ConnectedAt: time.Now()})
	defer s.connections.Delete(conn)

	// Subscribe before the snapshot so no event between the two is lost.
	eventCh := s.bus.Subscribe(id)
	defer s.bus.Unsubscribe(id)

	if err := safeConn.WriteJSON(map[string]interface{}{
		"type": "connection_status",
		"data": map[string]interface{}{"connected": true, "session_id": id, "state": s.source.State()},
	}); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(64 * 1024)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			var msg map[string]interface{}
			if err := conn.ReadJSON(&msg); err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					if err := safeConn.WriteJSON(map[string]interface{}{
						"type": "ping",
						"data": map[string]interface{}{"timestamp": time.Now().Unix()},
					}); err != nil {
						return
					}
					continue
				}
				return
			}
			s.handleWebSocketMessage(safeConn, msg)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if err := safeConn.WriteJSON(event); err != nil {
				log.Printf("WebSocket %s write error: %v", id, err)
				return
			}
		case <-readDone:
			return
		}
	}
}

func (s *Server) handleWebSocketMessage(safeConn *SafeConn, msg map[string]interface{}) {
	msgType, _ := msg["type"].(string)
	switch msgType {
	case "ping":
		_ = safeConn.WriteJSON(map[string]interface{}{
			"type": "pong",
			"data": map[string]interface{}{"timestamp": time.Now().Unix()},
		})
	case "request_state":
		_ = safeConn.WriteJSON(map[string]interface{}{
			"type": "state",
			"data": s.source.State(),
		})
	}
}
