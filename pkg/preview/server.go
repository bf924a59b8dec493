// Package preview serves the latest assembled document to a browser and pushes
// status and artifact events to it over a WebSocket.
package preview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/alantheprice/webforge/pkg/artifact"
	"github.com/alantheprice/webforge/pkg/events"
	"github.com/alantheprice/webforge/pkg/status"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// Source provides what the preview shows.
type Source interface {
	Artifact() artifact.Artifact
	State() status.State
}

// Server is the live preview server.
type Server struct {
	source   Source
	bus      *events.EventBus
	router   chi.Router
	upgrader websocket.Upgrader

	connections sync.Map // *websocket.Conn -> *ConnectionInfo

	mutex     sync.RWMutex
	server    *http.Server
	isRunning bool
}

// NewServer creates a preview server over source. Events published on bus
// are forwarded to every connected browser.
func NewServer(source Source, bus *events.EventBus) *Server {
	if bus == nil {
		bus = events.NewEventBus()
	}
	s := &Server{
		source: source,
		bus:    bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP implements http.Handler by delegating to the chi router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/document", s.handleDocument)
	r.Get("/health", s.handleHealth)
	r.Get("/api/state", s.handleAPIState)
	r.Get("/ws", s.handleWebSocket)
	return r
}

// Start serves on addr until ctx is cancelled or Shutdown is called.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.mutex.Lock()
	if s.isRunning {
		s.mutex.Unlock()
		return fmt.Errorf("preview server is already running")
	}
	s.isRunning = true
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mutex.Unlock()

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	log.Printf("preview available at http://%s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mutex.Lock()
		s.isRunning = false
		s.mutex.Unlock()
		return fmt.Errorf("preview server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the preview server
func (s *Server) Shutdown() error {
	s.mutex.Lock()
	if !s.isRunning {
		s.mutex.Unlock()
		return nil
	}
	s.isRunning = false
	srv := s.server
	s.mutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Close all WebSocket connections
	s.connections.Range(func(conn, value interface{}) bool {
		if wsConn, ok := conn.(*websocket.Conn); ok {
			wsConn.Close()
		}
		return true
	})

	return srv.Shutdown(ctx)
}

// IsRunning returns true if the preview server is running
func (s *Server) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.isRunning
}

// countConnections returns the current number of WebSocket connections
func (s *Server) countConnections() int {
	count := 0
	s.connections.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}
