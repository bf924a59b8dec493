package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alantheprice/webforge/pkg/artifact"
	"github.com/alantheprice/webforge/pkg/generation"
	"github.com/alantheprice/webforge/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// APIPrefix is where the API is mounted.
const APIPrefix = "/api/ollama"

// maxRequestBytes caps a request body.
const maxRequestBytes = 4 << 20

// Options configures a Server.
type Options struct {
	// OllamaURL is reported by the health endpoint.
	OllamaURL string
	// Models are always listed by the health endpoint, installed or not.
	Models []string
	// DefaultModel is used when a request names no model.
	DefaultModel string
	// ProgressInterval throttles streamed progress messages. Zero uses one second.
	ProgressInterval time.Duration
	Logger           *utils.Logger
}

// Server is the generation backend.
type Server struct {
	gen      Generator
	opts     Options
	router   chi.Router
	upgrader websocket.Upgrader

	mu     sync.Mutex
	server *http.Server
}

// NewServer creates a backend over gen.
func NewServer(gen Generator, opts Options) *Server {
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = time.Second
	}
	s := &Server{
		gen:  gen,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Local tool; browsers on any localhost port may connect
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
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route(APIPrefix, func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/generate/{kind}", s.handleGenerate)
		r.Post("/enhance", s.handleKind(generation.KindEnhance))
		r.Post("/fix", s.handleKind(generation.KindFix))
		r.Get(generation.StreamPath, s.handleStream)
	})
	return r
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return fmt.Errorf("backend server is already running")
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	s.server = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("backend listening on http://%s%s", addr, APIPrefix)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("backend server failed: %w", err)
	}
	return nil
}

type modelStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

type healthResponse struct {
	Status    string        `json:"status"`
	OllamaURL string        `json:"ollama_url"`
	Models    []modelStatus `json:"models"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	installed, err := s.gen.ListModels(r.Context())
	if err != nil {
		s.logf("health check failed: %v", err)
		writeDetail(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		OllamaURL: s.opts.OllamaURL,
		Models:    s.modelStatuses(installed),
	})
}

// modelStatuses lists the configured models first, then any other installed ones.
func (s *Server) modelStatuses(installed []string) []modelStatus {
	out := make([]modelStatus, 0, len(s.opts.Models)+len(installed))
	seen := make(map[string]bool)
	for _, name := range s.opts.Models {
		if seen[name] {
			continue
		}
		seen[name] = true
		match, ok := matchModel(name, installed)
		if ok {
			seen[match] = true
		}
		out = append(out, modelStatus{Name: name, Available: ok})
	}
	extra := make([]string, 0, len(installed))
	for _, name := range installed {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		out = append(out, modelStatus{Name: name, Available: true})
	}
	return out
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	kind := generation.OutputKind(chi.URLParam(r, "kind"))
	switch kind {
	case generation.KindHTML, generation.KindCSS, generation.KindReact:
		s.handleKind(kind)(w, r)
	default:
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("Unknown generation kind: %s", kind))
	}
}

type apiResponse struct {
	Success bool              `json:"success"`
	Data    map[string]string `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
}

func (s *Server) handleKind(kind generation.OutputKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generation.WireRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
			writeDetail(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}

		data, err := s.run(r.Context(), kind, req, nil)
		if err != nil {
			var invalid *invalidRequest
			switch {
			case errors.As(err, &invalid):
				writeDetail(w, http.StatusUnprocessableEntity, invalid.message)
			case IsServiceError(err):
				writeDetail(w, http.StatusServiceUnavailable, "Ollama service error: "+err.Error())
			default:
				writeDetail(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
		writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: data})
	}
}

type invalidRequest struct {
	message string
}

func (e *invalidRequest) Error() string { return e.message }

// run validates req, resolves the model, generates and extracts the result
// fields for kind.
func (s *Server) run(ctx context.Context, kind generation.OutputKind, req generation.WireRequest, onChunk func(string)) (map[string]string, error) {
	if strings.TrimSpace(req.Prompt(kind)) == "" {
		return nil, &invalidRequest{message: "A description is required"}
	}
	if (kind == generation.KindEnhance || kind == generation.KindFix) && strings.TrimSpace(req.Context(kind)) == "" {
		return nil, &invalidRequest{message: fmt.Sprintf("The %s request needs existing code", kind)}
	}

	model, err := s.resolveModel(ctx, req.ModelName)
	if err != nil {
		return nil, err
	}
	req.ModelName = model

	start := time.Now()
	raw, err := s.gen.Generate(ctx, model, BuildPrompt(kind, req), onChunk)
	if err != nil {
		return nil, err
	}
	s.logf("generated %s with %s: %d characters in %s", kind, model, len(raw), time.Since(start).Round(time.Millisecond))

	data := extract(kind, raw)
	if strings.TrimSpace(data[kind.Field()]) == "" {
		return nil, fmt.Errorf("model %s returned no %s code", model, kind)
	}
	return data, nil
}

func (s *Server) resolveModel(ctx context.Context, requested string) (string, error) {
	if strings.TrimSpace(requested) == "" {
		requested = s.opts.DefaultModel
	}
	if requested == "" {
		return "", &invalidRequest{message: "A model name is required"}
	}
	installed, err := s.gen.ListModels(ctx)
	if err != nil {
		return "", err
	}
	model, ok := matchModel(requested, installed)
	if !ok {
		return "", ModelNotInstalledError(requested, installed)
	}
	return model, nil
}

// extract pulls the result fields for kind out of a raw model response.
func extract(kind generation.OutputKind, raw string) map[string]string {
	switch kind {
	case generation.KindHTML:
		html, css := artifact.ExtractCode(raw)
		data := map[string]string{"html": html}
		if css != "" {
			data["css"] = css
		}
		return data
	case generation.KindCSS:
		return map[string]string{"css": artifact.ExtractSingle(raw, "css")}
	case generation.KindReact:
		return map[string]string{"react": artifact.ExtractSingle(raw, "tsx", "jsx", "typescript", "javascript", "ts", "js")}
	default:
		return map[string]string{kind.Field(): artifact.ExtractSingle(raw, "html", "css", "javascript", "js")}
	}
}

func (s *Server) logf(format string, v ...interface{}) {
	if s.opts.Logger != nil {
		s.opts.Logger.Logf(format, v...)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("backend: failed to encode response: %v", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
