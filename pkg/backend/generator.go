// Package backend implements the local generation backend: a small HTTP and
// WebSocket API that turns website descriptions into code using Ollama.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	ollama "github.com/ollama/ollama/api"
)

// Prompt is one model request.
type Prompt struct {
	System string
	User   string
}

// Generator runs prompts against a language model backend.
type Generator interface {
	// ListModels returns the names of the installed models.
	ListModels(ctx context.Context) ([]string, error)
	// Generate runs p on model and returns the full response. onChunk, if
	// non-nil, receives each piece of output as it is produced.
	Generate(ctx context.Context, model string, p Prompt, onChunk func(string)) (string, error)
}

// ServiceError reports that Ollama itself could not serve a request: it is
// unreachable or the model is not installed. Handlers map it to HTTP 503.
type ServiceError struct {
	Message string
	Err     error
}

func (e *ServiceError) Error() string { return e.Message }

func (e *ServiceError) Unwrap() error { return e.Err }

// IsServiceError reports whether err is (or wraps) a ServiceError.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

// ModelNotInstalledError builds the message shown when a model must be pulled first.
func ModelNotInstalledError(model string, installed []string) *ServiceError {
	msg := fmt.Sprintf("Model %s is not installed. Install it with: ollama pull %s", model, model)
	if len(installed) > 0 {
		msg += fmt.Sprintf(" (installed: %s)", strings.Join(installed, ", "))
	}
	return &ServiceError{Message: msg}
}

// OllamaGenerator talks to a local Ollama server.
type OllamaGenerator struct {
	client  *ollama.Client
	baseURL string
	options map[string]any
}

// NewOllamaGenerator creates a generator for the Ollama server at rawURL.
// httpClient may be nil.
func NewOllamaGenerator(rawURL string, httpClient *http.Client) (*OllamaGenerator, error) {
	base, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid Ollama URL %q", rawURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OllamaGenerator{
		client:  ollama.NewClient(base, httpClient),
		baseURL: base.String(),
		options: map[string]any{
			"temperature": 0.7,
			"top_p":       0.9,
			"num_ctx":     8192,
		},
	}, nil
}

// BaseURL returns the Ollama server URL.
func (g *OllamaGenerator) BaseURL() string { return g.baseURL }

// Version returns the Ollama server version.
func (g *OllamaGenerator) Version(ctx context.Context) (string, error) {
	v, err := g.client.Version(ctx)
	if err != nil {
		return "", g.unreachable(err)
	}
	return v, nil
}

// ListModels returns the installed model names.
func (g *OllamaGenerator) ListModels(ctx context.Context) ([]string, error) {
	resp, err := g.client.List(ctx)
	if err != nil {
		return nil, g.unreachable(err)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Generate streams a chat completion for p.
func (g *OllamaGenerator) Generate(ctx context.Context, model string, p Prompt, onChunk func(string)) (string, error) {
	messages := make([]ollama.Message, 0, 2)
	if p.System != "" {
		messages = append(messages, ollama.Message{Role: "system", Content: p.System})
	}
	messages = append(messages, ollama.Message{Role: "user", Content: p.User})

	stream := true
	req := &ollama.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Options:  g.options,
	}

	var out strings.Builder
	err := g.client.Chat(ctx, req, func(res ollama.ChatResponse) error {
		if res.Message.Content == "" {
			return nil
		}
		out.WriteString(res.Message.Content)
		if onChunk != nil {
			onChunk(res.Message.Content)
		}
		return nil
	})
	if err != nil {
		var statusErr ollama.StatusError
		if errors.As(err, &statusErr) {
			if statusErr.StatusCode == http.StatusNotFound {
				return "", ModelNotInstalledError(model, nil)
			}
			return "", fmt.Errorf("ollama chat failed: %s", statusErr.ErrorMessage)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", g.unreachable(err)
	}
	return out.String(), nil
}

func (g *OllamaGenerator) unreachable(err error) error {
	return &ServiceError{
		Message: fmt.Sprintf("Cannot connect to Ollama at %s: %v", g.baseURL, err),
		Err:     err,
	}
}

// matchModel finds requested among installed, treating a bare name as its
// ":latest" tag.
func matchModel(requested string, installed []string) (string, bool) {
	for _, name := range installed {
		if name == requested {
			return name, true
		}
	}
	if !strings.Contains(requested, ":") {
		for _, name := range installed {
			if name == requested+":latest" {
				return name, true
			}
		}
	}
	return "", false
}
