// Package health checks the generation backend and reports which models it can serve.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alantheprice/webforge/pkg/utils"
)

// Status is the backend's overall health.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// DefaultTimeout bounds a single health probe.
const DefaultTimeout = 5 * time.Second

// maxBodyBytes caps how much of a health response is read.
const maxBodyBytes = 1 << 20

// ModelStatus reports one model's availability on the backend.
type ModelStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// Snapshot is a normalized health report. It is never partially populated:
// CheckHealth returns either a complete snapshot or an error.
type Snapshot struct {
	Status     Status        `json:"status"`
	BackendURL string        `json:"ollama_url"`
	Models     []ModelStatus `json:"models"`
	CheckedAt  time.Time     `json:"checked_at"`
}

// Healthy reports whether the backend declared itself healthy.
func (s *Snapshot) Healthy() bool {
	return s != nil && s.Status == StatusHealthy
}

// Availability maps each reported model name to its availability.
func (s *Snapshot) Availability() map[string]bool {
	if s == nil {
		return nil
	}
	out := make(map[string]bool, len(s.Models))
	for _, m := range s.Models {
		out[m.Name] = m.Available
	}
	return out
}

// ModelAvailable reports whether name was reported and available.
func (s *Snapshot) ModelAvailable(name string) bool {
	if s == nil {
		return false
	}
	for _, m := range s.Models {
		if m.Name == name {
			return m.Available
		}
	}
	return false
}

// Monitor issues health probes. It keeps no state between calls.
type Monitor struct {
	client  *http.Client
	timeout time.Duration
}

// NewMonitor creates a monitor whose probes are bounded by timeout.
func NewMonitor(timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Monitor{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// CheckHealth queries {backendURL}/health. Every failure is a transport error
// with a message fit for display.
func (m *Monitor) CheckHealth(ctx context.Context, backendURL string) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	url := strings.TrimRight(backendURL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, transportError(fmt.Sprintf("Invalid backend URL %q", backendURL), err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, transportError(fmt.Sprintf("Backend health check timed out after %s", m.timeout), err)
		}
		return nil, transportError(fmt.Sprintf("Cannot connect to backend at %s", backendURL), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, transportError("Failed to read backend health response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("Backend health check failed with HTTP %d", resp.StatusCode)
		if detail := errorDetail(body); detail != "" {
			msg += ": " + detail
		}
		return nil, transportError(msg, nil)
	}

	snap, err := decodeSnapshot(body)
	if err != nil {
		var failure *reportedFailure
		if errors.As(err, &failure) {
			return nil, transportError("Backend health check failed: "+failure.message, nil)
		}
		return nil, transportError("Backend returned a malformed health response", err)
	}
	snap.CheckedAt = time.Now()
	return snap, nil
}

func transportError(msg string, cause error) error {
	return utils.NewTransportError(msg, cause).WithComponent("health").WithOperation("check")
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// wireSnapshot is the documented health body.
type wireSnapshot struct {
	Status    *string       `json:"status"`
	OllamaURL string        `json:"ollama_url"`
	Models    []ModelStatus `json:"models"`
}

// legacyEnvelope is the older {success, data} wrapper some backends still serve.
type legacyEnvelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
	Data    *struct {
		Status          string   `json:"status"`
		OllamaURL       string   `json:"ollama_url"`
		AvailableModels []string `json:"available_models"`
		SupportedModels []string `json:"supported_models"`
	} `json:"data"`
}

func decodeSnapshot(body []byte) (*Snapshot, error) {
	var env legacyEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	if env.Success != nil {
		return fromLegacy(env)
	}

	var wire wireSnapshot
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, err
	}
	if wire.Status == nil {
		return nil, errors.New("missing status field")
	}
	status, err := parseStatus(*wire.Status)
	if err != nil {
		return nil, err
	}
	for _, m := range wire.Models {
		if strings.TrimSpace(m.Name) == "" {
			return nil, errors.New("model entry without a name")
		}
	}
	models := wire.Models
	if models == nil {
		models = []ModelStatus{}
	}
	return &Snapshot{Status: status, BackendURL: wire.OllamaURL, Models: models}, nil
}

// reportedFailure is a well-formed body in which the backend says it is not working.
type reportedFailure struct {
	message string
}

func (f *reportedFailure) Error() string { return f.message }

func fromLegacy(env legacyEnvelope) (*Snapshot, error) {
	if !*env.Success {
		if env.Error == "" {
			return nil, errors.New("backend reported failure without a message")
		}
		return nil, &reportedFailure{message: env.Error}
	}
	if env.Data == nil {
		return nil, errors.New("missing data field")
	}
	status, err := parseStatus(env.Data.Status)
	if err != nil {
		return nil, err
	}

	installed := make(map[string]bool, len(env.Data.AvailableModels))
	for _, name := range env.Data.AvailableModels {
		installed[name] = true
	}
	models := make([]ModelStatus, 0, len(env.Data.SupportedModels)+len(env.Data.AvailableModels))
	seen := make(map[string]bool)
	for _, name := range env.Data.SupportedModels {
		models = append(models, ModelStatus{Name: name, Available: installed[name]})
		seen[name] = true
	}
	for _, name := range env.Data.AvailableModels {
		if !seen[name] {
			models = append(models, ModelStatus{Name: name, Available: true})
		}
	}
	return &Snapshot{Status: status, BackendURL: env.Data.OllamaURL, Models: models}, nil
}

func parseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusHealthy, StatusUnhealthy:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

func errorDetail(body []byte) string {
	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Detail != "" {
		return payload.Detail
	}
	return payload.Error
}
