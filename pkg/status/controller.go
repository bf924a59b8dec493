// Package status owns the application's single status value and the rules
// for moving between initializing, ready, loading and error.
package status

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alantheprice/webforge/pkg/events"
	"github.com/alantheprice/webforge/pkg/generation"
	"github.com/alantheprice/webforge/pkg/health"
	"github.com/alantheprice/webforge/pkg/utils"
)

// AppStatus is the application-wide status.
type AppStatus string

const (
	StatusInitializing AppStatus = "initializing"
	StatusReady        AppStatus = "ready"
	StatusLoading      AppStatus = "loading"
	StatusError        AppStatus = "error"
)

// maxNotifications bounds the notification history kept for display.
const maxNotifications = 20

// Notification is a transient message for the user.
type Notification struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// State is a point-in-time copy of the controller.
type State struct {
	Status  AppStatus `json:"status"`
	Message string    `json:"message"`
	// Error is the persistent error text; set only in StatusError.
	Error          string         `json:"error,omitempty"`
	BackendHealthy bool           `json:"backend_healthy"`
	Notifications  []Notification `json:"notifications,omitempty"`
}

// Controller is the only writer of AppStatus. It is safe for concurrent use.
type Controller struct {
	bus    *events.EventBus
	logger *utils.Logger

	mu            sync.Mutex
	status        AppStatus
	message       string
	errText       string
	snapshot      *health.Snapshot
	notifications []Notification
}

// NewController creates a controller in StatusInitializing. bus and logger may be nil.
func NewController(bus *events.EventBus, logger *utils.Logger) *Controller {
	return &Controller{
		bus:     bus,
		logger:  logger,
		status:  StatusInitializing,
		message: "Checking backend...",
	}
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	notes := make([]Notification, len(c.notifications))
	copy(notes, c.notifications)
	return State{
		Status:         c.status,
		Message:        c.message,
		Error:          c.errText,
		BackendHealthy: c.snapshot.Healthy(),
		Notifications:  notes,
	}
}

// Status returns the current status.
func (c *Controller) Status() AppStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Snapshot returns the last successful health snapshot, or nil.
func (c *Controller) Snapshot() *health.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// HealthSucceeded records a health report. A healthy report moves an
// initializing controller to ready; an unhealthy one is a failure.
func (c *Controller) HealthSucceeded(snap *health.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshot = snap
	if !snap.Healthy() {
		c.failLocked(utils.NewTransportError("Backend reported an unhealthy status", nil).
			WithComponent("status").WithOperation("health"))
		return
	}
	if c.status == StatusInitializing {
		available := 0
		for _, m := range snap.Models {
			if m.Available {
				available++
			}
		}
		c.transitionLocked(StatusReady, fmt.Sprintf("Connected to backend, %d model(s) available", available))
	}
}

// HealthFailed records a failed health check.
func (c *Controller) HealthFailed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = nil
	c.failLocked(err)
}

// CanGenerate reports whether a generation with model may start now.
func (c *Controller) CanGenerate(model string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.guardLocked(model) == ""
}

// guardLocked returns why a generation cannot start, or "".
func (c *Controller) guardLocked(model string) string {
	switch {
	case c.status == StatusLoading:
		return "A generation is already running"
	case c.status != StatusReady:
		return "The backend is not ready"
	case !c.snapshot.Healthy():
		return "The backend is not healthy"
	case strings.TrimSpace(model) == "":
		return "Please select a model"
	case !c.snapshot.ModelAvailable(model):
		return fmt.Sprintf("Model %s is not available on the backend", model)
	}
	return ""
}

// BeginGeneration moves ready to loading for req. An invalid request or a
// failed guard leaves the status unchanged, publishes a notice and returns a
// validation error.
func (c *Controller) BeginGeneration(req generation.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := req.Validate(); err != nil {
		c.notifyLocked(events.LevelWarning, utils.UserMessage(err))
		return err
	}
	if reason := c.guardLocked(req.ModelName); reason != "" {
		c.notifyLocked(events.LevelWarning, reason)
		return utils.NewValidationError("model", reason).WithComponent("status")
	}
	c.errText = ""
	c.transitionLocked(StatusLoading, req.Kind.StatusLabel())
	return nil
}

// HandleEvent applies a generation event. Events arriving outside loading
// belong to no running generation and are ignored.
func (c *Controller) HandleEvent(ev generation.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusLoading {
		return
	}
	switch e := ev.(type) {
	case generation.StatusEvent:
		c.message = e.Message
	case generation.CompleteEvent:
		c.transitionLocked(StatusReady, "Generation complete")
		c.notifyLocked(events.LevelInfo, "Website generated")
	case generation.ErrorEvent:
		c.failLocked(e.Err)
	default:
		panic(fmt.Sprintf("status: unhandled generation event %T", ev))
	}
}

// GenerationCancelled returns a loading controller to ready without an error.
func (c *Controller) GenerationCancelled() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusLoading {
		return
	}
	c.transitionLocked(StatusReady, "Generation cancelled")
	c.notifyLocked(events.LevelInfo, "Generation cancelled")
}

// Fail moves to error from any state.
func (c *Controller) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failLocked(err)
}

// Retry leaves error (or any state) for initializing; the caller re-runs the health check.
func (c *Controller) Retry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errText = ""
	c.snapshot = nil
	c.transitionLocked(StatusInitializing, "Checking backend...")
}

// Notify publishes a notification without changing status.
func (c *Controller) Notify(level, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifyLocked(level, message)
}

func (c *Controller) failLocked(err error) {
	text := utils.UserMessage(err)
	if text == "" {
		text = "Unknown error"
	}
	c.errText = text
	c.transitionLocked(StatusError, "")
	c.notifyLocked(events.LevelError, text)
	if c.logger != nil {
		c.logger.LogError(err)
	}
}

func (c *Controller) transitionLocked(to AppStatus, message string) {
	from := c.status
	c.status = to
	c.message = message
	c.bus.Publish(events.EventTypeStatusChanged, events.StatusChangedEvent(string(from), string(to), message, c.errText))
	if c.logger != nil {
		c.logger.Logf("status: %s -> %s %s", from, to, message)
	}
}

func (c *Controller) notifyLocked(level, message string) {
	c.notifications = append(c.notifications, Notification{Level: level, Message: message, At: time.Now()})
	if len(c.notifications) > maxNotifications {
		c.notifications = c.notifications[len(c.notifications)-maxNotifications:]
	}
	c.bus.Publish(events.EventTypeNotification, events.NotificationEvent(level, message))
}
