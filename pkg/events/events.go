// Package events provides the in-process event bus shared by the CLI and the preview server
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// UIEvent is one published event as seen by subscribers
type UIEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Event types
const (
	EventTypeStatusChanged    = "status_changed"
	EventTypeNotification     = "notification"
	EventTypeGenerationStatus = "generation_status"
	EventTypeArtifactUpdated  = "artifact_updated"
	EventTypeHealthChecked    = "health_checked"
)

// Notification levels
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// EventBus fans events out to named subscribers
type EventBus struct {
	subscribers map[string]chan UIEvent
	mutex       sync.RWMutex
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string]chan UIEvent),
	}
}

// Subscribe adds a new subscriber to the event bus. Subscribing twice under the
// same name replaces (and closes) the earlier channel.
func (eb *EventBus) Subscribe(name string) <-chan UIEvent {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	if old, exists := eb.subscribers[name]; exists {
		close(old)
	}
	ch := make(chan UIEvent, 100) // Buffered channel
	eb.subscribers[name] = ch
	return ch
}

// Unsubscribe removes a subscriber from the event bus
func (eb *EventBus) Unsubscribe(name string) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	if ch, exists := eb.subscribers[name]; exists {
		delete(eb.subscribers, name)
		close(ch)
	}
}

// SubscriberCount returns the number of live subscribers
func (eb *EventBus) SubscriberCount() int {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()
	return len(eb.subscribers)
}

// Publish broadcasts an event to all subscribers. A nil bus drops the event.
func (eb *EventBus) Publish(eventType string, data any) {
	if eb == nil {
		return
	}
	event := UIEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	// Sends happen under the read lock so Unsubscribe cannot close a channel mid-send.
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()
	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
			// Channel is full, skip this subscriber
		}
	}
}

// Helper functions for creating specific event types

// StatusChangedEvent creates a status change event
func StatusChangedEvent(from, to, message, errorText string) map[string]interface{} {
	return map[string]interface{}{
		"from":    from,
		"status":  to,
		"message": message,
		"error":   errorText,
	}
}

// NotificationEvent creates a transient user notification
func NotificationEvent(level, message string) map[string]interface{} {
	return map[string]interface{}{
		"level":   level,
		"message": message,
	}
}

// GenerationStatusEvent creates a progress event for a running generation
func GenerationStatusEvent(sessionID, message string) map[string]interface{} {
	return map[string]interface{}{
		"session_id": sessionID,
		"message":    message,
	}
}

// ArtifactUpdatedEvent creates an artifact event. An empty document means the
// artifact was reset.
func ArtifactUpdatedEvent(kind, document string) map[string]interface{} {
	return map[string]interface{}{
		"kind":     kind,
		"document": document,
		"empty":    document == "",
	}
}

// HealthCheckedEvent creates a health check result event
func HealthCheckedEvent(status, backendURL string, available, total int) map[string]interface{} {
	return map[string]interface{}{
		"status":           status,
		"ollama_url":       backendURL,
		"available_models": available,
		"total_models":     total,
	}
}
