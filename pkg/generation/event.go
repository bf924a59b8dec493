package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alantheprice/webforge/pkg/utils"
)

// Event is one step of a generation: StatusEvent, CompleteEvent or ErrorEvent.
// The set is closed; consumers switch on the concrete type.
type Event interface {
	// Terminal reports whether the event ends the session.
	Terminal() bool
	isEvent()
}

// StatusEvent carries a progress message.
type StatusEvent struct {
	Message string
}

// CompleteEvent carries the generated artifact payload.
type CompleteEvent struct {
	Kind    OutputKind
	Payload Payload
	// ExistingContext echoes the request's prior code, e.g. the HTML that a CSS generation styles.
	ExistingContext string
}

// ErrorEvent ends a session with a failure. Err is always a *utils.GenerationError.
type ErrorEvent struct {
	Err error
}

func (StatusEvent) Terminal() bool   { return false }
func (CompleteEvent) Terminal() bool { return true }
func (ErrorEvent) Terminal() bool    { return true }

func (StatusEvent) isEvent()   {}
func (CompleteEvent) isEvent() {}
func (ErrorEvent) isEvent()    {}

// Message is the user-facing error text.
func (e ErrorEvent) Message() string {
	return utils.UserMessage(e.Err)
}

// Payload is the completion data: the canonical field for the kind plus any
// string companions the backend sent alongside it (e.g. "css" with html).
type Payload struct {
	Primary    string
	Companions map[string]string
}

// Companion returns a companion field, or "" when absent.
func (p Payload) Companion(name string) string {
	return p.Companions[name]
}

// Message is a server-to-client frame on the streaming channel.
type Message struct {
	Type    string                     `json:"type"`
	Message string                     `json:"message,omitempty"`
	Data    map[string]json.RawMessage `json:"data,omitempty"`
}

// Message types on the wire.
const (
	MessageStatus   = "status"
	MessageComplete = "complete"
	MessageError    = "error"
)

// decodeMessage maps a wire frame to an Event for a request of kind.
// Anything the client cannot interpret becomes a terminal ErrorEvent.
func decodeMessage(req Request, msg Message) Event {
	switch msg.Type {
	case MessageStatus:
		return StatusEvent{Message: msg.Message}
	case MessageComplete:
		payload, err := decodePayload(req.Kind, msg.Data)
		if err != nil {
			return ErrorEvent{Err: err}
		}
		return CompleteEvent{Kind: req.Kind, Payload: payload, ExistingContext: req.ExistingContext}
	case MessageError:
		text := strings.TrimSpace(msg.Message)
		if text == "" {
			text = "Generation failed"
		}
		return ErrorEvent{Err: utils.NewBackendError(text)}
	default:
		return ErrorEvent{Err: utils.NewProtocolError(fmt.Sprintf("Unexpected message type %q from backend", msg.Type), nil).
			WithComponent("generation").WithOperation("decode")}
	}
}

func decodePayload(kind OutputKind, data map[string]json.RawMessage) (Payload, error) {
	field := kind.Field()
	missing := utils.NewProtocolError(fmt.Sprintf("Backend response is missing the %q field", field), nil).
		WithComponent("generation").WithOperation("decode")

	raw, ok := data[field]
	if !ok {
		return Payload{}, missing
	}
	var primary string
	if err := json.Unmarshal(raw, &primary); err != nil || strings.TrimSpace(primary) == "" {
		return Payload{}, missing
	}

	p := Payload{Primary: primary}
	for name, raw := range data {
		if name == field {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		if p.Companions == nil {
			p.Companions = make(map[string]string)
		}
		p.Companions[name] = s
	}
	return p, nil
}
