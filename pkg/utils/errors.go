package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies a failure by how the application reacts to it.
type ErrorKind int

const (
	// KindValidation is a locally recovered input problem (e.g. empty prompt).
	KindValidation ErrorKind = iota
	// KindTransport covers unreachable backends, timeouts and abnormal disconnects.
	KindTransport
	// KindProtocol covers malformed or incomplete payloads from the backend.
	KindProtocol
	// KindBackend is an explicit error reported by the backend, shown verbatim.
	KindBackend
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindBackend:
		return "backend"
	default:
		return "unknown"
	}
}

// Code returns the short error code used in log lines.
func (k ErrorKind) Code() string {
	switch k {
	case KindValidation:
		return "VAL_ERROR"
	case KindTransport:
		return "NET_ERROR"
	case KindProtocol:
		return "PROTO_ERROR"
	case KindBackend:
		return "BACKEND_ERROR"
	default:
		return "ERROR"
	}
}

// ErrorContext provides additional context for errors
type ErrorContext struct {
	Component string
	Operation string
	Resource  string
}

// GenerationError is the single error type that crosses component boundaries.
// Message is what the user sees; RootCause keeps the original failure for logs.
type GenerationError struct {
	Kind      ErrorKind
	Message   string
	Context   *ErrorContext
	RootCause error
	Timestamp int64
}

// Error implements the error interface
func (e *GenerationError) Error() string {
	if e.RootCause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind.Code(), e.Message, e.RootCause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind.Code(), e.Message)
}

// Unwrap returns the underlying error for compatibility with errors.Is and errors.As
func (e *GenerationError) Unwrap() error {
	return e.RootCause
}

func newGenerationError(kind ErrorKind, message string, rootCause error) *GenerationError {
	return &GenerationError{
		Kind:      kind,
		Message:   message,
		RootCause: rootCause,
		Timestamp: time.Now().Unix(),
	}
}

// NewValidationError creates a validation error
func NewValidationError(field, reason string) *GenerationError {
	return newGenerationError(KindValidation, reason, nil).WithResource(field)
}

// NewTransportError creates a connectivity error. The message should read well on its own.
func NewTransportError(message string, rootCause error) *GenerationError {
	return newGenerationError(KindTransport, message, rootCause)
}

// NewProtocolError creates an error for payloads the client cannot interpret.
func NewProtocolError(message string, rootCause error) *GenerationError {
	return newGenerationError(KindProtocol, message, rootCause)
}

// NewBackendError wraps a message reported by the backend. It is surfaced verbatim.
func NewBackendError(message string) *GenerationError {
	return newGenerationError(KindBackend, strings.TrimSpace(message), nil)
}

// WithContext adds context to the error
func (e *GenerationError) WithContext(ctx *ErrorContext) *GenerationError {
	e.Context = ctx
	return e
}

// WithComponent adds component context
func (e *GenerationError) WithComponent(component string) *GenerationError {
	if e.Context == nil {
		e.Context = &ErrorContext{}
	}
	e.Context.Component = component
	return e
}

// WithOperation adds operation context
func (e *GenerationError) WithOperation(operation string) *GenerationError {
	if e.Context == nil {
		e.Context = &ErrorContext{}
	}
	e.Context.Operation = operation
	return e
}

// WithResource adds resource context
func (e *GenerationError) WithResource(resource string) *GenerationError {
	if e.Context == nil {
		e.Context = &ErrorContext{}
	}
	e.Context.Resource = resource
	return e
}

// KindOf reports the kind of err, if it is (or wraps) a GenerationError.
func KindOf(err error) (ErrorKind, bool) {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr.Kind, true
	}
	return 0, false
}

// IsValidationError checks if an error is validation-related
func IsValidationError(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindValidation
}

// IsTransportError checks if an error is network-related
func IsTransportError(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindTransport
}

// IsProtocolError checks if an error came from an unreadable payload
func IsProtocolError(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindProtocol
}

// IsBackendError checks if an error was reported by the backend
func IsBackendError(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindBackend
}

// UserMessage returns the text shown to the user for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr.Message
	}
	return err.Error()
}

// FormatError formats an error for log output
func FormatError(err error) string {
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		return err.Error()
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("Error [%s]: %s", genErr.Kind.Code(), genErr.Message))

	if genErr.Context != nil {
		if genErr.Context.Component != "" {
			parts = append(parts, fmt.Sprintf("Component: %s", genErr.Context.Component))
		}
		if genErr.Context.Operation != "" {
			parts = append(parts, fmt.Sprintf("Operation: %s", genErr.Context.Operation))
		}
		if genErr.Context.Resource != "" {
			parts = append(parts, fmt.Sprintf("Resource: %s", genErr.Context.Resource))
		}
	}

	if genErr.RootCause != nil {
		parts = append(parts, fmt.Sprintf("Root Cause: %v", genErr.RootCause))
	}

	return strings.Join(parts, " | ")
}
