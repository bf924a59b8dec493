package utils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindPredicatesSeeThroughWrapping(t *testing.T) {
	root := errors.New("dial tcp: connection refused")
	err := fmt.Errorf("health check: %w", NewTransportError("Cannot connect to backend", root))

	assert.True(t, IsTransportError(err))
	assert.False(t, IsProtocolError(err))
	assert.ErrorIs(t, err, root)
	assert.Equal(t, "Cannot connect to backend", UserMessage(err))
}

func TestBackendErrorIsVerbatim(t *testing.T) {
	err := NewBackendError("model not found")

	assert.True(t, IsBackendError(err))
	assert.Equal(t, "model not found", UserMessage(err))
	assert.Equal(t, "[BACKEND_ERROR] model not found", err.Error())
}

func TestFormatErrorIncludesContext(t *testing.T) {
	err := NewProtocolError("missing html field", errors.New("eof")).
		WithComponent("generation").
		WithOperation("decode")

	got := FormatError(err)
	assert.Contains(t, got, "Error [PROTO_ERROR]: missing html field")
	assert.Contains(t, got, "Component: generation")
	assert.Contains(t, got, "Operation: decode")
	assert.Contains(t, got, "Root Cause: eof")
}

func TestUserMessageForPlainError(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, "boom", UserMessage(errors.New("boom")))
	_, ok := KindOf(errors.New("boom"))
	assert.False(t, ok)
}
