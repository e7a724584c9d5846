package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestTypedErrors_Messages(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"config", NewConfigError("HandlerThreads", ErrInvalidConfig), "config HandlerThreads: invalid configuration"},
		{"gateway with type", NewGatewayError("complete", "payment", base), "gateway complete for job type payment: boom"},
		{"gateway without type", NewGatewayError("connect", "", base), "gateway connect: boom"},
		{"handler", NewHandlerError("payment", "42", base), "handler payment for job 42: boom"},
		{"serialization", NewSerializationError("json", base), "serialization (json): boom"},
		{"connection", NewConnectionError("redis://localhost", base), "connection to redis://localhost: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestTypedErrors_Unwrap(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewGatewayError("fail", "payment", ErrNotConnected))
	assert.ErrorIs(t, err, ErrNotConnected)

	var gwErr *GatewayError
	assert.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "fail", gwErr.Op)

	cfgErr := NewConfigError("MaxJobsActive", ErrInvalidConfig)
	assert.ErrorIs(t, cfgErr, ErrInvalidConfig)
}

func TestIsTemporaryAndTimeout(t *testing.T) {
	assert.True(t, IsTimeout(ErrTimeout))
	assert.True(t, IsTemporary(ErrTimeout))
	assert.False(t, IsTimeout(errors.New("other")))

	connErr := NewConnectionError("amqp://localhost", timeoutErr{})
	assert.True(t, IsTimeout(connErr))
	assert.True(t, IsTemporary(connErr))

	plain := NewConnectionError("amqp://localhost", errors.New("refused"))
	assert.False(t, IsTimeout(plain))
	assert.False(t, IsTemporary(plain))
}
