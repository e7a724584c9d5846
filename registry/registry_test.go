package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BranchIntl/jobworker/core"
	"github.com/BranchIntl/jobworker/errors"
	"github.com/BranchIntl/jobworker/job"
)

// Test handlers
func paymentHandler(ctx context.Context, j job.Job) (any, error) {
	return nil, nil
}

func shippingHandler(ctx context.Context, j job.Job) (any, error) {
	return nil, fmt.Errorf("shipping failed")
}

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name      string
		jobType   string
		handler   core.Handler
		expectErr error
	}{
		{
			name:    "valid registration",
			jobType: "payment",
			handler: paymentHandler,
		},
		{
			name:      "empty job type",
			jobType:   "",
			handler:   paymentHandler,
			expectErr: errors.ErrEmptyJobType,
		},
		{
			name:      "nil handler",
			jobType:   "payment",
			handler:   nil,
			expectErr: errors.ErrNilHandler,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry()

			err := registry.Register(tt.jobType, tt.handler)

			if tt.expectErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.expectErr)
				assert.Empty(t, registry.List())
				return
			}

			require.NoError(t, err)
			handler, ok := registry.Get(tt.jobType)
			assert.True(t, ok)
			assert.NotNil(t, handler)
		})
	}
}

func TestRegistry_BasicOperations(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register("shipping", shippingHandler))
	require.NoError(t, registry.Register("payment", paymentHandler))
	assert.Equal(t, []string{"payment", "shipping"}, registry.List())

	handler, ok := registry.Get("shipping")
	require.True(t, ok)
	_, err := handler(context.Background(), nil)
	assert.EqualError(t, err, "shipping failed")

	// re-registering replaces the handler
	require.NoError(t, registry.Register("shipping", paymentHandler))
	handler, _ = registry.Get("shipping")
	_, err = handler(context.Background(), nil)
	assert.NoError(t, err)

	registry.Remove("shipping")
	_, ok = registry.Get("shipping")
	assert.False(t, ok)
	assert.Equal(t, []string{"payment"}, registry.List())
}

func TestRegistry_MustGet(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("payment", paymentHandler))

	handler, err := registry.MustGet("payment")
	require.NoError(t, err)
	assert.NotNil(t, handler)

	_, err = registry.MustGet("unknown")
	assert.ErrorIs(t, err, errors.ErrHandlerNotFound)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			jobType := fmt.Sprintf("type-%d", i%5)
			assert.NoError(t, registry.Register(jobType, paymentHandler))
			_, _ = registry.Get(jobType)
			_ = registry.List()
		}(i)
	}
	wg.Wait()

	assert.Len(t, registry.List(), 5)
}
