package gateways

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BranchIntl/jobworker/errors"
	"github.com/BranchIntl/jobworker/gateways/memory"
	"github.com/BranchIntl/jobworker/gateways/rabbitmq"
	"github.com/BranchIntl/jobworker/gateways/redis"
	"github.com/BranchIntl/jobworker/job"
)

func TestNewFactory(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected any
	}{
		{"memory", Config{Type: Memory}, &memory.Gateway{}},
		{"redis", Config{Type: Redis, URI: "redis://localhost:6379/1", Namespace: "test:"}, &redis.Gateway{}},
		{"rabbitmq", Config{Type: RabbitMQ, PrefetchCount: 5}, &rabbitmq.Gateway{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory, err := NewFactory(tt.config, nil)
			require.NoError(t, err)

			gateway, err := factory("payment")
			require.NoError(t, err)
			assert.IsType(t, tt.expected, gateway)
			assert.Equal(t, string(tt.config.Type), gateway.Type())
		})
	}
}

func TestNewFactory_Unsupported(t *testing.T) {
	_, err := NewFactory(Config{Type: "kafka"}, nil)

	assert.ErrorIs(t, err, errors.ErrUnsupportedGateway)
	assert.ErrorContains(t, err, "kafka")
}

func TestNewFactory_MemoryGatewaysShareStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(memory.DefaultOptions())
	factory, err := NewFactory(Config{Type: Memory, Store: store}, nil)
	require.NoError(t, err)

	first, err := factory("payment")
	require.NoError(t, err)
	second, err := factory("shipping")
	require.NoError(t, err)
	assert.NotSame(t, first, second, "one gateway per session")

	require.NoError(t, first.Connect(ctx))
	j, err := job.New("shipping", nil)
	require.NoError(t, err)
	require.NoError(t, first.(*memory.Gateway).Enqueue(ctx, j))

	assert.Equal(t, 1, second.(*memory.Gateway).Store().Pending("shipping"))
}
