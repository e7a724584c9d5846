package jobworker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BranchIntl/jobworker/config"
	"github.com/BranchIntl/jobworker/core"
	"github.com/BranchIntl/jobworker/errors"
	"github.com/BranchIntl/jobworker/gateways/memory"
	"github.com/BranchIntl/jobworker/job"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Worker.PollInterval = 5 * time.Millisecond
	cfg.Worker.ShutdownTimeout = time.Second
	return cfg
}

func TestNew_Defaults(t *testing.T) {
	host, err := New(nil, nil)
	require.NoError(t, err)

	assert.NotNil(t, host.Engine())
	assert.Equal(t, config.DefaultConfig(), host.Config())
	assert.Equal(t, 35*time.Second, host.Engine().ShutdownTimeout())
}

func TestNew_UnsupportedBackends(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway.Type = "kafka"
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, errors.ErrUnsupportedGateway)

	cfg = testConfig()
	cfg.Statistics.Type = "cloudwatch"
	_, err = New(cfg, nil)
	var configErr *errors.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "statistics.type", configErr.Field)
}

func TestHost_Run_NoHandlers(t *testing.T) {
	host, err := New(testConfig(), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, host.Run(context.Background()), errors.ErrHandlerNotFound)
}

func TestHost_EnqueueAndRun(t *testing.T) {
	store := memory.NewStore(memory.DefaultOptions())
	cfg := testConfig()
	cfg.Statistics.Type = "prometheus"
	host, err := New(cfg, nil, WithStore(store), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	var handled atomic.Int32
	require.NoError(t, host.Register("payment", func(ctx context.Context, j job.Job) (any, error) {
		handled.Add(1)
		return nil, nil
	}))

	for i := 0; i < 3; i++ {
		j, err := job.New("payment", map[string]int{"order": i})
		require.NoError(t, err)
		require.NoError(t, host.Enqueue(context.Background(), j))
	}
	assert.Equal(t, 3, store.Pending("payment"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- host.Run(ctx)
	}()

	assert.Eventually(t, func() bool {
		return len(store.Completed()) == 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Host did not stop after context cancellation")
	}
	assert.Equal(t, int32(3), handled.Load())
	assert.Zero(t, store.Activated())
}

// A job still running when the host is cancelled finishes and is reported
// before Run returns.
func TestWork_DrainsRunningHandler(t *testing.T) {
	store := memory.NewStore(memory.DefaultOptions())
	j, err := job.New("payment", nil)
	require.NoError(t, err)
	require.NoError(t, store.Enqueue(context.Background(), j))

	started := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Work(ctx, testConfig(), map[string]core.Handler{
			"payment": func(ctx context.Context, j job.Job) (any, error) {
				close(started)
				time.Sleep(50 * time.Millisecond)
				return nil, nil
			},
		}, WithStore(store))
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("Handler was not started")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Work did not return")
	}
	assert.Len(t, store.Completed(), 1)
}

func TestNotifyContext(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := NotifyContext(parent)
	defer stop()

	cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("Context was not cancelled with its parent")
	}
}
