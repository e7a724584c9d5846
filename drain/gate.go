// Package drain provides the in-flight handler gate used to drain a worker
// process on shutdown.
//
// A Gate counts handler executions in progress. Any number of goroutines may
// call Wait concurrently; exactly one of them polls the counter and logs
// progress while the others block until that poller finishes and then observe
// the same result. Each completed wait ends a drain cycle and the next Wait
// starts a fresh one, so a Gate can be reused for the lifetime of a process.
package drain

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultPollInterval = 10 * time.Millisecond
	defaultLogInterval  = time.Second
)

// Observer receives the result of every drain cycle
type Observer interface {
	RecordDrain(duration time.Duration, drained bool, remaining int64)
}

// Gate tracks active handler executions
type Gate struct {
	active atomic.Int64

	mu    sync.Mutex
	cycle *cycle

	pollInterval time.Duration
	logInterval  time.Duration
	logger       *slog.Logger
	observer     Observer
}

// cycle is one drain wait. done is closed exactly once, by the poller.
type cycle struct {
	done    chan struct{}
	drained bool
}

// Option configures a Gate
type Option func(*Gate)

// WithPollInterval sets how often the poller re-checks the active count
func WithPollInterval(d time.Duration) Option {
	return func(g *Gate) {
		g.pollInterval = d
	}
}

// WithLogInterval sets how often the poller logs progress
func WithLogInterval(d time.Duration) Option {
	return func(g *Gate) {
		g.logInterval = d
	}
}

// WithLogger sets the logger used for progress messages
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithObserver sets an observer notified at the end of each drain cycle
func WithObserver(observer Observer) Option {
	return func(g *Gate) {
		g.observer = observer
	}
}

// New creates a gate with no active handlers
func New(opts ...Option) *Gate {
	g := &Gate{
		pollInterval: defaultPollInterval,
		logInterval:  defaultLogInterval,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.pollInterval <= 0 {
		g.pollInterval = defaultPollInterval
	}
	return g
}

// Increment records the start of a handler execution
func (g *Gate) Increment() {
	g.active.Add(1)
}

// Decrement records the end of a handler execution. It must be called once
// for every Increment; an unmatched call is ignored so the count never goes
// negative.
func (g *Gate) Decrement() {
	for {
		n := g.active.Load()
		if n <= 0 {
			g.logger.Warn("Drain gate decremented without matching increment")
			return
		}
		if g.active.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// Active returns the number of handler executions in progress
func (g *Gate) Active() int64 {
	return g.active.Load()
}

// Wait blocks until no handlers are active or timeout has elapsed and reports
// whether the gate drained. Concurrent callers share a single poller: the
// first caller polls, the rest return when it finishes with its result.
func (g *Gate) Wait(timeout time.Duration) bool {
	if g.active.Load() <= 0 {
		return true
	}

	g.mu.Lock()
	if c := g.cycle; c != nil {
		g.mu.Unlock()
		<-c.done
		return c.drained
	}
	c := &cycle{done: make(chan struct{})}
	g.cycle = c
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.cycle = nil
		g.mu.Unlock()
		close(c.done)
	}()

	c.drained = g.poll(timeout)
	return c.drained
}

func (g *Gate) poll(timeout time.Duration) bool {
	start := time.Now()
	g.logger.Info("Waiting for active handlers", "active", g.Active(), "timeout", timeout)

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	lastLog := start
	for g.active.Load() > 0 && time.Since(start) < timeout {
		<-ticker.C

		if g.logInterval <= 0 || time.Since(lastLog) < g.logInterval {
			continue
		}
		g.logger.Info("Waiting for active handlers",
			"elapsed", time.Since(start).Round(100*time.Millisecond),
			"active", g.Active())
		lastLog = time.Now()
	}

	elapsed := time.Since(start)
	remaining := g.Active()
	drained := remaining <= 0

	if drained {
		g.logger.Info("Waiting finished", "elapsed", elapsed.Round(100*time.Millisecond), "active", remaining)
	} else {
		g.logger.Warn("Waiting finished with active handlers",
			"elapsed", elapsed.Round(100*time.Millisecond), "active", remaining)
	}

	if g.observer != nil {
		g.observer.RecordDrain(elapsed, drained, remaining)
	}

	return drained
}
