package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/stacklok/toolhive-registry-aggregator/internal/pipeline"
)

// jitterFraction is the largest random offset applied to the interval, as a
// fraction of it
const jitterFraction = 0.1

// Coordinator manages background pipeline runs
type Coordinator interface {
	// Start begins the background loop.
	// Blocks until context is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop gracefully stops the coordinator, waiting for a running pipeline to return
	Stop() error
}

// defaultCoordinator is the default implementation of Coordinator
type defaultCoordinator struct {
	pipeline   pipeline.Pipeline
	interval   time.Duration
	runOptions pipeline.Options
	runOnStart bool
	onRun      func(*pipeline.Result, error)

	// Lifecycle management
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// Option is a function that configures the coordinator
type Option func(*defaultCoordinator)

// WithRunOptions sets the options of every run
func WithRunOptions(opts pipeline.Options) Option {
	return func(c *defaultCoordinator) {
		c.runOptions = opts
	}
}

// WithRunOnStart runs the pipeline once before the first tick
func WithRunOnStart() Option {
	return func(c *defaultCoordinator) {
		c.runOnStart = true
	}
}

// WithRunHook is called after every run
func WithRunHook(hook func(*pipeline.Result, error)) Option {
	return func(c *defaultCoordinator) {
		c.onRun = hook
	}
}

// New creates a new coordinator running p every interval
func New(p pipeline.Pipeline, interval time.Duration, opts ...Option) (Coordinator, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("refresh interval must be positive, got %s", interval)
	}
	c := &defaultCoordinator{
		pipeline: p,
		interval: interval,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// nextInterval returns the interval with a random jitter applied so that
// several instances do not hit the source registries simultaneously
func (c *defaultCoordinator) nextInterval() time.Duration {
	jitter := time.Duration(float64(c.interval) * jitterFraction)
	if jitter <= 0 {
		return c.interval
	}
	//nolint:gosec // G404: Non-cryptographic randomness is sufficient for scheduling jitter
	return c.interval + time.Duration(rand.Int64N(int64(2*jitter))) - jitter
}

// Start begins the background loop
func (c *defaultCoordinator) Start(ctx context.Context) error {
	slog.Info("Starting background refresh coordinator", "interval", c.interval)

	coordCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	defer func() {
		close(c.done)
		slog.Info("Background refresh coordinator shutting down")
	}()

	if c.runOnStart {
		c.runOnce(coordCtx)
	}

	timer := time.NewTimer(c.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			c.runOnce(coordCtx)
			timer.Reset(c.nextInterval())
		case <-coordCtx.Done():
			slog.Info("Refresh coordinator stopping")
			return nil
		}
	}
}

// Stop gracefully stops the coordinator
func (c *defaultCoordinator) Stop() error {
	if c.cancelFunc != nil {
		slog.Info("Stopping refresh coordinator")
		c.cancelFunc()
		<-c.done
	}
	return nil
}

// runOnce runs the pipeline and logs the outcome
func (c *defaultCoordinator) runOnce(ctx context.Context) {
	opts := c.runOptions
	result, err := c.pipeline.Run(ctx, &opts)
	if c.onRun != nil {
		c.onRun(result, err)
	}

	switch {
	case errors.Is(err, context.Canceled):
		slog.Info("Pipeline run interrupted")
	case err != nil:
		slog.Error("Pipeline run failed", "error", err)
	case result.Snapshot != nil:
		slog.Info("Pipeline run completed",
			"run_id", result.RunID,
			"servers", result.Snapshot.TotalCount,
			"duration", result.Duration)
	}
}
