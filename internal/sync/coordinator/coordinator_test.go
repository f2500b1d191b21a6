package coordinator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toolhive-registry-aggregator/internal/pipeline"
	"github.com/stacklok/toolhive-registry-aggregator/internal/pipeline/mocks"
	"github.com/stacklok/toolhive-registry-aggregator/internal/unified"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		interval time.Duration
		wantErr  bool
	}{
		{name: "positive interval", interval: time.Minute},
		{name: "zero interval", interval: 0, wantErr: true},
		{name: "negative interval", interval: -time.Second, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			coord, err := New(nil, tt.interval)
			if tt.wantErr {
				require.ErrorContains(t, err, "refresh interval must be positive")
				assert.Nil(t, coord)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, coord)
		})
	}
}

func TestNextInterval(t *testing.T) {
	t.Parallel()

	c := &defaultCoordinator{interval: 10 * time.Minute}
	for range 100 {
		got := c.nextInterval()
		assert.GreaterOrEqual(t, got, 9*time.Minute)
		assert.Less(t, got, 11*time.Minute)
	}

	tiny := &defaultCoordinator{interval: time.Nanosecond}
	assert.Equal(t, time.Nanosecond, tiny.nextInterval())
}

func TestStart_RunOnStartAndStop(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	p := mocks.NewMockPipeline(ctrl)

	runOpts := pipeline.Options{Sources: []string{"official"}, SkipIntrospection: true}
	ran := make(chan struct{}, 1)
	p.EXPECT().
		Run(gomock.Any(), &runOpts).
		DoAndReturn(func(context.Context, *pipeline.Options) (*pipeline.Result, error) {
			ran <- struct{}{}
			return &pipeline.Result{RunID: "run-1", Snapshot: &unified.Snapshot{TotalCount: 3}}, nil
		})

	coord, err := New(p, time.Hour, WithRunOnStart(), WithRunOptions(runOpts))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- coord.Start(context.Background()) }()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not run on start")
	}

	require.NoError(t, coord.Stop())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop")
	}
}

func TestStart_RunsPeriodically(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	p := mocks.NewMockPipeline(ctrl)

	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.EXPECT().
		Run(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, *pipeline.Options) (*pipeline.Result, error) {
			if runs.Add(1) == 3 {
				cancel()
			}
			return nil, errors.New("source unavailable")
		}).
		MinTimes(3)

	var hookErrs atomic.Int32
	coord, err := New(p, 10*time.Millisecond, WithRunHook(func(_ *pipeline.Result, err error) {
		if err != nil {
			hookErrs.Add(1)
		}
	}))
	require.NoError(t, err)

	require.NoError(t, coord.Start(ctx))
	assert.GreaterOrEqual(t, runs.Load(), int32(3))
	assert.Equal(t, runs.Load(), hookErrs.Load())
}

func TestStop_BeforeStart(t *testing.T) {
	t.Parallel()

	coord, err := New(nil, time.Minute)
	require.NoError(t, err)
	assert.NoError(t, coord.Stop())
}
