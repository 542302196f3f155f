package scheduler

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipwatch/internal/metrics"
	logx "ipwatch/pkg/logx"
)

func TestStartRunsFirstCycleImmediately(t *testing.T) {
	t.Parallel()
	ran := make(chan struct{}, 1)
	s := New(Config{Interval: time.Hour}, func(ctx context.Context) {
		select {
		case ran <- struct{}{}:
		default:
		}
	}, nil, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle was not run on start")
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32
	s := New(Config{Interval: time.Hour}, func(ctx context.Context) {
		runs.Add(1)
		close(started)
		<-release
	}, metrics.New(), logx.Nop())

	done := make(chan bool)
	go func() { done <- s.RunNow() }()
	<-started

	assert.False(t, s.RunNow(), "second cycle must not start while the first runs")
	assert.EqualValues(t, 1, s.Skipped())

	close(release)
	assert.True(t, <-done)
	assert.EqualValues(t, 1, runs.Load())
}

func TestCycleContextHasTimeoutAndSurvivesParentCancel(t *testing.T) {
	t.Parallel()
	parent, cancel := context.WithCancel(context.Background())
	got := make(chan error, 1)
	s := New(Config{Interval: time.Hour, CycleTimeout: 50 * time.Millisecond}, func(ctx context.Context) {
		_, hasDeadline := ctx.Deadline()
		if !hasDeadline {
			got <- nil
			return
		}
		<-ctx.Done()
		got <- ctx.Err()
	}, nil, logx.Nop())
	require.NoError(t, s.Start(parent))
	cancel()

	select {
	case err := <-got:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not finish")
	}
	require.NoError(t, s.Stop(context.Background()))
}

func TestStopWaitsForRunningCycle(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	var finished atomic.Bool
	s := New(Config{Interval: time.Hour}, func(ctx context.Context) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	}, nil, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	<-started

	require.NoError(t, s.Stop(context.Background()))
	assert.True(t, finished.Load())
	assert.False(t, s.RunNow(), "stopped scheduler runs nothing")
	assert.Zero(t, s.Skipped())
}

func TestStopHonorsGraceDeadline(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	s := New(Config{Interval: time.Hour}, func(ctx context.Context) {
		close(started)
		<-block
	}, nil, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
}

func TestRescheduleAndDoubleStart(t *testing.T) {
	t.Parallel()
	s := New(Config{Interval: time.Hour}, func(context.Context) {}, nil, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	assert.Error(t, s.Start(context.Background()))
	require.NoError(t, s.Reschedule(Config{Interval: 30 * time.Minute}))
	s.mu.Lock()
	assert.Equal(t, 30*time.Minute, s.cfg.Interval)
	assert.Len(t, s.c.Entries(), 1)
	s.mu.Unlock()
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRescheduleLogsWhenRestoreFails(t *testing.T) {
	t.Parallel()
	var out lockedBuffer
	s := New(Config{Interval: time.Hour}, func(context.Context) {}, nil, logx.NewWriter(&out, "debug"))
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	// A parser without descriptors rejects every "@every" entry.
	s.mu.Lock()
	orig := s.c
	s.c = cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour)))
	s.mu.Unlock()
	orig.Stop()

	require.Error(t, s.Reschedule(Config{Interval: 30 * time.Minute}))
	s.mu.Lock()
	assert.Equal(t, time.Hour, s.cfg.Interval)
	s.mu.Unlock()
	logs := out.String()
	assert.Contains(t, logs, `"level":"error"`)
	assert.Contains(t, logs, "restoring previous interval failed")
}
