// Package scheduler drives detection cycles at a fixed interval.
//
// The first cycle runs on Start. A tick that fires while a cycle is still in
// flight is dropped, never queued.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ipwatch/internal/metrics"
	logx "ipwatch/pkg/logx"
)

const (
	defaultInterval     = time.Hour
	defaultCycleTimeout = 2 * time.Minute
)

// Job is one cycle. ctx carries the cycle timeout.
type Job func(ctx context.Context)

type Config struct {
	Interval     time.Duration
	CycleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = defaultCycleTimeout
	}
	return c
}

// runState admits one cycle at a time.
type runState struct {
	mu       sync.Mutex
	inflight chan struct{}
	closed   bool
}

// tryAcquire returns the done channel of the new cycle. ok is false when a
// cycle is running or the state is closed.
func (s *runState) tryAcquire() (done chan struct{}, closed, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, true, false
	}
	if s.inflight != nil {
		return nil, false, false
	}
	s.inflight = make(chan struct{})
	return s.inflight, false, true
}

func (s *runState) release(done chan struct{}) {
	s.mu.Lock()
	s.inflight = nil
	s.mu.Unlock()
	close(done)
}

// close refuses new cycles and returns the one still running, if any.
func (s *runState) close() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.inflight
}

type Scheduler struct {
	mu      sync.Mutex
	cfg     Config
	job     Job
	c       *cron.Cron
	entry   cron.EntryID
	base    context.Context
	run     runState
	skipped uint64

	metrics *metrics.Metrics
	log     logx.Logger
}

func New(cfg Config, job Job, m *metrics.Metrics, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{cfg: cfg.withDefaults(), job: job, metrics: m, log: log}
}

// Start registers the interval trigger and runs the first cycle immediately.
// Cycles are detached from ctx cancellation; use Stop to end them.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.base = context.WithoutCancel(ctx)
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(cron.NewParser(cron.Descriptor)),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	if err := s.scheduleLocked(); err != nil {
		s.c = nil
		s.mu.Unlock()
		return err
	}
	s.c.Start()
	interval := s.cfg.Interval
	s.mu.Unlock()

	s.log.Info("scheduler started", logx.Duration("interval", interval))
	go s.RunNow()
	return nil
}

func (s *Scheduler) scheduleLocked() error {
	id, err := s.c.AddFunc("@every "+s.cfg.Interval.String(), func() { s.RunNow() })
	if err != nil {
		return err
	}
	s.entry = id
	return nil
}

// RunNow runs one cycle in the caller's goroutine. It returns false when a
// cycle was already running (or the scheduler stopped) and nothing ran.
func (s *Scheduler) RunNow() bool {
	done, closed, ok := s.run.tryAcquire()
	if !ok {
		if closed {
			return false
		}
		s.mu.Lock()
		s.skipped++
		n := s.skipped
		s.mu.Unlock()
		s.metrics.SkippedTick()
		s.log.Warn("previous cycle still running; tick skipped", logx.Uint64("skipped_total", n))
		return false
	}
	defer s.run.release(done)

	s.mu.Lock()
	base := s.base
	timeout := s.cfg.CycleTimeout
	s.mu.Unlock()
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, timeout)
	defer cancel()
	s.job(ctx)
	return true
}

// Reschedule changes the interval of a running scheduler.
func (s *Scheduler) Reschedule(cfg Config) error {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cfg
	s.cfg = cfg
	if s.c == nil || prev.Interval == cfg.Interval {
		return nil
	}
	s.c.Remove(s.entry)
	if err := s.scheduleLocked(); err != nil {
		s.cfg = prev
		if rerr := s.scheduleLocked(); rerr != nil {
			s.log.Error("restoring previous interval failed; no cycles are scheduled",
				logx.Duration("interval", prev.Interval), logx.Err(rerr))
		}
		return err
	}
	s.log.Info("interval changed", logx.Duration("from", prev.Interval), logx.Duration("to", cfg.Interval))
	return nil
}

// Skipped reports how many ticks were dropped due to overlap.
func (s *Scheduler) Skipped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

// Stop stops triggering and waits for the running cycle or ctx, whichever
// ends first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	// Refuse new cycles before draining cron so a tick racing Stop is dropped.
	inflight := s.run.close()
	if c != nil {
		c.Stop()
	}
	if inflight == nil {
		s.log.Info("scheduler stopped")
		return nil
	}
	select {
	case <-inflight:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("scheduler stop: cycle still running at deadline", logx.Err(ctx.Err()))
		return ctx.Err()
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
