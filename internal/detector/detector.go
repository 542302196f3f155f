package detector

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ipwatch/internal/metrics"
	"ipwatch/internal/notify"
	"ipwatch/internal/resolver"
	"ipwatch/internal/state"
	"ipwatch/internal/target"
	logx "ipwatch/pkg/logx"
)

const defaultTargetTimeout = 30 * time.Second

type Config struct {
	// Label names the watched host in messages.
	Label string
	// ResolveRetries is the number of extra resolve attempts per cycle.
	ResolveRetries    int
	ResolveRetryDelay time.Duration
	TargetTimeout     time.Duration
}

// Deliverer fans a message out to subscribers and the channel.
type Deliverer interface {
	Deliver(ctx context.Context, subscribers []string, text string) notify.Report
}

type Deps struct {
	Resolver resolver.Resolver
	State    *state.Manager
	Fanout   Deliverer
	Applier  target.Applier
	Metrics  *metrics.Metrics
	Log      logx.Logger
	// OnPhase observes every phase transition. Optional.
	OnPhase func(Phase)
	Now     func() time.Time
}

// Detector is not safe for concurrent RunCycle calls; the scheduler
// serializes them.
type Detector struct {
	cfg   Config
	deps  Deps
	log   logx.Logger
	phase atomic.Int32
}

func New(cfg Config, deps Deps) *Detector {
	if cfg.ResolveRetries < 0 {
		cfg.ResolveRetries = 0
	}
	if cfg.TargetTimeout <= 0 {
		cfg.TargetTimeout = defaultTargetTimeout
	}
	if deps.Applier == nil {
		deps.Applier = target.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Detector{cfg: cfg, deps: deps, log: log}
}

// Phase reports where the running cycle is.
func (d *Detector) Phase() Phase { return Phase(d.phase.Load()) }

func (d *Detector) enter(p Phase) {
	d.phase.Store(int32(p))
	if d.deps.OnPhase != nil {
		d.deps.OnPhase(p)
	}
}

// RunCycle performs one full pass. Failures end the cycle and are reported
// in the Result; nothing is returned that should stop future cycles.
func (d *Detector) RunCycle(ctx context.Context) (res Result) {
	start := d.deps.Now()
	res.ID = uuid.NewString()
	log := d.log.With(logx.String("cycle", res.ID))

	defer func() {
		res.Took = d.deps.Now().Sub(start)
		d.enter(PhaseIdle)
		d.deps.Metrics.ObserveCycle(string(res.Outcome), res.Took)
		log.Debug("cycle done", logx.String("outcome", string(res.Outcome)), logx.Duration("took", res.Took))
	}()

	d.enter(PhaseResolving)
	current, err := d.resolve(ctx, log)
	if err != nil {
		res.Outcome = OutcomeResolveFailed
		res.Err = err
		log.Warn("resolve failed", logx.Err(err))
		return res
	}
	res.Value = current

	d.enter(PhaseComparing)
	last := d.deps.State.LastValue()
	if current == last {
		res.Outcome = OutcomeUnchanged
		return res
	}

	ev := ChangeEvent{Old: last, New: current, At: d.deps.Now()}
	res.Event = &ev

	d.enter(PhasePersisting)
	err = d.deps.State.Update(ctx, func(r *state.Record) bool {
		r.LastValue = ev.New
		r.ChangedAt = ev.At.UTC()
		return true
	})
	if err != nil {
		res.Outcome = OutcomePersistFailed
		res.Err = err
		log.Error("persist failed; change not announced", logx.String("old", ev.Old), logx.String("new", ev.New), logx.Err(err))
		return res
	}
	res.Outcome = OutcomeChanged
	d.deps.Metrics.Changed(ev.At)
	log.Info("value changed", logx.String("old", ev.Old), logx.String("new", ev.New), logx.Bool("first", ev.First()))

	// The value is committed: every sink and target must now be attempted,
	// each under its own timeout rather than what is left of the cycle.
	sideCtx := context.WithoutCancel(ctx)

	d.enter(PhaseNotifying)
	if d.deps.Fanout != nil {
		subs := d.deps.State.Subscribers()
		rep := d.deps.Fanout.Deliver(sideCtx, subs, FormatChange(d.cfg.Label, ev))
		res.Delivery = rep
		d.recordDelivery(rep)
		log.Info("notified",
			logx.Int("subscribers", len(subs)),
			logx.Int("delivered", rep.Delivered),
			logx.Int("failed", rep.Failed),
			logx.Int("pruned", len(rep.Pruned)),
			logx.Bool("broadcast", rep.Broadcast),
		)
	}
	d.deps.Metrics.SetSubscribers(len(d.deps.State.Subscribers()))

	d.enter(PhaseUpdating)
	for _, id := range d.deps.State.Targets() {
		if d.apply(sideCtx, log, id, ev.New) {
			res.TargetsOK++
		} else {
			res.TargetsFailed++
		}
	}
	return res
}

func (d *Detector) resolve(ctx context.Context, log logx.Logger) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= d.cfg.ResolveRetries; attempt++ {
		if attempt > 0 {
			log.Debug("retrying resolve", logx.Int("attempt", attempt+1), logx.Err(lastErr))
			if d.cfg.ResolveRetryDelay > 0 {
				t := time.NewTimer(d.cfg.ResolveRetryDelay)
				select {
				case <-ctx.Done():
					t.Stop()
					return "", errors.Join(lastErr, ctx.Err())
				case <-t.C:
				}
			}
		}
		v, err := d.deps.Resolver.Resolve(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

func (d *Detector) apply(ctx context.Context, log logx.Logger, id, value string) bool {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.TargetTimeout)
	defer cancel()
	if err := d.deps.Applier.Apply(callCtx, id, value); err != nil {
		d.deps.Metrics.Target("error")
		log.Warn("target update failed", logx.String("target", id), logx.Err(err))
		return false
	}
	d.deps.Metrics.Target("ok")
	return true
}

func (d *Detector) recordDelivery(rep notify.Report) {
	m := d.deps.Metrics
	m.Delivery("direct", "ok", rep.Delivered)
	m.Delivery("direct", "permanent", len(rep.Pruned))
	m.Delivery("direct", "failed", rep.Failed-len(rep.Pruned))
	m.Pruned(len(rep.Pruned))
	switch {
	case rep.Broadcast:
		m.Delivery("channel", "ok", 1)
	case rep.BroadcastErr != nil:
		m.Delivery("channel", "failed", 1)
	}
}
