package notify

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	logx "ipwatch/pkg/logx"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultRatePerSec = 20
)

type Config struct {
	// Timeout bounds every single send.
	Timeout time.Duration
	// RatePerSec paces sends across the whole pass. <=0 uses the default.
	RatePerSec int
}

// Report summarizes one fan-out pass.
type Report struct {
	Attempted int
	Delivered int
	Failed    int
	Pruned    []string
	// PruneErr is set when the permanent failures could not be removed.
	PruneErr     error
	Broadcast    bool
	BroadcastErr error
}

// Fanout attempts every subscriber once, prunes the permanently unreachable
// ones in the same pass, then posts one broadcast.
type Fanout struct {
	direct  DirectSink
	channel ChannelSink
	pruner  Pruner
	timeout time.Duration
	limiter *rate.Limiter
	log     logx.Logger
}

// NewFanout builds a fan-out. channel and pruner may be nil.
func NewFanout(cfg Config, direct DirectSink, channel ChannelSink, pruner Pruner, log logx.Logger) *Fanout {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = defaultRatePerSec
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fanout{
		direct:  direct,
		channel: channel,
		pruner:  pruner,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}
}

// Deliver sends text to each of subscribers and the broadcast channel.
// No single failure stops the pass. Every send is bounded by Config.Timeout
// only: the pass is detached from ctx's deadline and cancellation, so a
// caller running out of time cannot leave recipients unattempted.
func (f *Fanout) Deliver(ctx context.Context, subscribers []string, text string) Report {
	ctx = context.WithoutCancel(ctx)
	var rep Report
	var gone []string

	if f.direct != nil {
		for _, id := range subscribers {
			f.pace(ctx)
			rep.Attempted++
			err := f.send(ctx, func(c context.Context) error { return f.direct.SendDirect(c, id, text) })
			switch {
			case err == nil:
				rep.Delivered++
			case IsPermanent(err):
				rep.Failed++
				gone = append(gone, id)
				f.log.Info("subscriber unreachable, pruning", logx.String("subscriber", id), logx.Err(err))
			default:
				rep.Failed++
				f.log.Warn("direct delivery failed", logx.String("subscriber", id), logx.Err(err))
			}
		}
	}

	if len(gone) > 0 && f.pruner != nil {
		if err := f.send(ctx, func(c context.Context) error { _, err := f.pruner.Prune(c, gone); return err }); err != nil {
			rep.PruneErr = err
			f.log.Error("prune failed", logx.Strings("subscribers", gone), logx.Err(err))
		} else {
			rep.Pruned = gone
		}
	}

	if f.channel != nil {
		f.pace(ctx)
		rep.BroadcastErr = f.send(ctx, func(c context.Context) error { return f.channel.Broadcast(c, text) })
		if rep.BroadcastErr != nil {
			f.log.Warn("broadcast failed", logx.Err(rep.BroadcastErr))
		} else {
			rep.Broadcast = true
		}
	}
	return rep
}

// pace waits for the limiter. A limiter error only drops the pacing for
// this send; the send itself still happens.
func (f *Fanout) pace(ctx context.Context) {
	wctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if err := f.limiter.Wait(wctx); err != nil {
		f.log.Debug("fan-out pacing skipped", logx.Err(err))
	}
}

func (f *Fanout) send(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return fn(callCtx)
}
