package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string. Empty means 0; negative
// values are rejected. path names the field in errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// durationOr returns def for empty, zero or invalid values. Validate reports
// invalid ones before they get here.
func durationOr(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationField("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

const (
	DefaultInterval      = time.Hour
	DefaultCycleTimeout  = 2 * time.Minute
	DefaultShutdownGrace = 10 * time.Second
	DefaultMetricsAddr   = "127.0.0.1:9464"
	DefaultStatePath     = "data/state.json"
)

func (w WatchConfig) IntervalOrDefault() time.Duration {
	return durationOr(w.Interval, DefaultInterval)
}

func (w WatchConfig) CycleTimeoutOrDefault() time.Duration {
	return durationOr(w.CycleTimeout, DefaultCycleTimeout)
}

func (w WatchConfig) RetryDelayOrDefault() time.Duration {
	return durationOr(w.ResolveRetryDelay, 5*time.Second)
}

func (w WatchConfig) ShutdownGraceOrDefault() time.Duration {
	return durationOr(w.ShutdownGrace, DefaultShutdownGrace)
}

func (t TelegramConfig) PollTimeoutOrDefault() time.Duration {
	return durationOr(t.PollTimeout, 10*time.Second)
}

func (t TelegramConfig) SendTimeoutOrDefault() time.Duration {
	return durationOr(t.SendTimeout, 15*time.Second)
}

func (r ResolverConfig) TimeoutOrDefault() time.Duration {
	return durationOr(r.Timeout, 10*time.Second)
}

func (d DNSConfig) TimeoutOrDefault() time.Duration {
	return durationOr(d.Timeout, 15*time.Second)
}

func (n NotifyConfig) TimeoutOrDefault() time.Duration {
	return durationOr(n.Timeout, 10*time.Second)
}

func (s StateConfig) BusyTimeoutOrDefault() time.Duration {
	return durationOr(s.BusyTimeout, 5*time.Second)
}
