package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	logx "ipwatch/pkg/logx"
)

// Validate reports every problem at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token is required (or set %s)", EnvTelegramToken)
	}
	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	dur("telegram.send_timeout", cfg.Telegram.SendTimeout)

	if !logx.ValidLevel(cfg.Logging.Level) {
		add("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if !logx.ValidLevel(cfg.Logging.Telegram.MinLevel) {
		add("logging.telegram.min_level: unknown level %q", cfg.Logging.Telegram.MinLevel)
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add("logging.file.path is required when logging.file.enabled")
	}
	if cfg.Logging.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.Channel) == "" {
		add("logging.telegram needs telegram.channel")
	}

	dur("watch.interval", cfg.Watch.Interval)
	dur("watch.cycle_timeout", cfg.Watch.CycleTimeout)
	dur("watch.resolve_retry_delay", cfg.Watch.ResolveRetryDelay)
	dur("watch.shutdown_grace", cfg.Watch.ShutdownGrace)
	if d, err := ParseDurationField("watch.interval", cfg.Watch.Interval); err == nil && d > 0 && d < 10*time.Second {
		add("watch.interval must be at least 10s")
	}
	if cfg.Watch.ResolveRetries < 0 || cfg.Watch.ResolveRetries > 10 {
		add("watch.resolve_retries must be between 0 and 10")
	}

	if u := strings.TrimSpace(cfg.Resolver.URL); u != "" {
		if pu, err := url.Parse(u); err != nil || (pu.Scheme != "http" && pu.Scheme != "https") || pu.Host == "" {
			add("resolver.url: must be an absolute http(s) URL")
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Resolver.Format)) {
	case "", "json", "text":
	default:
		add("resolver.format: must be json or text")
	}
	dur("resolver.timeout", cfg.Resolver.Timeout)

	switch p := strings.ToLower(strings.TrimSpace(cfg.DNS.Provider)); p {
	case "", "none":
	case "cloudflare":
		if strings.TrimSpace(cfg.DNS.APIToken) == "" &&
			(strings.TrimSpace(cfg.DNS.Email) == "" || strings.TrimSpace(cfg.DNS.APIKey) == "") {
			add("dns: cloudflare needs api_token or email+api_key")
		}
		if len(cfg.DNS.Records) > 0 && strings.TrimSpace(cfg.DNS.ZoneID) == "" {
			add("dns.zone_id is required when dns.records is set")
		}
	default:
		add("dns.provider: unknown provider %q", p)
	}
	dur("dns.timeout", cfg.DNS.Timeout)

	dur("notify.timeout", cfg.Notify.Timeout)
	if cfg.Notify.RatePerSec < 0 {
		add("notify.rate_per_sec must be >= 0")
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.State.Driver)); d {
	case "", "file":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.State.Path) == "" {
			add("state.path is required for sqlite")
		}
	case "postgres", "pgx":
		if strings.TrimSpace(cfg.State.DSN) == "" {
			add("state.dsn is required for postgres")
		}
	case "s3":
		if strings.TrimSpace(cfg.State.Bucket) == "" {
			add("state.bucket is required for s3")
		}
	default:
		add("state.driver: unknown driver %q", d)
	}
	dur("state.busy_timeout", cfg.State.BusyTimeout)

	return errors.Join(errs...)
}
