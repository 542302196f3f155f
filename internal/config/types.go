package config

import "strings"

// Config is the on-disk configuration. Durations are Go duration strings
// ("90s", "1h") and are parsed by the accessors in duration.go.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Watch    WatchConfig    `json:"watch"`
	Resolver ResolverConfig `json:"resolver"`
	DNS      DNSConfig      `json:"dns"`
	Notify   NotifyConfig   `json:"notify"`
	State    StateConfig    `json:"state"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// Channel is the broadcast chat: numeric id or @username. Empty disables
	// the broadcast.
	Channel         string `json:"channel,omitempty"`
	ChannelThreadID int    `json:"channel_thread_id,omitempty"`
	PollTimeout     string `json:"poll_timeout,omitempty"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	APIBase         string `json:"api_base,omitempty"`
}

type LoggingConfig struct {
	Level    string            `json:"level"`
	Console  bool              `json:"console"`
	File     LoggingFileConfig `json:"file"`
	Telegram LoggingChatConfig `json:"telegram"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChatConfig forwards records at MinLevel and above to the broadcast
// channel.
type LoggingChatConfig struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type WatchConfig struct {
	// Interval between cycles. Default 1h.
	Interval     string `json:"interval,omitempty"`
	CycleTimeout string `json:"cycle_timeout,omitempty"`
	// ResolveRetries is the number of extra resolve attempts in one cycle.
	ResolveRetries    int    `json:"resolve_retries,omitempty"`
	ResolveRetryDelay string `json:"resolve_retry_delay,omitempty"`
	// Label names the watched host in messages ("Mitra's IP address...").
	Label         string `json:"label,omitempty"`
	ShutdownGrace string `json:"shutdown_grace,omitempty"`
}

type ResolverConfig struct {
	URL string `json:"url,omitempty"`
	// Format is "json" or "text".
	Format     string `json:"format,omitempty"`
	Field      string `json:"field,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	ValidateIP *bool  `json:"validate_ip,omitempty"`
}

// DNSConfig selects the update target provider. Provider "" or "none"
// disables record updates.
type DNSConfig struct {
	Provider string   `json:"provider,omitempty"`
	APIBase  string   `json:"api_base,omitempty"`
	APIToken string   `json:"api_token,omitempty"`
	Email    string   `json:"email,omitempty"`
	APIKey   string   `json:"api_key,omitempty"`
	ZoneID   string   `json:"zone_id,omitempty"`
	Records  []string `json:"records,omitempty"`
	Timeout  string   `json:"timeout,omitempty"`
}

func (d DNSConfig) Enabled() bool {
	p := strings.ToLower(strings.TrimSpace(d.Provider))
	return p != "" && p != "none"
}

type NotifyConfig struct {
	Timeout    string `json:"timeout,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StateConfig selects the persistence driver: file (default), sqlite,
// postgres or s3.
type StateConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	Bucket      string `json:"bucket,omitempty"`
	Key         string `json:"key,omitempty"`
	Region      string `json:"region,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	PathStyle   bool   `json:"path_style,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	// Pprof mounts /debug/pprof/ on the metrics listener.
	Pprof bool `json:"pprof,omitempty"`
}
