package app

import (
	"context"
	"strings"

	"ipwatch/internal/config"
	"ipwatch/internal/resolver"
	"ipwatch/internal/state"
	"ipwatch/internal/target"
	"ipwatch/internal/transport/telegram"
	logx "ipwatch/pkg/logx"
)

// Builders shared by the daemon and the one-shot CLI commands.

func LoggingConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    c.Telegram.Enabled,
			MinLevel:   c.Telegram.MinLevel,
			RatePerSec: c.Telegram.RatePerSec,
		},
	}
}

func StateConfig(c config.StateConfig) state.Config {
	path := strings.TrimSpace(c.Path)
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	if path == "" && (driver == "" || driver == "file") {
		path = config.DefaultStatePath
	}
	return state.Config{
		Driver:      c.Driver,
		Path:        path,
		BusyTimeout: c.BusyTimeoutOrDefault(),
		DSN:         c.DSN,
		Bucket:      c.Bucket,
		Key:         c.Key,
		Region:      c.Region,
		Endpoint:    c.Endpoint,
		PathStyle:   c.PathStyle,
	}
}

// OpenState opens the store and loads the record into a manager.
func OpenState(ctx context.Context, c config.StateConfig, log logx.Logger) (state.Store, *state.Manager, error) {
	store, err := state.Open(ctx, StateConfig(c), log)
	if err != nil {
		return nil, nil, err
	}
	m := state.NewManager(store, log)
	if err := m.Load(ctx); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return store, m, nil
}

func NewResolver(c config.ResolverConfig) *resolver.HTTP {
	validate := true
	if c.ValidateIP != nil {
		validate = *c.ValidateIP
	}
	return resolver.NewHTTP(resolver.Config{
		URL:        c.URL,
		Format:     c.Format,
		Field:      c.Field,
		Timeout:    c.TimeoutOrDefault(),
		ValidateIP: validate,
	})
}

// NewCloudflare builds the DNS client, or nil when no provider is configured.
func NewCloudflare(c config.DNSConfig, log logx.Logger) (*target.Cloudflare, error) {
	if !c.Enabled() {
		return nil, nil
	}
	return target.NewCloudflare(target.CloudflareConfig{
		APIBase:  c.APIBase,
		APIToken: c.APIToken,
		Email:    c.Email,
		APIKey:   c.APIKey,
		ZoneID:   c.ZoneID,
		Timeout:  c.TimeoutOrDefault(),
	}, log)
}

func TelegramConfig(c config.TelegramConfig) telegram.Config {
	return telegram.Config{
		Token:           c.Token,
		Channel:         c.Channel,
		ChannelThreadID: c.ChannelThreadID,
		PollTimeout:     c.PollTimeoutOrDefault(),
		SendTimeout:     c.SendTimeoutOrDefault(),
		APIBase:         c.APIBase,
	}
}
