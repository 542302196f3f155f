package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipwatch/internal/config"
	"ipwatch/internal/state"
	logx "ipwatch/pkg/logx"
)

func TestStateConfigDefaultsFilePath(t *testing.T) {
	t.Parallel()
	sc := StateConfig(config.StateConfig{})
	assert.Equal(t, config.DefaultStatePath, sc.Path)
	assert.Equal(t, 5*time.Second, sc.BusyTimeout)

	sc = StateConfig(config.StateConfig{Driver: "postgres", DSN: "postgres://x"})
	assert.Empty(t, sc.Path)
	assert.Equal(t, "postgres://x", sc.DSN)
}

func TestOpenStateLoadsRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	store, err := state.Open(ctx, state.Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, state.Record{LastValue: "1.2.3.4", Subscribers: []string{"5"}}))
	require.NoError(t, store.Close())

	store, mgr, err := OpenState(ctx, config.StateConfig{Path: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	assert.Equal(t, "1.2.3.4", mgr.LastValue())
	assert.Equal(t, []string{"5"}, mgr.Subscribers())
}

func TestNewCloudflareDisabled(t *testing.T) {
	t.Parallel()
	cf, err := NewCloudflare(config.DNSConfig{Provider: "none"}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, cf)

	cf, err = NewCloudflare(config.DNSConfig{Provider: "cloudflare", APIToken: "t", ZoneID: "z"}, logx.Nop())
	require.NoError(t, err)
	assert.NotNil(t, cf)
}

func TestLoggingConfigMapping(t *testing.T) {
	t.Parallel()
	lc := LoggingConfig(config.LoggingConfig{
		Level:    "debug",
		File:     config.LoggingFileConfig{Enabled: true, Path: "x.log"},
		Telegram: config.LoggingChatConfig{Enabled: true, MinLevel: "error", RatePerSec: 2},
	})
	assert.Equal(t, "debug", lc.Level)
	assert.True(t, lc.File.Enabled)
	assert.Equal(t, "error", lc.Telegram.MinLevel)
	assert.Equal(t, 2, lc.Telegram.RatePerSec)
}

func TestTelegramConfigDefaults(t *testing.T) {
	t.Parallel()
	tc := TelegramConfig(config.TelegramConfig{Token: "t", Channel: "@c"})
	assert.Equal(t, 10*time.Second, tc.PollTimeout)
	assert.Equal(t, 15*time.Second, tc.SendTimeout)
	assert.Equal(t, "@c", tc.Channel)
}
