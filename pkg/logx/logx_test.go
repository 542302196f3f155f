package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, zerolog.DebugLevel, levelOr("debug", zerolog.InfoLevel))
	assert.Equal(t, zerolog.WarnLevel, levelOr(" warning ", zerolog.InfoLevel))
	assert.Equal(t, zerolog.InfoLevel, levelOr("nope", zerolog.InfoLevel))
	assert.True(t, ValidLevel(""))
	assert.False(t, ValidLevel("verbose"))
}

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "DEBUG").With(String("comp", "detector"))
	log.Info("cycle done", Int("delivered", 3), Err(errors.New("boom")))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "detector", m["comp"])
	assert.Equal(t, "cycle done", m["message"])
	assert.EqualValues(t, 3, m["delivered"])
	assert.Equal(t, "boom", m[zerolog.ErrorFieldName])
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	assert.True(t, l.IsZero())
	l.Error("dropped")
	assert.False(t, Nop().IsZero())
}

func TestChatText(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"warn","time":"x","message":"persist failed","comp":"state","driver":"file"}`)
	assert.Equal(t, "WARN persist failed\ncomp: state\ndriver: file", chatText(line))
	assert.Equal(t, "plain text", chatText([]byte("plain text\n")))

	long := chatText([]byte(strings.Repeat("x", chatMaxLen+50)))
	assert.Len(t, []rune(long), chatMaxLen)
	assert.True(t, strings.HasSuffix(long, "…"))
}

type chanSink chan string

func (c chanSink) SendLog(_ context.Context, text string) error {
	c <- text
	return nil
}

func TestServiceForwardsWarningsToChat(t *testing.T) {
	t.Parallel()
	sink := make(chanSink, 4)
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "ipwatch.log")}}, nil)
	t.Cleanup(func() { _ = svc.Close() })

	svc.Apply(Config{
		Level:    "debug",
		File:     FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "ipwatch.log")},
		Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10},
	})
	svc.SetSink(sink)

	log.Info("quiet")
	log.With(String("comp", "notify")).Warn("broadcast failed")

	select {
	case text := <-sink:
		assert.True(t, strings.HasPrefix(text, "WARN broadcast failed"), text)
		assert.Contains(t, text, "comp: notify")
	case <-time.After(2 * time.Second):
		t.Fatal("warning was not forwarded")
	}
	assert.Empty(t, sink)
}
