package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	chatMaxLen      = 3500
	chatFieldMaxLen = 600
	chatSendTimeout = 10 * time.Second
	chatQueueSize   = 128
)

// chatForwarder is a zerolog.LevelWriter that hands selected records to a
// Sink from its own goroutine. Logging never waits on the chat.
type chatForwarder struct {
	mu      sync.Mutex
	sink    Sink
	min     zerolog.Level
	limiter *rate.Limiter

	queue     chan string
	stop      context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func newChatForwarder(sink Sink) *chatForwarder {
	ctx, cancel := context.WithCancel(context.Background())
	f := &chatForwarder{
		sink:    sink,
		min:     zerolog.WarnLevel,
		limiter: rate.NewLimiter(1, 1),
		queue:   make(chan string, chatQueueSize),
		stop:    cancel,
		done:    make(chan struct{}),
	}
	go f.run(ctx)
	return f
}

func (f *chatForwarder) configure(min zerolog.Level, perSec int) {
	perSec = max(1, perSec)
	f.mu.Lock()
	f.min = min
	f.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
	f.mu.Unlock()
}

func (f *chatForwarder) setSink(sink Sink) {
	f.mu.Lock()
	f.sink = sink
	f.mu.Unlock()
}

func (f *chatForwarder) Write(p []byte) (int, error) {
	return f.WriteLevel(zerolog.InfoLevel, p)
}

// WriteLevel queues the record when it passes the level and rate gates.
// A full queue drops it.
func (f *chatForwarder) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	f.mu.Lock()
	admit := level >= f.min && f.limiter.Allow()
	f.mu.Unlock()
	if admit {
		select {
		case f.queue <- chatText(p):
		default:
		}
	}
	return len(p), nil
}

func (f *chatForwarder) run(ctx context.Context) {
	defer close(f.done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-f.queue:
			f.mu.Lock()
			sink := f.sink
			f.mu.Unlock()
			if sink == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, chatSendTimeout)
			_ = sink.SendLog(sctx, text)
			cancel()
		}
	}
}

func (f *chatForwarder) close() {
	f.closeOnce.Do(func() {
		f.stop()
		<-f.done
	})
}

// chatText renders one JSON record as "LEVEL message" followed by one
// "key: value" line per field. Non-JSON input passes through trimmed.
func chatText(p []byte) string {
	line := bytes.TrimSpace(p)
	var rec map[string]any
	if err := json.Unmarshal(line, &rec); err != nil {
		return clip(string(line), chatMaxLen)
	}

	var b strings.Builder
	if lvl, _ := rec[zerolog.LevelFieldName].(string); lvl != "" {
		b.WriteString(strings.ToUpper(lvl))
		b.WriteByte(' ')
	}
	msg, _ := rec[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	for _, k := range slices.Sorted(maps.Keys(rec)) {
		switch k {
		case zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.TimestampFieldName:
			continue
		}
		fmt.Fprintf(&b, "\n%s: %s", k, clip(fmt.Sprint(rec[k]), chatFieldMaxLen))
	}
	return clip(b.String(), chatMaxLen)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n-1], "") + "…"
}
