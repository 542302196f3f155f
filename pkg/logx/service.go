package logx

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const defaultLogFile = "./ipwatch.log"

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig forwards records at or above MinLevel to the chat sink.
type TelegramConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

// Sink receives rendered log records for chat delivery. The transport
// implements it so logx never imports a transport.
type Sink interface {
	SendLog(ctx context.Context, text string) error
}

// Service owns the live outputs. Loggers derived from it follow every Apply.
type Service struct {
	mu   sync.Mutex
	file *os.File
	zl   atomic.Pointer[zerolog.Logger]
	chat *chatForwarder
}

// New applies cfg and returns the service with its root logger. sink may be
// nil and installed later with SetSink.
func New(cfg Config, sink Sink) (*Service, Logger) {
	setGlobals()
	s := &Service{chat: newChatForwarder(sink)}
	s.Apply(cfg)
	return s, Logger{src: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.zl.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) SetSink(sink Sink) { s.chat.setSink(sink) }

// Apply rebuilds the outputs from cfg. With no output enabled, records go
// to the console.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, consoleWriter(os.Stdout))
	}

	var file *os.File
	if cfg.File.Enabled {
		path := cmp.Or(strings.TrimSpace(cfg.File.Path), defaultLogFile)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		} else {
			file = f
			outs = append(outs, zerolog.SyncWriter(f))
		}
	}

	if cfg.Telegram.Enabled {
		s.chat.configure(levelOr(cfg.Telegram.MinLevel, zerolog.WarnLevel), cfg.Telegram.RatePerSec)
		outs = append(outs, s.chat)
	}

	if len(outs) == 0 {
		outs = append(outs, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(levelOr(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.zl.Store(&zl)

	// The old file is closed only after no new record can reach it.
	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = file
}

// Close stops chat forwarding and closes the log file.
func (s *Service) Close() error {
	s.chat.close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
