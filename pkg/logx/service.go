package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Chat    ChatConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// ChatConfig forwards records at or above MinLevel to a chat group, at most
// RatePerSec per second.
type ChatConfig struct {
	Enabled    bool
	GroupID    int64
	MinLevel   string
	RatePerSec int
}

// Service owns the sinks. Apply rebuilds them; Loggers pick up the new root
// on their next write.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *os.File
	chat *chatSink
}

// New applies cfg and returns the service with its root Logger. sender may
// be nil until the transport exists; see SetSender.
func New(cfg Config, sender Sender) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat
	s := &Service{chat: newChatSink(sender)}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) SetSender(sender Sender) { s.chat.setSender(sender) }

// Apply swaps outputs and levels. Safe for concurrent use with logging.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, console(os.Stdout))
	}
	old := s.file
	s.file = nil
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./kibot.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	s.chat.configure(cfg.Chat)
	if cfg.Chat.Enabled {
		sinks = append(sinks, s.chat)
		if cfg.Chat.GroupID == 0 {
			fmt.Fprintln(os.Stderr, "logx: logging.chat enabled without group_id")
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, console(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
	if old != nil {
		_ = old.Close()
	}
}

// Close stops the chat sink and closes the log file.
func (s *Service) Close() error {
	s.chat.stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func console(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
}
