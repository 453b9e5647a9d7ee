package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	kit "timerbot/internal/transport"
)

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

// ChatConfig controls mirroring of log lines into the admin log chat.
type ChatConfig struct {
	Enabled    bool
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

const defaultLogFile = "./timerbot.log"

// Service owns the log sinks. Apply rebuilds them; loggers handed out
// earlier pick up the change on their next event.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	file *os.File
	chat *chatSink

	zl atomic.Pointer[zerolog.Logger]
}

// New applies cfg and returns the service with its root logger. sender is
// used by the chat sink and may be nil.
func New(cfg Config, sender kit.Adapter) (*Service, Logger) {
	setupZerolog()
	s := &Service{chat: newChatSink(sender)}
	s.Apply(cfg)
	return s, Logger{src: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.zl.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{src: s} }

// SetLogChat points the chat sink at chatID; 0 turns mirroring off.
// A zero threadID keeps the configured one.
func (s *Service) SetLogChat(chatID int64, threadID int) {
	s.chat.target(chatID, threadID)
}

// Apply swaps sinks and levels. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}
	if f := s.reopen(cfg.File); f != nil {
		sinks = append(sinks, zerolog.SyncWriter(f))
	}
	s.chat.configure(cfg.Chat)
	if cfg.Chat.Enabled {
		s.chat.start()
		sinks = append(sinks, s.chat)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}

	zl := build(cfg.Level, zerolog.MultiLevelWriter(sinks...))
	s.zl.Store(&zl)
}

// reopen closes the current log file and opens the configured one.
// Failures are reported on stderr; logging carries on without the file.
func (s *Service) reopen(fc FileConfig) *os.File {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if !fc.Enabled {
		return nil
	}
	path := strings.TrimSpace(fc.Path)
	if path == "" {
		path = defaultLogFile
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		return nil
	}
	s.file = f
	return f
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
