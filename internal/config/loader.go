package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "timerbot/pkg/logx"
)

const reloadDebounce = 250 * time.Millisecond

// Loader reads the config file, overlays secrets from the environment and,
// while Watch runs, republishes the file whenever its content changes.
//
// Updates has a single consumer and holds only the newest config: a reload
// that arrives before the previous one was taken replaces it.
type Loader struct {
	path string
	log  logx.Logger

	mu       sync.RWMutex
	cur      *Config
	hash     uint64
	validate func(*Config) error

	updates chan *Config
}

func NewLoader(path string) *Loader {
	return &Loader{path: path, log: logx.Nop(), updates: make(chan *Config, 1)}
}

func (l *Loader) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		l.log = log
	}
}

// SetValidator installs the check a reloaded config must pass before it is
// committed. The initial Load is not validated here.
func (l *Loader) SetValidator(fn func(*Config) error) {
	l.mu.Lock()
	l.validate = fn
	l.mu.Unlock()
}

// Read parses the file and applies the secrets overlay without committing.
func (l *Loader) Read() (*Config, error) {
	b, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	cfg, err := Decode(l.path, b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(l.path), err)
	}
	sec, err := ReadSecrets()
	if err != nil {
		return nil, fmt.Errorf("env: %w", err)
	}
	sec.Overlay(cfg)
	return cfg, nil
}

func (l *Loader) Load() (*Config, error) {
	cfg, err := l.Read()
	if err != nil {
		return nil, err
	}
	l.commit(cfg, fingerprint(cfg))
	return cfg, nil
}

// Current returns the last committed config.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur
}

func (l *Loader) Updates() <-chan *Config { return l.updates }

func (l *Loader) commit(cfg *Config, h uint64) {
	l.mu.Lock()
	l.cur, l.hash = cfg, h
	l.mu.Unlock()
}

func (l *Loader) publish(cfg *Config) {
	for {
		select {
		case l.updates <- cfg:
			return
		default:
		}
		select {
		case <-l.updates:
		default:
		}
	}
}

// reload re-reads the file and publishes it if it parsed, changed and
// passed validation. It reports whether a new config was published.
func (l *Loader) reload() bool {
	cfg, err := l.Read()
	if err != nil {
		l.log.Warn("config reload failed", logx.String("path", l.path), logx.Err(err))
		return false
	}
	h := fingerprint(cfg)

	l.mu.RLock()
	same, validate := h != 0 && h == l.hash, l.validate
	l.mu.RUnlock()
	if same {
		l.log.Debug("config unchanged", logx.String("path", l.path))
		return false
	}
	if validate != nil {
		if err := validate(cfg); err != nil {
			l.log.Warn("config rejected", logx.String("path", l.path), logx.Err(err))
			return false
		}
	}
	l.commit(cfg, h)
	l.publish(cfg)
	l.log.Info("config reloaded", logx.String("path", l.path), logx.String("hash", fmt.Sprintf("%x", h)))
	return true
}

// Watch follows the config directory until ctx ends. Editors often replace
// the file instead of writing it, so the directory is watched and events are
// filtered by name. A broken watcher is returned as an error; callers run
// Watch under a restarting supervisor.
func (l *Loader) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()

	dir, name := filepath.Dir(l.path), filepath.Base(l.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config watch %s: %w", dir, err)
	}
	l.log.Debug("config watch started", logx.String("dir", dir), logx.String("file", name))

	debounce := time.NewTimer(reloadDebounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("config watch: event stream closed")
			}
			if filepath.Base(ev.Name) != name || ev.Op == fsnotify.Chmod {
				continue
			}
			debounce.Reset(reloadDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("config watch: error stream closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				l.log.Warn("config watch overflow, reloading")
				debounce.Reset(reloadDebounce)
				continue
			}
			return fmt.Errorf("config watch: %w", err)
		case <-debounce.C:
			l.reload()
		}
	}
}

func fingerprint(cfg *Config) uint64 {
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}
