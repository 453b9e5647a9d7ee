// Package httpapi serves a small read-only JSON API over the bot state:
// health, aggregate statistics, the activity table, user profiles and timers.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"timerbot/internal/cooldown"
	"timerbot/internal/notifier"
	"timerbot/internal/profile"
	rtsup "timerbot/internal/runtime/supervisor"
	"timerbot/internal/stats"
	"timerbot/internal/task/scheduler"
	logx "timerbot/pkg/logx"
)

// Config controls the optional HTTP server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - A non-loopback address needs Token or AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Deps are the read sources. Engine and Profiles are required; the rest
// enable their endpoints when set.
type Deps struct {
	Engine    *cooldown.Engine
	Profiles  *profile.Store
	Stats     *stats.Service
	Scheduler *scheduler.Service
	Notifier  *notifier.Service

	// Runtime reports goroutine counters per component for /healthz.
	Runtime func() map[string]rtsup.Counters
}

const defaultAddr = "127.0.0.1:8090"

var errInsecureBind = errors.New("insecure bind: non-loopback address needs http.token or http.allow_insecure")

type Service struct {
	log     logx.Logger
	deps    Deps
	started time.Time

	mu   sync.Mutex
	cfg  Config
	run  *rtsup.Supervisor
	addr string
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, deps: deps, log: log.With(logx.String("comp", "httpapi")), started: time.Now()}
}

// Supervisor returns the server supervisor (nil if not running).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr is the bound listen address while serving, "" otherwise.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Reconfigure applies cfg, restarting the server when anything changed.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	same := s.cfg == cfg && (s.run != nil) == cfg.Enabled
	s.mu.Unlock()
	if same {
		return nil
	}
	s.Stop(ctx)
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	if !cfg.Enabled {
		return nil
	}
	return s.Start(ctx)
}

// Start checks the bind address and serves in the background. Listen
// failures are retried with backoff. It is a no-op when disabled or running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != nil || !s.cfg.Enabled {
		return nil
	}
	cfg := s.cfg
	if cfg.Addr = strings.TrimSpace(cfg.Addr); cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if !cfg.AllowInsecure && cfg.Token == "" && !isLoopbackAddr(cfg.Addr) {
		s.log.Error("http api not started", logx.String("addr", cfg.Addr), logx.Err(errInsecureBind))
		return errInsecureBind
	}

	s.run = rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log))
	s.run.GoRestart("http.serve", func(c context.Context) error { return s.serve(c, cfg) },
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
	return nil
}

// Stop shuts the server down and waits for it, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	run := s.run
	s.run = nil
	s.mu.Unlock()
	if run == nil {
		return
	}
	if err := run.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("http api stop", logx.Err(err))
	}
	s.log.Info("http api stopped")
}

// serve listens and serves until ctx ends. A clean shutdown returns nil.
func (s *Service) serve(ctx context.Context, cfg Config) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:      s.Handler(cfg.Token),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	s.setAddr(ln.Addr().String())
	defer s.setAddr("")
	s.log.Info("http api listening", logx.String("addr", ln.Addr().String()), logx.Bool("auth", cfg.Token != ""))

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			_ = srv.Close()
		}
		<-errc
		return nil
	}
}

func (s *Service) setAddr(a string) {
	s.mu.Lock()
	s.addr = a
	s.mu.Unlock()
}

// isLoopbackAddr reports whether host:port names a loopback host. An empty
// host binds every interface and is not loopback.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
