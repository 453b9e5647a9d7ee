package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"timerbot/internal/eventbus"
	logx "timerbot/pkg/logx"
)

var (
	ErrOverlapSkip = errors.New("job skipped: previous run still in flight")
	ErrUnknownJob  = errors.New("unknown job")
)

const defaultHistory = 100

// Config controls the scheduler.
type Config struct {
	Enabled bool
	// Timezone is an IANA name such as "Europe/Rome". Empty means time.Local.
	Timezone       string
	DefaultTimeout time.Duration // used when a job registers with timeout 0
	HistorySize    int
}

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Service owns a cron instance and the named jobs registered on it. Jobs
// survive Stop/Start and timezone changes.
type Service struct {
	log    logx.Logger
	bus    eventbus.Bus
	parser cron.Parser

	mu       sync.Mutex
	cfg      Config
	loc      *time.Location
	cr       *cron.Cron
	parent   context.Context
	entries  map[string]*entry
	inflight sync.WaitGroup

	hist history
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log.With(logx.String("comp", "scheduler")),
		bus:     bus,
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		cfg:     cfg,
		parent:  context.Background(),
		entries: make(map[string]*entry),
	}
	s.hist.resize(cfg.HistorySize)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Location returns the timezone schedules are evaluated in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locationLocked()
}

// Apply swaps the config. A running cron is rebuilt when the timezone
// changes; enabling or disabling is left to Start/Stop.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tzChanged := strings.TrimSpace(cfg.Timezone) != strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	s.hist.resize(cfg.HistorySize)
	if tzChanged {
		s.loc = nil
		if s.cr != nil {
			// in-flight runs finish on their own; they need s.mu to do so
			s.cr.Stop()
			s.cr = nil
			s.bootLocked("scheduler restarted")
		}
	}
}

// Start begins triggering jobs; ctx is the parent context of every run.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.cr != nil:
		return
	case !s.cfg.Enabled:
		s.log.Info("scheduler disabled")
		return
	}
	s.parent = ctx
	s.bootLocked("scheduler started")
}

// Stop halts triggering and waits for in-flight runs until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	began := time.Now()
	s.mu.Lock()
	cr := s.cr
	s.cr = nil
	for _, e := range s.entries {
		e.id = 0
	}
	s.mu.Unlock()

	if cr != nil {
		select {
		case <-cr.Stop().Done():
		case <-ctx.Done():
		}
	}
	idle := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with jobs in flight")
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(began)))
}

func (s *Service) bootLocked(msg string) {
	loc := s.locationLocked()
	s.cr = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, e := range s.entries {
		s.scheduleLocked(e)
	}
	s.cr.Start()
	s.log.Info(msg, logx.String("tz", loc.String()), logx.Int("jobs", len(s.entries)))
}

func (s *Service) locationLocked() *time.Location {
	if s.loc != nil {
		return s.loc
	}
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		s.loc = time.Local
		return s.loc
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, using local time", logx.String("tz", tz), logx.Err(err))
		loc = time.Local
	}
	s.loc = loc
	return loc
}
