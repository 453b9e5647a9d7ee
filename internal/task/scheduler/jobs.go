package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"timerbot/internal/eventbus"
	logx "timerbot/pkg/logx"
)

// entry is a registered job. running is guarded by Service.mu.
type entry struct {
	name    string
	spec    string
	timeout time.Duration
	fn      Job
	id      cron.EntryID
	running bool
}

// JobEvent is published on the bus after every run.
type JobEvent struct {
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// AddDaily registers job to run every day at HH:MM in the scheduler timezone.
func (s *Service) AddDaily(name, at string, timeout time.Duration, job Job) error {
	hour, minute, err := parseHHMM(at)
	if err != nil {
		return err
	}
	return s.AddCron(name, strconv.Itoa(minute)+" "+strconv.Itoa(hour)+" * * *", timeout, job)
}

// AddCron registers job under name. A job with the same name is replaced.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return errors.New("scheduler: job name required")
	case job == nil:
		return fmt.Errorf("scheduler: %s: nil job", name)
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("scheduler: %s: bad spec %q: %w", name, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(name)
	e := &entry{name: name, spec: spec, timeout: timeout, fn: job}
	s.entries[name] = e
	if s.cr != nil {
		s.scheduleLocked(e)
	}
	return nil
}

// Remove unregisters name and reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	ok := s.dropLocked(strings.TrimSpace(name))
	s.mu.Unlock()
	if ok {
		s.log.Debug("job removed", logx.String("job", name))
	}
	return ok
}

// RunNow runs name synchronously, outside its schedule.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e := s.entries[name]
	s.mu.Unlock()
	if e == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.exec(ctx, e)
}

func (s *Service) dropLocked(name string) bool {
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	if s.cr != nil && e.id != 0 {
		s.cr.Remove(e.id)
	}
	delete(s.entries, name)
	return true
}

func (s *Service) scheduleLocked(e *entry) {
	parent := s.parent
	id, err := s.cr.AddFunc(e.spec, func() { _ = s.exec(parent, e) })
	if err != nil {
		s.log.Error("job not scheduled", logx.String("job", e.name), logx.String("spec", e.spec), logx.Err(err))
		return
	}
	e.id = id
	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("job scheduled",
			logx.String("job", e.name),
			logx.String("spec", e.spec),
			logx.String("next", s.cr.Entry(id).Schedule.Next(time.Now().In(s.locationLocked())).Format(time.DateTime)))
	}
}

func (s *Service) exec(ctx context.Context, e *entry) (err error) {
	s.mu.Lock()
	if e.running {
		s.mu.Unlock()
		s.log.Debug("job still running, trigger skipped", logx.String("job", e.name))
		return ErrOverlapSkip
	}
	e.running = true
	timeout := e.timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	started := time.Now()
	defer func() {
		s.mu.Lock()
		e.running = false
		s.mu.Unlock()
		s.finish(e.name, started, err)
		s.inflight.Done()
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.call(ctx, e)
}

func (s *Service) call(ctx context.Context, e *entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("job panicked", logx.String("job", e.name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return e.fn(ctx)
}

func (s *Service) finish(name string, started time.Time, err error) {
	ev := JobEvent{Name: name, Started: started, Duration: time.Since(started)}
	typ := eventbus.JobFinished
	if err != nil {
		ev.Error = err.Error()
		typ = eventbus.JobFailed
		s.log.Warn("job failed", logx.String("job", name), logx.Duration("dur", ev.Duration), logx.Err(err))
	} else {
		s.log.Info("job done", logx.String("job", name), logx.Duration("dur", ev.Duration))
	}
	s.hist.add(HistoryItem{Name: name, Started: started, Duration: ev.Duration, Error: ev.Error})
	eventbus.Emit(s.bus, typ, time.Now(), ev)
}

func parseHHMM(s string) (hour, minute int, err error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	if hour, err = strconv.Atoi(hs); err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	if minute, err = strconv.Atoi(ms); err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}
