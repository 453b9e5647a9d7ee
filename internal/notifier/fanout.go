package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	rtsup "timerbot/internal/runtime/supervisor"
	logx "timerbot/pkg/logx"
)

// Item is one message of a fan-out job.
type Item struct {
	Delivery Delivery
}

type fanJob struct {
	id    string
	name  string
	items []Item
}

// JobStatus reports progress of a fan-out job.
type JobStatus struct {
	ID      string
	Name    string
	Total   int
	Done    int
	Failed  int
	Running bool
	// CreatedAt is when the status entry was created (i.e., when Submit() was called).
	CreatedAt time.Time
	StartedAt time.Time
	DoneAt    time.Time
}

// Fanout paces bulk deliveries through a worker pool. Each item is a single
// Deliver call; failures are counted, never retried.
type Fanout struct {
	mu sync.Mutex

	svc *Service
	log logx.Logger

	limiter *rate.Limiter
	queue   chan fanJob
	sup     *rtsup.Supervisor

	statusMu  sync.RWMutex
	status    map[string]*JobStatus
	statusMax int
	statusTTL time.Duration
	seq       uint64
}

func NewFanout(svc *Service, log logx.Logger) *Fanout {
	if log.IsZero() {
		log = logx.Nop()
	}
	f := &Fanout{
		svc:       svc,
		log:       log.With(logx.String("comp", "fanout")),
		status:    map[string]*JobStatus{},
		statusMax: 200,
		statusTTL: 24 * time.Hour,
	}
	f.Apply(svc.config())
	return f
}

// Apply refreshes the pacing rate. Pool size changes apply on next Start.
func (f *Fanout) Apply(cfg Config) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	f.mu.Lock()
	f.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	f.mu.Unlock()
}

// Supervisor returns the worker supervisor (nil if not started).
func (f *Fanout) Supervisor() *rtsup.Supervisor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sup
}

// Start launches the workers under a supervisor. It is idempotent.
func (f *Fanout) Start(ctx context.Context) {
	f.mu.Lock()
	if f.sup != nil {
		f.mu.Unlock()
		return
	}
	cfg := f.svc.config()
	f.queue = make(chan fanJob, cfg.QueueSize)
	f.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(f.log),
		rtsup.WithCancelOnError(false),
	)
	sup, q := f.sup, f.queue
	f.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		name := fmt.Sprintf("fanout.worker.%d", i)
		sup.GoRestart(name, func(c context.Context) error {
			f.worker(c, q)
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("fanout worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	f.log.Info("fanout started", logx.Int("workers", cfg.Workers), logx.Int("rps", cfg.RatePerSec))
}

// Stop cancels the workers and waits for them up to ctx.
func (f *Fanout) Stop(ctx context.Context) {
	f.mu.Lock()
	sup := f.sup
	f.sup = nil
	f.queue = nil
	f.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	_ = sup.Wait(ctx)
}

// Submit enqueues a job and returns its id.
func (f *Fanout) Submit(name string, items []Item) (string, error) {
	now := time.Now()
	f.pruneStatus(now)

	f.statusMu.Lock()
	f.seq++
	id := fmt.Sprintf("fan:%d:%d", now.Unix(), f.seq)
	f.status[id] = &JobStatus{ID: id, Name: name, Total: len(items), CreatedAt: now}
	f.statusMu.Unlock()

	f.mu.Lock()
	q := f.queue
	f.mu.Unlock()
	if q == nil {
		f.abort(id)
		return id, ErrStopped
	}
	select {
	case q <- fanJob{id: id, name: name, items: items}:
		f.log.Debug("fanout job enqueued", logx.String("job", id), logx.String("name", name), logx.Int("total", len(items)))
		return id, nil
	default:
		f.log.Warn("fanout queue full; dropping job", logx.String("job", id), logx.String("name", name))
		f.abort(id)
		return id, ErrQueueFull
	}
}

func (f *Fanout) Status(id string) (JobStatus, bool) {
	f.statusMu.RLock()
	defer f.statusMu.RUnlock()
	st, ok := f.status[id]
	if !ok {
		return JobStatus{}, false
	}
	return *st, true
}

func (f *Fanout) worker(ctx context.Context, q <-chan fanJob) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-q:
			f.exec(ctx, j)
		}
	}
}

func (f *Fanout) exec(ctx context.Context, j fanJob) {
	start := time.Now()
	f.update(j.id, func(st *JobStatus) { st.Running, st.StartedAt = true, start })

	for _, it := range j.items {
		f.mu.Lock()
		lim := f.limiter
		f.mu.Unlock()
		if err := lim.Wait(ctx); err != nil {
			break
		}
		err := f.svc.Deliver(ctx, it.Delivery)
		f.update(j.id, func(st *JobStatus) {
			st.Done++
			if err != nil {
				st.Failed++
			}
		})
	}

	var snap JobStatus
	f.update(j.id, func(st *JobStatus) {
		st.Running, st.DoneAt = false, time.Now()
		snap = *st
	})
	fields := []logx.Field{
		logx.String("job", j.id),
		logx.String("name", j.name),
		logx.Int("total", snap.Total),
		logx.Int("failed", snap.Failed),
		logx.Duration("dur", time.Since(start)),
	}
	if snap.Failed > 0 {
		f.log.Warn("fanout job finished with failures", fields...)
	} else {
		f.log.Info("fanout job finished", fields...)
	}
}

func (f *Fanout) update(id string, fn func(st *JobStatus)) {
	f.statusMu.Lock()
	defer f.statusMu.Unlock()
	if st := f.status[id]; st != nil {
		fn(st)
	}
}

func (f *Fanout) abort(id string) {
	f.update(id, func(st *JobStatus) {
		st.DoneAt = time.Now()
		st.Failed = st.Total
	})
}

// pruneStatus keeps the status map bounded by age and size.
func (f *Fanout) pruneStatus(now time.Time) {
	f.statusMu.Lock()
	defer f.statusMu.Unlock()
	for id, st := range f.status {
		if !st.Running && now.Sub(st.CreatedAt) > f.statusTTL {
			delete(f.status, id)
		}
	}
	for len(f.status) > f.statusMax {
		var oldest string
		var at time.Time
		for id, st := range f.status {
			if st.Running {
				continue
			}
			if oldest == "" || st.CreatedAt.Before(at) {
				oldest, at = id, st.CreatedAt
			}
		}
		if oldest == "" {
			return
		}
		delete(f.status, oldest)
	}
}
