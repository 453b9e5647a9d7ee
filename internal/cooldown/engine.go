// Package cooldown implements the per-(user, activity) cooldown ledger and the
// timer engine that arms, replaces and fires one-shot "ready" notifications.
//
// Locking: every pair has its own mutex. Trigger, Modify, Cancel, fire and
// AdminReset serialize on it; distinct pairs never contend. Profile writes
// happen after the pair lock is released.
package cooldown

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"timerbot/internal/activity"
	"timerbot/internal/clock"
	"timerbot/internal/eventbus"
	"timerbot/internal/profile"
	"timerbot/internal/transport"
	logx "timerbot/pkg/logx"
)

// Ready is handed to the Notifier when an armed task fires.
type Ready struct {
	TaskID   uuid.UUID
	UserID   int64
	Username string
	Activity activity.Activity
	// Origin is the message that started the timer; nil after a restart.
	Origin *transport.MessageRef
	Custom bool
	At     time.Time
}

// Notifier delivers ready notifications. One attempt, no retry.
type Notifier interface {
	NotifyReady(ctx context.Context, r Ready) error
}

// UsageSink observes successful triggers (daily aggregate).
type UsageSink interface {
	Record(userID int64, activityID string)
}

// Deps wires the engine. Registry, Profiles and Notifier are required.
type Deps struct {
	Registry  *activity.Registry
	Profiles  *profile.Store
	Notifier  Notifier
	Clock     clock.Clock
	Logger    logx.Logger
	Bus       eventbus.Bus
	Directory transport.UserDirectory
	Usage     UsageSink

	// FireTimeout bounds a single delivery. Default 30s.
	FireTimeout time.Duration
}

type task struct {
	id        uuid.UUID
	key       Key
	username  string
	origin    *transport.MessageRef
	armedAt   time.Time
	expiresAt time.Time
	custom    bool
	timer     clock.Timer
}

type pair struct {
	mu   sync.Mutex
	task *task
}

type Engine struct {
	reg      *activity.Registry
	ledger   *Ledger
	profiles *profile.Store
	notify   Notifier
	clk      clock.Clock
	log      logx.Logger
	bus      eventbus.Bus
	dir      transport.UserDirectory
	usage    UsageSink

	fireTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	pairs    map[Key]*pair
	closed   bool
	inflight sync.WaitGroup
}

func New(d Deps) (*Engine, error) {
	if d.Registry == nil || d.Profiles == nil || d.Notifier == nil {
		return nil, fmt.Errorf("cooldown: registry, profiles and notifier are required")
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger.IsZero() {
		d.Logger = logx.Nop()
	}
	if d.FireTimeout <= 0 {
		d.FireTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		reg:         d.Registry,
		ledger:      NewLedger(),
		profiles:    d.Profiles,
		notify:      d.Notifier,
		clk:         d.Clock,
		log:         d.Logger.With(logx.String("comp", "cooldown")),
		bus:         d.Bus,
		dir:         d.Directory,
		usage:       d.Usage,
		fireTimeout: d.FireTimeout,
		ctx:         ctx,
		cancel:      cancel,
		pairs:       map[Key]*pair{},
	}, nil
}

func (e *Engine) Registry() *activity.Registry { return e.reg }
func (e *Engine) Ledger() *Ledger              { return e.ledger }

func (e *Engine) pair(k Key) *pair {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pairs[k]
	if !ok {
		p = &pair{}
		e.pairs[k] = p
	}
	return p
}

func (e *Engine) activity(id string) (activity.Activity, error) {
	a, ok := e.reg.Get(id)
	if !ok {
		return activity.Activity{}, fmt.Errorf("%w: %q", ErrUnknownActivity, id)
	}
	return a, nil
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// IsEligible reports whether the user may start the activity now.
func (e *Engine) IsEligible(userID int64, activityID string) bool {
	a, err := e.activity(activityID)
	if err != nil {
		return false
	}
	return e.ledger.IsEligible(userID, a, e.clk.Now())
}

// Remaining returns the cooldown left for the pair at the current time.
func (e *Engine) Remaining(userID int64, activityID string) time.Duration {
	a, err := e.activity(activityID)
	if err != nil {
		return 0
	}
	return e.ledger.Remaining(userID, a, e.clk.Now())
}

// Request identifies who triggered what and from which message.
type Request struct {
	UserID     int64
	Username   string
	ActivityID string
	Origin     *transport.MessageRef
}

// Outcome tells the caller how to acknowledge a successful call.
type Outcome struct {
	Activity  activity.Activity
	Armed     bool
	Silent    bool // no acknowledgment should be sent
	ExpiresAt time.Time
	TaskID    uuid.UUID
}

// Trigger starts the activity's cooldown. It fails with *CooldownError when
// the previous cooldown has not elapsed yet.
func (e *Engine) Trigger(ctx context.Context, req Request) (Outcome, error) {
	if e.isClosed() {
		return Outcome{}, ErrClosed
	}
	a, err := e.activity(req.ActivityID)
	if err != nil {
		return Outcome{}, err
	}

	// Load outside the pair lock; the read below is then served from cache.
	_, err = e.profiles.Get(ctx, req.UserID)
	cached := err == nil
	if !cached {
		e.log.Warn("profile unavailable, assuming notifications on",
			logx.Int64("user_id", req.UserID), logx.Err(err))
	}

	key := Key{req.UserID, a.ID}
	pr := e.pair(key)

	pr.mu.Lock()
	now := e.clk.Now()
	if left := e.ledger.Remaining(req.UserID, a, now); left > 0 {
		pr.mu.Unlock()
		return Outcome{}, &CooldownError{Activity: a.ID, Remaining: left}
	}
	// SetNotifications commits the flag before it cancels under this lock,
	// so reading it here cannot arm a task that outlives an opt-out.
	notify := true
	if cached {
		if p, ok, err := e.profiles.Lookup(ctx, req.UserID); err == nil && ok {
			notify = profile.NotificationsEnabled(p, a.ID)
		}
	}
	e.cancelLocked(pr, "retrigger")
	e.ledger.RecordStart(req.UserID, a.ID, now)
	out := Outcome{Activity: a, ExpiresAt: now.Add(a.Cooldown)}
	if notify {
		t := e.armLocked(pr, key, req, a.Cooldown, false, now)
		out.Armed, out.TaskID = true, t.id
	} else {
		out.Silent = a.SilentWhenMuted
	}
	pr.mu.Unlock()

	if e.usage != nil {
		e.usage.Record(req.UserID, a.ID)
	}
	if _, err := e.profiles.RecordUsage(ctx, req.UserID, req.Username, a.ID, now); err != nil {
		e.log.Warn("trigger not persisted", logx.Int64("user_id", req.UserID), logx.String("activity", a.ID), logx.Err(err))
	}

	e.log.Debug("triggered",
		logx.Int64("user_id", req.UserID),
		logx.String("activity", a.ID),
		logx.Bool("armed", out.Armed),
	)
	return out, nil
}

// Modify replaces the armed task with one firing after seconds. The ledger is
// left alone until the shortened task fires.
func (e *Engine) Modify(ctx context.Context, req Request, seconds int64) (Outcome, error) {
	if e.isClosed() {
		return Outcome{}, ErrClosed
	}
	a, err := e.activity(req.ActivityID)
	if err != nil {
		return Outcome{}, err
	}
	key := Key{req.UserID, a.ID}
	pr := e.pair(key)

	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.task == nil {
		return Outcome{}, ErrNoActiveTimer
	}
	limit := a.CooldownSeconds()
	if seconds <= 0 || seconds > limit {
		return Outcome{}, &RangeError{Min: 1, Max: limit}
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	if req.Origin == nil {
		req.Origin = pr.task.origin
	}
	if req.Username == "" {
		req.Username = pr.task.username
	}
	e.cancelLocked(pr, "modify")
	now := e.clk.Now()
	t := e.armLocked(pr, key, req, time.Duration(seconds)*time.Second, true, now)

	e.log.Debug("timer modified",
		logx.Int64("user_id", req.UserID),
		logx.String("activity", a.ID),
		logx.Int64("seconds", seconds),
	)
	return Outcome{Activity: a, Armed: true, ExpiresAt: t.expiresAt, TaskID: t.id}, nil
}

// Cancel drops the armed task, if any. It reports whether one was removed.
func (e *Engine) Cancel(userID int64, activityID string) bool {
	pr := e.pair(Key{userID, activityID})
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return e.cancelLocked(pr, "cancel")
}

// SetNotifications stores the per-activity flag. Disabling also drops the
// armed task, after the flag is committed.
func (e *Engine) SetNotifications(ctx context.Context, userID int64, activityID string, enabled bool) error {
	a, err := e.activity(activityID)
	if err != nil {
		return err
	}
	_, err = e.profiles.SetNotification(ctx, userID, a.ID, enabled)
	if !enabled {
		e.Cancel(userID, a.ID)
	}
	return err
}

// ToggleNotifications flips the flag and returns the new value.
func (e *Engine) ToggleNotifications(ctx context.Context, userID int64, activityID string) (bool, error) {
	a, err := e.activity(activityID)
	if err != nil {
		return false, err
	}
	p, err := e.profiles.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	enabled := !profile.NotificationsEnabled(p, a.ID)
	return enabled, e.SetNotifications(ctx, userID, a.ID, enabled)
}

// AdminReset cancels and force-expires the pair so the user may start again
// immediately. An empty activityID resets every activity. It returns the
// reset activity IDs.
func (e *Engine) AdminReset(ctx context.Context, userID int64, activityID string) ([]string, error) {
	var acts []activity.Activity
	if activityID == "" {
		acts = e.reg.All()
	} else {
		a, err := e.activity(activityID)
		if err != nil {
			return nil, err
		}
		acts = []activity.Activity{a}
	}

	ids := make([]string, 0, len(acts))
	for _, a := range acts {
		pr := e.pair(Key{userID, a.ID})
		pr.mu.Lock()
		e.cancelLocked(pr, "admin_reset")
		e.ledger.ForceExpire(userID, a, e.clk.Now())
		pr.mu.Unlock()
		ids = append(ids, a.ID)
	}

	_, err := e.profiles.ClearLastTimer(ctx, userID, ids...)
	return ids, err
}

// TimerStatus is a read-only view of one pair.
type TimerStatus struct {
	Activity  activity.Activity
	StartedAt time.Time
	Remaining time.Duration
	Armed     bool
	Custom    bool
	ExpiresAt time.Time // armed task deadline
}

// Timers lists every activity for the user in registry order.
func (e *Engine) Timers(userID int64) []TimerStatus {
	now := e.clk.Now()
	acts := e.reg.All()
	out := make([]TimerStatus, 0, len(acts))
	for _, a := range acts {
		st := TimerStatus{Activity: a, Remaining: e.ledger.Remaining(userID, a, now)}
		st.StartedAt, _ = e.ledger.StartedAt(userID, a.ID)

		pr := e.pair(Key{userID, a.ID})
		pr.mu.Lock()
		if pr.task != nil {
			st.Armed, st.Custom, st.ExpiresAt = true, pr.task.custom, pr.task.expiresAt
		}
		pr.mu.Unlock()
		out = append(out, st)
	}
	return out
}

// Armed returns the number of live tasks.
func (e *Engine) Armed() int {
	e.mu.Lock()
	prs := make([]*pair, 0, len(e.pairs))
	for _, p := range e.pairs {
		prs = append(prs, p)
	}
	e.mu.Unlock()

	n := 0
	for _, p := range prs {
		p.mu.Lock()
		if p.task != nil {
			n++
		}
		p.mu.Unlock()
	}
	return n
}

// ArmedKeys returns the pairs with a live task, sorted.
func (e *Engine) ArmedKeys() []Key {
	e.mu.Lock()
	keys := make([]Key, 0, len(e.pairs))
	prs := make([]*pair, 0, len(e.pairs))
	for k, p := range e.pairs {
		keys = append(keys, k)
		prs = append(prs, p)
	}
	e.mu.Unlock()

	var out []Key
	for i, p := range prs {
		p.mu.Lock()
		if p.task != nil {
			out = append(out, keys[i])
		}
		p.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Activity < out[j].Activity
	})
	return out
}

// Close stops every armed task and waits for in-flight deliveries.
// Persisted LastTimerAt values are kept so Recover can re-arm them.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	prs := make([]*pair, 0, len(e.pairs))
	for _, p := range e.pairs {
		prs = append(prs, p)
	}
	e.mu.Unlock()

	for _, p := range prs {
		p.mu.Lock()
		e.cancelLocked(p, "shutdown")
		p.mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		return ctx.Err()
	}
}

// armLocked installs a new task. pr.mu must be held and pr.task must be nil.
func (e *Engine) armLocked(pr *pair, key Key, req Request, delay time.Duration, custom bool, now time.Time) *task {
	t := &task{
		id:        uuid.New(),
		key:       key,
		username:  req.Username,
		origin:    req.Origin,
		armedAt:   now,
		expiresAt: now.Add(delay),
		custom:    custom,
	}
	pr.task = t
	t.timer = e.clk.AfterFunc(delay, func() { e.fire(t) })

	eventbus.Emit(e.bus, eventbus.TimerArmed, now, map[string]any{
		"user_id":  key.UserID,
		"activity": key.Activity,
		"task_id":  t.id.String(),
		"custom":   custom,
		"delay":    delay.String(),
	})
	return t
}

// cancelLocked stops and unregisters the current task. pr.mu must be held.
func (e *Engine) cancelLocked(pr *pair, reason string) bool {
	t := pr.task
	if t == nil {
		return false
	}
	pr.task = nil
	if t.timer != nil {
		t.timer.Stop()
	}
	eventbus.Emit(e.bus, eventbus.TimerCancelled, e.clk.Now(), map[string]any{
		"user_id":  t.key.UserID,
		"activity": t.key.Activity,
		"task_id":  t.id.String(),
		"reason":   reason,
	})
	return true
}

// fire runs when a task's delay elapses. A task that is no longer the pair's
// registered task is stale and does nothing.
func (e *Engine) fire(t *task) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.inflight.Add(1)
	e.mu.Unlock()
	defer e.inflight.Done()

	pr := e.pair(t.key)
	pr.mu.Lock()
	if pr.task != t {
		pr.mu.Unlock()
		e.log.Debug("stale task ignored", logx.String("task_id", t.id.String()))
		return
	}
	defer func() {
		pr.mu.Lock()
		if pr.task == t {
			pr.task = nil
		}
		pr.mu.Unlock()
	}()

	a, ok := e.reg.Get(t.key.Activity)
	now := e.clk.Now()
	if ok && t.custom {
		e.ledger.ForceExpire(t.key.UserID, a, now)
	}
	pr.mu.Unlock()

	if !ok {
		return
	}
	e.deliver(t, a, now)
}

func (e *Engine) deliver(t *task, a activity.Activity, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic in timer callback",
				logx.Int64("user_id", t.key.UserID),
				logx.String("activity", t.key.Activity),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(e.ctx, e.fireTimeout)
	defer cancel()

	username := t.username
	if username == "" {
		username = e.displayName(ctx, t.key.UserID)
	}
	err := e.notify.NotifyReady(ctx, Ready{
		TaskID:   t.id,
		UserID:   t.key.UserID,
		Username: username,
		Activity: a,
		Origin:   t.origin,
		Custom:   t.custom,
		At:       now,
	})
	data := map[string]any{
		"user_id":  t.key.UserID,
		"activity": t.key.Activity,
		"task_id":  t.id.String(),
		"custom":   t.custom,
	}
	if err != nil {
		e.log.Warn("ready notification failed",
			logx.Int64("user_id", t.key.UserID),
			logx.String("activity", a.ID),
			logx.Err(err),
		)
		data["error"] = err.Error()
	}
	eventbus.Emit(e.bus, eventbus.TimerFired, now, data)
}

// displayName resolves a username for users without one in memory.
func (e *Engine) displayName(ctx context.Context, userID int64) string {
	if p, ok, err := e.profiles.Lookup(ctx, userID); err == nil && ok && p.Username != "" {
		return p.Username
	}
	if e.dir != nil {
		if name, err := e.dir.LookupUsername(ctx, userID); err == nil && name != "" {
			return name
		} else if err != nil {
			e.log.Debug("username lookup failed", logx.Int64("user_id", userID), logx.Err(err))
		}
	}
	return Placeholder(userID)
}

// Placeholder is the display name used when a user has no username.
func Placeholder(userID int64) string {
	return "utente_" + strconv.FormatInt(userID, 10)
}
