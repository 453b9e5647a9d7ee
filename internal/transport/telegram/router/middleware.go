package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "timerbot/pkg/logx"
)

// Handler runs one command.
type Handler func(ctx context.Context, req *Request) error

// Middleware decorates a Handler.
type Middleware func(next Handler) Handler

// slowCommand is the duration above which successful commands log at INFO.
const slowCommand = 750 * time.Millisecond

// wrap applies mws so that mws[0] is the outermost.
func wrap(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

// withDeadline bounds a command. Zero leaves ctx untouched.
func withDeadline(d time.Duration) Middleware {
	if d <= 0 {
		return nil
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// withRecover turns a handler panic into an error.
func withRecover() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Logger.Error("command panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic in /%s: %v", req.Command, r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// withLog records outcome and latency on the request logger.
func withLog() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			dur := time.Since(start)
			switch {
			case err != nil:
				req.Logger.Warn("command failed", logx.Int("args", len(req.Args)), logx.Duration("dur", dur), logx.Err(err))
			case dur >= slowCommand:
				req.Logger.Info("command slow", logx.Int("args", len(req.Args)), logx.Duration("dur", dur))
			default:
				req.Logger.Debug("command ok", logx.Int("args", len(req.Args)), logx.Duration("dur", dur))
			}
			return err
		}
	}
}

// userLimiter keeps one token bucket per user. Idle buckets are dropped on
// sweep so the map does not grow with every user ever seen.
type userLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	byUser  map[int64]*userBucket
	idleTTL time.Duration
}

type userBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newUserLimiter(perSec float64, burst int) *userLimiter {
	if perSec <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &userLimiter{
		limit:   rate.Limit(perSec),
		burst:   burst,
		byUser:  map[int64]*userBucket{},
		idleTTL: 10 * time.Minute,
	}
}

func (u *userLimiter) allow(userID int64, now time.Time) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	b := u.byUser[userID]
	if b == nil {
		b = &userBucket{lim: rate.NewLimiter(u.limit, u.burst)}
		u.byUser[userID] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

func (u *userLimiter) sweep(now time.Time) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for id, b := range u.byUser {
		if now.Sub(b.seen) > u.idleTTL {
			delete(u.byUser, id)
			n++
		}
	}
	return n
}

// withUserLimit drops commands from users above their rate. Admins are exempt.
func withUserLimit(u *userLimiter, isAdmin func(int64) bool) Middleware {
	if u == nil {
		return nil
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) error {
			if !isAdmin(req.FromID) && !u.allow(req.FromID, time.Now()) {
				req.Logger.Debug("command throttled")
				return nil
			}
			return next(ctx, req)
		}
	}
}
