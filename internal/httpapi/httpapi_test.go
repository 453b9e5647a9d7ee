package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timerbot/internal/activity"
	"timerbot/internal/clock"
	"timerbot/internal/cooldown"
	"timerbot/internal/profile"
	rtsup "timerbot/internal/runtime/supervisor"
	"timerbot/internal/stats"
	"timerbot/internal/storage"
	logx "timerbot/pkg/logx"
)

var t0 = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type nopNotifier struct{}

func (nopNotifier) NotifyReady(context.Context, cooldown.Ready) error { return nil }

func newTestService(t *testing.T, token string) (*Service, http.Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clk := clock.NewFake(t0)
	st := storage.NewMemory()
	prof := profile.New(st, clk, logx.Nop())
	reg, err := activity.Load(nil)
	require.NoError(t, err)
	agg := stats.NewAggregate(t0)

	eng, err := cooldown.New(cooldown.Deps{
		Registry: reg,
		Profiles: prof,
		Notifier: nopNotifier{},
		Clock:    clk,
		Logger:   logx.Nop(),
		Usage:    agg,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })

	ss, err := stats.New(stats.Deps{Aggregate: agg, Store: st, Profiles: prof, Clock: clk, Location: time.UTC})
	require.NoError(t, err)

	_, err = eng.Trigger(context.Background(), cooldown.Request{UserID: 7, Username: "luigi", ActivityID: "slot"})
	require.NoError(t, err)

	svc := New(Config{}, Deps{Engine: eng, Profiles: prof, Stats: ss}, logx.Nop())
	return svc, svc.Handler(token)
}

func get(t *testing.T, h http.Handler, path string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	_, h := newTestService(t, "secret")

	w := get(t, h, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["armed"])
}

func TestHealthzRuntimeCounters(t *testing.T) {
	svc, h := newTestService(t, "")
	svc.deps.Runtime = func() map[string]rtsup.Counters {
		return map[string]rtsup.Counters{"app": {Active: 3, Started: 4, Panics: 1}}
	}

	w := get(t, h, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Goroutines map[string]rtsup.Counters `json:"goroutines"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, rtsup.Counters{Active: 3, Started: 4, Panics: 1}, body.Goroutines["app"])
}

func TestAuth(t *testing.T) {
	_, h := newTestService(t, "secret")

	cases := []struct {
		name string
		path string
		hdr  map[string]string
		want int
	}{
		{"missing", "/v1/activities", nil, http.StatusUnauthorized},
		{"wrong bearer", "/v1/activities", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"bearer", "/v1/activities", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"query", "/v1/activities?token=secret", nil, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := get(t, h, tc.path, tc.hdr)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	_, h := newTestService(t, "")
	w := get(t, h, "/healthz", map[string]string{requestIDHeader: "abc-123"})
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestActivities(t *testing.T) {
	_, h := newTestService(t, "")

	w := get(t, h, "/v1/activities", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Activities []activityView `json:"activities"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Activities)

	byID := map[string]activityView{}
	for _, a := range body.Activities {
		byID[a.ID] = a
	}
	require.Contains(t, byID, "slot")
	assert.Equal(t, "la slot", byID["slot"].Label)
	assert.Equal(t, "/avventura", byID["avventura"].Command)
}

func TestUserEndpoints(t *testing.T) {
	_, h := newTestService(t, "")

	w := get(t, h, "/v1/users/7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var p storage.Profile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, int64(7), p.UserID)
	assert.Contains(t, p.LastTimerAt, "slot")

	assert.Equal(t, http.StatusNotFound, get(t, h, "/v1/users/99", nil).Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/v1/users/abc", nil).Code)

	w = get(t, h, "/v1/users/7/timers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var timers struct {
		UserID int64       `json:"user_id"`
		Timers []timerView `json:"timers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &timers))
	assert.Equal(t, int64(7), timers.UserID)

	var slot timerView
	for _, tv := range timers.Timers {
		if tv.Activity == "slot" {
			slot = tv
		}
	}
	assert.True(t, slot.Armed)
	assert.False(t, slot.Available)
	assert.Positive(t, slot.RemainingSeconds)
	require.NotNil(t, slot.ExpiresAt)
}

func TestStats(t *testing.T) {
	_, h := newTestService(t, "")

	w := get(t, h, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body statsView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, uint64(1), body.Today["slot"])
	assert.Equal(t, 1, body.TodayUsers)
	assert.Equal(t, 1, body.ArmedTimers)
}

func TestOptionalRoutesAbsent(t *testing.T) {
	_, h := newTestService(t, "")
	assert.Equal(t, http.StatusNotFound, get(t, h, "/v1/jobs", nil).Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/v1/notifications", nil).Code)
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:8090": true,
		"localhost:80":   true,
		"[::1]:9000":     true,
		"0.0.0.0:8090":   false,
		":8090":          false,
		"10.0.0.5:80":    false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q)=%v want %v", addr, got, want)
		}
	}
}

func TestRefusesInsecureBind(t *testing.T) {
	svc := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, Deps{}, logx.Nop())
	err := svc.Start(context.Background())
	require.ErrorIs(t, err, errInsecureBind)
	assert.Nil(t, svc.Supervisor())

	svc = New(Config{Enabled: true, Addr: "0.0.0.0:0", Token: "t"}, Deps{}, logx.Nop())
	require.NoError(t, svc.Start(context.Background()))
	svc.Stop(context.Background())
}

func TestServeLifecycle(t *testing.T) {
	svc, _ := newTestService(t, "")
	svc.cfg = Config{Enabled: true, Addr: "127.0.0.1:0"}

	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	require.Eventually(t, func() bool { return svc.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + svc.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// same config: nothing to do
	require.NoError(t, svc.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"}))
	assert.NotNil(t, svc.Supervisor())

	require.NoError(t, svc.Reconfigure(ctx, Config{}))
	assert.Nil(t, svc.Supervisor())
	assert.Empty(t, svc.Addr())
}
