package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "timerbot/internal/transport"
)

func TestWriterLoggerFieldsAndCaller(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))

	log.Info("armed", Int64("user_id", 7), Err(nil), Duration("left", time.Minute))
	log.Trace("hidden")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "armed", line["message"])
	assert.Equal(t, "test", line["comp"])
	assert.EqualValues(t, 7, line["user_id"])
	assert.NotContains(t, line, "err")
	assert.True(t, strings.HasPrefix(line["caller"].(string), "logx_test.go:"), "caller %v", line["caller"])
}

func TestWithDoesNotShareFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriter(&buf, "info").With(String("a", "1"))
	_ = base.With(String("b", "2"))
	c := base.With(String("c", "3"))

	c.Info("x")
	assert.NotContains(t, buf.String(), `"b"`)
	assert.Contains(t, buf.String(), `"c":"3"`)
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	zero.Error("dropped")
	assert.False(t, Nop().IsZero())
	assert.False(t, Nop().Enabled(LevelError))
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, LevelWarn, parseLevel(" WARNING ", LevelInfo))
	assert.Equal(t, LevelDebug, parseLevel("debug", LevelInfo))
	assert.Equal(t, LevelInfo, parseLevel("loud", LevelInfo))
}

func TestChatText(t *testing.T) {
	t.Parallel()
	got := chatText([]byte(`{"level":"warn","time":"x","message":"send failed","user_id":7,"err":"boom"}`))
	assert.Equal(t, "⚠️ WARN send failed\n- err=boom\n- user_id=7", got)

	assert.Equal(t, "not json", chatText([]byte("not json\n")))
}

func TestClip(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "abc", clip("abc", 5))
	got := clip(strings.Repeat("è", 10), 8)
	assert.LessOrEqual(t, len(got), 8)
	assert.True(t, strings.HasSuffix(got, "…"))
}

type chatRecorder struct {
	mu   sync.Mutex
	sent []string
	to   []kit.ChatTarget
}

func (r *chatRecorder) Start(context.Context, chan<- kit.Update) error { return nil }
func (r *chatRecorder) Stop(context.Context) error                     { return nil }
func (r *chatRecorder) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	r.to = append(r.to, to)
	return kit.MessageRef{}, nil
}

func (r *chatRecorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func TestServiceMirrorsWarningsToChat(t *testing.T) {
	rec := &chatRecorder{}
	svc, log := New(Config{Level: "debug", Chat: ChatConfig{Enabled: true, ThreadID: 3, RatePerSec: 50}}, rec)
	t.Cleanup(func() { _ = svc.Close() })

	log.Warn("before chat id")
	svc.SetLogChat(-100, 0)
	log.Info("too low")
	log.Error("storage down", Err(errors.New("disk full")))

	require.Eventually(t, func() bool { return len(rec.texts()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, strings.HasPrefix(rec.texts()[0], "❌ ERROR storage down"))
	rec.mu.Lock()
	assert.Equal(t, kit.ChatTarget{ChatID: -100, ThreadID: 3}, rec.to[0])
	rec.mu.Unlock()

	// chat sink off again: nothing more is mirrored
	svc.Apply(Config{Level: "debug"})
	log.Error("silent")
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.texts(), 1)
}
