package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "timerbot/internal/transport"
)

const (
	chatQueueSize  = 256
	chatSendTO     = 10 * time.Second
	chatMaxMessage = 3500
	chatMaxValue   = 600
	chatMaxStack   = 900
)

var levelGlyph = map[string]string{
	"warn":  "⚠️",
	"error": "❌",
	"fatal": "💀",
	"panic": "💀",
}

// chatSink mirrors log lines to an admin chat. Lines below the minimum
// level, above the rate, or arriving while the queue is full are dropped;
// logging never waits on the network.
type chatSink struct {
	sender kit.Adapter

	mu       sync.Mutex
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue   chan chatLine
	startMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

type chatLine struct {
	to   kit.ChatTarget
	text string
}

func newChatSink(sender kit.Adapter) *chatSink {
	return &chatSink{
		sender:   sender,
		minLevel: zerolog.WarnLevel,
		limiter:  rate.NewLimiter(1, 1),
		queue:    make(chan chatLine, chatQueueSize),
	}
}

func (c *chatSink) configure(cfg ChatConfig) {
	rps := max(cfg.RatePerSec, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter.SetLimit(rate.Limit(rps))
	c.limiter.SetBurst(rps)
	if cfg.ThreadID != 0 {
		c.threadID = cfg.ThreadID
	}
	if cfg.Enabled && c.chatID == 0 {
		fmt.Fprintln(os.Stderr, "logx: chat logging enabled but telegram.log_chat_id is not set")
	}
}

func (c *chatSink) target(chatID int64, threadID int) {
	c.mu.Lock()
	c.chatID = chatID
	if threadID != 0 {
		c.threadID = threadID
	}
	c.mu.Unlock()
}

func (c *chatSink) start() {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel, c.done = cancel, make(chan struct{})
	go c.run(ctx)
}

func (c *chatSink) stop() {
	c.startMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.startMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (c *chatSink) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case l := <-c.queue:
			if c.sender == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, chatSendTO)
			_, _ = c.sender.SendText(sctx, l.to, l.text, &kit.SendOptions{DisablePreview: true})
			cancel()
		}
	}
}

func (c *chatSink) Write(p []byte) (int, error) { return c.WriteLevel(zerolog.NoLevel, p) }

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	to := kit.ChatTarget{ChatID: c.chatID, ThreadID: c.threadID}
	pass := to.ChatID != 0 && c.sender != nil && level >= c.minLevel && level != zerolog.NoLevel && c.limiter.Allow()
	c.mu.Unlock()
	if !pass {
		return len(p), nil
	}
	if text := chatText(p); text != "" {
		select {
		case c.queue <- chatLine{to: to, text: text}:
		default:
		}
	}
	return len(p), nil
}

// chatText renders a JSON log line as "⚠️ WARN message" followed by one
// "- key=value" line per field, sorted by key.
func chatText(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return clip(raw, chatMaxMessage)
	}
	lvl, _ := m[zerolog.LevelFieldName].(string)
	msg, _ := m[zerolog.MessageFieldName].(string)
	delete(m, zerolog.LevelFieldName)
	delete(m, zerolog.MessageFieldName)
	delete(m, zerolog.TimestampFieldName)

	var b strings.Builder
	if g := levelGlyph[lvl]; g != "" {
		b.WriteString(g + " ")
	}
	if lvl != "" {
		b.WriteString(strings.ToUpper(lvl) + " ")
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		limit := chatMaxValue
		if k == "stack" {
			limit = chatMaxStack
		}
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(m[k]), limit))
	}
	return clip(b.String(), chatMaxMessage)
}

// clip cuts s to at most n bytes on a rune boundary, marking the cut.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - len("…")
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
