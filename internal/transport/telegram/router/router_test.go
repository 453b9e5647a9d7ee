package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	kit "timerbot/internal/transport"
	logx "timerbot/pkg/logx"
)

type sendRec struct {
	to   kit.ChatTarget
	text string
}

type fakeAdapter struct {
	mu   sync.Mutex
	sent []sendRec
	menu []kit.BotCommand
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }
func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, sendRec{to: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(a.sent)}, nil
}
func (a *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	a.mu.Lock()
	a.menu = cmds
	a.mu.Unlock()
	return nil
}

func (a *fakeAdapter) texts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.sent))
	for _, s := range a.sent {
		out = append(out, s.text)
	}
	return out
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text string
		word string
		bot  string
		args int
		ok   bool
	}{
		{text: "/usa slot 03:00", word: "usa", args: 2, ok: true},
		{text: "/Avventura@TimerBot", word: "avventura", bot: "timerbot", ok: true},
		{text: "  /timer  ", word: "timer", ok: true},
		{text: "hello", ok: false},
		{text: "/", ok: false},
		{text: "/@bot", ok: false},
	}
	for _, tt := range tests {
		word, bot, args, ok := parseCommand(tt.text)
		if ok != tt.ok {
			t.Fatalf("parseCommand(%q) ok = %v, want %v", tt.text, ok, tt.ok)
		}
		if !ok {
			continue
		}
		if word != tt.word || bot != tt.bot || len(args) != tt.args {
			t.Fatalf("parseCommand(%q) = %q %q %v", tt.text, word, bot, args)
		}
	}
}

func TestDispatchRoutesCommands(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), ad, []int64{99}, Options{Workers: 2, BotUsername: "@TimerBot", ObservedBots: []string{"GameBot"}})

	var mu sync.Mutex
	got := map[string][][]string{}
	done := make(chan struct{}, 16)
	handler := func(ctx context.Context, req *Request) error {
		mu.Lock()
		got[req.Command] = append(got[req.Command], req.Args)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}
	m.SetRegistry([]Command{
		{Name: "usa", Aliases: []string{"use"}, Description: "usa un oggetto", Handle: handler},
		{Name: "admin_reset", Access: AccessAdminOnly, Handle: handler},
		{Name: "boom", Hidden: true, Handle: func(context.Context, *Request) error { panic("boom") }},
		{Name: "fail", Hidden: true, Handle: func(context.Context, *Request) error { return errors.New("x") }},
	})

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	loopDone := make(chan error, 1)
	go func() { loopDone <- m.DispatchLoop(ctx, updates) }()

	send := func(from int64, text string) {
		updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 1, ChatID: -5, FromID: from, Text: text}}
	}
	send(1, "/boom")
	send(1, "/usa@OtherBot slot")
	send(1, "/USE@timerbot slot 02:00")
	send(1, "/usa@GameBot borsellino")
	send(1, "/admin_reset 5")
	send(99, "/admin_reset 5 slot")
	send(1, "/unknown")

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("handler not called")
		}
	}
	cancel()
	if err := <-loopDone; err != nil {
		t.Fatalf("DispatchLoop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	usa := got["usa"]
	if len(usa) != 2 {
		t.Fatalf("usa calls = %v", usa)
	}
	seen := map[string]bool{}
	for _, args := range usa {
		seen[strings.Join(args, " ")] = true
	}
	if !seen["slot 02:00"] || !seen["borsellino"] {
		t.Fatalf("usa args = %v", usa)
	}
	if calls := got["admin_reset"]; len(calls) != 1 || len(calls[0]) != 2 {
		t.Fatalf("admin_reset args = %v", calls)
	}
	texts := ad.texts()
	if len(texts) != 1 || texts[0] != "⛔️ Questo comando è riservato all'amministratore." {
		t.Fatalf("unexpected sends %v", texts)
	}
	if !m.IsAdmin(99) || m.IsAdmin(1) {
		t.Fatal("IsAdmin mismatch")
	}
}

func TestMenuSkipsHiddenAndAdmin(t *testing.T) {
	t.Parallel()
	noop := func(context.Context, *Request) error { return nil }
	menu := menuFor([]Command{
		{Name: "timer", Description: "i tuoi timer", Handle: noop},
		{Name: "avventura", Handle: noop},
		{Name: "noslot", Hidden: true, Handle: noop},
		{Name: "admin_reset", Access: AccessAdminOnly, Handle: noop},
	})
	if len(menu) != 2 {
		t.Fatalf("menu = %+v", menu)
	}
	if menu[0].Command != "avventura" || menu[0].Description != "avventura" {
		t.Fatalf("menu[0] = %+v", menu[0])
	}
	if menu[1].Command != "timer" || menu[1].Description != "i tuoi timer" {
		t.Fatalf("menu[1] = %+v", menu[1])
	}
}

func TestMenuName(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"notifiche-qui": "notifiche_qui",
		"  Timer ":      "timer",
		"9lives":        "",
		"a__b":          "a_b",
	}
	for in, want := range tests {
		if got := menuName(in); got != want {
			t.Fatalf("menuName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUserLimiter(t *testing.T) {
	t.Parallel()
	u := newUserLimiter(1, 2)
	now := time.Unix(1_700_000_000, 0)

	if !u.allow(1, now) || !u.allow(1, now) {
		t.Fatal("burst of 2 should pass")
	}
	if u.allow(1, now) {
		t.Fatal("third command in the same instant should be throttled")
	}
	if !u.allow(2, now) {
		t.Fatal("buckets are per user")
	}
	if !u.allow(1, now.Add(time.Second)) {
		t.Fatal("token should refill after 1s")
	}

	if n := u.sweep(now.Add(11 * time.Minute)); n != 2 {
		t.Fatalf("sweep dropped %d buckets, want 2", n)
	}
	if newUserLimiter(0, 5) != nil {
		t.Fatal("zero rate disables the limiter")
	}
}

func TestThrottledCommandIsDropped(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), ad, []int64{99}, Options{Workers: 1, UserRate: 0.001, UserBurst: 1})

	var mu sync.Mutex
	calls := map[int64]int{}
	m.SetRegistry([]Command{{Name: "timer", Handle: func(_ context.Context, req *Request) error {
		mu.Lock()
		calls[req.FromID]++
		mu.Unlock()
		return nil
	}}})

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	loopDone := make(chan error, 1)
	go func() { loopDone <- m.DispatchLoop(ctx, updates) }()
	for _, from := range []int64{1, 1, 1, 99, 99} {
		updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: -5, FromID: from, Text: "/timer"}}
	}
	// closing the feed drains the queue before DispatchLoop returns
	close(updates)
	if err := <-loopDone; err != nil {
		t.Fatalf("DispatchLoop: %v", err)
	}
	cancel()

	mu.Lock()
	defer mu.Unlock()
	if calls[1] != 1 || calls[99] != 2 {
		t.Fatalf("calls = %v, want user 1 once and admin twice", calls)
	}
}
