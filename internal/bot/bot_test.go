package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timerbot/internal/activity"
	"timerbot/internal/clock"
	"timerbot/internal/cooldown"
	"timerbot/internal/notifier"
	"timerbot/internal/profile"
	"timerbot/internal/stats"
	"timerbot/internal/storage"
	kit "timerbot/internal/transport"
	"timerbot/internal/transport/telegram/router"
	logx "timerbot/pkg/logx"
)

var t0 = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type sent struct {
	to        kit.ChatTarget
	text      string
	replyTo   int
	parseMode string
}

type fakeAdapter struct {
	mu   sync.Mutex
	sent []sent
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := sent{to: to, text: text}
	if opt != nil {
		s.replyTo, s.parseMode = opt.ReplyTo, opt.ParseMode
	}
	a.sent = append(a.sent, s)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1000 + len(a.sent)}, nil
}

// take returns and clears the recorded sends.
func (a *fakeAdapter) take() []sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.sent
	a.sent = nil
	return out
}

type harness struct {
	t     *testing.T
	clk   *clock.Fake
	ad    *fakeAdapter
	st    *storage.Memory
	prof  *profile.Store
	eng   *cooldown.Engine
	bot   *Bot
	cmds  map[string]router.Command
	msgID int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewFake(t0)
	ad := &fakeAdapter{}
	st := storage.NewMemory()
	prof := profile.New(st, clk, logx.Nop())
	reg, err := activity.Load(nil)
	require.NoError(t, err)

	svc := notifier.New(notifier.Config{}, ad, logx.Nop(), nil)
	agg := stats.NewAggregate(t0)
	eng, err := cooldown.New(cooldown.Deps{
		Registry: reg,
		Profiles: prof,
		Notifier: NewReadyNotifier(svc, prof, logx.Nop()),
		Clock:    clk,
		Logger:   logx.Nop(),
		Usage:    agg,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })

	ss, err := stats.New(stats.Deps{Aggregate: agg, Store: st, Profiles: prof, Clock: clk, Location: time.UTC})
	require.NoError(t, err)

	b, err := New(Deps{Engine: eng, Profiles: prof, Stats: ss, Audit: st, Clock: clk, Logger: logx.Nop()})
	require.NoError(t, err)

	h := &harness{t: t, clk: clk, ad: ad, st: st, prof: prof, eng: eng, bot: b, cmds: map[string]router.Command{}}
	for _, c := range b.Commands() {
		h.cmds[c.Name] = c
		for _, a := range c.Aliases {
			h.cmds[a] = c
		}
	}
	return h
}

// send runs text as if user 42 (@mario) posted it in chat; it returns the
// replies produced synchronously.
func (h *harness) send(chat int64, text string) []sent {
	h.t.Helper()
	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")
	cmd, ok := h.cmds[name]
	require.True(h.t, ok, "command %q not registered", name)
	h.msgID++
	msg := &kit.Message{ID: h.msgID, ChatID: chat, FromID: 42, FromUsername: "mario", FromName: "Mario Rossi", Text: text}
	req := &router.Request{
		Message:  msg,
		Chat:     msg.Target(),
		FromID:   42,
		Username: "mario",
		Command:  cmd.Name,
		Args:     fields[1:],
		Adapter:  h.ad,
		Logger:   logx.Nop(),
	}
	require.NoError(h.t, cmd.Handle(context.Background(), req))
	return h.ad.take()
}

func (h *harness) only(out []sent) sent {
	h.t.Helper()
	require.Len(h.t, out, 1)
	return out[0]
}

func TestTriggerThenReady(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	ack := h.only(h.send(-100, "/usa slot"))
	assert.Equal(t, `<a href="tg://user?id=42">Mario Rossi</a>, slot iniziata! Ti avviserò appena pronto.`, ack.text)
	assert.Equal(t, "HTML", ack.parseMode)
	assert.Equal(t, 1, ack.replyTo)

	h.clk.Advance(5 * time.Minute)
	ready := h.only(h.ad.take())
	assert.Equal(t, "@mario, puoi usare di nuovo la slot!\n/usa slot", ready.text)
	assert.Equal(t, int64(-100), ready.to.ChatID)
	assert.Equal(t, 1, ready.replyTo)
	assert.Empty(t, h.eng.ArmedKeys())
}

func TestCooldownReply(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.send(-100, "/usa sel")
	h.clk.Advance(10 * time.Minute)
	got := h.only(h.send(-100, "/usa borsellino"))
	assert.Equal(t, "@mario, borsellino in cooldown! Prossimo borsellino disponibile tra: 20:00", got.text)

	h.send(-100, "/avventura")
	got = h.only(h.send(-100, "/avventura"))
	assert.Equal(t, "@mario, sei ancora in avventura! Prossima avventura disponibile tra circa: 15:00", got.text)
}

func TestModifyFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	got := h.only(h.send(-100, "/avventura 05:00"))
	assert.Equal(t, "@mario, non c'è un'avventura attiva da modificare. Inizia prima con `/avventura`.", got.text)

	h.send(-100, "/avventura")
	tests := []struct {
		arg  string
		want string
	}{
		{arg: "99:00", want: "@mario, formato ora non valido per la modifica."},
		{arg: "cinque", want: "@mario, formato ora non valido per la modifica."},
		{arg: "20:00", want: "@mario, puoi modificare il timer solo con un tempo valido tra 00:01 e 15:00!"},
		{arg: "00:00", want: "@mario, puoi modificare il timer solo con un tempo valido tra 00:01 e 15:00!"},
		{arg: "00:30", want: "@mario, timer avventura modificato! Ti avviserò appena pronto."},
	}
	for _, tt := range tests {
		got := h.only(h.send(-100, "/avventura "+tt.arg))
		assert.Equal(t, tt.want, got.text, tt.arg)
	}

	h.clk.Advance(30 * time.Second)
	ready := h.only(h.ad.take())
	assert.Equal(t, "@mario, puoi tornare ad avventurare!\n/avventura", ready.text)
	assert.True(t, h.eng.IsEligible(42, "avventura"))

	got = h.only(h.send(-100, "/avventura"))
	assert.Contains(t, got.text, "avventura iniziata! Ti avviserò appena pronto.")
}

func TestMutedActivities(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	got := h.only(h.send(-100, "/noslot"))
	assert.Equal(t, "@mario, ho disattivato le notifiche per slot.", got.text)
	assert.Empty(t, h.send(-100, "/usa slot"))
	assert.Empty(t, h.eng.ArmedKeys())

	h.send(-100, "/noavventura")
	got = h.only(h.send(-100, "/avventura"))
	assert.True(t, strings.HasSuffix(got.text, ", avventura iniziata!"), got.text)

	got = h.only(h.send(-100, "/noslot"))
	assert.Equal(t, "@mario, ho riattivato le notifiche per slot.", got.text)
}

func TestTimerListing(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.send(-100, "/usa slot")
	h.clk.Advance(time.Minute)
	got := h.only(h.send(-100, "/timer"))
	assert.Equal(t, "Markdown", got.parseMode)
	lines := strings.Split(got.text, "\n")
	require.Len(t, lines, 10)
	assert.Equal(t, "⏱️ *Timer per @mario* ⏱️", lines[0])
	assert.Equal(t, "🗡 *Avventura*: ✅ Disponibile", lines[1])
	assert.Equal(t, "🎰 *Slot*: ⏳ 04:00 (notifica attiva)", lines[2])
}

func TestUsaIgnoresUntrackedItems(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	assert.Empty(t, h.send(-100, "/usa pozione"))
	assert.Empty(t, h.send(-100, "/usa"))
}

func TestAdminReset(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.send(-100, "/usa slot")
	got := h.only(h.send(-100, "/admin_reset 42 slot"))
	assert.Equal(t, "✅ Timer 'slot' resettato per l'utente 42. Il comando è ora disponibile.", got.text)
	assert.True(t, h.eng.IsEligible(42, "slot"))
	assert.Empty(t, h.eng.ArmedKeys())

	audit := h.st.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, "admin_reset", audit[0].Action)
	assert.Equal(t, "42/slot", audit[0].Target)

	got = h.only(h.send(-100, "/admin_reset abc"))
	assert.Equal(t, "❌ ID utente non valido. Deve essere un numero intero.", got.text)
	got = h.only(h.send(-100, "/admin_reset 42 compattatore"))
	assert.Equal(t, "❌ Comando 'compattatore' non valido.", got.text)
	got = h.only(h.send(-100, "/admin_reset 42"))
	assert.Contains(t, got.text, "Tutti i timer resettati")
}

func TestPreferredChatRoutesReady(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.send(-7, "/notifiche_qui")
	p, err := h.prof.Get(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, p.PreferredChat)
	assert.Equal(t, int64(-7), *p.PreferredChat)

	h.send(-100, "/usa slot")
	h.clk.Advance(5 * time.Minute)
	ready := h.only(h.ad.take())
	assert.Equal(t, int64(-7), ready.to.ChatID)
	assert.Zero(t, ready.replyTo)
}

func TestBroadcastItems(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.send(-100, "/avvio_si")
	h.send(-100, "/siutilizzi")
	h.send(-100, "/usa slot")
	_, err := h.prof.Get(ctx, 7)
	require.NoError(t, err)

	items, err := h.bot.StartupNotices(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(42), items[0].Delivery.UserID)
	assert.Equal(t, StartupText, items[0].Delivery.Text)

	items, err = h.bot.DailyDigests(ctx, t0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Contains(t, items[0].Delivery.Text, "🎰 *Slot*: 1 utilizzi oggi")
}

func TestCommandTable(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	for _, name := range []string{"avventura", "usa", "noavventura", "noforno", "timer", "utilizzi", "siutilizzi",
		"noutilizzi", "notifiche_qui", "notifiche_privato", "avvio_si", "avvio_no", "start", "info", "admin_reset", "stats"} {
		_, ok := h.cmds[name]
		assert.True(t, ok, name)
	}
	assert.Equal(t, router.AccessAdminOnly, h.cmds["admin_reset"].Access)
	assert.True(t, h.cmds["noslot"].Hidden)

	got := h.only(h.send(-100, "/info"))
	assert.Contains(t, got.text, "🔥 *Forno* (cooldown: 7 giorni)")
	assert.Contains(t, got.text, "🎰 *Slot* (cooldown: 5 min)")
	assert.Contains(t, got.text, "`/usa nanoc` - Avvia")
}

func TestCooldownLabel(t *testing.T) {
	t.Parallel()
	tests := map[time.Duration]string{
		15 * time.Minute: "15 min",
		24 * time.Hour:   "24 ore",
		168 * time.Hour:  "7 giorni",
		2 * time.Hour:    "2 ore",
		90 * time.Second: "01:30",
		48 * time.Hour:   "2 giorni",
		30 * time.Minute: "30 min",
	}
	for in, want := range tests {
		if got := cooldownLabel(in); got != want {
			t.Fatalf("cooldownLabel(%s) = %q, want %q", in, got, want)
		}
	}
}
