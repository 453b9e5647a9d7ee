// Package adapter connects the bot to Telegram through telebot long polling.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "timerbot/internal/runtime/supervisor"
	kit "timerbot/internal/transport"
	logx "timerbot/pkg/logx"
)

const (
	defaultPollTimeout = 10 * time.Second
	// maxFloodWait caps how long a send waits out a 429 before giving up.
	maxFloodWait = 30 * time.Second
	stopGrace    = 2 * time.Second
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	out     atomic.Pointer[chan<- kit.Update]
	dropped atomic.Uint64

	mu  sync.Mutex
	sup *rtsup.Supervisor

	menuMu  sync.Mutex
	menuSum uint64
}

// New builds the telebot client. It contacts Telegram once (getMe) to
// learn the bot's username.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	a := &Adapter{log: log.With(logx.String("comp", "telegram.adapter")), bot: b}
	b.Handle(tele.OnText, a.onText)
	return a, nil
}

// Username is the bot's own username without the @.
func (a *Adapter) Username() string {
	if a.bot == nil || a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

// Supervisor returns the polling supervisor (nil when stopped).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sup
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Sender == nil || m.Chat == nil {
		return nil
	}
	out := a.out.Load()
	if out == nil {
		return nil
	}
	up := kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		ThreadID:     m.ThreadID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		FromName:     strings.TrimSpace(m.Sender.FirstName + " " + m.Sender.LastName),
		Text:         m.Text,
		IsPrivate:    m.Private(),
	}}
	select {
	case *out <- up:
	default:
		a.dropped.Add(1)
	}
	return nil
}

// Start begins long polling; text messages are forwarded to out without
// blocking the poller. Calling Start while running is a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.out.Store(&out)
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log))
	a.sup = sup

	sup.Go0("telegram.drops", func(c context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDrops(cap(out))
				return
			case <-t.C:
				a.reportDrops(cap(out))
			}
		}
	})
	sup.Go0("telegram.unblock", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start blocks until bot.Stop; an early return is restarted.
	sup.GoRestart0("telegram.poll", func(context.Context) {
		a.log.Info("polling started", logx.String("bot", a.Username()))
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDrops(capacity int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("updates dropped, consumer too slow", logx.Uint64("count", n), logx.Int("cap", capacity))
	}
}

// Stop ends polling. It waits at most stopGrace (or the ctx deadline, if
// sooner) for an in-flight getUpdates to return.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup = nil
	a.out.Store(nil)
	a.mu.Unlock()
	if sup == nil {
		return nil
	}

	sup.Cancel()
	wctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	if err := sup.Wait(wctx); errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("telegram stop timed out")
	}
	return nil
}

// SendText sends text, split into several messages when too long. Only
// the first chunk quotes opt.ReplyTo. A flood-wait from Telegram is honored
// once per chunk.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}
	first := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID}

	for i, chunk := range chunkText(text, maxMessageRunes) {
		so := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		}
		if i == 0 && opt.ReplyTo != 0 {
			so.ReplyTo = &tele.Message{ID: opt.ReplyTo, Chat: chat}
		}
		msg, err := a.send(ctx, chat, chunk, so)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first.MessageID = msg.ID
		}
	}
	return first, nil
}

func (a *Adapter) send(ctx context.Context, chat *tele.Chat, text string, so *tele.SendOptions) (*tele.Message, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := a.bot.Send(chat, text, so)
		if err == nil {
			return msg, nil
		}
		wait, flood := floodWait(err)
		if !flood || attempt > 0 || wait > maxFloodWait {
			return nil, classify(err)
		}
		a.log.Debug("flood wait", logx.Int64("chat_id", chat.ID), logx.Duration("wait", wait))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func floodWait(err error) (time.Duration, bool) {
	var fe tele.FloodError
	if !errors.As(err, &fe) {
		return 0, false
	}
	return time.Duration(max(fe.RetryAfter, 1)) * time.Second, true
}

// classify maps permanent delivery failures onto kit.ErrUnreachable.
func classify(err error) error {
	switch {
	case errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrChatNotFound),
		errors.Is(err, tele.ErrNotStartedByUser),
		errors.Is(err, tele.ErrUserIsDeactivated),
		errors.Is(err, tele.ErrKickedFromGroup),
		errors.Is(err, tele.ErrKickedFromSuperGroup):
		return fmt.Errorf("%w: %v", kit.ErrUnreachable, err)
	}
	return err
}

// LookupUsername resolves a user's username, or first name when they have
// none, through getChat.
func (a *Adapter) LookupUsername(ctx context.Context, userID int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	chat, err := a.bot.ChatByID(userID)
	if err != nil {
		return "", classify(err)
	}
	for _, name := range []string{chat.Username, chat.FirstName} {
		if name != "" {
			return name, nil
		}
	}
	return "", fmt.Errorf("user %d has no name", userID)
}

// UpdateMenuCommands replaces the command menu unless it is unchanged
// since the last successful call.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	h := fnv.New64a()
	menu := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		fmt.Fprintf(h, "%s\x00%s\x00", c.Command, c.Description)
		menu = append(menu, tele.Command{Text: c.Command, Description: c.Description})
	}
	sum := h.Sum64()

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if sum == a.menuSum {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(menu); err != nil {
		return fmt.Errorf("set commands: %w", err)
	}
	a.menuSum = sum
	a.log.Info("command menu updated", logx.Int("count", len(menu)))
	return nil
}

var (
	_ kit.Adapter            = (*Adapter)(nil)
	_ kit.UserDirectory      = (*Adapter)(nil)
	_ kit.CommandMenuUpdater = (*Adapter)(nil)
)
