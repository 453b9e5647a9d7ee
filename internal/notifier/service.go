package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"timerbot/internal/eventbus"
	kit "timerbot/internal/transport"
	logx "timerbot/pkg/logx"
)

const historyMax = 300

// Service performs direct, single-attempt deliveries.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus
	cfg     Config

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		adapter: adapter,
		log:     log.With(logx.String("comp", "notifier")),
		bus:     bus,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	s.cfg = cfg
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Deliver sends d.Text to the user. It returns an error wrapping ErrDelivery
// when every attempted channel failed.
func (s *Service) Deliver(ctx context.Context, d Delivery) error {
	if s.adapter == nil {
		return fmt.Errorf("%w: no adapter", ErrDelivery)
	}
	if d.Text == "" {
		return nil
	}
	opt := &kit.SendOptions{ParseMode: d.ParseMode, DisablePreview: true}

	switch {
	case d.PreferredChat != nil:
		return s.attempt(ctx, d.UserID, ChannelPreferred, kit.ChatTarget{ChatID: *d.PreferredChat}, d.Text, opt)

	case d.Origin != nil && d.Origin.MessageID != 0:
		ro := *opt
		ro.ReplyTo = d.Origin.MessageID
		to := kit.ChatTarget{ChatID: d.Origin.ChatID, ThreadID: d.Origin.ThreadID}
		err := s.attempt(ctx, d.UserID, ChannelReply, to, d.Text, &ro)
		if err == nil || d.UserID == 0 || (d.Origin.ChatID == d.UserID && d.Origin.ThreadID == 0) {
			return err
		}
		s.log.Debug("reply failed, falling back to direct message", logx.Int64("user_id", d.UserID))
		return s.attempt(ctx, d.UserID, ChannelDirect, kit.ChatTarget{ChatID: d.UserID}, d.Text, opt)

	case d.UserID != 0:
		return s.attempt(ctx, d.UserID, ChannelDirect, kit.ChatTarget{ChatID: d.UserID}, d.Text, opt)
	}
	return ErrNoTarget
}

// Send is a single-attempt plain send to an arbitrary chat.
func (s *Service) Send(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error {
	if s.adapter == nil {
		return fmt.Errorf("%w: no adapter", ErrDelivery)
	}
	return s.attempt(ctx, 0, ChannelDirect, to, text, opt)
}

func (s *Service) attempt(ctx context.Context, userID int64, channel string, to kit.ChatTarget, text string, opt *kit.SendOptions) error {
	cfg := s.config()
	if ctx == nil {
		ctx = context.Background()
	}
	callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	_, err := s.adapter.SendText(callCtx, to, text, opt)
	cancel()

	now := time.Now()
	s.appendHistory(HistoryItem{At: now, UserID: userID, ChatID: to.ChatID, Channel: channel, OK: err == nil})
	ev := NotificationEvent{Channel: channel, UserID: userID, ChatID: to.ChatID, At: now}
	if err != nil {
		ev.Error = err.Error()
		eventbus.Emit(s.bus, eventbus.NotifyFailed, now, ev)
		fields := []logx.Field{
			logx.String("channel", channel),
			logx.Int64("user_id", userID),
			logx.Int64("chat_id", to.ChatID),
			logx.Err(err),
		}
		if errors.Is(err, kit.ErrUnreachable) {
			s.log.Info("recipient unreachable", fields...)
		} else {
			s.log.Debug("send failed", fields...)
		}
		return fmt.Errorf("%w: %s to %d: %w", ErrDelivery, channel, to.ChatID, err)
	}
	eventbus.Emit(s.bus, eventbus.NotifySent, now, ev)
	return nil
}

// Snapshot returns recent delivery outcomes, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > historyMax {
		s.history = s.history[len(s.history)-historyMax:]
	}
	s.hmu.Unlock()
}
