package notifier

import (
	"errors"
	"time"

	kit "timerbot/internal/transport"
)

var (
	ErrDelivery  = errors.New("delivery failed")
	ErrNoTarget  = errors.New("no delivery target")
	ErrQueueFull = errors.New("fanout queue full")
	ErrStopped   = errors.New("fanout stopped")
)

// Config controls delivery and the bulk fan-out pool.
type Config struct {
	// SendTimeout bounds a single SendText call. Default 10s.
	SendTimeout time.Duration

	// Fan-out only.
	Workers    int // default 2
	QueueSize  int // default 64
	RatePerSec int // default 10
}

// Delivery is one direct notification to a user.
type Delivery struct {
	UserID int64
	// PreferredChat overrides every other target when set.
	PreferredChat *int64
	// Origin is replied to when known; a failed reply falls back to a
	// direct message.
	Origin    *kit.MessageRef
	Text      string
	ParseMode string
}

type HistoryItem struct {
	At      time.Time
	UserID  int64
	ChatID  int64
	Channel string
	OK      bool
}

// NotificationEvent is emitted on the event bus for delivery outcomes.
// Keep it small; Data may be logged/serialized by subscribers.
type NotificationEvent struct {
	Channel string    `json:"channel"`
	UserID  int64     `json:"user_id"`
	ChatID  int64     `json:"chat_id"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}

// Channels reported in events and history.
const (
	ChannelPreferred = "preferred"
	ChannelReply     = "reply"
	ChannelDirect    = "direct"
	ChannelFanout    = "fanout"
)
