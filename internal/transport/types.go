// Package transport is the chat-platform boundary: the updates the bot
// consumes and the calls it makes to talk back.
package transport

import (
	"context"
	"errors"
)

// ErrUnreachable means the recipient cannot receive messages from the bot
// (blocked it, never started a private chat, chat gone). Retrying is pointless.
var ErrUnreachable = errors.New("recipient unreachable")

type UpdateKind string

const UpdateMessage UpdateKind = "message"

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is an incoming text message.
type Message struct {
	ID       int
	ChatID   int64
	ThreadID int // forum topic, 0 outside topics

	FromID       int64
	FromUsername string
	FromName     string

	Text      string
	IsPrivate bool
}

// ChatTarget addresses a chat and, in forum groups, a topic.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// MessageRef identifies a sent or received message.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

func (m *Message) Target() ChatTarget { return ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID} }

func (m *Message) Ref() MessageRef {
	return MessageRef{ChatID: m.ChatID, ThreadID: m.ThreadID, MessageID: m.ID}
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// ReplyTo quotes that message id; 0 sends a plain message.
	ReplyTo int
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// UserDirectory resolves display names of users the bot has no current
// message from, such as timers restored after a restart.
type UserDirectory interface {
	LookupUsername(ctx context.Context, userID int64) (string, error)
}

type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters with a platform command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
