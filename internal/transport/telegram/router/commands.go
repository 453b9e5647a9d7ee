package router

import (
	"context"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "timerbot/internal/runtime/supervisor"
	kit "timerbot/internal/transport"
	logx "timerbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdminOnly
)

const (
	msgAdminOnly = "⛔️ Questo comando è riservato all'amministratore."
	msgBusy      = "troppe richieste, riprova tra poco"
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Access      Access
	// Hidden keeps the command out of the Telegram menu.
	Hidden bool
	// Timeout overrides Options.DefaultTimeout.
	Timeout time.Duration
	Handle  Handler
}

type Request struct {
	Message  *kit.Message
	Chat     kit.ChatTarget
	FromID   int64
	Username string
	Command  string
	Args     []string
	ReqID    string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply answers the request in the same chat and thread, quoting the
// original message.
func (r *Request) Reply(ctx context.Context, text, parseMode string) error {
	opt := &kit.SendOptions{ParseMode: parseMode, DisablePreview: true}
	if r.Message != nil {
		opt.ReplyTo = r.Message.ID
	}
	_, err := r.Adapter.SendText(ctx, r.Chat, text, opt)
	return err
}

type Options struct {
	// Workers defaults to NumCPU (min 2).
	Workers   int
	QueueSize int
	// BotUsername, when set, makes the router ignore "/cmd@OtherBot".
	BotUsername string
	// ObservedBots are other bots whose addressed commands are still handled
	// ("/usa@GameBot slot" in a shared group).
	ObservedBots   []string
	DefaultTimeout time.Duration
	// UserRate limits commands per user per second; zero disables it.
	UserRate  float64
	UserBurst int
}

// table is an immutable snapshot of the registered commands.
type table struct {
	byName map[string]*Command
	list   []Command
}

type CommandManager struct {
	log     logx.Logger
	adapter kit.Adapter
	opt     Options
	limiter *userLimiter

	mu     sync.RWMutex
	tab    table
	admins map[int64]struct{}

	runMu sync.Mutex
	sup   *rtsup.Supervisor

	jobs chan func(context.Context)
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, admins []int64, opt Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = max(runtime.NumCPU(), 2)
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 256
	}
	opt.BotUsername = botName(opt.BotUsername)
	observed := opt.ObservedBots[:0:0]
	for _, b := range opt.ObservedBots {
		if b = botName(b); b != "" {
			observed = append(observed, b)
		}
	}
	opt.ObservedBots = observed

	m := &CommandManager{
		log:     log.With(logx.String("comp", "telegram.router")),
		adapter: adapter,
		opt:     opt,
		limiter: newUserLimiter(opt.UserRate, opt.UserBurst),
		tab:     table{byName: map[string]*Command{}},
		jobs:    make(chan func(context.Context), opt.QueueSize),
	}
	m.SetAdmins(admins)
	return m
}

// Supervisor returns the worker supervisor (nil if not running).
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.sup
}

// SetAdmins replaces the admin list. Safe during hot reload.
func (m *CommandManager) SetAdmins(admins []int64) {
	set := make(map[int64]struct{}, len(admins))
	for _, id := range admins {
		set[id] = struct{}{}
	}
	m.mu.Lock()
	m.admins = set
	m.mu.Unlock()
}

func (m *CommandManager) IsAdmin(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.admins[id]
	return ok
}

// SetRegistry replaces the command table. Names and aliases are matched
// case-insensitively; later entries win on clashes. Adapters that support
// it get the public commands as their menu.
func (m *CommandManager) SetRegistry(cmds []Command) {
	tab := table{byName: make(map[string]*Command, len(cmds)*2), list: make([]Command, 0, len(cmds))}
	for _, c := range cmds {
		c.Name = strings.ToLower(strings.TrimSpace(c.Name))
		if c.Name == "" || c.Handle == nil {
			continue
		}
		tab.list = append(tab.list, c)
	}
	for i := range tab.list {
		c := &tab.list[i]
		tab.byName[c.Name] = c
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				tab.byName[a] = c
			}
		}
	}

	m.mu.Lock()
	m.tab = tab
	m.mu.Unlock()

	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := menuFor(tab.list)
	push := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(ctx, menu); err != nil {
			m.log.Warn("menu update failed", logx.Err(err))
		}
		return nil
	}
	if sup := m.Supervisor(); sup != nil {
		sup.Go("telegram.menu", push)
		return
	}
	go func() { _ = push(context.Background()) }()
}

// Commands returns the registered commands in registration order.
func (m *CommandManager) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Command(nil), m.tab.list...)
}

func (m *CommandManager) lookup(word string) (*Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.tab.byName[word]
	return c, ok
}

// DispatchLoop routes updates to the worker pool until ctx is done or
// updates is closed. Queued commands still run before it returns.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(context.WithoutCancel(ctx), rtsup.WithLogger(m.log))
	m.runMu.Lock()
	m.sup = sup
	m.runMu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < m.opt.Workers; i++ {
		wg.Add(1)
		sup.Go0("command.worker."+strconv.Itoa(i), func(c context.Context) {
			defer wg.Done()
			for job := range m.jobs {
				job(c)
			}
		})
	}
	if m.limiter != nil {
		sup.Go0("command.limiter.sweep", func(c context.Context) {
			t := time.NewTicker(time.Minute)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return
				case now := <-t.C:
					if n := m.limiter.sweep(now); n > 0 {
						m.log.Debug("idle rate buckets dropped", logx.Int("count", n))
					}
				}
			}
		})
	}
	m.log.Info("command dispatcher started", logx.Int("workers", m.opt.Workers), logx.Int("queue", cap(m.jobs)))

	defer func() {
		m.runMu.Lock()
		m.sup = nil
		m.runMu.Unlock()
		close(m.jobs)
		wg.Wait()
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = sup.Wait(wctx)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage && up.Message != nil {
				m.route(ctx, up.Message)
			}
		}
	}
}

// parseCommand splits "/cmd@bot a b" into the lower-cased command word, the
// addressed bot (if any) and the arguments.
func parseCommand(text string) (word, bot string, args []string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", "", nil, false
	}
	word, bot, _ = strings.Cut(fields[0][1:], "@")
	if word == "" {
		return "", "", nil, false
	}
	return strings.ToLower(word), strings.ToLower(bot), fields[1:], true
}

func (m *CommandManager) route(ctx context.Context, msg *kit.Message) {
	word, bot, args, ok := parseCommand(msg.Text)
	if !ok || !m.addressedToUs(bot) {
		return
	}
	cmd, found := m.lookup(word)
	if !found {
		m.log.Debug("unknown command", logx.String("cmd", word), logx.Int64("chat_id", msg.ChatID))
		return
	}
	if cmd.Access == AccessAdminOnly && !m.IsAdmin(msg.FromID) {
		_, _ = m.adapter.SendText(ctx, msg.Target(), msgAdminOnly, &kit.SendOptions{ReplyTo: msg.ID})
		return
	}

	req := m.newRequest(msg, cmd.Name, args)
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.opt.DefaultTimeout
	}
	h := wrap(cmd.Handle,
		withRecover(),
		withLog(),
		withUserLimit(m.limiter, m.IsAdmin),
		withDeadline(timeout),
	)

	select {
	case m.jobs <- func(c context.Context) { _ = h(c, req) }:
	default:
		req.Logger.Warn("command queue full")
		_, _ = m.adapter.SendText(ctx, req.Chat, msgBusy, &kit.SendOptions{ReplyTo: msg.ID})
	}
}

func (m *CommandManager) newRequest(msg *kit.Message, name string, args []string) *Request {
	rid := uuid.NewString()[:8]
	return &Request{
		Message:  msg,
		Chat:     msg.Target(),
		FromID:   msg.FromID,
		Username: msg.FromUsername,
		Command:  name,
		Args:     args,
		ReqID:    rid,
		Adapter:  m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", name),
		),
	}
}

func botName(s string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "@")
}

func (m *CommandManager) addressedToUs(bot string) bool {
	if bot == "" || m.opt.BotUsername == "" || bot == m.opt.BotUsername {
		return true
	}
	for _, b := range m.opt.ObservedBots {
		if b == bot {
			return true
		}
	}
	return false
}
