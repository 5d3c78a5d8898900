package commands

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Manager routes incoming messages to commands and runs handlers on a
// bounded worker pool.
type Manager struct {
	mu       sync.RWMutex
	cmds     map[string]*Command // name and aliases
	list     []Command
	fallback HandlerFunc

	cfg    Config
	log    logx.Logger
	sender Sender

	jobs chan func()
}

func New(cfg Config, sender Sender, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Manager{
		cmds:   map[string]*Command{},
		cfg:    cfg,
		log:    log,
		sender: sender,
		jobs:   make(chan func(), cfg.QueueSize),
	}
}

// SetRegistry replaces the command set. fallback handles non-command text in
// private chats and may be nil. /help is always injected.
func (m *Manager) SetRegistry(cmds []Command, fallback HandlerFunc) {
	helper := Command{
		Name:        "help",
		Aliases:     []string{"h", "start"},
		Description: "show help",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyHTML(ctx, m.helpText(req.Args))
		},
	}
	cmds = append(append([]Command(nil), cmds...), helper)

	byName := map[string]*Command{}
	list := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		list = append(list, cc)
		byName[name] = &cc
	}
	// Aliases never shadow a real command name.
	for i := range list {
		for _, a := range list[i].Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			if _, exists := byName[a]; !exists {
				byName[a] = byName[list[i].Name]
			}
		}
	}

	m.mu.Lock()
	m.cmds = byName
	m.list = list
	m.fallback = fallback
	m.mu.Unlock()
}

// UpdateMenu publishes the command list to the transport when it supports it.
func (m *Manager) UpdateMenu(ctx context.Context) error {
	up, ok := m.sender.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	m.mu.RLock()
	menu := buildMenuCommands(m.list)
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(ctx, menu)
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "commands"))),
		rtsup.WithCancelOnError(false),
	)
	for i := 0; i < m.cfg.Workers; i++ {
		sup.GoRestart(fmt.Sprintf("command.worker.%d", i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					job()
				}
			}
		}, rtsup.WithRestartBackoff(100*time.Millisecond, 5*time.Second))
	}
	m.log.Info("command dispatcher started", logx.Int("workers", m.cfg.Workers), logx.Int("job_queue_cap", cap(m.jobs)))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
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
			m.route(ctx, up)
		}
	}
}

func (m *Manager) route(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	name, rest, isCmd := splitCommand(msg.Text)
	if !isCmd {
		m.mu.RLock()
		fb := m.fallback
		m.mu.RUnlock()
		text := strings.TrimSpace(msg.Text)
		if fb == nil || msg.IsGroup || text == "" {
			return
		}
		m.enqueue(ctx, up, Command{Handle: fb}, text)
		return
	}

	m.mu.RLock()
	cmd, ok := m.cmds[name]
	m.mu.RUnlock()
	if !ok {
		_, _ = m.sender.SendText(ctx, chat, "Unknown command. Try /help", nil)
		return
	}
	m.enqueue(ctx, up, *cmd, rest)
}

func (m *Manager) enqueue(ctx context.Context, up kit.Update, cmd Command, text string) {
	msg := up.Message
	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    tokenizeCommandLine(text),
		Text:    text,
		ReqID:   rid,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
		),
		sender: m.sender,
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.cfg.Timeout
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(timeout),
	)

	select {
	case m.jobs <- func() { _ = final(ctx, req) }:
	default:
		m.log.Warn("command queue full", logx.String("cmd", cmd.Name), logx.Int("cap", cap(m.jobs)))
		_, _ = m.sender.SendText(ctx, req.Chat, "Busy, try again in a moment.", nil)
	}
}
