package commands

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	menu []kit.BotCommand
	ch   chan string
}

func newFakeSender() *fakeSender { return &fakeSender{ch: make(chan string, 16)} }

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	select {
	case f.ch <- text:
	default:
	}
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeSender) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	f.menu = cmds
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) next(t *testing.T) string {
	t.Helper()
	select {
	case s := <-f.ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
		return ""
	}
}

func msgUpdate(text string, group bool) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 10, FromID: 7, Text: text, IsGroup: group}}
}

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		in, name, rest string
		ok             bool
	}{
		{"/schedule call mom | 5pm", "schedule", "call mom | 5pm", true},
		{"/Stop@remind_bot", "stop", "", true},
		{"/recur\n2h water", "recur", "2h water", true},
		{"hello", "", "", false},
		{"/", "", "", false},
	}
	for _, tc := range cases {
		name, rest, ok := splitCommand(tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
		require.Equal(t, tc.name, name, tc.in)
		require.Equal(t, tc.rest, rest, tc.in)
	}
}

func TestTokenizeCommandLine(t *testing.T) {
	require.Equal(t, []string{"2h", "drink water", "now"}, tokenizeCommandLine(`2h "drink water" now`))
	require.Equal(t, []string{"it's"}, tokenizeCommandLine(`it\'s`))
	require.Nil(t, tokenizeCommandLine("   "))
}

func TestSplitTaskWhen(t *testing.T) {
	task, when, ok := splitTaskWhen(" call mom | tomorrow 5pm ")
	require.True(t, ok)
	require.Equal(t, "call mom", task)
	require.Equal(t, "tomorrow 5pm", when)

	task, _, ok = splitTaskWhen("buy milk")
	require.False(t, ok)
	require.Equal(t, "buy milk", task)

	task, when, ok = splitTaskWhen("a | b | in 2 hours")
	require.True(t, ok)
	require.Equal(t, "a | b", task)
	require.Equal(t, "in 2 hours", when)
}

func TestSanitizeTelegramCommand(t *testing.T) {
	require.Equal(t, "reminders", sanitizeTelegramCommand("Reminders"))
	require.Equal(t, "a_b", sanitizeTelegramCommand("a-b"))
	require.Equal(t, "cmd_2fa", sanitizeTelegramCommand("2fa"))
	require.Equal(t, "", sanitizeTelegramCommand("!!!"))
}

func TestChainOrderAndPanicRecover(t *testing.T) {
	var order []string
	mw := func(tag string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *Request) error {
				order = append(order, tag)
				return next(ctx, req)
			}
		}
	}
	h := Chain(func(ctx context.Context, req *Request) error {
		panic("boom")
	}, MWPanicRecover(logx.Nop()), mw("a"), mw("b"))

	err := h(context.Background(), &Request{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
	require.Equal(t, []string{"a", "b"}, order)
}

func TestMWTimeoutSetsDeadline(t *testing.T) {
	h := MWTimeout(time.Second)(func(ctx context.Context, req *Request) error {
		_, ok := ctx.Deadline()
		require.True(t, ok)
		return nil
	})
	require.NoError(t, h(context.Background(), &Request{}))
}

func runManager(t *testing.T, m *Manager) chan<- kit.Update {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return updates
}

func TestManagerRoutesCommandsAndAliases(t *testing.T) {
	snd := newFakeSender()
	m := New(Config{Workers: 2}, snd, logx.Nop())
	m.SetRegistry([]Command{{
		Name:    "echo",
		Aliases: []string{"e"},
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, "echo:"+req.Text)
		},
	}}, nil)
	updates := runManager(t, m)

	updates <- msgUpdate("/echo hi there", false)
	require.Equal(t, "echo:hi there", snd.next(t))

	updates <- msgUpdate("/E@bot x", true)
	require.Equal(t, "echo:x", snd.next(t))

	updates <- msgUpdate("/nope", false)
	require.Contains(t, snd.next(t), "Unknown command")

	updates <- msgUpdate("/help", false)
	help := snd.next(t)
	require.Contains(t, help, "/echo")
	require.Contains(t, help, "/help")
}

func TestManagerFallbackOnlyInPrivateChats(t *testing.T) {
	snd := newFakeSender()
	m := New(Config{Workers: 1}, snd, logx.Nop())
	m.SetRegistry(nil, func(ctx context.Context, req *Request) error {
		return req.Reply(ctx, "free:"+req.Text)
	})
	updates := runManager(t, m)

	updates <- msgUpdate("ignored in group", true)
	updates <- msgUpdate("call mom | 5pm", false)
	require.Equal(t, "free:call mom | 5pm", snd.next(t))
}

func TestManagerHandlerErrorDoesNotStopDispatch(t *testing.T) {
	snd := newFakeSender()
	m := New(Config{Workers: 1}, snd, logx.Nop())
	m.SetRegistry([]Command{
		{Name: "bad", Handle: func(ctx context.Context, req *Request) error { return errors.New("x") }},
		{Name: "boom", Handle: func(ctx context.Context, req *Request) error { panic("y") }},
		{Name: "ok", Handle: func(ctx context.Context, req *Request) error { return req.Reply(ctx, "ok") }},
	}, nil)
	updates := runManager(t, m)

	updates <- msgUpdate("/bad", false)
	updates <- msgUpdate("/boom", false)
	updates <- msgUpdate("/ok", false)
	require.Equal(t, "ok", snd.next(t))
}

func TestUpdateMenu(t *testing.T) {
	snd := newFakeSender()
	m := New(Config{}, snd, logx.Nop())
	m.SetRegistry([]Command{{Name: "stop", Description: "stop it", Handle: func(context.Context, *Request) error { return nil }}}, nil)
	require.NoError(t, m.UpdateMenu(context.Background()))

	names := make([]string, 0, len(snd.menu))
	for _, c := range snd.menu {
		names = append(names, c.Command)
	}
	require.Equal(t, "help,stop", strings.Join(names, ","))
}
