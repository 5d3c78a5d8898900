package commands

import (
	"context"
	"time"

	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// Sender is the outbound part of kit.Adapter used for replies.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string   // matched command name, empty for free text
	Args    []string // tokenized arguments
	Text    string   // raw argument text after the command word
	ReqID   string
	Logger  logx.Logger

	sender Sender
}

// Reply sends plain text back to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// ReplyHTML is Reply with Telegram HTML parse mode.
func (r *Request) ReplyHTML(ctx context.Context, text string) error {
	_, err := r.sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
	return err
}

type Config struct {
	Workers   int
	QueueSize int
	// Timeout bounds a handler when its Command has no override.
	Timeout time.Duration
}
