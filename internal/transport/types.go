package transport

import (
	"context"
	"errors"
)

// ErrNotFound reports that a user or chat no longer exists or is not
// reachable by the bot.
var ErrNotFound = errors.New("transport: not found")

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
	Title    string
}

// User is a live view of an account, resolved at the time it is needed.
type User struct {
	ID        int64
	Username  string
	FirstName string
	IsBot     bool
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Directory resolves ids to live entities. Lookups fail with an error
// wrapping ErrNotFound when the entity is gone.
type Directory interface {
	LookupUser(ctx context.Context, id int64) (User, error)
	LookupDestination(ctx context.Context, id int64) (ChatTarget, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
