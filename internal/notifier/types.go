package notifier

import "time"

// Config controls outbound delivery.
type Config struct {
	RatePerSec  int
	Timeout     time.Duration // per send; 0 means the caller's deadline only
	HistorySize int
}

type HistoryItem struct {
	At     time.Time
	ChatID int64
	Text   string
	Error  string
}

// NotificationEvent is emitted on the event bus after each delivery attempt.
type NotificationEvent struct {
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
