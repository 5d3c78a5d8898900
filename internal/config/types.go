package config

// Config is the on-disk configuration. Durations are Go duration strings
// (e.g. "500ms", "10s", "1m") and are parsed by Resolve.
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Commands   CommandsConfig   `json:"commands"`
	Notifier   NotifierConfig   `json:"notifier"`
	Storage    StorageConfig    `json:"storage"`
	Reminder   ReminderConfig   `json:"reminder"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards log entries to an admin chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// SchedulerConfig controls trigger timing.
type SchedulerConfig struct {
	// Timezone is an IANA name. Empty means the process local zone.
	Timezone string `json:"timezone,omitempty"`
}

// TaskEngineConfig controls the fire execution engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - history_size: 200
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// CommandsConfig controls the command dispatcher worker pool.
type CommandsConfig struct {
	Workers   int    `json:"workers,omitempty"`
	QueueSize int    `json:"queue_size,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
}

type NotifierConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

// StorageConfig selects the reminder store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./remindbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type ReminderConfig struct {
	LookupTimeout string `json:"lookup_timeout,omitempty"`
	// DefaultHour is a pointer so an explicit 0 (midnight) differs from omitted.
	DefaultHour *int `json:"default_hour,omitempty"`
}
