package app

import (
	"strings"
	"time"

	"remindbot/internal/commands"
	"remindbot/internal/config"
	"remindbot/internal/notifier"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/task/engine"
	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

// The mappers below expect a config that passed Validate.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Logging.Telegram.ChatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	sc := storage.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:   strings.TrimSpace(cfg.Storage.Path),
	}
	if sc.Driver == "sqlite" || sc.Driver == "sqlite3" {
		sc.BusyTimeout = cfg.BusyTimeout()
		if sc.BusyTimeout <= 0 {
			sc.BusyTimeout = time.Second
		}
	}
	return sc
}

func mapEngineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Workers:        cfg.TaskEngine.Workers,
		QueueSize:      cfg.TaskEngine.QueueSize,
		DefaultTimeout: cfg.EngineTimeout(),
		HistorySize:    cfg.TaskEngine.HistorySize,
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: strings.TrimSpace(cfg.Scheduler.Timezone)}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{
		RatePerSec:  cfg.Notifier.RatePerSec,
		Timeout:     cfg.NotifierTimeout(),
		HistorySize: cfg.Notifier.HistorySize,
	}
}

func mapCommandsConfig(cfg *config.Config) commands.Config {
	return commands.Config{
		Workers:   cfg.Commands.Workers,
		QueueSize: cfg.Commands.QueueSize,
		Timeout:   cfg.CommandTimeout(),
	}
}

func mapReminderConfig(cfg *config.Config) reminder.Config {
	loc, err := cfg.Location()
	if err != nil {
		loc = time.Local
	}
	return reminder.Config{
		LookupTimeout: cfg.LookupTimeout(),
		Location:      loc,
		DefaultHour:   cfg.Reminder.DefaultHour,
	}
}

// changedSections lists the top-level sections that differ. Secrets are never
// part of the result.
func changedSections(oldCfg, newCfg *config.Config) []string {
	if oldCfg == nil {
		oldCfg = &config.Config{}
	}
	var out []string
	add := func(name string, changed bool) {
		if changed {
			out = append(out, name)
		}
	}
	add("telegram", oldCfg.Telegram != newCfg.Telegram)
	add("logging", oldCfg.Logging != newCfg.Logging)
	add("scheduler", oldCfg.Scheduler != newCfg.Scheduler)
	add("task_engine", oldCfg.TaskEngine != newCfg.TaskEngine)
	add("commands", oldCfg.Commands != newCfg.Commands)
	add("notifier", oldCfg.Notifier != newCfg.Notifier)
	add("storage", oldCfg.Storage != newCfg.Storage)
	add("reminder", oldCfg.Reminder.LookupTimeout != newCfg.Reminder.LookupTimeout ||
		!sameHour(oldCfg.Reminder.DefaultHour, newCfg.Reminder.DefaultHour))
	return out
}

func sameHour(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
