package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks every field that Resolve would otherwise fail on.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	durations := map[string]string{
		"telegram.poll_timeout":       c.Telegram.PollTimeout,
		"task_engine.default_timeout": c.TaskEngine.DefaultTimeout,
		"commands.timeout":            c.Commands.Timeout,
		"notifier.timeout":            c.Notifier.Timeout,
		"storage.busy_timeout":        c.Storage.BusyTimeout,
		"reminder.lookup_timeout":     c.Reminder.LookupTimeout,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "memory", "none":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for driver %q", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Logging.Telegram.Enabled && c.Logging.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("logging.telegram.chat_id is required when enabled"))
	}
	if h := c.Reminder.DefaultHour; h != nil && (*h < 0 || *h > 23) {
		errs = append(errs, fmt.Errorf("reminder.default_hour must be 0..23, got %d", *h))
	}
	for path, n := range map[string]int{
		"task_engine.workers":    c.TaskEngine.Workers,
		"task_engine.queue_size": c.TaskEngine.QueueSize,
		"commands.workers":       c.Commands.Workers,
		"commands.queue_size":    c.Commands.QueueSize,
		"notifier.rate_per_sec":  c.Notifier.RatePerSec,

		"logging.telegram.rate_per_sec": c.Logging.Telegram.RatePerSec,
	} {
		if n < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0", path))
		}
	}
	return errors.Join(errs...)
}

// Location loads scheduler.timezone. Empty means time.Local.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

// Durations parsed from a validated config. Invalid values yield defaults.
func (c *Config) PollTimeout() time.Duration {
	d, _ := parseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second)
	return d
}

func (c *Config) EngineTimeout() time.Duration {
	d, _ := ParseDurationField("task_engine.default_timeout", c.TaskEngine.DefaultTimeout)
	return d
}

func (c *Config) CommandTimeout() time.Duration {
	d, _ := parseDurationOrDefault("commands.timeout", c.Commands.Timeout, 30*time.Second)
	return d
}

func (c *Config) NotifierTimeout() time.Duration {
	d, _ := ParseDurationField("notifier.timeout", c.Notifier.Timeout)
	return d
}

func (c *Config) BusyTimeout() time.Duration {
	d, _ := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	return d
}

func (c *Config) LookupTimeout() time.Duration {
	d, _ := parseDurationOrDefault("reminder.lookup_timeout", c.Reminder.LookupTimeout, 10*time.Second)
	return d
}
