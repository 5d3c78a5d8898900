package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/timeexpr"
	kit "remindbot/internal/transport"
)

// Reminders is the lifecycle API the reminder commands drive.
type Reminders interface {
	ScheduleText(ctx context.Context, ownerID int64, dest kit.ChatTarget, task, expr string) (storage.Record, error)
	ScheduleAt(ctx context.Context, ownerID int64, dest kit.ChatTarget, task string, at time.Time) (storage.Record, error)
	StartRecurring(ctx context.Context, ownerID int64, dest kit.ChatTarget, task string, every time.Duration) (bool, error)
	StopRecurring(ownerID int64) error
	RecurringActive(ownerID int64) bool
	List(ctx context.Context, ownerID int64) ([]storage.Record, error)
	Clear(ctx context.Context, ownerID int64) (int, error)
}

const (
	msgUsageSchedule = "Usage: /schedule <task> | <when>\nExample: /schedule call mom | tomorrow 5pm"
	msgUsageRecur    = "Usage: /recur <interval> <task>\nExample: /recur 2h drink water"
	msgFailed        = "Something went wrong, please try again later."
	timeLayout       = "Mon 02 Jan 15:04"
)

// ReminderCommands renders the reminder lifecycle as chat commands.
type ReminderCommands struct {
	svc Reminders
	loc atomic.Pointer[time.Location]
}

func NewReminderCommands(svc Reminders, loc *time.Location) *ReminderCommands {
	rc := &ReminderCommands{svc: svc}
	rc.SetLocation(loc)
	return rc
}

// SetLocation changes the zone used to display instants.
func (rc *ReminderCommands) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	rc.loc.Store(loc)
}

func (rc *ReminderCommands) Commands() []Command {
	return []Command{
		{
			Name:        "schedule",
			Aliases:     []string{"remind", "s"},
			Description: "schedule a reminder",
			Usage:       "/schedule <task> | <when>",
			Handle:      rc.schedule,
		},
		{
			Name:        "recur",
			Aliases:     []string{"every"},
			Description: "repeat a reminder on an interval",
			Usage:       "/recur <interval> <task>",
			Handle:      rc.recur,
		},
		{
			Name:        "stop",
			Description: "stop your recurring reminder",
			Usage:       "/stop",
			Handle:      rc.stop,
		},
		{
			Name:        "reminders",
			Aliases:     []string{"list", "rms"},
			Description: "list your reminders",
			Usage:       "/reminders",
			Handle:      rc.list,
		},
		{
			Name:        "clear",
			Description: "delete all your reminders",
			Usage:       "/clear",
			Handle:      rc.clear,
		},
	}
}

func (rc *ReminderCommands) schedule(ctx context.Context, req *Request) error {
	if strings.TrimSpace(req.Text) == "" {
		return req.Reply(ctx, msgUsageSchedule)
	}
	task, when, hasWhen := splitTaskWhen(req.Text)
	if !hasWhen {
		if _, err := rc.svc.ScheduleAt(ctx, req.FromID, req.Chat, task, time.Time{}); err != nil {
			return rc.fail(ctx, req, err)
		}
		return req.Reply(ctx, fmt.Sprintf("📝 Noted: %s\nAdd \" | <when>\" to get a reminder.", task))
	}
	return rc.scheduleText(ctx, req, task, when)
}

// FreeText schedules "<task> | <when>" or a bare "<when>" written without a
// command.
func (rc *ReminderCommands) FreeText(ctx context.Context, req *Request) error {
	task, when, hasWhen := splitTaskWhen(req.Text)
	if !hasWhen {
		when = task
	}
	return rc.scheduleText(ctx, req, task, when)
}

func (rc *ReminderCommands) scheduleText(ctx context.Context, req *Request, task, when string) error {
	rec, err := rc.svc.ScheduleText(ctx, req.FromID, req.Chat, task, when)
	if err != nil {
		return rc.fail(ctx, req, err)
	}
	at := rec.FireAt.In(rc.loc.Load())
	return req.Reply(ctx, fmt.Sprintf("⏰ Okay, I will remind you on %s: %s", at.Format(timeLayout), rec.Task))
}

func (rc *ReminderCommands) recur(ctx context.Context, req *Request) error {
	every, raw, task, err := splitInterval(req.Text)
	if err != nil {
		if raw == "" {
			return req.Reply(ctx, msgUsageRecur)
		}
		return req.Reply(ctx, fmt.Sprintf("I could not read %q as an interval. Try 30m, 2h, 45 minutes or daily.", raw))
	}
	if task == "" {
		return req.Reply(ctx, msgUsageRecur)
	}
	replaced, err := rc.svc.StartRecurring(ctx, req.FromID, req.Chat, task, every)
	if err != nil {
		return rc.fail(ctx, req, err)
	}
	msg := fmt.Sprintf("🔁 Every %s: %s", every, task)
	if replaced {
		msg += "\n(your previous recurring reminder was replaced)"
	}
	return req.Reply(ctx, msg)
}

// splitInterval takes the interval off the front of "[every] <interval> <task>".
// The longest prefix of up to two words that parses wins, so "45 minutes" and
// "every 2h" both work. raw is empty when no interval was given at all.
func splitInterval(s string) (every time.Duration, raw, task string, err error) {
	fields := strings.Fields(s)
	start := 0
	if len(fields) > 0 && strings.EqualFold(fields[0], "every") {
		start = 1
	}
	if start >= len(fields) {
		return 0, "", "", errors.New("interval required")
	}
	for n := 2; n >= 1; n-- {
		if start+n > len(fields) {
			continue
		}
		cand := strings.Join(fields[start:start+n], " ")
		d, perr := timeexpr.ParseInterval(cand)
		if perr != nil {
			continue
		}
		return d, cand, strings.Join(fields[start+n:], " "), nil
	}
	raw = fields[start]
	_, err = timeexpr.ParseInterval(raw)
	return 0, raw, "", err
}

func (rc *ReminderCommands) stop(ctx context.Context, req *Request) error {
	if err := rc.svc.StopRecurring(req.FromID); err != nil {
		return rc.fail(ctx, req, err)
	}
	return req.Reply(ctx, "🛑 Recurring reminder stopped.")
}

func (rc *ReminderCommands) list(ctx context.Context, req *Request) error {
	recs, err := rc.svc.List(ctx, req.FromID)
	if err != nil {
		return rc.fail(ctx, req, err)
	}
	recurring := rc.svc.RecurringActive(req.FromID)
	if len(recs) == 0 && !recurring {
		return req.Reply(ctx, "You have no reminders.")
	}

	loc := rc.loc.Load()
	var b strings.Builder
	b.WriteString("📋 Your reminders")
	for i, r := range recs {
		fmt.Fprintf(&b, "\n%d. %s · ", i+1, r.Task)
		switch {
		case reminder.StateOf(r) == reminder.StateFired:
			b.WriteString("done")
		case r.FireAt.IsZero():
			b.WriteString("no time set")
		default:
			b.WriteString(r.FireAt.In(loc).Format(timeLayout))
		}
	}
	if recurring {
		b.WriteString("\n🔁 A recurring reminder is active. /stop cancels it.")
	}
	return req.Reply(ctx, b.String())
}

func (rc *ReminderCommands) clear(ctx context.Context, req *Request) error {
	n, err := rc.svc.Clear(ctx, req.FromID)
	if err != nil {
		return rc.fail(ctx, req, err)
	}
	if n == 0 {
		return req.Reply(ctx, "Nothing to clear.")
	}
	return req.Reply(ctx, fmt.Sprintf("🗑 Deleted %d reminder(s).", n))
}

// fail replies with a user-facing message. Unexpected errors are returned so
// the request log records them.
func (rc *ReminderCommands) fail(ctx context.Context, req *Request, err error) error {
	var msg string
	switch {
	case errors.Is(err, reminder.ErrUnparseable):
		msg = "I could not understand when. Try: call mom | tomorrow 5pm"
	case errors.Is(err, reminder.ErrPastInstant):
		msg = "That time is already in the past."
	case errors.Is(err, reminder.ErrEmptyTask):
		msg = "What should I remind you about? " + msgUsageSchedule
	case errors.Is(err, reminder.ErrInvalidInterval):
		msg = "The interval must be positive."
	case errors.Is(err, reminder.ErrNothingToCancel):
		msg = "Nothing to cancel."
	default:
		_ = req.Reply(ctx, msgFailed)
		return err
	}
	return req.Reply(ctx, msg)
}
