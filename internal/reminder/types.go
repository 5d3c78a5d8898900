package reminder

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
)

var (
	ErrUnparseable     = errors.New("reminder: could not understand the time")
	ErrPastInstant     = errors.New("reminder: time is not in the future")
	ErrInvalidInterval = errors.New("reminder: interval must be positive")
	ErrNothingToCancel = errors.New("reminder: nothing to cancel")
	ErrEmptyTask       = errors.New("reminder: task is empty")
)

// Scheduler is the trigger port used by the lifecycle.
type Scheduler interface {
	ScheduleOnce(jobID string, at time.Time, p scheduler.Payload) error
	ScheduleRecurring(jobID string, every time.Duration, p scheduler.Payload) error
	Cancel(jobID string) error
	Has(jobID string) bool
}

// Deliverer sends a rendered reminder to a resolved destination.
type Deliverer interface {
	Deliver(ctx context.Context, to kit.ChatTarget, text string) error
}

// ResolveFunc turns a time expression into an instant relative to now.
type ResolveFunc func(text string, now time.Time) (time.Time, bool)

type Config struct {
	// LookupTimeout bounds each owner/destination lookup at fire time.
	LookupTimeout time.Duration
	// Location is the zone time expressions are resolved in. Nil means local.
	Location *time.Location
	// DefaultHour is the hour used for date cues without a time of day.
	// Nil means timeexpr.DefaultHour.
	DefaultHour *int
}

// State of a one-shot reminder. Recurring reminders have no record and
// therefore no State.
type State int

const (
	StatePending State = iota
	StateFired
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateFired:
		return "fired"
	case StateCancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

// StateOf reports the state of a stored record. Cancelled records are
// deleted, so a stored record is either pending or fired.
func StateOf(r storage.Record) State {
	if r.Completed {
		return StateFired
	}
	return StatePending
}

// Event is published on the event bus for lifecycle transitions.
type Event struct {
	OwnerID  int64         `json:"owner_id"`
	JobID    string        `json:"job_id,omitempty"`
	RecordID string        `json:"record_id,omitempty"`
	At       time.Time     `json:"at,omitempty"`
	Every    time.Duration `json:"every,omitempty"`
	Count    int           `json:"count,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type Option func(*Service)

// WithResolver replaces the time expression resolver.
func WithResolver(fn ResolveFunc) Option {
	return func(s *Service) {
		if fn != nil {
			s.resolve = fn
			s.fixedResolver = true
		}
	}
}

// WithClock replaces the reference clock used for futurity checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
