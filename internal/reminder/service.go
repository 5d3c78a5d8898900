package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	"remindbot/internal/timeexpr"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Service owns the reminder lifecycle: it persists one-shot reminders, arms
// their triggers and renders them when a trigger fires.
type Service struct {
	mu  sync.RWMutex
	cfg Config
	loc *time.Location

	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store
	sched Scheduler
	dir   kit.Directory
	out   Deliverer

	resolve       ResolveFunc
	fixedResolver bool
	now           func() time.Time
}

func New(cfg Config, store storage.Store, sched Scheduler, dir kit.Directory, out Deliverer, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:   log,
		bus:   bus,
		store: store,
		sched: sched,
		dir:   dir,
		out:   out,
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.Apply(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 10 * time.Second
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	s.mu.Lock()
	s.cfg = cfg
	s.loc = loc
	if !s.fixedResolver {
		h := timeexpr.DefaultHour
		if cfg.DefaultHour != nil {
			h = *cfg.DefaultHour
		}
		r := timeexpr.New(timeexpr.Options{DefaultHour: h})
		s.resolve = func(text string, now time.Time) (time.Time, bool) {
			res, ok := r.Resolve(text, now)
			return res.At, ok
		}
	}
	s.mu.Unlock()
}

func (s *Service) config() (Config, *time.Location) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.loc
}

// ScheduleText resolves expr against the current time and schedules task for
// the resulting instant.
func (s *Service) ScheduleText(ctx context.Context, ownerID int64, dest kit.ChatTarget, task, expr string) (storage.Record, error) {
	s.mu.RLock()
	loc, resolve := s.loc, s.resolve
	s.mu.RUnlock()
	now := s.now().In(loc)
	at, ok := resolve(expr, now)
	if !ok {
		return storage.Record{}, ErrUnparseable
	}
	if !at.After(now) {
		return storage.Record{}, fmt.Errorf("%w: %s", ErrPastInstant, at.Format(time.RFC3339))
	}
	return s.ScheduleAt(ctx, ownerID, dest, task, at)
}

// ScheduleAt persists a reminder. A zero at stores an inert entry with no
// trigger; otherwise at must be in the future and a one-shot trigger is armed.
// The forum thread of dest is kept so the reminder returns to the same topic.
func (s *Service) ScheduleAt(ctx context.Context, ownerID int64, dest kit.ChatTarget, task string, at time.Time) (storage.Record, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return storage.Record{}, ErrEmptyTask
	}
	if !at.IsZero() && !at.After(s.now()) {
		return storage.Record{}, ErrPastInstant
	}

	rec, err := s.store.Create(ctx, storage.Record{
		OwnerID:       ownerID,
		DestinationID: dest.ChatID,
		ThreadID:      dest.ThreadID,
		Task:          task,
		FireAt:        at,
	})
	if err != nil {
		return storage.Record{}, fmt.Errorf("store reminder: %w", err)
	}
	if at.IsZero() {
		s.log.Debug("reminder stored without trigger", logx.Int64("owner_id", ownerID), logx.String("id", rec.ID))
		return rec, nil
	}

	jobID := scheduler.OnceJobID(rec.ID)
	if err := s.sched.ScheduleOnce(jobID, at, payloadOf(rec)); err != nil {
		// A record must never stay pending without a trigger.
		if derr := s.abandon(ctx, rec); derr != nil {
			s.log.Warn("reminder rollback failed", logx.String("id", rec.ID), logx.Err(derr))
		}
		return storage.Record{}, fmt.Errorf("arm trigger: %w", err)
	}
	s.log.Info("reminder scheduled",
		logx.Int64("owner_id", ownerID),
		logx.String("job_id", jobID),
		logx.Time("at", at),
	)
	s.publish(eventbus.ReminderScheduled, Event{OwnerID: ownerID, JobID: jobID, RecordID: rec.ID, At: at})
	return rec, nil
}

// abandon removes rec after its trigger could not be armed.
func (s *Service) abandon(ctx context.Context, rec storage.Record) error {
	if err := s.store.Delete(ctx, rec.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

// StartRecurring installs (or replaces) the owner's recurring reminder. It
// reports whether a previous one was replaced.
func (s *Service) StartRecurring(ctx context.Context, ownerID int64, dest kit.ChatTarget, task string, every time.Duration) (bool, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return false, ErrEmptyTask
	}
	if every <= 0 {
		return false, ErrInvalidInterval
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	jobID := scheduler.RecurringJobID(ownerID)
	replaced := s.sched.Has(jobID)
	p := scheduler.Payload{OwnerID: ownerID, DestinationID: dest.ChatID, ThreadID: dest.ThreadID, Task: task}
	if err := s.sched.ScheduleRecurring(jobID, every, p); err != nil {
		return false, fmt.Errorf("arm recurring trigger: %w", err)
	}
	s.log.Info("recurring reminder started",
		logx.Int64("owner_id", ownerID),
		logx.Duration("every", every),
		logx.Bool("replaced", replaced),
	)
	s.publish(eventbus.ReminderScheduled, Event{OwnerID: ownerID, JobID: jobID, Every: every})
	return replaced, nil
}

// StopRecurring cancels the owner's recurring reminder.
func (s *Service) StopRecurring(ownerID int64) error {
	jobID := scheduler.RecurringJobID(ownerID)
	if err := s.sched.Cancel(jobID); err != nil {
		if errors.Is(err, scheduler.ErrNotFound) {
			return ErrNothingToCancel
		}
		return err
	}
	s.log.Info("recurring reminder stopped", logx.Int64("owner_id", ownerID))
	s.publish(eventbus.ReminderCleared, Event{OwnerID: ownerID, JobID: jobID, Reason: "stop"})
	return nil
}

// RecurringActive reports whether the owner has a recurring reminder.
func (s *Service) RecurringActive(ownerID int64) bool {
	return s.sched.Has(scheduler.RecurringJobID(ownerID))
}

// List returns the owner's records, oldest first.
func (s *Service) List(ctx context.Context, ownerID int64) ([]storage.Record, error) {
	return s.store.ListByOwner(ctx, ownerID)
}

// Clear deletes every record of the owner and cancels their one-shot
// triggers. It returns how many records were deleted.
func (s *Service) Clear(ctx context.Context, ownerID int64) (int, error) {
	deleted, err := s.store.DeleteAllByOwner(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("clear reminders: %w", err)
	}
	for _, r := range deleted {
		if !r.Pending() {
			continue
		}
		if err := s.sched.Cancel(scheduler.OnceJobID(r.ID)); err != nil && !errors.Is(err, scheduler.ErrNotFound) {
			s.log.Warn("cancel trigger failed", logx.String("id", r.ID), logx.Err(err))
		}
	}
	s.log.Info("reminders cleared", logx.Int64("owner_id", ownerID), logx.Int("count", len(deleted)))
	s.publish(eventbus.ReminderCleared, Event{OwnerID: ownerID, Count: len(deleted), Reason: "clear"})
	return len(deleted), nil
}

// Restore re-arms triggers for pending records, e.g. after a restart. Records
// whose instant has passed fire immediately.
func (s *Service) Restore(ctx context.Context) (int, error) {
	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}
	n := 0
	for _, r := range pending {
		if err := s.sched.ScheduleOnce(scheduler.OnceJobID(r.ID), r.FireAt, payloadOf(r)); err != nil {
			s.log.Warn("restore trigger failed", logx.String("id", r.ID), logx.Err(err))
			continue
		}
		n++
	}
	if n > 0 {
		s.log.Info("reminders restored", logx.Int("count", n))
	}
	return n, nil
}

// HandleFire is the scheduler's fire handler. Owners or destinations that no
// longer exist are skipped without an error.
func (s *Service) HandleFire(ctx context.Context, jobID string, p scheduler.Payload) error {
	cfg, _ := s.config()
	log := s.log.With(logx.String("job_id", jobID), logx.Int64("owner_id", p.OwnerID))

	if p.RecordID != "" {
		rec, err := s.store.Get(ctx, p.RecordID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			log.Debug("reminder record gone, skipping")
			s.skip(p, jobID, "cancelled", nil)
			return nil
		case err != nil:
			return fmt.Errorf("load reminder: %w", err)
		case rec.Completed:
			log.Debug("reminder already fired")
			return nil
		}
	}

	lctx, cancel := context.WithTimeout(ctx, cfg.LookupTimeout)
	user, err := s.dir.LookupUser(lctx, p.OwnerID)
	if err != nil {
		cancel()
		s.logSkip(log, "owner lookup failed", err)
		s.skip(p, jobID, "owner", err)
		return s.complete(ctx, p)
	}
	dest, err := s.dir.LookupDestination(lctx, p.DestinationID)
	cancel()
	if err != nil {
		s.logSkip(log, "destination lookup failed", err)
		s.skip(p, jobID, "destination", err)
		return s.complete(ctx, p)
	}
	if p.ThreadID != 0 {
		dest.ThreadID = p.ThreadID
	}

	derr := s.out.Deliver(ctx, dest, Render(user, p.Task))
	if cerr := s.complete(ctx, p); cerr != nil {
		log.Warn("mark completed failed", logx.Err(cerr))
	}
	ev := Event{OwnerID: p.OwnerID, JobID: jobID, RecordID: p.RecordID}
	if derr != nil {
		ev.Error = derr.Error()
		s.publish(eventbus.ReminderFired, ev)
		return fmt.Errorf("deliver reminder: %w", derr)
	}
	s.publish(eventbus.ReminderFired, ev)
	return nil
}

func (s *Service) logSkip(log logx.Logger, msg string, err error) {
	if errors.Is(err, kit.ErrNotFound) {
		log.Info(msg+", skipping", logx.Err(err))
		return
	}
	log.Warn(msg+", skipping", logx.Err(err))
}

func (s *Service) complete(ctx context.Context, p scheduler.Payload) error {
	if p.RecordID == "" {
		return nil
	}
	if err := s.store.MarkCompleted(ctx, p.RecordID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

func (s *Service) skip(p scheduler.Payload, jobID, reason string, err error) {
	ev := Event{OwnerID: p.OwnerID, JobID: jobID, RecordID: p.RecordID, Reason: reason}
	if err != nil {
		ev.Error = err.Error()
	}
	s.publish(eventbus.ReminderSkipped, ev)
}

func (s *Service) publish(typ string, ev Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: ev})
}

func payloadOf(r storage.Record) scheduler.Payload {
	return scheduler.Payload{
		OwnerID:       r.OwnerID,
		DestinationID: r.DestinationID,
		ThreadID:      r.ThreadID,
		Task:          r.Task,
		RecordID:      r.ID,
	}
}

// Render formats the message delivered when a reminder fires.
func Render(u kit.User, task string) string {
	name := strings.TrimSpace(u.FirstName)
	if u.Username != "" {
		name = "@" + u.Username
	}
	if name == "" {
		return "⏰ Reminder: " + task
	}
	return "⏰ " + name + ", you wanted me to remind you: " + task
}
