package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/eventbus"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type armed struct {
	at    time.Time
	every time.Duration
	p     scheduler.Payload
}

type fakeScheduler struct {
	mu      sync.Mutex
	jobs    map[string]armed
	failArm error
}

func newFakeScheduler() *fakeScheduler { return &fakeScheduler{jobs: map[string]armed{}} }

func (f *fakeScheduler) ScheduleOnce(jobID string, at time.Time, p scheduler.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failArm != nil {
		return f.failArm
	}
	f.jobs[jobID] = armed{at: at, p: p}
	return nil
}

func (f *fakeScheduler) ScheduleRecurring(jobID string, every time.Duration, p scheduler.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID] = armed{every: every, p: p}
	return nil
}

func (f *fakeScheduler) Cancel(jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[jobID]; !ok {
		return scheduler.ErrNotFound
	}
	delete(f.jobs, jobID)
	return nil
}

func (f *fakeScheduler) Has(jobID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[jobID]
	return ok
}

type fakeDirectory struct {
	users map[int64]kit.User
	chats map[int64]kit.ChatTarget
}

func (d *fakeDirectory) LookupUser(ctx context.Context, id int64) (kit.User, error) {
	u, ok := d.users[id]
	if !ok {
		return kit.User{}, fmt.Errorf("user %d: %w", id, kit.ErrNotFound)
	}
	return u, nil
}

func (d *fakeDirectory) LookupDestination(ctx context.Context, id int64) (kit.ChatTarget, error) {
	c, ok := d.chats[id]
	if !ok {
		return kit.ChatTarget{}, fmt.Errorf("chat %d: %w", id, kit.ErrNotFound)
	}
	return c, nil
}

type fakeDeliverer struct {
	mu    sync.Mutex
	texts []string
	to    []kit.ChatTarget
	err   error
	calls int
}

func (d *fakeDeliverer) Deliver(ctx context.Context, to kit.ChatTarget, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.to = append(d.to, to)
	if d.err != nil {
		return d.err
	}
	d.texts = append(d.texts, text)
	return nil
}

var testNow = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func chat(id int64) kit.ChatTarget { return kit.ChatTarget{ChatID: id} }

type fixture struct {
	svc   *Service
	store storage.Store
	sched *fakeScheduler
	dir   *fakeDirectory
	out   *fakeDeliverer
	bus   eventbus.Bus
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store: storage.NewMemory(),
		sched: newFakeScheduler(),
		dir: &fakeDirectory{
			users: map[int64]kit.User{7: {ID: 7, Username: "ann"}},
			chats: map[int64]kit.ChatTarget{7: {ChatID: 7}, -100: {ChatID: -100, Title: "team"}},
		},
		out: &fakeDeliverer{},
		bus: eventbus.New(),
	}
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	f.svc = New(Config{Location: time.UTC}, f.store, f.sched, f.dir, f.out, logx.Nop(), f.bus, opts...)
	t.Cleanup(func() { _ = f.store.Close() })
	return f
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				return ev.Data.(Event)
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
		}
	}
}

func TestScheduleTextArmsOneShot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.ScheduleText(ctx, 7, chat(-100), "call mom", "in 2 hours")
	require.NoError(t, err)
	require.True(t, testNow.Add(2*time.Hour).Equal(rec.FireAt))

	job, ok := f.sched.jobs[scheduler.OnceJobID(rec.ID)]
	require.True(t, ok)
	require.True(t, job.at.Equal(rec.FireAt))
	require.Equal(t, rec.ID, job.p.RecordID)
	require.Equal(t, int64(-100), job.p.DestinationID)

	list, err := f.svc.List(ctx, 7)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, StatePending, StateOf(list[0]))
}

func TestScheduleTextRejectsUnparseable(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ScheduleText(context.Background(), 7, chat(7), "x", "whenever you like")
	require.ErrorIs(t, err, ErrUnparseable)
	require.Empty(t, f.sched.jobs)

	list, err := f.svc.List(context.Background(), 7)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestScheduleTextRejectsPastInstant(t *testing.T) {
	f := newFixture(t, WithResolver(func(string, time.Time) (time.Time, bool) {
		return testNow.Add(-time.Minute), true
	}))
	_, err := f.svc.ScheduleText(context.Background(), 7, chat(7), "x", "anything")
	require.ErrorIs(t, err, ErrPastInstant)

	f = newFixture(t, WithResolver(func(_ string, now time.Time) (time.Time, bool) {
		return now, true
	}))
	_, err = f.svc.ScheduleText(context.Background(), 7, chat(7), "x", "today")
	require.ErrorIs(t, err, ErrPastInstant)
	require.Empty(t, f.sched.jobs)
}

func TestScheduleAtWithoutInstantIsInert(t *testing.T) {
	f := newFixture(t)
	rec, err := f.svc.ScheduleAt(context.Background(), 7, chat(7), "buy milk", time.Time{})
	require.NoError(t, err)
	require.True(t, rec.FireAt.IsZero())
	require.Empty(t, f.sched.jobs)

	pending, err := f.store.ListPending(context.Background())
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestScheduleAtValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ScheduleAt(context.Background(), 7, chat(7), "   ", testNow.Add(time.Hour))
	require.ErrorIs(t, err, ErrEmptyTask)

	_, err = f.svc.ScheduleAt(context.Background(), 7, chat(7), "x", testNow)
	require.ErrorIs(t, err, ErrPastInstant)
}

func TestScheduleAtArmFailureDeletesRecord(t *testing.T) {
	f := newFixture(t)
	f.sched.failArm = errors.New("scheduler down")

	_, err := f.svc.ScheduleAt(context.Background(), 7, chat(7), "x", testNow.Add(time.Hour))
	require.Error(t, err)

	// Nothing is left behind that could be listed as done.
	list, err := f.svc.List(context.Background(), 7)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestForumThreadIsKeptUntilDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	topic := kit.ChatTarget{ChatID: -100, ThreadID: 42}

	rec, err := f.svc.ScheduleAt(ctx, 7, topic, "retro", testNow.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 42, rec.ThreadID)
	require.Equal(t, 42, f.sched.jobs[scheduler.OnceJobID(rec.ID)].p.ThreadID)

	require.NoError(t, f.svc.HandleFire(ctx, scheduler.OnceJobID(rec.ID), payloadOf(rec)))
	require.Equal(t, []kit.ChatTarget{{ChatID: -100, ThreadID: 42, Title: "team"}}, f.out.to)

	_, err = f.svc.StartRecurring(ctx, 7, topic, "water", time.Hour)
	require.NoError(t, err)
	p := f.sched.jobs[scheduler.RecurringJobID(7)].p
	require.NoError(t, f.svc.HandleFire(ctx, scheduler.RecurringJobID(7), p))
	require.Equal(t, 42, f.out.to[1].ThreadID)
}

func TestRecurringStartReplaceStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	replaced, err := f.svc.StartRecurring(ctx, 7, chat(7), "drink water", time.Hour)
	require.NoError(t, err)
	require.False(t, replaced)
	require.True(t, f.svc.RecurringActive(7))

	replaced, err = f.svc.StartRecurring(ctx, 7, chat(7), "stretch", 30*time.Minute)
	require.NoError(t, err)
	require.True(t, replaced)
	job := f.sched.jobs[scheduler.RecurringJobID(7)]
	require.Equal(t, 30*time.Minute, job.every)
	require.Equal(t, "stretch", job.p.Task)
	require.Empty(t, job.p.RecordID)

	require.NoError(t, f.svc.StopRecurring(7))
	require.False(t, f.svc.RecurringActive(7))
	require.ErrorIs(t, f.svc.StopRecurring(7), ErrNothingToCancel)
}

func TestStartRecurringValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StartRecurring(context.Background(), 7, chat(7), "x", 0)
	require.ErrorIs(t, err, ErrInvalidInterval)
	_, err = f.svc.StartRecurring(context.Background(), 7, chat(7), "", time.Minute)
	require.ErrorIs(t, err, ErrEmptyTask)
	require.Empty(t, f.sched.jobs)
}

func TestClearDeletesRecordsAndCancelsTriggers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.ScheduleAt(ctx, 7, chat(7), "a", testNow.Add(time.Hour))
	require.NoError(t, err)
	_, err = f.svc.ScheduleAt(ctx, 7, chat(7), "b", time.Time{})
	require.NoError(t, err)
	other, err := f.svc.ScheduleAt(ctx, 8, chat(8), "c", testNow.Add(time.Hour))
	require.NoError(t, err)

	n, err := f.svc.Clear(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.False(t, f.sched.Has(scheduler.OnceJobID(a.ID)))
	require.True(t, f.sched.Has(scheduler.OnceJobID(other.ID)))

	list, err := f.svc.List(ctx, 7)
	require.NoError(t, err)
	require.Empty(t, list)

	n, err = f.svc.Clear(ctx, 7)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRestoreRearmsPendingOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, err := f.store.Create(ctx, storage.Record{OwnerID: 7, DestinationID: 7, Task: "a", FireAt: testNow.Add(time.Hour)})
	require.NoError(t, err)
	done, err := f.store.Create(ctx, storage.Record{OwnerID: 7, DestinationID: 7, Task: "b", FireAt: testNow.Add(time.Hour)})
	require.NoError(t, err)
	require.NoError(t, f.store.MarkCompleted(ctx, done.ID))
	_, err = f.store.Create(ctx, storage.Record{OwnerID: 7, DestinationID: 7, Task: "c"})
	require.NoError(t, err)

	n, err := f.svc.Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.True(t, f.sched.Has(scheduler.OnceJobID(pending.ID)))
	require.False(t, f.sched.Has(scheduler.OnceJobID(done.ID)))
}

func TestHandleFireDeliversAndCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	events, unsub := f.bus.Subscribe(16)
	defer unsub()

	rec, err := f.svc.ScheduleAt(ctx, 7, chat(-100), "standup", testNow.Add(time.Minute))
	require.NoError(t, err)
	jobID := scheduler.OnceJobID(rec.ID)

	require.NoError(t, f.svc.HandleFire(ctx, jobID, payloadOf(rec)))
	require.Equal(t, []string{"⏰ @ann, you wanted me to remind you: standup"}, f.out.texts)

	got, err := f.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StateFired, StateOf(got))

	ev := waitEvent(t, events, eventbus.ReminderFired)
	require.Equal(t, jobID, ev.JobID)
	require.Empty(t, ev.Error)

	// A second fire for the same record is a no-op.
	require.NoError(t, f.svc.HandleFire(ctx, jobID, payloadOf(rec)))
	require.Equal(t, 1, f.out.calls)
}

func TestHandleFireSkipsDeletedOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	events, unsub := f.bus.Subscribe(16)
	defer unsub()

	rec, err := f.svc.ScheduleAt(ctx, 99, chat(7), "ghost", testNow.Add(time.Minute))
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleFire(ctx, scheduler.OnceJobID(rec.ID), payloadOf(rec)))
	require.Zero(t, f.out.calls)

	ev := waitEvent(t, events, eventbus.ReminderSkipped)
	require.Equal(t, "owner", ev.Reason)

	got, err := f.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, got.Completed)
}

func TestHandleFireSkipsMissingDestination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := scheduler.Payload{OwnerID: 7, DestinationID: -555, Task: "hello"}
	require.NoError(t, f.svc.HandleFire(ctx, scheduler.RecurringJobID(7), p))
	require.Zero(t, f.out.calls)
}

func TestHandleFireSkipsClearedRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.ScheduleAt(ctx, 7, chat(7), "x", testNow.Add(time.Minute))
	require.NoError(t, err)
	_, err = f.svc.Clear(ctx, 7)
	require.NoError(t, err)

	require.NoError(t, f.svc.HandleFire(ctx, scheduler.OnceJobID(rec.ID), payloadOf(rec)))
	require.Zero(t, f.out.calls)
}

func TestHandleFireDeliveryFailureIsReportedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.out.err = errors.New("bot was kicked")

	rec, err := f.svc.ScheduleAt(ctx, 7, chat(7), "x", testNow.Add(time.Minute))
	require.NoError(t, err)

	err = f.svc.HandleFire(ctx, scheduler.OnceJobID(rec.ID), payloadOf(rec))
	require.Error(t, err)
	require.Contains(t, err.Error(), "bot was kicked")
	require.Equal(t, 1, f.out.calls)

	got, err := f.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, got.Completed)
}

func TestRecurringFireDeliversWithoutRecord(t *testing.T) {
	f := newFixture(t)
	p := scheduler.Payload{OwnerID: 7, DestinationID: 7, Task: "drink water"}
	require.NoError(t, f.svc.HandleFire(context.Background(), scheduler.RecurringJobID(7), p))
	require.NoError(t, f.svc.HandleFire(context.Background(), scheduler.RecurringJobID(7), p))
	require.Equal(t, 2, f.out.calls)
}

func TestRender(t *testing.T) {
	require.Equal(t, "⏰ Reminder: x", Render(kit.User{}, "x"))
	require.Equal(t, "⏰ Ann, you wanted me to remind you: x", Render(kit.User{FirstName: "Ann"}, "x"))
	require.Equal(t, "⏰ @ann, you wanted me to remind you: x", Render(kit.User{FirstName: "Ann", Username: "ann"}, "x"))
}

func TestApplyDefaultHour(t *testing.T) {
	f := newFixture(t)
	h := 7
	f.svc.Apply(Config{Location: time.UTC, DefaultHour: &h})

	rec, err := f.svc.ScheduleText(context.Background(), 7, chat(7), "gym", "tomorrow")
	require.NoError(t, err)
	require.True(t, time.Date(2024, 3, 5, 7, 0, 0, 0, time.UTC).Equal(rec.FireAt))
}
