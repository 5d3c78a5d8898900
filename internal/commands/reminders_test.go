package commands

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
)

type fakeReminders struct {
	records   []storage.Record
	recurring map[int64]time.Duration
	textErr   error
	lastTask  string
	lastExpr  string
	lastDest  kit.ChatTarget
}

func (f *fakeReminders) ScheduleText(ctx context.Context, ownerID int64, dest kit.ChatTarget, task, expr string) (storage.Record, error) {
	f.lastTask, f.lastExpr, f.lastDest = task, expr, dest
	if f.textErr != nil {
		return storage.Record{}, f.textErr
	}
	r := storage.Record{ID: "r1", OwnerID: ownerID, DestinationID: dest.ChatID, ThreadID: dest.ThreadID, Task: task,
		FireAt: time.Date(2024, 3, 5, 17, 0, 0, 0, time.UTC)}
	f.records = append(f.records, r)
	return r, nil
}

func (f *fakeReminders) ScheduleAt(ctx context.Context, ownerID int64, dest kit.ChatTarget, task string, at time.Time) (storage.Record, error) {
	r := storage.Record{ID: "r2", OwnerID: ownerID, DestinationID: dest.ChatID, ThreadID: dest.ThreadID, Task: task, FireAt: at}
	f.records = append(f.records, r)
	return r, nil
}

func (f *fakeReminders) StartRecurring(ctx context.Context, ownerID int64, dest kit.ChatTarget, task string, every time.Duration) (bool, error) {
	f.lastDest = dest
	_, had := f.recurring[ownerID]
	f.recurring[ownerID] = every
	return had, nil
}

func (f *fakeReminders) StopRecurring(ownerID int64) error {
	if _, ok := f.recurring[ownerID]; !ok {
		return reminder.ErrNothingToCancel
	}
	delete(f.recurring, ownerID)
	return nil
}

func (f *fakeReminders) RecurringActive(ownerID int64) bool {
	_, ok := f.recurring[ownerID]
	return ok
}

func (f *fakeReminders) List(ctx context.Context, ownerID int64) ([]storage.Record, error) {
	return f.records, nil
}

func (f *fakeReminders) Clear(ctx context.Context, ownerID int64) (int, error) {
	n := len(f.records)
	f.records = nil
	return n, nil
}

func newReq(snd *fakeSender, text string) *Request {
	return &Request{Chat: kit.ChatTarget{ChatID: 10}, FromID: 7, Text: text, Args: tokenizeCommandLine(text), sender: snd}
}

func TestScheduleCommand(t *testing.T) {
	svc := &fakeReminders{recurring: map[int64]time.Duration{}}
	rc := NewReminderCommands(svc, time.UTC)
	snd := newFakeSender()
	ctx := context.Background()

	require.NoError(t, rc.schedule(ctx, newReq(snd, "call mom | tomorrow 5pm")))
	require.Equal(t, "call mom", svc.lastTask)
	require.Equal(t, "tomorrow 5pm", svc.lastExpr)
	require.Equal(t, "⏰ Okay, I will remind you on Tue 05 Mar 17:00: call mom", snd.next(t))

	require.NoError(t, rc.schedule(ctx, newReq(snd, "buy milk")))
	require.Contains(t, snd.next(t), "Noted: buy milk")
	require.True(t, svc.records[1].FireAt.IsZero())

	require.NoError(t, rc.schedule(ctx, newReq(snd, "")))
	require.Contains(t, snd.next(t), "Usage: /schedule")
}

func TestScheduleCommandErrorMessages(t *testing.T) {
	snd := newFakeSender()
	ctx := context.Background()

	svc := &fakeReminders{textErr: reminder.ErrUnparseable}
	rc := NewReminderCommands(svc, time.UTC)
	require.NoError(t, rc.schedule(ctx, newReq(snd, "x | whenever")))
	require.Contains(t, snd.next(t), "could not understand")

	svc.textErr = reminder.ErrPastInstant
	require.NoError(t, rc.schedule(ctx, newReq(snd, "x | today")))
	require.Contains(t, snd.next(t), "in the past")

	svc.textErr = errors.New("disk full")
	require.Error(t, rc.schedule(ctx, newReq(snd, "x | 5pm")))
	require.Equal(t, msgFailed, snd.next(t))
}

func TestFreeTextUsesWholeTextAsExpression(t *testing.T) {
	svc := &fakeReminders{}
	rc := NewReminderCommands(svc, time.UTC)
	snd := newFakeSender()

	require.NoError(t, rc.FreeText(context.Background(), newReq(snd, "standup in 2 hours")))
	require.Equal(t, "standup in 2 hours", svc.lastTask)
	require.Equal(t, "standup in 2 hours", svc.lastExpr)
	snd.next(t)
}

func TestCommandsKeepForumThread(t *testing.T) {
	svc := &fakeReminders{recurring: map[int64]time.Duration{}}
	rc := NewReminderCommands(svc, time.UTC)
	snd := newFakeSender()
	ctx := context.Background()

	req := newReq(snd, "retro | tomorrow 5pm")
	req.Chat = kit.ChatTarget{ChatID: -100, ThreadID: 42}
	require.NoError(t, rc.schedule(ctx, req))
	require.Equal(t, req.Chat, svc.lastDest)
	snd.next(t)

	req = newReq(snd, "2h water")
	req.Chat = kit.ChatTarget{ChatID: -100, ThreadID: 43}
	require.NoError(t, rc.recur(ctx, req))
	require.Equal(t, 43, svc.lastDest.ThreadID)
	snd.next(t)
}

func TestRecurAndStopCommands(t *testing.T) {
	svc := &fakeReminders{recurring: map[int64]time.Duration{}}
	rc := NewReminderCommands(svc, time.UTC)
	snd := newFakeSender()
	ctx := context.Background()

	require.NoError(t, rc.recur(ctx, newReq(snd, "2h drink water")))
	require.Equal(t, "🔁 Every 2h0m0s: drink water", snd.next(t))
	require.Equal(t, 2*time.Hour, svc.recurring[7])

	require.NoError(t, rc.recur(ctx, newReq(snd, "30m stretch")))
	require.Contains(t, snd.next(t), "replaced")

	require.NoError(t, rc.recur(ctx, newReq(snd, "soon stretch")))
	require.Contains(t, snd.next(t), "as an interval")

	require.NoError(t, rc.recur(ctx, newReq(snd, "2h")))
	require.Contains(t, snd.next(t), "Usage: /recur")

	require.NoError(t, rc.recur(ctx, newReq(snd, "45 minutes drink water")))
	require.Equal(t, "🔁 Every 45m0s: drink water\n(your previous recurring reminder was replaced)", snd.next(t))
	require.Equal(t, 45*time.Minute, svc.recurring[7])

	require.NoError(t, rc.recur(ctx, newReq(snd, "every 2h drink")))
	require.Contains(t, snd.next(t), "🔁 Every 2h0m0s: drink")
	require.Equal(t, 2*time.Hour, svc.recurring[7])

	require.NoError(t, rc.recur(ctx, newReq(snd, "99999999999w stretch")))
	require.Contains(t, snd.next(t), "as an interval")
	require.Equal(t, 2*time.Hour, svc.recurring[7])

	require.NoError(t, rc.recur(ctx, newReq(snd, "every")))
	require.Contains(t, snd.next(t), "Usage: /recur")

	require.NoError(t, rc.stop(ctx, newReq(snd, "")))
	require.Contains(t, snd.next(t), "stopped")
	require.NoError(t, rc.stop(ctx, newReq(snd, "")))
	require.Equal(t, "Nothing to cancel.", snd.next(t))
}

func TestSplitInterval(t *testing.T) {
	cases := []struct {
		in    string
		every time.Duration
		task  string
	}{
		{in: "2h drink water", every: 2 * time.Hour, task: "drink water"},
		{in: "45 minutes drink water", every: 45 * time.Minute, task: "drink water"},
		{in: "every 45m stretch", every: 45 * time.Minute, task: "stretch"},
		{in: "Every daily water plants", every: 24 * time.Hour, task: "water plants"},
		{in: "00:50 walk", every: 50 * time.Minute, task: "walk"},
		{in: "3 hours", every: 3 * time.Hour, task: ""},
	}
	for _, tc := range cases {
		every, _, task, err := splitInterval(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.every, every, tc.in)
		require.Equal(t, tc.task, task, tc.in)
	}

	_, raw, _, err := splitInterval("soon stretch")
	require.Error(t, err)
	require.Equal(t, "soon", raw)

	_, raw, _, err = splitInterval("  ")
	require.Error(t, err)
	require.Empty(t, raw)
}

func TestListAndClearCommands(t *testing.T) {
	svc := &fakeReminders{recurring: map[int64]time.Duration{}}
	rc := NewReminderCommands(svc, time.UTC)
	snd := newFakeSender()
	ctx := context.Background()

	require.NoError(t, rc.list(ctx, newReq(snd, "")))
	require.Equal(t, "You have no reminders.", snd.next(t))

	svc.records = []storage.Record{
		{ID: "a", Task: "call mom", FireAt: time.Date(2024, 3, 5, 17, 0, 0, 0, time.UTC)},
		{ID: "b", Task: "buy milk"},
		{ID: "c", Task: "old", FireAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), Completed: true},
	}
	svc.recurring[7] = time.Hour
	require.NoError(t, rc.list(ctx, newReq(snd, "")))
	require.Equal(t, "📋 Your reminders\n"+
		"1. call mom · Tue 05 Mar 17:00\n"+
		"2. buy milk · no time set\n"+
		"3. old · done\n"+
		"🔁 A recurring reminder is active. /stop cancels it.", snd.next(t))

	require.NoError(t, rc.clear(ctx, newReq(snd, "")))
	require.Equal(t, "🗑 Deleted 3 reminder(s).", snd.next(t))
	require.NoError(t, rc.clear(ctx, newReq(snd, "")))
	require.Equal(t, "Nothing to clear.", snd.next(t))
}
