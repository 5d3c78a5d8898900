package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "remindbot/pkg/logx"
)

var drivers = []string{"memory", "file", "sqlite"}

func openTestStore(t *testing.T, driver, dir string) Store {
	t.Helper()
	st, err := Open(Config{Driver: driver, Path: filepath.Join(dir, "reminders.db")}, logx.Nop())
	require.NoError(t, err)
	return st
}

func forEachDriver(t *testing.T, fn func(t *testing.T, driver string, st Store)) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			st := openTestStore(t, driver, t.TempDir())
			t.Cleanup(func() { _ = st.Close() })
			fn(t, driver, st)
		})
	}
}

var base = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func TestCreateAndGet(t *testing.T) {
	forEachDriver(t, func(t *testing.T, _ string, st Store) {
		ctx := context.Background()
		r, err := st.Create(ctx, Record{OwnerID: 1, DestinationID: 100, Task: "buy milk", FireAt: base.Add(time.Hour)})
		require.NoError(t, err)
		require.NotEmpty(t, r.ID)
		require.False(t, r.CreatedAt.IsZero())

		got, err := st.Get(ctx, r.ID)
		require.NoError(t, err)
		require.Equal(t, r.ID, got.ID)
		require.Equal(t, int64(1), got.OwnerID)
		require.Equal(t, int64(100), got.DestinationID)
		require.Equal(t, "buy milk", got.Task)
		require.True(t, got.FireAt.Equal(base.Add(time.Hour)))
		require.True(t, got.Pending())

		_, err = st.Get(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCreateValidates(t *testing.T) {
	forEachDriver(t, func(t *testing.T, _ string, st Store) {
		ctx := context.Background()
		_, err := st.Create(ctx, Record{DestinationID: 1, Task: "x"})
		require.ErrorIs(t, err, ErrInvalidRecord)
		_, err = st.Create(ctx, Record{OwnerID: 1, Task: "x"})
		require.ErrorIs(t, err, ErrInvalidRecord)
	})
}

func TestListByOwnerIsScopedAndOrdered(t *testing.T) {
	forEachDriver(t, func(t *testing.T, _ string, st Store) {
		ctx := context.Background()
		for i, task := range []string{"a", "b", "c"} {
			_, err := st.Create(ctx, Record{OwnerID: 1, DestinationID: 10, Task: task, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
			require.NoError(t, err)
		}
		_, err := st.Create(ctx, Record{OwnerID: 2, DestinationID: 20, Task: "other"})
		require.NoError(t, err)

		rs, err := st.ListByOwner(ctx, 1)
		require.NoError(t, err)
		require.Len(t, rs, 3)
		require.Equal(t, []string{"a", "b", "c"}, []string{rs[0].Task, rs[1].Task, rs[2].Task})

		rs, err = st.ListByOwner(ctx, 3)
		require.NoError(t, err)
		require.Empty(t, rs)
	})
}

func TestMarkCompletedAndListPending(t *testing.T) {
	forEachDriver(t, func(t *testing.T, _ string, st Store) {
		ctx := context.Background()
		a, err := st.Create(ctx, Record{OwnerID: 1, DestinationID: 10, Task: "a", FireAt: base})
		require.NoError(t, err)
		_, err = st.Create(ctx, Record{OwnerID: 1, DestinationID: 10, Task: "b", FireAt: base.Add(time.Hour)})
		require.NoError(t, err)
		_, err = st.Create(ctx, Record{OwnerID: 1, DestinationID: 10, Task: "no trigger"})
		require.NoError(t, err)

		require.NoError(t, st.MarkCompleted(ctx, a.ID))
		require.ErrorIs(t, st.MarkCompleted(ctx, "missing"), ErrNotFound)

		got, err := st.Get(ctx, a.ID)
		require.NoError(t, err)
		require.True(t, got.Completed)

		pending, err := st.ListPending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		require.Equal(t, "b", pending[0].Task)
	})
}

func TestDeleteAllByOwner(t *testing.T) {
	forEachDriver(t, func(t *testing.T, _ string, st Store) {
		ctx := context.Background()
		for _, task := range []string{"a", "b"} {
			_, err := st.Create(ctx, Record{OwnerID: 1, DestinationID: 10, Task: task})
			require.NoError(t, err)
		}
		keep, err := st.Create(ctx, Record{OwnerID: 2, DestinationID: 20, Task: "keep"})
		require.NoError(t, err)

		deleted, err := st.DeleteAllByOwner(ctx, 1)
		require.NoError(t, err)
		require.Len(t, deleted, 2)

		rs, err := st.ListByOwner(ctx, 1)
		require.NoError(t, err)
		require.Empty(t, rs)

		_, err = st.Get(ctx, keep.ID)
		require.NoError(t, err)

		deleted, err = st.DeleteAllByOwner(ctx, 1)
		require.NoError(t, err)
		require.Empty(t, deleted)
	})
}

func TestDeleteSingleRecord(t *testing.T) {
	forEachDriver(t, func(t *testing.T, _ string, st Store) {
		ctx := context.Background()
		a, err := st.Create(ctx, Record{OwnerID: 1, DestinationID: 10, Task: "a", FireAt: base})
		require.NoError(t, err)
		b, err := st.Create(ctx, Record{OwnerID: 1, DestinationID: 10, Task: "b", FireAt: base})
		require.NoError(t, err)

		require.NoError(t, st.Delete(ctx, a.ID))
		require.ErrorIs(t, st.Delete(ctx, a.ID), ErrNotFound)

		rs, err := st.ListByOwner(ctx, 1)
		require.NoError(t, err)
		require.Len(t, rs, 1)
		require.Equal(t, b.ID, rs[0].ID)
	})
}

func TestPersistentDriversSurviveReopen(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			dir := t.TempDir()
			ctx := context.Background()

			st := openTestStore(t, driver, dir)
			a, err := st.Create(ctx, Record{OwnerID: 1, DestinationID: -100, ThreadID: 42, Task: "a", FireAt: base})
			require.NoError(t, err)
			b, err := st.Create(ctx, Record{OwnerID: 2, DestinationID: 20, Task: "b", FireAt: base})
			require.NoError(t, err)
			c, err := st.Create(ctx, Record{OwnerID: 1, DestinationID: 10, Task: "c", FireAt: base})
			require.NoError(t, err)
			require.NoError(t, st.MarkCompleted(ctx, a.ID))
			require.NoError(t, st.Delete(ctx, c.ID))
			_, err = st.DeleteAllByOwner(ctx, 2)
			require.NoError(t, err)
			require.NoError(t, st.Close())

			st = openTestStore(t, driver, dir)
			defer st.Close()

			got, err := st.Get(ctx, a.ID)
			require.NoError(t, err)
			require.True(t, got.Completed)
			require.True(t, got.FireAt.Equal(base))
			require.Equal(t, 42, got.ThreadID)

			_, err = st.Get(ctx, b.ID)
			require.ErrorIs(t, err, ErrNotFound)
			_, err = st.Get(ctx, c.ID)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestFileJournalReplayWithoutClose(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st := openTestStore(t, "file", dir)
	r, err := st.Create(ctx, Record{OwnerID: 1, DestinationID: 10, Task: "a"})
	require.NoError(t, err)

	// A second handle replays the journal the first one is still appending to.
	st2 := openTestStore(t, "file", dir)
	got, err := st2.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, "a", got.Task)
	require.NoError(t, st2.Close())
	require.NoError(t, st.Close())
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	for _, driver := range []string{"memory", "file"} {
		t.Run(driver, func(t *testing.T) {
			st := openTestStore(t, driver, t.TempDir())
			require.NoError(t, st.Close())
			_, err := st.Create(context.Background(), Record{OwnerID: 1, DestinationID: 1, Task: "x"})
			require.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	require.Error(t, err)
}
