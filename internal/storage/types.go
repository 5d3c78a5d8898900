package storage

import (
	"errors"
	"sort"
	"time"
)

var (
	ErrNotFound      = errors.New("storage: record not found")
	ErrInvalidRecord = errors.New("storage: invalid record")
	ErrClosed        = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory" or "": in-process only
//   - "file": JSON Lines journal + snapshot next to Path
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is one reminder owned by a user.
//
// FireAt is zero for records created without a trigger. Completed is set
// only after a one-shot trigger fired.
type Record struct {
	ID            string    `json:"id"`
	OwnerID       int64     `json:"owner_id"`
	DestinationID int64     `json:"destination_id"`
	ThreadID      int       `json:"thread_id,omitempty"`
	Task          string    `json:"task"`
	CreatedAt     time.Time `json:"created_at"`
	FireAt        time.Time `json:"fire_at,omitempty"`
	Completed     bool      `json:"completed,omitempty"`
}

// Pending reports whether the record still waits for its trigger.
func (r Record) Pending() bool { return !r.Completed && !r.FireAt.IsZero() }

func sortRecords(rs []Record) {
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}
