package engine

import (
	"context"
	"sync"
	"time"
)

// Config controls the task execution engine.
//
// The scheduler is trigger-only; execution settings belong here.
type Config struct {
	Workers   int
	QueueSize int

	// DefaultTimeout is used when Task.Timeout is 0. 0 means no timeout.
	DefaultTimeout time.Duration

	HistorySize int
}

type OverlapPolicy int

const (
	// OverlapSerialize queues the run behind any in-flight run of the same key.
	OverlapSerialize OverlapPolicy = iota
	// OverlapSkipIfRunning drops the run when one with the same key is
	// already running or queued.
	OverlapSkipIfRunning
)

func (p OverlapPolicy) String() string {
	switch p {
	case OverlapSkipIfRunning:
		return "skip_if_running"
	default:
		return "serialize"
	}
}

// RunState tracks in-flight runs for one task key.
//
// run is held for the whole execution, so two runs sharing a RunState never
// execute concurrently whatever their policy. inflight counts queued+running
// runs for the skip policy.
type RunState struct {
	run sync.Mutex

	mu       sync.Mutex
	inflight int
}

func (s *RunState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *RunState) release() {
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Task is a unit of work executed by the engine.
//
// Name is the overlap key: runs with the same Name share one RunState.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Overlap OverlapPolicy
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Dropped        uint64
	DefaultTimeout time.Duration

	History []HistoryItem
}
