package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"remindbot/internal/eventbus"
	"remindbot/internal/task/engine"
	logx "remindbot/pkg/logx"
)

var (
	ErrNotFound       = errors.New("scheduler: job not found")
	ErrInvalidPayload = errors.New("scheduler: invalid payload")
	ErrInvalidJob     = errors.New("scheduler: invalid job")
)

// Config controls the scheduler (trigger) service.
type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"
}

// FireFunc handles a due trigger. It runs on an engine worker.
type FireFunc func(ctx context.Context, jobID string, p Payload) error

// Payload is the data carried by a trigger to its fire handler.
type Payload struct {
	OwnerID       int64  `json:"owner_id"`
	DestinationID int64  `json:"destination_id"`
	ThreadID      int    `json:"thread_id,omitempty"`
	Task          string `json:"task"`
	// RecordID is empty for recurring triggers.
	RecordID string `json:"record_id,omitempty"`
}

func (p Payload) Validate() error {
	if p.OwnerID == 0 {
		return fmt.Errorf("%w: owner id required", ErrInvalidPayload)
	}
	if p.DestinationID == 0 {
		return fmt.Errorf("%w: destination id required", ErrInvalidPayload)
	}
	return nil
}

// RecurringJobID derives the job id of an owner's recurring reminder. There is
// at most one per owner.
func RecurringJobID(ownerID int64) string {
	return "recur:" + strconv.FormatInt(ownerID, 10)
}

// OnceJobID derives the job id of a one-shot reminder record.
func OnceJobID(recordID string) string {
	return "once:" + recordID
}

type Kind int

const (
	KindOnce Kind = iota + 1
	KindRecurring
)

func (k Kind) String() string {
	switch k {
	case KindOnce:
		return "once"
	case KindRecurring:
		return "recurring"
	default:
		return "unknown"
	}
}

// Timer is the subset of *time.Timer used by the scheduler.
type Timer interface {
	Stop() bool
}

// Clock is the time source for one-shot triggers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type Option func(*Service)

// WithClock replaces the wall clock used for one-shot triggers.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

type trigger struct {
	jobID   string
	kind    Kind
	at      time.Time
	every   time.Duration
	payload Payload

	// ver changes on every re-registration; callbacks carrying an older
	// version are stale and ignored.
	ver     uint64
	timer   Timer
	entryID cron.EntryID
}

type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	loc   *time.Location
	bus   eventbus.Bus
	clock Clock

	engine  *engine.Service
	handler FireFunc

	c    *cron.Cron
	jobs map[string]*trigger
	ver  uint64

	// Enqueue error throttling: key is job id.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type JobInfo struct {
	JobID   string
	Kind    Kind
	OwnerID int64
	At      time.Time
	Every   time.Duration
	Next    time.Time
	Prev    time.Time
}

type Snapshot struct {
	Running  bool
	Timezone string
	Jobs     []JobInfo
	Engine   engine.Snapshot
}
