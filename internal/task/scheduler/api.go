package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"remindbot/internal/task/engine"
	logx "remindbot/pkg/logx"
)

// ScheduleOnce arms a one-shot trigger for jobID at the given instant. An
// instant at or before now fires immediately. Any trigger already registered
// under jobID, of either kind, is replaced.
func (s *Service) ScheduleOnce(jobID string, at time.Time, p Payload) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("%w: job id required", ErrInvalidJob)
	}
	if at.IsZero() {
		return fmt.Errorf("%w: instant required", ErrInvalidJob)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	s.register(&trigger{jobID: jobID, kind: KindOnce, at: at, payload: p})
	return nil
}

// ScheduleRecurring arms a trigger firing every interval, starting one
// interval from now. Ticks missed while stopped are not replayed. Any
// trigger already registered under jobID is replaced.
func (s *Service) ScheduleRecurring(jobID string, every time.Duration, p Payload) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("%w: job id required", ErrInvalidJob)
	}
	if every <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidJob)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	s.register(&trigger{jobID: jobID, kind: KindRecurring, every: every, payload: p})
	return nil
}

func (s *Service) register(tr *trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, replaced := s.jobs[tr.jobID]
	if replaced {
		s.disarmLocked(prev)
	}
	s.ver++
	tr.ver = s.ver
	s.jobs[tr.jobID] = tr

	if s.c == nil {
		// Not started yet: armed when Start runs.
		return
	}
	s.armLocked(tr)

	args := []logx.Field{logx.String("job", tr.jobID), logx.String("kind", tr.kind.String()), logx.Bool("replaced", replaced)}
	switch tr.kind {
	case KindOnce:
		args = append(args, logx.Time("at", tr.at))
	case KindRecurring:
		args = append(args, logx.Duration("every", tr.every))
		if next := s.previewNextRunsLocked(tr.every, 3); next != "" {
			args = append(args, logx.String("next", next))
		}
	}
	s.log.Debug("job registered", args...)
}

// Cancel disarms jobID. Fires already handed to the engine still run.
func (s *Service) Cancel(jobID string) error {
	jobID = strings.TrimSpace(jobID)
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	s.disarmLocked(tr)
	delete(s.jobs, jobID)
	s.log.Debug("job cancelled", logx.String("job", jobID))
	return nil
}

// Has reports whether a trigger is registered under jobID.
func (s *Service) Has(jobID string) bool {
	s.mu.Lock()
	_, ok := s.jobs[strings.TrimSpace(jobID)]
	s.mu.Unlock()
	return ok
}

// armLocked starts the runtime timer or cron entry for tr. Call with s.mu held
// and s.c non-nil.
func (s *Service) armLocked(tr *trigger) {
	jobID, ver := tr.jobID, tr.ver
	switch tr.kind {
	case KindOnce:
		delay := tr.at.Sub(s.clock.Now())
		if delay < 0 {
			delay = 0
		}
		tr.timer = s.clock.AfterFunc(delay, func() { s.fireOnce(jobID, ver) })
	case KindRecurring:
		tr.entryID = s.c.Schedule(cron.Every(tr.every), cron.FuncJob(func() { s.fireRecurring(jobID, ver) }))
	}
}

func (s *Service) disarmLocked(tr *trigger) {
	if tr.timer != nil {
		_ = tr.timer.Stop()
		tr.timer = nil
	}
	if tr.entryID != 0 {
		if s.c != nil {
			s.c.Remove(tr.entryID)
		}
		tr.entryID = 0
	}
}

func (s *Service) fireOnce(jobID string, ver uint64) {
	s.mu.Lock()
	tr, ok := s.jobs[jobID]
	if !ok || tr.ver != ver {
		s.mu.Unlock()
		return
	}
	// Consumed before dispatch: a one-shot never fires twice.
	delete(s.jobs, jobID)
	p := tr.payload
	h := s.handler
	s.mu.Unlock()

	s.dispatch(jobID, p, h, engine.OverlapSerialize)
}

func (s *Service) fireRecurring(jobID string, ver uint64) {
	s.mu.Lock()
	tr, ok := s.jobs[jobID]
	if !ok || tr.ver != ver {
		s.mu.Unlock()
		return
	}
	p := tr.payload
	h := s.handler
	s.mu.Unlock()

	s.dispatch(jobID, p, h, engine.OverlapSkipIfRunning)
}

func (s *Service) dispatch(jobID string, p Payload, h FireFunc, overlap engine.OverlapPolicy) {
	if h == nil {
		s.log.Warn("trigger fired without handler", logx.String("job", jobID))
		return
	}
	if s.engine == nil {
		s.log.Warn("trigger fired without engine", logx.String("job", jobID))
		return
	}
	err := s.engine.Enqueue(engine.Task{
		Name:    jobID,
		Overlap: overlap,
		Run: func(ctx context.Context) error {
			return h(ctx, jobID, p)
		},
	})
	if err != nil {
		s.reportEnqueueError(jobID, err)
	}
}

// previewNextRunsLocked returns a short list of upcoming fire times for an
// interval trigger. Call with s.mu held.
func (s *Service) previewNextRunsLocked(every time.Duration, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	sched := cron.Every(every)
	t := s.clock.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
