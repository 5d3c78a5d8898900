package scheduler

import (
	"errors"
	"time"

	"remindbot/internal/task/engine"
	logx "remindbot/pkg/logx"
)

const (
	enqueueWarnThrottle = 5 * time.Second
	enqueueWarnMaxKeys  = 256
)

func (s *Service) reportEnqueueError(jobID string, err error) {
	if err == nil {
		return
	}
	// A recurring tick overlapping a slow previous tick is dropped on purpose.
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("trigger skipped", logx.String("job", jobID), logx.Err(err))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	if s.lastEnqWarn == nil {
		s.lastEnqWarn = make(map[string]time.Time)
	}
	last := s.lastEnqWarn[jobID]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[jobID] = now
	// One-shot job ids are unique, so the map is pruned rather than kept per job.
	if len(s.lastEnqWarn) > enqueueWarnMaxKeys {
		for k, t := range s.lastEnqWarn {
			if now.Sub(t) >= enqueueWarnThrottle {
				delete(s.lastEnqWarn, k)
			}
		}
	}
	s.enqMu.Unlock()

	// Queue full and stopping are bursty.
	s.log.Warn("trigger failed to enqueue", logx.String("job", jobID), logx.Err(err))
}
