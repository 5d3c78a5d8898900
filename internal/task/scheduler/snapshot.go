package scheduler

import (
	"sort"
	"time"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	tz := s.cfg.Timezone
	c := s.c
	loc := s.loc
	eng := s.engine
	items := make([]JobInfo, 0, len(s.jobs))
	for _, tr := range s.jobs {
		it := JobInfo{JobID: tr.jobID, Kind: tr.kind, OwnerID: tr.payload.OwnerID, At: tr.at, Every: tr.every}
		if tr.kind == KindOnce {
			it.Next = tr.at
		}
		if c != nil && tr.entryID != 0 {
			e := c.Entry(tr.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		items = append(items, it)
	}
	s.mu.Unlock()

	if loc == nil {
		loc = time.Local
	}
	if tz == "" {
		tz = loc.String()
	}
	sort.Slice(items, func(i, j int) bool { return items[i].JobID < items[j].JobID })

	out := Snapshot{Running: c != nil, Timezone: tz, Jobs: items}
	if eng != nil {
		out.Engine = eng.Snapshot()
	}
	return out
}
