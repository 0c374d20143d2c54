package scheduler

import (
	"sort"
	"time"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Started: s.started, Timezone: s.cfg.Timezone}
	loc := s.loc
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	eng := s.engine
	s.mu.Unlock()

	if snap.Timezone == "" {
		if loc == nil {
			loc = time.Local
		}
		snap.Timezone = loc.String()
	}

	s.tmu.Lock()
	for key, d := range s.once {
		snap.Once = append(snap.Once, OnceInfo{Key: key, At: d.at, Tag: d.tag})
	}
	s.tmu.Unlock()
	sort.Slice(snap.Once, func(i, j int) bool {
		if !snap.Once[i].At.Equal(snap.Once[j].At) {
			return snap.Once[i].At.Before(snap.Once[j].At)
		}
		return snap.Once[i].Key < snap.Once[j].Key
	})

	if eng != nil {
		snap.Engine = eng.Snapshot()
	}
	return snap
}
