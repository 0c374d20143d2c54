package scheduler

import (
	"errors"
	"hash/fnv"
	"math/rand"
	"strings"
	"time"

	logx "flowup/pkg/logx"

	"github.com/robfig/cron/v3"
)

// AddSchedule registers a recurring job under name, replacing any previous
// schedule with the same name. A trigger is skipped while the previous run
// of the same schedule is still queued or running.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	spec, every, err := s.parseSchedule(schedule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeScheduleLocked(name)
	s.defs = append(s.defs, scheduleDef{name: name, spec: spec, every: every, timeout: timeout, job: job, running: &runGate{}})
	if s.c == nil {
		// Registered on Start.
		return nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(d); err != nil {
		s.removeScheduleLocked(name)
		return err
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec), logx.Duration("startup_spread", d.startupSpread))
	return nil
}

// Remove unregisters the recurring schedule called name.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeScheduleLocked(strings.TrimSpace(name))
}

func (s *Service) removeScheduleLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	name, timeout, job, gate := d.name, d.timeout, d.job, d.running
	fire := cron.FuncJob(func() {
		if !gate.tryAcquire() {
			s.log.Debug("schedule trigger skipped", logx.String("schedule", name))
			return
		}
		s.dispatch(name, timeout, job, gate.release)
	})

	// Interval schedules get a random first-run delay so restarts do not
	// line up with other processes sharing the store.
	if d.every > 0 {
		sched, jitter := spreadInterval(d.every, time.Now().In(s.loc), d.name)
		d.startupSpread = jitter
		d.entryID = s.c.Schedule(sched, fire)
		return nil
	}
	d.startupSpread = 0
	eid, err := s.c.AddJob(d.spec, fire)
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

func (s *Service) restartCronLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.defs {
		_ = s.addCronLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("cron restarted", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

const maxStartupSpread = 30 * time.Second

// spreadSchedule overrides the first run time of a base schedule.
type spreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

func spreadInterval(every time.Duration, now time.Time, tag string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	spread := min(every, maxStartupSpread)
	h := fnv.New64a()
	_, _ = h.Write([]byte(tag))
	rng := rand.New(rand.NewSource(now.UnixNano() ^ int64(h.Sum64())))
	jitter := time.Duration(rng.Int63n(int64(spread)))
	return &spreadSchedule{base: base, first: now.Add(every + jitter)}, jitter
}
