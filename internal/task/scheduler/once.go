package scheduler

import (
	"errors"
	"strings"
	"time"

	logx "flowup/pkg/logx"
)

// Arm upserts a one-shot timer for key at time at. Any timer previously armed
// under key is stopped and its callback will be ignored if already running.
// tag is opaque to the scheduler and reported back by Armed.
//
// Arm before Start stores the definition and arms it on Start. Arm after Stop
// fails with ErrStopped.
func (s *Service) Arm(key string, at time.Time, tag int64, job Job) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("key required")
	}
	if at.IsZero() {
		return errors.New("at required")
	}
	if job == nil {
		return errors.New("job required")
	}

	s.mu.Lock()
	started, stopped := s.started, s.stopped
	s.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if prev := s.once[key]; prev != nil && prev.timer != nil {
		_ = prev.timer.Stop()
	}
	ver := s.onceVer[key] + 1
	s.onceVer[key] = ver
	d := &onceDef{at: at, tag: tag, job: job, ver: ver}
	s.once[key] = d
	if started {
		s.armLocked(key, d)
	}
	s.log.Debug("timer armed", logx.String("key", key), logx.Time("at", at), logx.Int64("tag", tag))
	return nil
}

// Cancel stops and forgets the timer for key. It reports whether one was armed.
func (s *Service) Cancel(key string) bool {
	key = strings.TrimSpace(key)
	s.tmu.Lock()
	defer s.tmu.Unlock()
	d, ok := s.once[key]
	if !ok {
		return false
	}
	if d.timer != nil {
		_ = d.timer.Stop()
	}
	delete(s.once, key)
	// Bump instead of delete so a callback already past Stop sees a newer version.
	s.onceVer[key]++
	s.log.Debug("timer canceled", logx.String("key", key))
	return true
}

// Armed reports the tag of the pending timer for key.
func (s *Service) Armed(key string) (tag int64, ok bool) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	d, ok := s.once[strings.TrimSpace(key)]
	if !ok {
		return 0, false
	}
	return d.tag, true
}

// armLocked starts the runtime timer for d. Call with s.tmu held.
func (s *Service) armLocked(key string, d *onceDef) {
	delay := d.at.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	ver := d.ver
	d.timer = s.clock.AfterFunc(delay, func() { s.fireOnce(key, ver) })
}

func (s *Service) fireOnce(key string, ver uint64) {
	s.tmu.Lock()
	d, ok := s.once[key]
	if !ok || d.ver != ver || s.onceVer[key] != ver {
		s.tmu.Unlock()
		return
	}
	// Drop the definition first so a restart cannot run it twice.
	delete(s.once, key)
	s.tmu.Unlock()

	s.dispatch(key, 0, d.job, nil)
}

// rebuildOnceTimers arms runtime timers for every stored definition and
// returns how many it armed.
func (s *Service) rebuildOnceTimers() int {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	for key, d := range s.once {
		if d.timer != nil {
			_ = d.timer.Stop()
		}
		s.armLocked(key, d)
	}
	return len(s.once)
}
