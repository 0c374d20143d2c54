package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// parseSchedule accepts what the service's cron parser understands
// ("*/30 * * * * *", "@hourly", "@every 1m") plus a bare duration ("90s"),
// which is shorthand for "@every 90s". every is set for interval schedules.
func (s *Service) parseSchedule(raw string) (spec string, every time.Duration, err error) {
	spec = strings.TrimSpace(raw)
	if spec == "" {
		return "", 0, fmt.Errorf("schedule required")
	}
	if d, perr := time.ParseDuration(spec); perr == nil {
		if d <= 0 {
			return "", 0, fmt.Errorf("schedule %q: interval must be > 0", raw)
		}
		return "@every " + spec, d, nil
	}
	if rest, ok := strings.CutPrefix(spec, "@every"); ok {
		d, perr := time.ParseDuration(strings.TrimSpace(rest))
		if perr != nil || d <= 0 {
			return "", 0, fmt.Errorf("schedule %q: want a positive duration after @every", raw)
		}
		return spec, d, nil
	}
	if _, perr := s.parser.Parse(spec); perr != nil {
		return "", 0, fmt.Errorf("schedule %q: %w", raw, perr)
	}
	return spec, 0, nil
}
