package reminder

import (
	"errors"
	"math"
	"time"
)

// Day is the fixed lead-time unit. Calendar days (DST) are not considered.
const Day = 24 * time.Hour

var ErrInvalidLeadTime = errors.New("reminder lead time must not be negative")

// Request is the immutable description of one reminder.
type Request struct {
	ActivityID int64
	FireAt     time.Time
	Title      string
	Message    string
}

// ComputeFireAt returns due minus daysBefore days. ok is false when
// daysBefore is nil (no reminder wanted).
func ComputeFireAt(due time.Time, daysBefore *int) (fireAt time.Time, ok bool, err error) {
	if daysBefore == nil {
		return time.Time{}, false, nil
	}
	if *daysBefore < 0 {
		return time.Time{}, false, ErrInvalidLeadTime
	}
	return subDays(due, int64(*daysBefore)), true, nil
}

// maxStepDays is the largest day count a time.Duration can hold.
const maxStepDays = int64(math.MaxInt64 / int64(Day))

// subDays subtracts days fixed-length days without overflowing
// time.Duration. Results before year 1 clamp to the zero Time.
func subDays(t time.Time, days int64) time.Time {
	if days <= maxStepDays {
		return t.Add(-time.Duration(days) * Day)
	}
	for days > 0 {
		step := min(days, maxStepDays)
		t = t.Add(-time.Duration(step) * Day)
		days -= step
		if !t.After(time.Time{}) {
			return time.Time{}
		}
	}
	return t
}

// Days is a convenience for building an optional lead time.
func Days(n int) *int { return &n }
