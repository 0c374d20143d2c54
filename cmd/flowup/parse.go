package main

import (
	"fmt"
	"strings"
	"time"
)

var dueLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseDue reads a due date. Layouts without a zone use loc; a bare date
// means 09:00 that day.
func parseDue(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("due date is required")
	}
	for _, layout := range dueLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err != nil {
			continue
		}
		if layout == "2006-01-02" {
			t = time.Date(t.Year(), t.Month(), t.Day(), 9, 0, 0, 0, loc)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid due date %q (use YYYY-MM-DD, \"YYYY-MM-DD HH:MM\" or RFC3339)", raw)
}

// parseRemind maps the --remind flag: "none" or "" clears, otherwise whole days.
func parseRemind(raw string) (*int, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" || s == "none" || s == "off" {
		return nil, nil
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || fmt.Sprint(n) != s {
		return nil, fmt.Errorf("invalid --remind %q: want days or none", raw)
	}
	if n < 0 {
		return nil, fmt.Errorf("invalid --remind %d: must not be negative", n)
	}
	return &n, nil
}
