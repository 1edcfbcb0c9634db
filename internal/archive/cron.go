package archive

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// schedule is a parsed five-field cron expression:
// "minute hour day-of-month month day-of-week". Each field accepts "*",
// a number, a comma list, a range "a-b", and a step "*/n" or "a-b/n".
type schedule struct {
	minute, hour, dom, month, dow field
}

// field is the set of values a cron field matches.
type field map[int]bool

func parseSchedule(expr string) (schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return schedule{}, fmt.Errorf("archive: cron %q: want 5 fields, got %d", expr, len(parts))
	}
	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	var fields [5]field
	for i, p := range parts {
		f, err := parseField(p, bounds[i][0], bounds[i][1])
		if err != nil {
			return schedule{}, fmt.Errorf("archive: cron %q: %w", expr, err)
		}
		fields[i] = f
	}
	return schedule{minute: fields[0], hour: fields[1], dom: fields[2], month: fields[3], dow: fields[4]}, nil
}

func parseField(s string, min, max int) (field, error) {
	f := make(field)
	for _, term := range strings.Split(s, ",") {
		rng, stepStr, hasStep := strings.Cut(term, "/")
		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid step in %q", term)
			}
			step = n
		}

		lo, hi := min, max
		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var err error
			if lo, err = strconv.Atoi(a); err != nil {
				return nil, fmt.Errorf("invalid range in %q", term)
			}
			if hi, err = strconv.Atoi(b); err != nil {
				return nil, fmt.Errorf("invalid range in %q", term)
			}
		default:
			n, err := strconv.Atoi(rng)
			if err != nil {
				return nil, fmt.Errorf("invalid value %q", term)
			}
			lo, hi = n, n
			if hasStep {
				hi = max
			}
		}
		if lo < min || hi > max || lo > hi {
			return nil, fmt.Errorf("%q out of range %d-%d", term, min, max)
		}
		for v := lo; v <= hi; v += step {
			f[v] = true
		}
	}
	return f, nil
}

func (s schedule) matches(t time.Time) bool {
	return s.minute[t.Minute()] &&
		s.hour[t.Hour()] &&
		s.dom[t.Day()] &&
		s.month[int(t.Month())] &&
		s.dow[int(t.Weekday())]
}

// next returns the first minute strictly after t that matches, searching at
// most a year ahead.
func (s schedule) next(t time.Time) (time.Time, error) {
	c := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(1, 0, 1)
	for ; c.Before(limit); c = c.Add(time.Minute) {
		if s.matches(c) {
			return c, nil
		}
	}
	return time.Time{}, fmt.Errorf("archive: no cron match within a year after %s", t.Format(time.RFC3339))
}
