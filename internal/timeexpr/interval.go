package timeexpr

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	reHHMM      = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	reCountUnit = regexp.MustCompile(`^(\d+)?\s*([a-z]+)$`)
)

var namedIntervals = map[string]time.Duration{
	"hourly": time.Hour,
	"daily":  24 * time.Hour,
	"weekly": 7 * 24 * time.Hour,
}

var intervalUnits = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
	"w": 7 * 24 * time.Hour, "week": 7 * 24 * time.Hour, "weeks": 7 * 24 * time.Hour,
}

// ParseInterval parses a recurring interval.
//
// Supported forms:
//   - Go duration: "55m", "2h30m"
//   - HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//   - Count + unit: "45 minutes", "2 hours", "day"
//   - Named: "hourly", "daily", "weekly"
//
// An optional leading "every" is ignored. The result is always > 0.
func ParseInterval(raw string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimSpace(strings.TrimPrefix(s, "every"))
	if s == "" {
		return 0, fmt.Errorf("interval required")
	}

	if d, ok := namedIntervals[s]; ok {
		return d, nil
	}
	if m := reHHMM.FindStringSubmatch(s); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", raw)
		}
		return positive(raw, time.Duration(hh)*time.Hour+time.Duration(mm)*time.Minute)
	}
	if d, err := time.ParseDuration(s); err == nil {
		return positive(raw, d)
	}
	if m := reCountUnit.FindStringSubmatch(s); m != nil {
		unit, ok := intervalUnits[m[2]]
		if !ok {
			return 0, fmt.Errorf("invalid interval %q: unknown unit %q", raw, m[2])
		}
		n := 1
		if m[1] != "" {
			v, err := strconv.Atoi(m[1])
			if err != nil {
				return 0, fmt.Errorf("invalid interval %q: %w", raw, err)
			}
			n = v
		}
		if int64(n) > math.MaxInt64/int64(unit) {
			return 0, fmt.Errorf("interval %q is too large", raw)
		}
		return positive(raw, time.Duration(n)*unit)
	}
	return 0, fmt.Errorf("invalid interval %q (use HH:MM like '02:30', a duration like '55m', or '2 hours')", raw)
}

func positive(raw string, d time.Duration) (time.Duration, error) {
	if d <= 0 {
		return 0, fmt.Errorf("interval %q must be > 0", raw)
	}
	return d, nil
}
