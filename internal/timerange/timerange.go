package timerange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var absoluteLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

var unitDurations = map[string]time.Duration{
	"ms":      time.Millisecond,
	"s":       time.Second,
	"sec":     time.Second,
	"secs":    time.Second,
	"second":  time.Second,
	"seconds": time.Second,
	"m":       time.Minute,
	"min":     time.Minute,
	"mins":    time.Minute,
	"minute":  time.Minute,
	"minutes": time.Minute,
	"h":       time.Hour,
	"hr":      time.Hour,
	"hrs":     time.Hour,
	"hour":    time.Hour,
	"hours":   time.Hour,
	"d":       24 * time.Hour,
	"day":     24 * time.Hour,
	"days":    24 * time.Hour,
	"w":       7 * 24 * time.Hour,
	"week":    7 * 24 * time.Hour,
	"weeks":   7 * 24 * time.Hour,
}

// ErrEmptyRange is returned when a range does not end after it starts.
var ErrEmptyRange = errors.New("time range is empty")

// Range is a half-open interval [Start, End). A zero End means open-ended.
type Range struct {
	Start time.Time
	End   time.Time
}

// Validate rejects ranges whose end is not after their start.
func (r Range) Validate() error {
	if r.Start.IsZero() {
		return fmt.Errorf("%w: missing start", ErrEmptyRange)
	}
	if !r.End.IsZero() && !r.End.After(r.Start) {
		return fmt.Errorf("%w: end %s is not after start %s", ErrEmptyRange, r.End.Format(time.RFC3339), r.Start.Format(time.RFC3339))
	}
	return nil
}

// Parse interprets value relative to now. Accepted forms: "now", a relative
// duration such as "15m", "2h30m", "3 days" or "1w ago" (always in the past),
// an epoch timestamp in milliseconds, or an absolute time (RFC 3339 or
// "2006-01-02 15:04:05" style, local time when no zone is given).
func Parse(value string, now time.Time) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.EqualFold(trimmed, "now") {
		return now, nil
	}
	if isDigits(trimmed) && len(trimmed) >= 12 {
		ms, err := strconv.ParseInt(trimmed, 10, 64)
		if err == nil {
			return time.UnixMilli(ms), nil
		}
	}
	for _, layout := range absoluteLayouts {
		if ts, err := time.ParseInLocation(layout, trimmed, now.Location()); err == nil {
			return ts, nil
		}
	}
	d, err := ParseDuration(strings.TrimSuffix(strings.TrimSpace(strings.TrimSuffix(trimmed, "ago")), " "))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: expected a duration like 15m or 2d, or a timestamp like 2006-01-02T15:04:05Z", value)
	}
	return now.Add(-d), nil
}

// ParseDuration parses a sequence of number/unit pairs such as "1h30m",
// "2 days" or "90s". Units extend time.ParseDuration with days and weeks.
func ParseDuration(value string) (time.Duration, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return 0, errors.New("empty duration")
	}
	var total time.Duration
	for s != "" {
		s = strings.TrimLeft(s, " ")
		numEnd := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) && r != '.' })
		if numEnd <= 0 {
			return 0, fmt.Errorf("invalid duration %q", value)
		}
		amount, err := strconv.ParseFloat(s[:numEnd], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", value, err)
		}
		s = strings.TrimLeft(s[numEnd:], " ")
		unitEnd := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
		if unitEnd < 0 {
			unitEnd = len(s)
		}
		unit, ok := unitDurations[strings.ToLower(s[:unitEnd])]
		if !ok {
			return 0, fmt.Errorf("invalid duration %q: unknown unit %q", value, s[:unitEnd])
		}
		total += time.Duration(amount * float64(unit))
		s = strings.TrimLeft(s[unitEnd:], " ,")
	}
	return total, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
