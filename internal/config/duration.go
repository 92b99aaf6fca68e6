package config

import (
	"fmt"
	"strings"
	"time"

	"checkinbot/internal/clock"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// ParseTimeOfDayOrDefault parses "HH:MM", falling back to def when raw is empty.
func ParseTimeOfDayOrDefault(path, raw string, def clock.TimeOfDay) (clock.TimeOfDay, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	t, err := clock.ParseTimeOfDay(s)
	if err != nil {
		return clock.TimeOfDay{}, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ParseWeekday accepts English day names ("sunday", "Sun").
func ParseWeekday(path, raw string, def time.Weekday) (time.Weekday, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return def, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return def, fmt.Errorf("%s: unknown weekday %q", path, raw)
}
