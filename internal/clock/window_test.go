package clock

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"
)

func TestResolveWindowEdges(t *testing.T) {
	t.Parallel()
	r := NewResolver(DefaultBounds)
	minsk, err := r.Location("Europe/Minsk")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	tests := []struct {
		name  string
		local time.Time
		want  Window
		date  Date
	}{
		{"just before close", time.Date(2026, 3, 10, 23, 54, 59, 999, minsk), Open, Date{2026, 3, 10}},
		{"at close", time.Date(2026, 3, 10, 23, 55, 0, 0, minsk), BlockedTransition, Date{2026, 3, 10}},
		{"before midnight", time.Date(2026, 3, 10, 23, 59, 59, 0, minsk), BlockedTransition, Date{2026, 3, 10}},
		{"at midnight", time.Date(2026, 3, 11, 0, 0, 0, 0, minsk), BlockedTransition, Date{2026, 3, 11}},
		{"just before open", time.Date(2026, 3, 11, 0, 4, 59, 0, minsk), BlockedTransition, Date{2026, 3, 11}},
		{"at open", time.Date(2026, 3, 11, 0, 5, 0, 0, minsk), Open, Date{2026, 3, 11}},
		{"midday", time.Date(2026, 3, 11, 12, 0, 0, 0, minsk), Open, Date{2026, 3, 11}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			// Feed a UTC instant; the resolver must convert it.
			got, err := r.Resolve("Europe/Minsk", tt.local.UTC())
			if err != nil {
				t.Fatalf("Resolve error: %v", err)
			}
			if got.Window != tt.want {
				t.Fatalf("Window = %v, want %v", got.Window, tt.want)
			}
			if got.Date != tt.date {
				t.Fatalf("Date = %v, want %v", got.Date, tt.date)
			}
		})
	}
}

func TestResolveUsesTenantTimezone(t *testing.T) {
	t.Parallel()
	r := NewResolver(DefaultBounds)
	now := time.Date(2026, 3, 10, 22, 30, 0, 0, time.UTC)

	minsk, _ := r.Resolve("Europe/Minsk", now) // 01:30 next day
	if minsk.Date != (Date{2026, 3, 11}) || minsk.Window != Open {
		t.Fatalf("minsk = %+v", minsk)
	}
	ny, _ := r.Resolve("America/New_York", now) // 18:30 same day
	if ny.Date != (Date{2026, 3, 10}) || ny.Window != Open {
		t.Fatalf("new york = %+v", ny)
	}
}

func TestResolveBadTimezone(t *testing.T) {
	t.Parallel()
	_, err := NewResolver(DefaultBounds).Resolve("Mars/Olympus", time.Now())
	if !errors.Is(err, ErrBadTimezone) {
		t.Fatalf("err = %v, want ErrBadTimezone", err)
	}
}

func TestWithinAndReached(t *testing.T) {
	t.Parallel()
	at := MustTimeOfDay("22:00")
	mk := func(h, m, s int) Resolution {
		return Classify(DefaultBounds, time.Date(2026, 1, 1, h, m, s, 0, time.UTC))
	}
	if mk(21, 59, 59).Within(at, time.Minute) {
		t.Fatal("21:59:59 should not be within 22:00")
	}
	if !mk(22, 0, 0).Within(at, time.Minute) || !mk(22, 0, 59).Within(at, time.Minute) {
		t.Fatal("22:00:xx should be within 22:00")
	}
	if mk(22, 1, 0).Within(at, time.Minute) {
		t.Fatal("22:01 should be outside a one minute grace")
	}
	if !mk(22, 1, 0).Reached(at) || mk(21, 0, 0).Reached(at) {
		t.Fatal("Reached mismatch")
	}
}

func TestDateArithmetic(t *testing.T) {
	t.Parallel()
	d := Date{2024, 2, 28}
	if got := d.AddDays(1); got != (Date{2024, 2, 29}) {
		t.Fatalf("leap day: %v", got)
	}
	if got := d.AddDays(2); got != (Date{2024, 3, 1}) {
		t.Fatalf("month roll: %v", got)
	}
	if got := (Date{2025, 12, 31}).AddDays(1); got != (Date{2026, 1, 1}) {
		t.Fatalf("year roll: %v", got)
	}
	if n := d.DaysUntil(Date{2024, 3, 5}); n != 6 {
		t.Fatalf("DaysUntil = %d", n)
	}
	p, err := ParseDate(d.String())
	if err != nil || p != d {
		t.Fatalf("ParseDate(%q) = %v, %v", d.String(), p, err)
	}
}

func TestParseTimeOfDayInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "25:00", "10:60", "10", "aa:bb"} {
		if _, err := ParseTimeOfDay(raw); err == nil {
			t.Fatalf("ParseTimeOfDay(%q) expected error", raw)
		}
	}
}

func TestBoundsValidate(t *testing.T) {
	t.Parallel()
	if err := DefaultBounds.Validate(); err != nil {
		t.Fatalf("default bounds invalid: %v", err)
	}
	bad := Bounds{CloseAt: MustTimeOfDay("00:01"), OpenAt: MustTimeOfDay("00:05")}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for inverted bounds")
	}
}
