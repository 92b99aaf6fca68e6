// Package streak derives consecutive-day activity counters.
//
// Two paths produce a Record: Advance folds one closed day into the stored
// record, and Recompute rebuilds it from the full activity history. For any
// fully processed history both yield the same Current and Last.
package streak

import (
	"slices"

	"checkinbot/internal/clock"
)

// Record is a user's streak as of the last processed day.
type Record struct {
	Current int
	Best    int
	// Last is the most recent day with activity.
	Last clock.Date
}

// Advance applies the close of day. An active day extends a streak whose
// Last is the previous day and starts a new one otherwise; an inactive day
// breaks the streak but keeps Last. Re-applying the same active day is a
// no-op.
func Advance(r Record, day clock.Date, active bool) Record {
	if !active {
		if r.Last.Before(day) {
			r.Current = 0
		}
		return r
	}
	switch {
	case r.Last == day:
		return r
	case !r.Last.IsZero() && r.Last.After(day):
		// Closing an older day than the recorded one never rewinds the record.
		return r
	case !r.Last.IsZero() && r.Last.AddDays(1) == day && r.Current > 0:
		r.Current++
	default:
		r.Current = 1
	}
	r.Last = day
	r.Best = max(r.Best, r.Current)
	return r
}

// Recompute derives the record from active days strictly before reference.
// Current is the length of the run ending at reference-1, or 0 when that
// day had no activity.
func Recompute(days []clock.Date, reference clock.Date) Record {
	ds := normalize(days, reference)
	if len(ds) == 0 {
		return Record{}
	}
	rec := Record{Last: ds[len(ds)-1], Best: longest(ds)}
	if rec.Last != reference.AddDays(-1) {
		return rec
	}
	rec.Current = 1
	for i := len(ds) - 1; i > 0 && ds[i-1].AddDays(1) == ds[i]; i-- {
		rec.Current++
	}
	return rec
}

// Best returns the longest run of consecutive days in days.
func Best(days []clock.Date) int {
	return longest(normalize(days, clock.Date{}))
}

// ProjectedStreak is the streak shown while today is still open: today's
// activity counts as if the day had already closed.
func ProjectedStreak(r Record, today clock.Date, todayActive bool) int {
	yesterday := today.AddDays(-1)
	if todayActive {
		switch {
		case r.Last == today:
			return r.Current
		case r.Last == yesterday && r.Current > 0:
			return r.Current + 1
		default:
			return 1
		}
	}
	if r.Last == today || r.Last == yesterday {
		return r.Current
	}
	return 0
}

// normalize sorts, dedupes and drops days not before limit (zero limit keeps all).
func normalize(days []clock.Date, limit clock.Date) []clock.Date {
	out := make([]clock.Date, 0, len(days))
	for _, d := range days {
		if d.IsZero() || (!limit.IsZero() && !d.Before(limit)) {
			continue
		}
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b clock.Date) int {
		switch {
		case a.Before(b):
			return -1
		case a.After(b):
			return 1
		}
		return 0
	})
	return slices.Compact(out)
}

func longest(sorted []clock.Date) int {
	best, run := 0, 0
	for i, d := range sorted {
		if i > 0 && sorted[i-1].AddDays(1) == d {
			run++
		} else {
			run = 1
		}
		best = max(best, run)
	}
	return best
}
