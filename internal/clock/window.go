// Package clock turns a server instant into a tenant's local day and the
// window that day is in.
package clock

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var ErrBadTimezone = errors.New("clock: unknown timezone")

// Window classifies the local wall clock.
type Window uint8

const (
	// Open: day-scoped content may be created and accepted.
	Open Window = iota
	// BlockedTransition: the band around local midnight in which the closing
	// sweep runs; nothing new is posted or accepted.
	BlockedTransition
)

func (w Window) String() string {
	switch w {
	case Open:
		return "open"
	case BlockedTransition:
		return "blocked"
	default:
		return fmt.Sprintf("window(%d)", uint8(w))
	}
}

// Bounds is the blocked band: [CloseAt, 24:00) ∪ [00:00, OpenAt).
type Bounds struct {
	CloseAt TimeOfDay
	OpenAt  TimeOfDay
}

// DefaultBounds blocks 23:55-00:05.
var DefaultBounds = Bounds{CloseAt: TimeOfDay{Hour: 23, Minute: 55}, OpenAt: TimeOfDay{Hour: 0, Minute: 5}}

func (b Bounds) Validate() error {
	if b.OpenAt.sinceMidnight() >= b.CloseAt.sinceMidnight() {
		return fmt.Errorf("open_at %s must be before close_at %s", b.OpenAt, b.CloseAt)
	}
	return nil
}

// Resolution is the tenant-local view of one instant.
type Resolution struct {
	Date   Date
	Window Window
	Local  time.Time
}

// Reached reports whether the local clock is at or past t today.
func (r Resolution) Reached(t TimeOfDay) bool {
	return offsetOf(r.Local) >= t.sinceMidnight()
}

// Within reports whether the local clock is in [t, t+grace).
// A zero grace means the exact minute of t.
func (r Resolution) Within(t TimeOfDay, grace time.Duration) bool {
	if grace <= 0 {
		grace = time.Minute
	}
	off := offsetOf(r.Local)
	start := t.sinceMidnight()
	return off >= start && off < start+grace
}

// Yesterday is the logical date before r.Date.
func (r Resolution) Yesterday() Date { return r.Date.AddDays(-1) }

// Resolver is pure given (timezone, now); it only caches loaded locations.
type Resolver struct {
	mu     sync.RWMutex
	bounds Bounds
	locs   map[string]*time.Location
}

func NewResolver(b Bounds) *Resolver {
	return &Resolver{bounds: b, locs: map[string]*time.Location{}}
}

func (r *Resolver) Bounds() Bounds {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bounds
}

// SetBounds swaps the blocked band on config reload.
func (r *Resolver) SetBounds(b Bounds) {
	r.mu.Lock()
	r.bounds = b
	r.mu.Unlock()
}

// Location loads (and caches) an IANA timezone.
func (r *Resolver) Location(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return nil, fmt.Errorf("%w: empty", ErrBadTimezone)
	}
	r.mu.RLock()
	loc, ok := r.locs[tz]
	r.mu.RUnlock()
	if ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadTimezone, tz, err)
	}
	r.mu.Lock()
	r.locs[tz] = loc
	r.mu.Unlock()
	return loc, nil
}

// Resolve converts now into the tenant's logical date and window.
func (r *Resolver) Resolve(tz string, now time.Time) (Resolution, error) {
	loc, err := r.Location(tz)
	if err != nil {
		return Resolution{}, err
	}
	return Classify(r.Bounds(), now.In(loc)), nil
}

// Classify resolves an instant that is already in the tenant's location.
func Classify(b Bounds, local time.Time) Resolution {
	off := offsetOf(local)
	w := Open
	if off >= b.CloseAt.sinceMidnight() || off < b.OpenAt.sinceMidnight() {
		w = BlockedTransition
	}
	return Resolution{Date: DateOf(local), Window: w, Local: local}
}
