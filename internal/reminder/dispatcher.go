// Package reminder builds and delivers the day-bound notifications: the
// evening nudge, the last call before close, the weekly summary, the
// anniversary notice and streak milestones.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"checkinbot/internal/clock"
	"checkinbot/internal/correlation"
	"checkinbot/internal/render"
	"checkinbot/internal/session"
	"checkinbot/internal/storage"
	"checkinbot/internal/streak"
	"checkinbot/internal/transport"
	logx "checkinbot/pkg/logx"
)

// Config holds the time gates. Every gate is open in [at, at+Grace).
type Config struct {
	EndOfDayAt     clock.TimeOfDay
	LastCallAt     clock.TimeOfDay
	SummaryWeekday time.Weekday
	SummaryAt      clock.TimeOfDay
	AnniversaryAt  clock.TimeOfDay
	DefaultPostAt  clock.TimeOfDay
	Milestones     []int
	Grace          time.Duration
}

var DefaultConfig = Config{
	EndOfDayAt:     clock.TimeOfDay{Hour: 22},
	LastCallAt:     clock.TimeOfDay{Hour: 23, Minute: 30},
	SummaryWeekday: time.Sunday,
	SummaryAt:      clock.TimeOfDay{Hour: 21},
	AnniversaryAt:  clock.TimeOfDay{Hour: 12},
	DefaultPostAt:  clock.TimeOfDay{Hour: 10},
	Milestones:     []int{7, 30, 100, 365},
	Grace:          time.Minute,
}

// PostAt is the tenant's daily post time, falling back to DefaultPostAt
// when unset or malformed.
func (c Config) PostAt(t storage.Tenant) clock.TimeOfDay {
	if s := strings.TrimSpace(t.PostAt); s != "" {
		if tod, err := clock.ParseTimeOfDay(s); err == nil {
			return tod
		}
	}
	return c.DefaultPostAt
}

type Dispatcher struct {
	store *storage.Store
	corr  *correlation.Store
	log   logx.Logger

	cfg atomic.Pointer[Config]
}

func NewDispatcher(store *storage.Store, corr *correlation.Store, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{store: store, corr: corr, log: log.With(logx.String("comp", "reminder"))}
	d.Apply(DefaultConfig)
	return d
}

func (d *Dispatcher) Apply(cfg Config) {
	cfg.Milestones = slices.Clone(cfg.Milestones)
	d.cfg.Store(&cfg)
}

func (d *Dispatcher) Config() Config { return *d.cfg.Load() }

// Dispatch fires kind for the tenant's session when its gate is open and it
// has not been handled today. Empty content is recorded as handled without
// sending; a transport failure leaves it unhandled for the next tick.
func (d *Dispatcher) Dispatch(ctx context.Context, t storage.Tenant, sess storage.Session, res clock.Resolution, kind Kind) (Outcome, error) {
	if sess.HasNotice(kind.Notice()) {
		return AlreadyHandled, nil
	}
	cfg := d.Config()
	due, err := d.due(ctx, cfg, t, res, kind)
	if err != nil || !due {
		return NotDue, err
	}

	text := ""
	if t.Notifications {
		text, err = d.build(ctx, cfg, sess, res, kind)
		if err != nil {
			return NotDue, fmt.Errorf("build %s: %w", kind, err)
		}
	}
	if text == "" {
		if _, err := d.store.MarkNotice(ctx, sess.ID, kind.Notice()); err != nil {
			return NotDue, err
		}
		d.log.Debug("notification suppressed", logx.Int64("chat_id", t.ChatID), logx.String("kind", kind.String()))
		return Suppressed, nil
	}

	key := correlation.DayKey(t.ChatID, sess.Date, kind.Correlation())
	del, err := d.corr.EnsureSent(ctx, key, func(context.Context) (correlation.Message, error) {
		return correlation.Message{
			Text:    text,
			Options: &transport.SendOptions{ParseMode: "HTML", DisablePreview: true},
		}, nil
	})
	if err != nil {
		return NotDue, err
	}
	if _, err := d.store.MarkNotice(ctx, sess.ID, kind.Notice()); err != nil {
		return NotDue, err
	}
	if del.Action == correlation.Reused {
		return AlreadyHandled, nil
	}
	d.log.Info("notification sent",
		logx.Int64("chat_id", t.ChatID),
		logx.String("kind", kind.String()),
		logx.Int("message_id", del.MessageID),
	)
	return Sent, nil
}

func (d *Dispatcher) due(ctx context.Context, cfg Config, t storage.Tenant, res clock.Resolution, kind Kind) (bool, error) {
	switch kind {
	case EndOfDay:
		return res.Within(cfg.EndOfDayAt, cfg.Grace), nil
	case LastCall:
		return res.Within(cfg.LastCallAt, cfg.Grace), nil
	case PeriodSummary:
		return res.Date.Weekday() == cfg.SummaryWeekday && res.Within(cfg.SummaryAt, cfg.Grace), nil
	case Anniversary:
		if !res.Within(cfg.AnniversaryAt, cfg.Grace) {
			return false, nil
		}
		first, err := d.store.FirstSessionDate(ctx, t.ChatID)
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return isAnniversary(first, res.Date), nil
	case Milestone:
		return res.Within(cfg.PostAt(t), cfg.Grace), nil
	default:
		return false, fmt.Errorf("reminder: unknown kind %d", uint8(kind))
	}
}

// isAnniversary reports whether day is a whole number of years after first.
// A first session on Feb 29 is celebrated on Feb 28 in common years.
func isAnniversary(first, day clock.Date) bool {
	if day.Year <= first.Year {
		return false
	}
	if first.Month == time.February && first.Day == 29 {
		leap := clock.Date{Year: day.Year, Month: time.March, Day: 1}.AddDays(-1).Day == 29
		if !leap {
			return day.Month == time.February && day.Day == 28
		}
	}
	return day.Month == first.Month && day.Day == first.Day
}

func (d *Dispatcher) build(ctx context.Context, cfg Config, sess storage.Session, res clock.Resolution, kind Kind) (string, error) {
	members, err := d.store.ListMembers(ctx, sess.ChatID)
	if err != nil {
		return "", err
	}
	people := make(map[int64]render.Person, len(members))
	for _, m := range members {
		people[m.ID] = session.PersonOf(m.User)
	}
	person := func(uid int64) render.Person {
		if p, ok := people[uid]; ok {
			return p
		}
		return render.Person{UserID: uid}
	}

	switch kind {
	case EndOfDay:
		states, err := d.store.ListUserStates(ctx, sess.ID)
		if err != nil {
			return "", err
		}
		var rows []render.ReminderRow
		for _, st := range states {
			if st.Remind {
				rows = append(rows, render.ReminderRow{Person: person(st.UserID), Activity: st.Activity})
			}
		}
		return render.EndOfDay(cfg.EndOfDayAt, rows), nil

	case LastCall:
		states, err := d.store.ListUserStates(ctx, sess.ID)
		if err != nil {
			return "", err
		}
		active := map[int64]bool{}
		for _, st := range states {
			active[st.UserID] = st.Activity > 0
		}
		var missing []render.Person
		for _, m := range members {
			if !active[m.ID] {
				missing = append(missing, people[m.ID])
			}
		}
		return render.LastCall(missing), nil

	case PeriodSummary:
		from := res.Date.AddDays(-6)
		totals, err := d.store.PeriodTotals(ctx, sess.ChatID, from, res.Date)
		if err != nil {
			return "", err
		}
		streaks, err := d.store.ListStreaks(ctx, sess.ChatID)
		if err != nil {
			return "", err
		}
		states, err := d.store.ListUserStates(ctx, sess.ID)
		if err != nil {
			return "", err
		}
		today := map[int64]bool{}
		for _, st := range states {
			today[st.UserID] = st.Activity > 0
		}
		rows := make([]render.SummaryRow, 0, len(totals))
		for _, tot := range totals {
			rec := recordOf(streaks[tot.UserID])
			rows = append(rows, render.SummaryRow{
				Person:     person(tot.UserID),
				Total:      tot.Total,
				ActiveDays: tot.ActiveDays,
				Streak:     streak.ProjectedStreak(rec, res.Date, today[tot.UserID]),
				Best:       rec.Best,
			})
		}
		return render.PeriodSummary(from, res.Date, rows), nil

	case Anniversary:
		first, err := d.store.FirstSessionDate(ctx, sess.ChatID)
		if err != nil {
			return "", err
		}
		total, err := d.store.CountSessions(ctx, sess.ChatID)
		if err != nil {
			return "", err
		}
		return render.Anniversary(res.Date.Year-first.Year, first, total), nil

	case Milestone:
		streaks, err := d.store.ListStreaks(ctx, sess.ChatID)
		if err != nil {
			return "", err
		}
		yesterday := res.Yesterday()
		var rows []render.MilestoneRow
		for _, m := range members {
			st, ok := streaks[m.ID]
			if !ok || st.LastDate != yesterday || !slices.Contains(cfg.Milestones, st.Current) {
				continue
			}
			rows = append(rows, render.MilestoneRow{Person: people[m.ID], Streak: st.Current})
		}
		return render.Milestones(rows), nil

	default:
		return "", fmt.Errorf("reminder: unknown kind %d", uint8(kind))
	}
}

func recordOf(st storage.Streak) streak.Record {
	return streak.Record{Current: st.Current, Best: st.Best, Last: st.LastDate}
}
