// Package sweep is the periodic driver: one sweep walks every enabled
// tenant in turn and advances its day.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"checkinbot/internal/clock"
	"checkinbot/internal/correlation"
	"checkinbot/internal/eventbus"
	"checkinbot/internal/observability"
	"checkinbot/internal/reminder"
	"checkinbot/internal/session"
	"checkinbot/internal/storage"
	"checkinbot/internal/streak"
	"checkinbot/internal/transport"
	logx "checkinbot/pkg/logx"

	"github.com/google/uuid"
)

type Config struct {
	TenantThrottle  time.Duration
	TenantTimeout   time.Duration
	DefaultTimezone string
	// RecomputeAt is the local time after which the daily streak repair runs.
	RecomputeAt clock.TimeOfDay
}

var DefaultConfig = Config{
	TenantThrottle:  250 * time.Millisecond,
	TenantTimeout:   time.Minute,
	DefaultTimezone: "Europe/Minsk",
	RecomputeAt:     clock.TimeOfDay{Hour: 4},
}

// Report summarizes one sweep.
type Report struct {
	ID       string
	Started  time.Time
	Duration time.Duration
	Tenants  int
	Failed   int
	Disabled int
	Closed   int
	Posted   int
	Notified int
	Repaired int
	// Stopped is set when the sweep ended early on cancellation.
	Stopped bool
}

// tally is what one tenant run contributed.
type tally struct {
	closed, posted, notified, repaired int
}

type Sweeper struct {
	store     *storage.Store
	sessions  *session.Service
	reminders *reminder.Dispatcher
	calc      *streak.Calculator
	resolver  *clock.Resolver
	clock     clock.Clock
	bus       eventbus.Bus
	log       logx.Logger

	cfg  atomic.Pointer[Config]
	last atomic.Pointer[Report]
}

func New(store *storage.Store, sessions *session.Service, reminders *reminder.Dispatcher, calc *streak.Calculator, resolver *clock.Resolver, clk clock.Clock, bus eventbus.Bus, log logx.Logger) *Sweeper {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.System
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Sweeper{
		store:     store,
		sessions:  sessions,
		reminders: reminders,
		calc:      calc,
		resolver:  resolver,
		clock:     clk,
		bus:       bus,
		log:       log.With(logx.String("comp", "sweep")),
	}
	s.Apply(DefaultConfig)
	return s
}

func (s *Sweeper) Apply(cfg Config) { s.cfg.Store(&cfg) }

func (s *Sweeper) config() Config { return *s.cfg.Load() }

// Last returns the report of the most recent finished sweep.
func (s *Sweeper) Last() (Report, bool) {
	if r := s.last.Load(); r != nil {
		return *r, true
	}
	return Report{}, false
}

// Run sweeps every enabled tenant once, sequentially. A failing tenant is
// logged and skipped. Cancellation is honoured between tenants; the tenant
// in progress always finishes.
func (s *Sweeper) Run(ctx context.Context) Report {
	cfg := s.config()
	rep := Report{ID: uuid.NewString(), Started: s.clock.Now()}
	log := s.log.With(logx.String("sweep_id", rep.ID))

	s.bus.Publish(eventbus.Event{Type: eventbus.SweepStarted, Data: rep.ID})
	defer func() {
		rep.Duration = time.Since(rep.Started)
		result := "done"
		if rep.Stopped {
			result = "stopped"
		}
		observability.Sweeps.WithLabelValues(result).Inc()
		observability.SweepDuration.Observe(rep.Duration.Seconds())
		done := rep
		s.last.Store(&done)
		s.bus.Publish(eventbus.Event{Type: eventbus.SweepFinished, Data: done})
		log.Debug("sweep finished",
			logx.Int("tenants", rep.Tenants),
			logx.Int("failed", rep.Failed),
			logx.Int("closed", rep.Closed),
			logx.Int("notified", rep.Notified),
			logx.Duration("took", rep.Duration),
		)
	}()

	tenants, err := s.store.ListEnabledTenants(ctx)
	if err != nil {
		log.Error("list tenants failed", logx.Err(err))
		rep.Stopped = ctx.Err() != nil
		return rep
	}

	for i, t := range tenants {
		if ctx.Err() != nil {
			rep.Stopped = true
			return rep
		}
		if i > 0 && !sleep(ctx, cfg.TenantThrottle) {
			rep.Stopped = true
			return rep
		}

		rep.Tenants++
		tl, err := s.runTenant(ctx, cfg, t)
		rep.Closed += tl.closed
		rep.Posted += tl.posted
		rep.Notified += tl.notified
		rep.Repaired += tl.repaired
		if err == nil {
			observability.Tenants.WithLabelValues("ok").Inc()
			continue
		}

		tlog := log.With(logx.Int64("chat_id", t.ChatID))
		if transport.IsForbidden(err) {
			rep.Disabled++
			observability.Tenants.WithLabelValues("disabled").Inc()
			s.disable(context.WithoutCancel(ctx), tlog, t, err)
			continue
		}
		rep.Failed++
		observability.Tenants.WithLabelValues("failed").Inc()
		tlog.Warn("tenant failed", logx.Err(err))
		s.bus.Publish(eventbus.Event{Type: eventbus.TenantFailed, TenantID: t.ChatID, Data: err.Error()})
	}
	return rep
}

func (s *Sweeper) disable(ctx context.Context, log logx.Logger, t storage.Tenant, cause error) {
	if err := s.store.DisableTenant(ctx, t.ChatID, cause.Error()); err != nil {
		log.Error("disable tenant failed", logx.Err(err))
		return
	}
	log.Warn("tenant disabled", logx.Err(cause))
	s.bus.Publish(eventbus.Event{Type: eventbus.TenantDisabled, TenantID: t.ChatID, Data: cause.Error()})
}

// runTenant is the failure boundary of one tenant: it bounds the run with
// TenantTimeout, detaches it from sweep cancellation and turns a panic into
// an error.
func (s *Sweeper) runTenant(parent context.Context, cfg Config, t storage.Tenant) (tl tally, err error) {
	ctx := context.WithoutCancel(parent)
	if cfg.TenantTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.TenantTimeout)
		defer cancel()
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in tenant pipeline",
				logx.Int64("chat_id", t.ChatID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", r)
		}
		observability.TenantDuration.Observe(time.Since(start).Seconds())
	}()
	err = s.pipeline(ctx, cfg, t, &tl)
	return tl, err
}

// pipeline advances one tenant in a fixed order: catch-up close, boundary
// close, active-day checks, streak repair, scheduled post, reminders,
// period summary, anniversary.
func (s *Sweeper) pipeline(ctx context.Context, cfg Config, t storage.Tenant, tl *tally) error {
	now := s.clock.Now()
	res, err := s.resolver.Resolve(t.Zone(cfg.DefaultTimezone), now)
	if err != nil {
		return err
	}

	n, err := s.sessions.CatchUp(ctx, t.ChatID, res.Date, now)
	tl.closed += n
	s.noteClosed(t.ChatID, n)
	if err != nil {
		return fmt.Errorf("catch up: %w", err)
	}

	sess, err := s.store.GetSession(ctx, t.ChatID, res.Date)
	switch {
	case errors.Is(err, storage.ErrNotFound) && res.Window == clock.BlockedTransition:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		if sess, err = s.sessions.GetOrCreate(ctx, t.ChatID, res.Date); err != nil {
			return err
		}
	case err != nil:
		return err
	}

	if s.sessions.Due(res, sess) {
		ok, err := s.sessions.Close(ctx, sess, now)
		if ok {
			tl.closed++
			s.noteClosed(t.ChatID, 1)
		}
		return err
	}
	if sess.Closed() || res.Window == clock.BlockedTransition {
		return nil
	}

	if res.Reached(cfg.RecomputeAt) && t.LastRecompute != res.Date {
		changed, err := s.repair(ctx, t.ChatID, res.Date)
		if err != nil {
			return fmt.Errorf("repair streaks: %w", err)
		}
		tl.repaired += changed
	}

	var errs []error
	if res.Reached(s.reminders.Config().PostAt(t)) {
		del, err := s.sessions.PostDaily(ctx, sess)
		switch {
		case transport.IsForbidden(err):
			return err
		case err != nil:
			errs = append(errs, fmt.Errorf("daily post: %w", err))
		default:
			if del.Action == correlation.Sent {
				tl.posted++
			}
		}
	}

	for _, kind := range reminder.Kinds() {
		out, err := s.reminders.Dispatch(ctx, t, sess, res, kind)
		if err != nil {
			if transport.IsForbidden(err) {
				return err
			}
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		if out == reminder.NotDue {
			continue
		}
		observability.Notifications.WithLabelValues(kind.String(), out.String()).Inc()
		if out == reminder.Sent {
			tl.notified++
			s.bus.Publish(eventbus.Event{Type: eventbus.ReminderDispatched, TenantID: t.ChatID, Data: kind.String()})
		}
	}
	return errors.Join(errs...)
}

// repair rebuilds the tenant's streaks and moves the persisted marker in
// one transaction, so a lost marker only costs a redundant repair.
func (s *Sweeper) repair(ctx context.Context, chatID int64, today clock.Date) (int, error) {
	changed := 0
	err := s.store.InTx(ctx, func(tx *storage.Store) error {
		n, err := s.calc.Repair(ctx, tx, chatID, today)
		if err != nil {
			return err
		}
		changed = n
		return tx.SetLastRecompute(ctx, chatID, today)
	})
	if err == nil && changed > 0 {
		s.log.Info("streaks repaired", logx.Int64("chat_id", chatID), logx.Int("changed", changed))
	}
	return changed, err
}

func (s *Sweeper) noteClosed(chatID int64, n int) {
	if n <= 0 {
		return
	}
	observability.SessionsClosed.Add(float64(n))
	s.bus.Publish(eventbus.Event{Type: eventbus.SessionClosed, TenantID: chatID, Data: n})
}

// sleep waits d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
