package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"checkinbot/internal/checkin"
	"checkinbot/internal/clock"
	"checkinbot/internal/config"
	"checkinbot/internal/correlation"
	"checkinbot/internal/eventbus"
	"checkinbot/internal/inbound"
	"checkinbot/internal/observability"
	"checkinbot/internal/ratelimit"
	"checkinbot/internal/reminder"
	rtsup "checkinbot/internal/runtime/supervisor"
	"checkinbot/internal/session"
	"checkinbot/internal/stats"
	"checkinbot/internal/storage"
	"checkinbot/internal/streak"
	"checkinbot/internal/sweep"
	kit "checkinbot/internal/transport"
	telegram "checkinbot/internal/transport/telegram/adapter"
	logx "checkinbot/pkg/logx"
)

const (
	routerWorkers = 4
	updateBuffer  = 256
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store *storage.Store

	adapter *telegram.Adapter
	out     kit.Messenger

	resolver  *clock.Resolver
	sessions  *session.Service
	reminders *reminder.Dispatcher
	checkins  *checkin.Service
	router    *inbound.Router
	sweeper   *sweep.Sweeper
	trigger   *sweep.Trigger
	obs       *observability.Service

	retry   atomicPolicy
	tick    time.Duration
	updates chan kit.Update
}

// settings is every mapped section of one config snapshot.
type settings struct {
	log       logx.Config
	adapter   telegram.Config
	storage   storage.Config
	bounds    clock.Bounds
	sweep     sweep.Config
	tick      time.Duration
	retry     kit.RetryPolicy
	reminders reminder.Config
	checkin   checkin.Config
	polls     bool
	obs       observability.Config
}

func mapAll(cfg *config.Config) (settings, error) {
	var (
		s   settings
		err error
	)
	s.log = mapLogConfig(cfg)
	if s.adapter, err = mapAdapterConfig(cfg); err != nil {
		return settings{}, err
	}
	if s.storage, err = mapStorageConfig(cfg); err != nil {
		return settings{}, err
	}
	if s.bounds, err = mapBounds(cfg); err != nil {
		return settings{}, err
	}
	if s.sweep, s.tick, err = mapSweepConfig(cfg); err != nil {
		return settings{}, err
	}
	if s.retry, err = mapRetryPolicy(cfg); err != nil {
		return settings{}, err
	}
	if s.reminders, err = mapReminderConfig(cfg); err != nil {
		return settings{}, err
	}
	if s.checkin, err = mapCheckinConfig(cfg); err != nil {
		return settings{}, err
	}
	s.polls = !cfg.Checkin.NoPolls
	if s.obs, err = mapObservabilityConfig(cfg); err != nil {
		return settings{}, err
	}
	return s, nil
}

func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	set, err := mapAll(cfg)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(set.adapter, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(set.log, ad.SendText)

	store, err := storage.Open(ctx, set.storage, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     eventbus.New(),
		store:   store,
		adapter: ad,
		tick:    set.tick,
		updates: make(chan kit.Update, updateBuffer),
	}
	a.retry.Store(set.retry)
	a.out = kit.NewRetrying(observability.Instrument(ad), a.retry.Load, log)

	a.resolver = clock.NewResolver(set.bounds)
	calc := streak.NewCalculator(log)
	corr := correlation.New(store, a.out, log)
	a.sessions = session.NewService(store, corr, a.out, calc, a.resolver, log)
	a.reminders = reminder.NewDispatcher(store, corr, log)
	a.checkins = checkin.NewService(store, a.sessions, ratelimit.New(store), a.resolver, clock.System, log)
	a.router = inbound.NewRouter(store, a.sessions, a.checkins, stats.NewService(store, corr, log), a.resolver, clock.System, a.out, ad, log)
	a.sweeper = sweep.New(store, a.sessions, a.reminders, calc, a.resolver, clock.System, a.bus, log)
	a.trigger = sweep.NewTrigger(set.tick, a.runSweep, log)
	a.obs = observability.New(set.obs, a.health, log)

	a.apply(set)
	log.Info("app configured",
		logx.String("storage", set.storage.Path),
		logx.Duration("tick", set.tick),
		logx.String("default_tz", set.sweep.DefaultTimezone),
	)
	return a, nil
}

// apply pushes the reloadable sections into the running components.
func (a *App) apply(s settings) {
	a.resolver.SetBounds(s.bounds)
	a.retry.Store(s.retry)
	a.sessions.Apply(session.Config{RemindAt: s.reminders.EndOfDayAt, Polls: s.polls})
	a.reminders.Apply(s.reminders)
	a.checkins.Apply(s.checkin)
	a.router.Apply(inbound.Config{DefaultTimezone: s.sweep.DefaultTimezone, Timeout: inbound.DefaultConfig.Timeout})
	a.sweeper.Apply(s.sweep)
}

func (a *App) runSweep(ctx context.Context) {
	rep := a.sweeper.Run(ctx)
	if rep.Failed > 0 {
		a.log.Warn("sweep finished with failures",
			logx.String("sweep", rep.ID),
			logx.Int("failed", rep.Failed),
			logx.Int("tenants", rep.Tenants),
		)
	}
	if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
		a.log.Debug("sd_notify watchdog failed", logx.Err(err))
	}
}

// health reports unhealthy once sweeps stop completing.
func (a *App) health() error {
	rep, ok := a.sweeper.Last()
	if !ok {
		return nil
	}
	limit := 5 * a.currentTick()
	if age := time.Since(rep.Started); age > limit {
		return fmt.Errorf("last sweep started %s ago", age.Round(time.Second))
	}
	return nil
}

func (a *App) currentTick() time.Duration {
	if d := a.trigger.Every(); d > 0 {
		return d
	}
	return a.tick
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Done is closed when the app supervisor is cancelled.
func (a *App) Done() <-chan struct{} {
	return a.sup.Context().Done()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := mapAll(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("inbound.router", func(c context.Context) error {
		err := a.router.Run(c, a.updates, routerWorkers)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := a.trigger.Start(a.sup.Context()); err != nil {
		return err
	}
	a.obs.Start(a.sup.Context())

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.reload(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started")
	return nil
}

func (a *App) reload(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	set, err := mapAll(next)
	if err != nil {
		// The validator already rejected this; only reachable on a race with a manual Commit.
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}
	for _, s := range sections {
		if s == "storage" || s == "telegram" {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(set.log)
	a.apply(set)
	if err := a.trigger.Reschedule(set.tick); err != nil {
		a.log.Warn("sweep reschedule failed", logx.Err(err))
	}
	a.obs.Reconfigure(ctx, set.obs)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) logEvent(e eventbus.Event) {
	fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
	if e.TenantID != 0 {
		fields = append(fields, logx.Int64("chat_id", e.TenantID))
	}
	if e.Data != nil {
		fields = append(fields, logx.Any("data", e.Data))
	}
	switch e.Type {
	case eventbus.TenantDisabled, eventbus.TenantFailed:
		a.log.Warn("event", fields...)
	default:
		a.log.Debug("event", fields...)
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	a.sup.Cancel()

	// Each step is bounded so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("trigger", 5*time.Second, func(c context.Context) error { a.trigger.Stop(c); return nil })
	step("observability", time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
