package app

import (
	"fmt"
	"strings"
	"time"

	"checkinbot/internal/clock"
	"checkinbot/internal/config"
	"checkinbot/internal/sweep"
	"checkinbot/internal/transport"
)

const defaultTickInterval = 30 * time.Second

func mapBounds(cfg *config.Config) (clock.Bounds, error) {
	closeAt, err := config.ParseTimeOfDayOrDefault("day.close_at", cfg.Day.CloseAt, clock.DefaultBounds.CloseAt)
	if err != nil {
		return clock.Bounds{}, err
	}
	openAt, err := config.ParseTimeOfDayOrDefault("day.open_at", cfg.Day.OpenAt, clock.DefaultBounds.OpenAt)
	if err != nil {
		return clock.Bounds{}, err
	}
	b := clock.Bounds{CloseAt: closeAt, OpenAt: openAt}
	if err := b.Validate(); err != nil {
		return clock.Bounds{}, fmt.Errorf("day: %w", err)
	}
	return b, nil
}

func defaultTimezone(cfg *config.Config) string {
	if tz := strings.TrimSpace(cfg.Day.DefaultTimezone); tz != "" {
		return tz
	}
	return sweep.DefaultConfig.DefaultTimezone
}

// mapSweepConfig returns the sweeper knobs and the tick interval.
func mapSweepConfig(cfg *config.Config) (sweep.Config, time.Duration, error) {
	sc := cfg.Scheduler
	tick, err := config.ParseDurationOrDefault("scheduler.tick_interval", sc.TickInterval, defaultTickInterval)
	if err != nil {
		return sweep.Config{}, 0, err
	}
	if tick < time.Second {
		return sweep.Config{}, 0, fmt.Errorf("scheduler.tick_interval must be >= 1s")
	}
	throttle, err := config.ParseDurationOrDefault("scheduler.tenant_throttle", sc.TenantThrottle, sweep.DefaultConfig.TenantThrottle)
	if err != nil {
		return sweep.Config{}, 0, err
	}
	timeout, err := config.ParseDurationOrDefault("scheduler.tenant_timeout", sc.TenantTimeout, sweep.DefaultConfig.TenantTimeout)
	if err != nil {
		return sweep.Config{}, 0, err
	}
	recompute, err := config.ParseTimeOfDayOrDefault("day.recompute_at", cfg.Day.RecomputeAt, sweep.DefaultConfig.RecomputeAt)
	if err != nil {
		return sweep.Config{}, 0, err
	}
	if _, err := time.LoadLocation(defaultTimezone(cfg)); err != nil {
		return sweep.Config{}, 0, fmt.Errorf("day.default_timezone: %w", err)
	}
	return sweep.Config{
		TenantThrottle:  throttle,
		TenantTimeout:   timeout,
		DefaultTimezone: defaultTimezone(cfg),
		RecomputeAt:     recompute,
	}, tick, nil
}

func mapRetryPolicy(cfg *config.Config) (transport.RetryPolicy, error) {
	sc := cfg.Scheduler
	if sc.RetryAttempts < 0 {
		return transport.RetryPolicy{}, fmt.Errorf("scheduler.retry_attempts must be >= 0")
	}
	p := transport.DefaultRetryPolicy
	if sc.RetryAttempts > 0 {
		p.Attempts = sc.RetryAttempts
	}
	var err error
	if p.MinDelay, err = config.ParseDurationOrDefault("scheduler.retry_min", sc.RetryMin, p.MinDelay); err != nil {
		return transport.RetryPolicy{}, err
	}
	if p.MaxDelay, err = config.ParseDurationOrDefault("scheduler.retry_max", sc.RetryMax, p.MaxDelay); err != nil {
		return transport.RetryPolicy{}, err
	}
	if p.MaxDelay < p.MinDelay {
		return transport.RetryPolicy{}, fmt.Errorf("scheduler.retry_max must be >= retry_min")
	}
	return p, nil
}
