package app

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkinbot/internal/clock"
	"checkinbot/internal/config"
	"checkinbot/internal/observability"
	"checkinbot/internal/reminder"
	"checkinbot/internal/transport"
)

func baseConfig() *config.Config {
	return &config.Config{Telegram: config.TelegramConfig{Token: "123:abc"}}
}

func TestMapAllDefaults(t *testing.T) {
	t.Parallel()

	s, err := mapAll(baseConfig())
	require.NoError(t, err)

	assert.Equal(t, defaultStoragePath, s.storage.Path)
	assert.Equal(t, 5*time.Second, s.storage.BusyTimeout)
	assert.Equal(t, clock.DefaultBounds, s.bounds)
	assert.Equal(t, defaultTickInterval, s.tick)
	assert.Equal(t, "Europe/Minsk", s.sweep.DefaultTimezone)
	assert.Equal(t, transport.DefaultRetryPolicy, s.retry)
	assert.Equal(t, reminder.DefaultConfig, s.reminders)
	assert.Equal(t, 10, s.checkin.MaxPerDay)
	assert.True(t, s.polls)
	assert.Equal(t, observability.DefaultAddr, s.obs.Addr)
	assert.Equal(t, 10*time.Second, s.adapter.PollTimeout)
	assert.False(t, s.log.Chat.Enabled)
}

func TestMapAllOverrides(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Telegram.LogChatID = -100
	cfg.Logging.Chat.Enabled = true
	cfg.Scheduler.TickInterval = "1m"
	cfg.Scheduler.RetryAttempts = 5
	cfg.Day.DefaultTimezone = "Asia/Tokyo"
	cfg.Day.CloseAt = "23:50"
	cfg.Reminders.SummaryWeekday = "Fri"
	cfg.Reminders.Milestones = []int{30, 7, 30}
	cfg.Checkin.MaxPerDay = 3
	cfg.Checkin.NoPolls = true

	s, err := mapAll(cfg)
	require.NoError(t, err)

	assert.Equal(t, time.Minute, s.tick)
	assert.Equal(t, 5, s.retry.Attempts)
	assert.Equal(t, "Asia/Tokyo", s.sweep.DefaultTimezone)
	assert.Equal(t, "Asia/Tokyo", s.checkin.DefaultTimezone)
	assert.Equal(t, clock.TimeOfDay{Hour: 23, Minute: 50}, s.bounds.CloseAt)
	assert.Equal(t, time.Friday, s.reminders.SummaryWeekday)
	assert.Equal(t, []int{7, 30}, s.reminders.Milestones)
	assert.Equal(t, 3, s.checkin.MaxPerDay)
	assert.False(t, s.polls)
	assert.True(t, s.log.Chat.Enabled)
	assert.Equal(t, int64(-100), s.log.Chat.ChatID)
}

func TestMapAllRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty token", func(c *config.Config) { c.Telegram.Token = " " }},
		{"bad poll timeout", func(c *config.Config) { c.Telegram.PollTimeout = "soon" }},
		{"sub-second tick", func(c *config.Config) { c.Scheduler.TickInterval = "200ms" }},
		{"bad timezone", func(c *config.Config) { c.Day.DefaultTimezone = "Mars/Olympus" }},
		{"bad close time", func(c *config.Config) { c.Day.CloseAt = "25:00" }},
		{"inverted retry", func(c *config.Config) { c.Scheduler.RetryMin = "10s"; c.Scheduler.RetryMax = "1s" }},
		{"negative attempts", func(c *config.Config) { c.Scheduler.RetryAttempts = -1 }},
		{"bad weekday", func(c *config.Config) { c.Reminders.SummaryWeekday = "someday" }},
		{"tiny milestone", func(c *config.Config) { c.Reminders.Milestones = []int{1} }},
		{"negative max", func(c *config.Config) { c.Checkin.MaxPerDay = -1 }},
		{"bad obs addr", func(c *config.Config) { c.Observability.Addr = "nope" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig()
			tt.mutate(cfg)
			if _, err := mapAll(cfg); err == nil {
				t.Fatalf("mapAll accepted %s", tt.name)
			}
		})
	}
}

func TestAtomicPolicy(t *testing.T) {
	t.Parallel()

	var p atomicPolicy
	assert.Equal(t, transport.DefaultRetryPolicy, p.Load())
	p.Store(transport.RetryPolicy{Attempts: 1, MinDelay: time.Second, MaxDelay: time.Second})
	assert.Equal(t, 1, p.Load().Attempts)
}
