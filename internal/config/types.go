package config

// Config is the on-disk shape of the bot configuration.
//
// All durations are Go duration strings ("500ms", "30s", "1m") and all
// clock times are "HH:MM" in the tenant's local timezone. Empty values fall
// back to the defaults documented on each section.
type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Logging       LoggingConfig       `json:"logging"`
	Storage       StorageConfig       `json:"storage"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	Day           DayConfig           `json:"day"`
	Reminders     RemindersConfig     `json:"reminders"`
	Checkin       CheckinConfig       `json:"checkin"`
	Observability ObservabilityConfig `json:"observability,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty when CHECKINBOT_TOKEN is set.
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout"`
	// LogChatID receives forwarded log lines when logging.chat is enabled.
	LogChatID  int64 `json:"log_chat_id,omitempty"`
	RatePerSec int   `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
	Chat    LoggingChatConfig `json:"chat"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChatConfig struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig points at the SQLite database file.
//
// Defaults: path "data/checkinbot.db", busy_timeout "5s".
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the periodic sweep.
//
// Defaults:
//   - tick_interval: "30s"
//   - tenant_throttle: "250ms"
//   - tenant_timeout: "60s"
//   - retry_attempts: 3
//   - retry_min: "500ms"
//   - retry_max: "30s"
type SchedulerConfig struct {
	TickInterval   string `json:"tick_interval,omitempty"`
	TenantThrottle string `json:"tenant_throttle,omitempty"`
	TenantTimeout  string `json:"tenant_timeout,omitempty"`
	RetryAttempts  int    `json:"retry_attempts,omitempty"`
	RetryMin       string `json:"retry_min,omitempty"`
	RetryMax       string `json:"retry_max,omitempty"`
}

// DayConfig describes the daily cycle.
//
// Defaults: close_at "23:55", open_at "00:05", default_timezone
// "Europe/Minsk", default_post_at "10:00", recompute_at "04:00".
type DayConfig struct {
	CloseAt         string `json:"close_at,omitempty"`
	OpenAt          string `json:"open_at,omitempty"`
	DefaultTimezone string `json:"default_timezone,omitempty"`
	DefaultPostAt   string `json:"default_post_at,omitempty"`
	RecomputeAt     string `json:"recompute_at,omitempty"`
}

// RemindersConfig holds the time gates of every notification kind.
type RemindersConfig struct {
	EndOfDayAt     string `json:"end_of_day_at,omitempty"`
	LastCallAt     string `json:"last_call_at,omitempty"`
	SummaryWeekday string `json:"summary_weekday,omitempty"`
	SummaryAt      string `json:"summary_at,omitempty"`
	AnniversaryAt  string `json:"anniversary_at,omitempty"`
	Milestones     []int  `json:"milestones,omitempty"`
	// Grace is how long after a gate opens a late tick may still fire it.
	Grace string `json:"grace,omitempty"`
}

type CheckinConfig struct {
	Cooldown  string `json:"cooldown,omitempty"`
	MaxPerDay int    `json:"max_per_day,omitempty"`
	// NoPolls turns off the effort and feeling polls under the daily post.
	NoPolls bool `json:"no_polls,omitempty"`
}

// ObservabilityConfig exposes /metrics and /healthz (and pprof when asked)
// on a local listener.
type ObservabilityConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
}
