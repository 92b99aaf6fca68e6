package config

import (
	"reflect"
	"sort"
	"strings"

	logx "checkinbot/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and safe fields
// for logging. The bot token is never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		ot.LogChatID != nt.LogChatID || ot.RatePerSec != nt.RatePerSec ||
		(ot.Token != "") != (nt.Token != "") {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Bool("telegram.log_chat_set", nt.LogChatID != 0),
			logx.Int("telegram.rate_per_sec", nt.RatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.busy_timeout", newCfg.Storage.BusyTimeout))
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.tick_interval", newCfg.Scheduler.TickInterval),
			logx.String("scheduler.tenant_throttle", newCfg.Scheduler.TenantThrottle),
			logx.Int("scheduler.retry_attempts", newCfg.Scheduler.RetryAttempts),
		)
	}

	if oldCfg.Day != newCfg.Day {
		changed = append(changed, "day")
		attrs = append(attrs,
			logx.String("day.close_at", newCfg.Day.CloseAt),
			logx.String("day.open_at", newCfg.Day.OpenAt),
			logx.String("day.default_timezone", newCfg.Day.DefaultTimezone),
		)
	}

	if !reflect.DeepEqual(oldCfg.Reminders, newCfg.Reminders) {
		changed = append(changed, "reminders")
		attrs = append(attrs,
			logx.String("reminders.end_of_day_at", newCfg.Reminders.EndOfDayAt),
			logx.String("reminders.last_call_at", newCfg.Reminders.LastCallAt),
			logx.Int("reminders.milestones", len(newCfg.Reminders.Milestones)),
		)
	}

	if oldCfg.Checkin != newCfg.Checkin {
		changed = append(changed, "checkin")
		attrs = append(attrs,
			logx.String("checkin.cooldown", newCfg.Checkin.Cooldown),
			logx.Int("checkin.max_per_day", newCfg.Checkin.MaxPerDay),
			logx.Bool("checkin.no_polls", newCfg.Checkin.NoPolls),
		)
	}

	if oldCfg.Observability != newCfg.Observability {
		changed = append(changed, "observability")
		attrs = append(attrs,
			logx.Bool("observability.enabled", newCfg.Observability.Enabled),
			logx.String("observability.addr", newCfg.Observability.Addr),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
