package app

import (
	"fmt"
	"slices"

	"checkinbot/internal/checkin"
	"checkinbot/internal/config"
	"checkinbot/internal/reminder"
)

func mapReminderConfig(cfg *config.Config) (reminder.Config, error) {
	rc := cfg.Reminders
	def := reminder.DefaultConfig
	out := def
	var err error

	if out.EndOfDayAt, err = config.ParseTimeOfDayOrDefault("reminders.end_of_day_at", rc.EndOfDayAt, def.EndOfDayAt); err != nil {
		return reminder.Config{}, err
	}
	if out.LastCallAt, err = config.ParseTimeOfDayOrDefault("reminders.last_call_at", rc.LastCallAt, def.LastCallAt); err != nil {
		return reminder.Config{}, err
	}
	if out.SummaryWeekday, err = config.ParseWeekday("reminders.summary_weekday", rc.SummaryWeekday, def.SummaryWeekday); err != nil {
		return reminder.Config{}, err
	}
	if out.SummaryAt, err = config.ParseTimeOfDayOrDefault("reminders.summary_at", rc.SummaryAt, def.SummaryAt); err != nil {
		return reminder.Config{}, err
	}
	if out.AnniversaryAt, err = config.ParseTimeOfDayOrDefault("reminders.anniversary_at", rc.AnniversaryAt, def.AnniversaryAt); err != nil {
		return reminder.Config{}, err
	}
	if out.DefaultPostAt, err = config.ParseTimeOfDayOrDefault("day.default_post_at", cfg.Day.DefaultPostAt, def.DefaultPostAt); err != nil {
		return reminder.Config{}, err
	}
	if out.Grace, err = config.ParseDurationOrDefault("reminders.grace", rc.Grace, def.Grace); err != nil {
		return reminder.Config{}, err
	}
	if len(rc.Milestones) > 0 {
		for _, m := range rc.Milestones {
			if m < 2 {
				return reminder.Config{}, fmt.Errorf("reminders.milestones: %d must be >= 2", m)
			}
		}
		out.Milestones = slices.Clone(rc.Milestones)
		slices.Sort(out.Milestones)
		out.Milestones = slices.Compact(out.Milestones)
	}
	return out, nil
}

func mapCheckinConfig(cfg *config.Config) (checkin.Config, error) {
	cc := cfg.Checkin
	def := checkin.DefaultConfig
	cooldown, err := config.ParseDurationOrDefault("checkin.cooldown", cc.Cooldown, def.Cooldown)
	if err != nil {
		return checkin.Config{}, err
	}
	if cc.MaxPerDay < 0 {
		return checkin.Config{}, fmt.Errorf("checkin.max_per_day must be >= 0")
	}
	maxPerDay := def.MaxPerDay
	if cc.MaxPerDay > 0 {
		maxPerDay = cc.MaxPerDay
	}
	return checkin.Config{Cooldown: cooldown, MaxPerDay: maxPerDay, DefaultTimezone: defaultTimezone(cfg)}, nil
}
