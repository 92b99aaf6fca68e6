package render

import (
	"fmt"

	"checkinbot/internal/clock"
	"checkinbot/pkg/tgui"
)

// ReminderRow is a user who asked for the evening reminder.
type ReminderRow struct {
	Person
	Activity int
}

// EndOfDay lists users who asked to be reminded, with whether they already
// checked in. It returns "" when nobody asked.
func EndOfDay(at clock.TimeOfDay, rows []ReminderRow) string {
	if len(rows) == 0 {
		return ""
	}
	lines := []tgui.H{tgui.Esc(fmt.Sprintf("⏰ It's %s. Time to check in!", at))}
	for _, r := range rows {
		status := "❓"
		if r.Activity > 0 {
			status = "✅"
		}
		lines = append(lines, tgui.JoinH(" ", r.Mention(), tgui.Esc(fmt.Sprintf("%s (%d)", status, r.Activity))))
	}
	return tgui.Lines(lines...).String()
}

// LastCall names members without activity today. It returns "" when
// everyone checked in.
func LastCall(missing []Person) string {
	if len(missing) == 0 {
		return ""
	}
	lines := []tgui.H{tgui.Esc("⏳ The session closes soon. Still missing:")}
	for _, p := range missing {
		lines = append(lines, p.Mention())
	}
	return tgui.Lines(lines...).String()
}

// SummaryRow is one ranked user of a period summary.
type SummaryRow struct {
	Person
	Total      int
	ActiveDays int
	Streak     int
	Best       int
}

// PeriodSummary ranks users over [from, to]. It returns "" for an empty period.
func PeriodSummary(from, to clock.Date, rows []SummaryRow) string {
	if len(rows) == 0 {
		return ""
	}
	lines := []tgui.H{
		tgui.B(fmt.Sprintf("📊 Summary %s – %s", from, to)),
		"",
	}
	for i, r := range rows {
		line := tgui.JoinH(" ",
			tgui.Esc(fmt.Sprintf("%d.", i+1)),
			r.Mention(),
			tgui.Esc(fmt.Sprintf("· %d in %d days", r.Total, r.ActiveDays)),
		)
		if r.Streak > 1 {
			line = tgui.JoinH(" ", line, tgui.Esc(fmt.Sprintf("🔥%d", r.Streak)))
		}
		if r.Best > 1 {
			line = tgui.JoinH(" ", line, tgui.I(fmt.Sprintf("(best %d)", r.Best)))
		}
		lines = append(lines, line)
	}
	return tgui.Lines(lines...).String()
}

// Anniversary celebrates full years since the first session. It returns ""
// for years < 1.
func Anniversary(years int, since clock.Date, totalDays int) string {
	if years < 1 {
		return ""
	}
	unit := "year"
	if years > 1 {
		unit = "years"
	}
	return tgui.Lines(
		tgui.B(fmt.Sprintf("🎉 %d %s of daily check-ins!", years, unit)),
		tgui.Esc(fmt.Sprintf("Running since %s, %d sessions so far.", since, totalDays)),
	).String()
}

// MilestoneRow is a user whose streak reached a milestone.
type MilestoneRow struct {
	Person
	Streak int
}

// Milestones announces reached streak milestones. It returns "" when none.
func Milestones(rows []MilestoneRow) string {
	if len(rows) == 0 {
		return ""
	}
	lines := []tgui.H{tgui.B("🏆 Streak milestones")}
	for _, r := range rows {
		lines = append(lines, tgui.JoinH(" ", r.Mention(), tgui.Esc(fmt.Sprintf("reached %d days in a row!", r.Streak))))
	}
	return tgui.Lines(lines...).String()
}
