package correlation

import "fmt"

// Kind is the closed set of day-bound messages the bot correlates.
type Kind uint8

const (
	DailyPost Kind = iota + 1
	EndOfDay
	LastCall
	PeriodSummary
	Anniversary
	Milestone
	EffortPoll
	FeelingPoll
	// StatsMenu is keyed per user, see UserDayKey.
	StatsMenu
)

// Kinds lists every Kind in declaration order.
func Kinds() []Kind {
	return []Kind{DailyPost, EndOfDay, LastCall, PeriodSummary, Anniversary, Milestone, EffortPoll, FeelingPoll, StatsMenu}
}

func (k Kind) String() string {
	switch k {
	case DailyPost:
		return "daily_post"
	case EndOfDay:
		return "end_of_day"
	case LastCall:
		return "last_call"
	case PeriodSummary:
		return "period_summary"
	case Anniversary:
		return "anniversary"
	case Milestone:
		return "milestone"
	case EffortPoll:
		return "effort_poll"
	case FeelingPoll:
		return "feeling_poll"
	case StatsMenu:
		return "stats_menu"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind is the inverse of String.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds() {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Interactive reports whether messages of this kind carry a keyboard that
// must be frozen when the day closes.
func (k Kind) Interactive() bool {
	switch k {
	case DailyPost, EffortPoll, FeelingPoll:
		return true
	}
	return false
}
