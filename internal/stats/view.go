// Package stats serves the /stats menu: personal and chat totals over a
// period, and the year recap around New Year.
package stats

import (
	"fmt"
	"strings"
	"time"

	"checkinbot/internal/clock"
	"checkinbot/pkg/tgui"
)

// CallbackPrefix marks stats menu buttons.
const CallbackPrefix = "st"

type Period uint8

const (
	Today Period = iota + 1
	Week
	Month
	Year
	All
)

func Periods() []Period { return []Period{Today, Week, Month, Year, All} }

func (p Period) String() string {
	switch p {
	case Today:
		return "today"
	case Week:
		return "week"
	case Month:
		return "month"
	case Year:
		return "year"
	case All:
		return "all"
	default:
		return fmt.Sprintf("period(%d)", uint8(p))
	}
}

func (p Period) label() string {
	switch p {
	case Today:
		return "📌 Today"
	case Week:
		return "🗓 Week"
	case Month:
		return "📅 Month"
	case Year:
		return "📆 Year"
	case All:
		return "♾️ All time"
	}
	return p.String()
}

func ParsePeriod(s string) (Period, bool) {
	for _, p := range Periods() {
		if p.String() == s {
			return p, true
		}
	}
	return 0, false
}

// Range is the inclusive date span of p ending today. All starts at first,
// the chat's oldest session.
func (p Period) Range(today, first clock.Date) (clock.Date, clock.Date) {
	switch p {
	case Week:
		return today.AddDays(-6), today
	case Month:
		return today.AddDays(-29), today
	case Year:
		return today.AddDays(-364), today
	case All:
		if first.IsZero() || first.After(today) {
			return today, today
		}
		return first, today
	}
	return today, today
}

type Section uint8

const (
	Root Section = iota + 1
	Mine
	Chat
	Recap
)

func (s Section) String() string {
	switch s {
	case Root:
		return "root"
	case Mine:
		return "my"
	case Chat:
		return "chat"
	case Recap:
		return "recap"
	default:
		return fmt.Sprintf("section(%d)", uint8(s))
	}
}

// View is one screen of the menu. Period only matters for Mine and Chat.
type View struct {
	Section Section
	Period  Period
}

// Data is the callback data that opens v.
func (v View) Data() string {
	action := v.Section.String()
	if v.Section == Mine || v.Section == Chat {
		action += ":" + v.Period.String()
	}
	d, _ := tgui.Data(CallbackPrefix, action)
	return d
}

// ParseView is the inverse of Data for the action part.
func ParseView(action string) (View, bool) {
	name, rest, _ := strings.Cut(action, ":")
	switch name {
	case "root":
		return View{Section: Root}, rest == ""
	case "recap":
		return View{Section: Recap}, rest == ""
	case "my", "chat":
		p, ok := ParsePeriod(rest)
		if !ok {
			return View{}, false
		}
		sec := Mine
		if name == "chat" {
			sec = Chat
		}
		return View{Section: sec, Period: p}, true
	}
	return View{}, false
}

// RecapYear returns the year a recap covers on today and whether the recap
// window, December 30 through January 3, is open.
func RecapYear(today clock.Date) (int, bool) {
	switch {
	case today.Month == time.December && today.Day >= 30:
		return today.Year, true
	case today.Month == time.January && today.Day <= 3:
		return today.Year - 1, true
	}
	return 0, false
}
