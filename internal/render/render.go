// Package render builds the chat-facing text and keyboards.
package render

import (
	"fmt"
	"sort"
	"strings"

	"checkinbot/internal/clock"
	"checkinbot/internal/transport"
	"checkinbot/pkg/tgui"

	tele "gopkg.in/telebot.v4"
)

// Callback data of the daily post buttons.
const (
	CallbackPrefix = "ci"
	ActionPlus     = "plus"
	ActionMinus    = "minus"
	ActionRemind   = "remind"
)

// ClosedPrefix is the first line of a frozen daily post.
const ClosedPrefix = "🔒 Session closed."

// Person is the display identity of a user.
type Person struct {
	UserID    int64
	Username  string
	FirstName string
	LastName  string
}

// Name prefers @username, then the full name.
func (p Person) Name() string {
	if p.Username != "" {
		return "@" + p.Username
	}
	full := strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
	if full == "" {
		return fmt.Sprintf("User%d", p.UserID)
	}
	return tgui.TruncRunes(full, 32)
}

// Mention renders a plain @username or a tg:// link for users without one.
func (p Person) Mention() tgui.H {
	if p.Username != "" {
		return tgui.Esc("@" + p.Username)
	}
	return tgui.Mention(p.Name(), p.UserID)
}

// Participant is one line of the daily post.
type Participant struct {
	Person
	Activity int
	Streak   int
	Remind   bool
}

// DailyView is everything the daily post shows.
type DailyView struct {
	Date         clock.Date
	Participants []Participant
	Closed       bool
	// RemindAt labels the reminder button.
	RemindAt clock.TimeOfDay
}

// Post is rendered HTML plus an optional keyboard.
type Post struct {
	Text   string
	Markup *tele.ReplyMarkup
}

// Options converts the post into send options. A post without a keyboard
// yields a nil Markup so edits strip any existing one.
func (p Post) Options() *transport.SendOptions {
	opt := &transport.SendOptions{ParseMode: tele.ModeHTML, DisablePreview: true}
	if p.Markup != nil {
		opt.Markup = p.Markup
	}
	return opt
}

// DailyPost renders the check-in message. Participants with activity come
// first, most active on top.
func DailyPost(v DailyView) Post {
	ps := append([]Participant(nil), v.Participants...)
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Activity != ps[j].Activity {
			return ps[i].Activity > ps[j].Activity
		}
		return ps[i].UserID < ps[j].UserID
	})

	lines := make([]tgui.H, 0, len(ps)+4)
	if v.Closed {
		lines = append(lines, tgui.B(ClosedPrefix))
	}
	lines = append(lines,
		tgui.B(fmt.Sprintf("✅ Daily check-in (%s)", v.Date.String())),
		tgui.I("Press +1 to join today's list."),
		"",
	)
	listed := 0
	for _, p := range ps {
		if p.Activity <= 0 && !p.Remind {
			continue
		}
		lines = append(lines, participantLine(v.Date, p))
		listed++
	}
	if listed == 0 {
		lines = append(lines, tgui.I("Nobody yet."))
	}

	post := Post{Text: tgui.Lines(lines...).String()}
	if !v.Closed {
		post.Markup = Keyboard(v.RemindAt)
	}
	return post
}

func participantLine(day clock.Date, p Participant) tgui.H {
	parts := []tgui.H{p.Mention(), tgui.Esc(fmt.Sprintf("✔️(%d)", p.Activity))}
	if a := Achievement(p.UserID, day, p.Activity); a != "" {
		parts = append(parts, tgui.I(a))
	}
	if p.Streak > 1 {
		parts = append(parts, tgui.Esc(fmt.Sprintf("🔥%d", p.Streak)))
	}
	if p.Remind {
		parts = append(parts, tgui.Esc("⏳"))
	}
	return tgui.JoinH(" ", parts...)
}

// Keyboard is the daily post's inline keyboard.
func Keyboard(remindAt clock.TimeOfDay) *tele.ReplyMarkup {
	data := func(action string) string {
		d, _ := tgui.Data(CallbackPrefix, action)
		return d
	}
	return tgui.Keyboard(
		[]tgui.Button{{Text: "+1", Data: data(ActionPlus)}, {Text: "-1", Data: data(ActionMinus)}},
		[]tgui.Button{{Text: "⏳ Remind me at " + remindAt.String(), Data: data(ActionRemind)}},
	)
}
