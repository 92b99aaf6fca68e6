package render

import (
	"fmt"
	"strings"

	"checkinbot/internal/clock"
	"checkinbot/pkg/tgui"

	tele "gopkg.in/telebot.v4"
)

// Poll is one of the per-day follow-up questions posted under the daily
// post. Answers belong to the user's day and need activity.
type Poll uint8

const (
	EffortPoll Poll = iota + 1
	FeelingPoll
)

// Polls lists every Poll in posting order.
func Polls() []Poll { return []Poll{EffortPoll, FeelingPoll} }

func (p Poll) String() string {
	switch p {
	case EffortPoll:
		return "effort"
	case FeelingPoll:
		return "feeling"
	default:
		return fmt.Sprintf("poll(%d)", uint8(p))
	}
}

// ParsePoll is the inverse of String.
func ParsePoll(s string) (Poll, bool) {
	for _, p := range Polls() {
		if p.String() == s {
			return p, true
		}
	}
	return 0, false
}

// Choice is one answer button. Score orders answers for averages.
type Choice struct {
	Code  string
	Icon  string
	Label string
	Score int
}

var (
	effortChoices = []Choice{
		{Code: "hard", Icon: "🧱", Label: "hard", Score: 1},
		{Code: "steady", Icon: "👍", Label: "steady", Score: 2},
		{Code: "easy", Icon: "🪶", Label: "easy", Score: 3},
		{Code: "effortless", Icon: "💨", Label: "effortless", Score: 4},
	}
	feelingChoices = []Choice{
		{Code: "great", Icon: "😇", Label: "great", Score: 3},
		{Code: "ok", Icon: "😐", Label: "ok", Score: 2},
		{Code: "bad", Icon: "😫", Label: "bad", Score: 1},
	}
)

// Unanswered marks an active user who has not picked an answer yet; Idle
// marks a member without activity.
const (
	Unanswered = "❔"
	Idle       = "·"
)

func (p Poll) Choices() []Choice {
	switch p {
	case EffortPoll:
		return effortChoices
	case FeelingPoll:
		return feelingChoices
	}
	return nil
}

// Choice looks up code among the poll's answers.
func (p Poll) Choice(code string) (Choice, bool) {
	for _, c := range p.Choices() {
		if c.Code == code {
			return c, true
		}
	}
	return Choice{}, false
}

func (p Poll) question() string {
	switch p {
	case EffortPoll:
		return "💪 How did it go today?"
	case FeelingPoll:
		return "🫀 How do you feel after it?"
	}
	return ""
}

// PollRow is one member line of a poll message.
type PollRow struct {
	Person
	Activity int
	Answer   string
}

type PollView struct {
	Poll   Poll
	Date   clock.Date
	Rows   []PollRow
	Closed bool
}

// PollPost renders a poll message. Members without activity get Idle,
// active ones their answer icon or Unanswered.
func PollPost(v PollView) Post {
	lines := make([]tgui.H, 0, len(v.Rows)+5)
	if v.Closed {
		lines = append(lines, tgui.B(ClosedPrefix))
	}
	lines = append(lines,
		tgui.B(fmt.Sprintf("%s (%s)", v.Poll.question(), v.Date)),
		tgui.I("Check in with +1 first, then pick an answer."),
		"",
	)
	for _, r := range v.Rows {
		lines = append(lines, tgui.JoinH("", r.Mention(), tgui.Esc(": "+v.Poll.icon(r))))
	}
	if len(v.Rows) == 0 {
		lines = append(lines, tgui.I("Nobody yet."))
	}

	post := Post{Text: tgui.Lines(lines...).String()}
	if !v.Closed {
		post.Markup = PollKeyboard(v.Poll)
	}
	return post
}

func (p Poll) icon(r PollRow) string {
	if r.Activity <= 0 {
		return Idle
	}
	if c, ok := p.Choice(r.Answer); ok {
		return c.Icon
	}
	return Unanswered
}

// PollData is the callback data of one answer: "ci:<poll>:<code>".
func PollData(p Poll, code string) string {
	d, _ := tgui.Data(CallbackPrefix, p.String()+":"+code)
	return d
}

// ParsePollAction splits the action part of PollData.
func ParsePollAction(action string) (Poll, Choice, bool) {
	name, code, ok := strings.Cut(action, ":")
	if !ok {
		return 0, Choice{}, false
	}
	p, ok := ParsePoll(name)
	if !ok {
		return 0, Choice{}, false
	}
	c, ok := p.Choice(code)
	return p, c, ok
}

func PollKeyboard(p Poll) *tele.ReplyMarkup {
	row := make([]tgui.Button, 0, len(p.Choices()))
	for _, c := range p.Choices() {
		row = append(row, tgui.Button{Text: c.Icon + " " + c.Label, Data: PollData(p, c.Code)})
	}
	if len(row) > 2 {
		return tgui.Keyboard(row[:2], row[2:])
	}
	return tgui.Keyboard(row)
}
