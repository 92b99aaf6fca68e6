package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Button is one inline callback button.
type Button struct {
	Text string
	Data string
}

// Keyboard lays buttons out as an inline keyboard, one slice per row.
// Empty rows are dropped; nil is returned when nothing remains.
func Keyboard(rows ...[]Button) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	out := make([]tele.Row, 0, len(rows))
	for _, r := range rows {
		if len(r) == 0 {
			continue
		}
		btns := make([]tele.Btn, len(r))
		for i, b := range r {
			btns[i] = tele.Btn{Text: b.Text, Data: b.Data}
		}
		out = append(out, rm.Row(btns...))
	}
	if len(out) == 0 {
		return nil
	}
	rm.Inline(out...)
	return rm
}
