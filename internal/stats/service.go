package stats

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"checkinbot/internal/clock"
	"checkinbot/internal/correlation"
	"checkinbot/internal/render"
	"checkinbot/internal/storage"
	"checkinbot/internal/streak"
	logx "checkinbot/pkg/logx"
	"checkinbot/pkg/tgui"
)

// topN caps the chat leaderboard.
const topN = 10

// ErrNotOwner rejects a menu button pressed by someone other than the
// member the menu was opened for, or on a menu from an earlier day.
var ErrNotOwner = errors.New("stats: not your menu")

type Service struct {
	store *storage.Store
	corr  *correlation.Store
	log   logx.Logger
}

func NewService(store *storage.Store, corr *correlation.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, corr: corr, log: log.With(logx.String("comp", "stats"))}
}

// Open shows the root menu of userID in chatID. One menu per member and
// day is kept: a repeated call edits it back to the root view.
func (s *Service) Open(ctx context.Context, chatID, userID int64, today clock.Date) (correlation.Delivery, error) {
	key := correlation.UserDayKey(chatID, userID, today, correlation.StatsMenu)
	return s.corr.EnsureFresh(ctx, key, func(context.Context) (correlation.Message, error) {
		post := rootPost(today)
		return correlation.Message{Text: post.Text, Options: post.Options()}, nil
	})
}

// Navigate builds view v for a button pressed on messageID. Only the menu
// opened today by userID answers.
func (s *Service) Navigate(ctx context.Context, chatID, userID int64, messageID int, today clock.Date, v View) (render.Post, error) {
	id, err := s.corr.Lookup(ctx, correlation.UserDayKey(chatID, userID, today, correlation.StatsMenu))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return render.Post{}, ErrNotOwner
	case err != nil:
		return render.Post{}, err
	case id != messageID:
		return render.Post{}, ErrNotOwner
	}
	return s.Build(ctx, chatID, userID, today, v)
}

// Build renders view v of chatID for userID as of today. A recap asked for
// outside its window falls back to the root menu.
func (s *Service) Build(ctx context.Context, chatID, userID int64, today clock.Date, v View) (render.Post, error) {
	switch v.Section {
	case Mine:
		return s.mine(ctx, chatID, userID, today, v.Period)
	case Chat:
		return s.chat(ctx, chatID, today, v.Period)
	case Recap:
		if year, ok := RecapYear(today); ok {
			return s.recap(ctx, chatID, userID, year)
		}
	}
	return rootPost(today), nil
}

func rootPost(today clock.Date) render.Post {
	lines := []tgui.H{tgui.B("📊 Stats"), "", tgui.Esc("Pick a section:")}
	rows := [][]tgui.Button{
		{{Text: "🙋 Mine", Data: View{Section: Mine, Period: Today}.Data()}},
		{{Text: "👥 This chat", Data: View{Section: Chat, Period: Today}.Data()}},
	}
	if year, ok := RecapYear(today); ok {
		lines = append(lines, "", tgui.I(fmt.Sprintf("🎉 The %d recap is out.", year)))
		rows = append(rows, []tgui.Button{{Text: "🎉 Year recap", Data: View{Section: Recap}.Data()}})
	}
	return render.Post{Text: tgui.Lines(lines...).String(), Markup: tgui.Keyboard(rows...)}
}

func periodKeyboard(sec Section, active Period) [][]tgui.Button {
	btn := func(p Period) tgui.Button {
		text := p.label()
		if p == active {
			text = "• " + text
		}
		return tgui.Button{Text: text, Data: View{Section: sec, Period: p}.Data()}
	}
	return [][]tgui.Button{
		{btn(Today), btn(Week), btn(Month)},
		{btn(Year), btn(All)},
		backRow(),
	}
}

func backRow() []tgui.Button {
	return []tgui.Button{{Text: "⬅️ Back", Data: View{Section: Root}.Data()}}
}

// span resolves p to dates; ok is false when the chat has no sessions yet.
func (s *Service) span(ctx context.Context, chatID int64, today clock.Date, p Period) (from, to clock.Date, ok bool, err error) {
	first, err := s.store.FirstSessionDate(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return today, today, false, nil
	}
	if err != nil {
		return clock.Date{}, clock.Date{}, false, err
	}
	from, to = p.Range(today, first)
	return from, to, true, nil
}

func periodLine(from, to clock.Date) tgui.H {
	if from == to {
		return tgui.Esc("Period: " + from.String())
	}
	return tgui.Esc(fmt.Sprintf("Period: %s – %s", from, to))
}

func (s *Service) mine(ctx context.Context, chatID, userID int64, today clock.Date, p Period) (render.Post, error) {
	from, to, ok, err := s.span(ctx, chatID, today, p)
	if err != nil {
		return render.Post{}, err
	}
	lines := []tgui.H{tgui.B("🙋 My stats"), periodLine(from, to), ""}
	markup := tgui.Keyboard(periodKeyboard(Mine, p)...)
	if !ok {
		lines = append(lines, tgui.I("Nothing yet."))
		return render.Post{Text: tgui.Lines(lines...).String(), Markup: markup}, nil
	}

	days, err := s.store.ListDayActivity(ctx, chatID, userID, from, to)
	if err != nil {
		return render.Post{}, err
	}
	rec, err := s.store.GetStreak(ctx, chatID, userID)
	if err != nil {
		return render.Post{}, err
	}
	total, activeToday := 0, false
	for _, d := range days {
		total += d.Activity
		activeToday = activeToday || d.Date == today
	}
	current := streak.ProjectedStreak(streak.Record{Current: rec.Current, Best: rec.Best, Last: rec.LastDate}, today, activeToday)

	lines = append(lines,
		tgui.Esc(fmt.Sprintf("✔️ Total: %d", total)),
		tgui.Esc(fmt.Sprintf("📌 Active days: %d/%d", len(days), from.DaysUntil(to)+1)),
		tgui.Esc(fmt.Sprintf("🔥 Current streak: %d", current)),
		tgui.Esc(fmt.Sprintf("🏆 Best streak: %d", max(rec.Best, current))),
		"",
		shareLine("💪 Effort", render.EffortPoll, days),
		shareLine("🫀 Feeling", render.FeelingPoll, days),
	)
	return render.Post{Text: tgui.Lines(lines...).String(), Markup: markup}, nil
}

func (s *Service) chat(ctx context.Context, chatID int64, today clock.Date, p Period) (render.Post, error) {
	from, to, ok, err := s.span(ctx, chatID, today, p)
	if err != nil {
		return render.Post{}, err
	}
	lines := []tgui.H{tgui.B("👥 This chat"), periodLine(from, to), ""}
	markup := tgui.Keyboard(periodKeyboard(Chat, p)...)
	if !ok {
		lines = append(lines, tgui.I("Nothing yet."))
		return render.Post{Text: tgui.Lines(lines...).String(), Markup: markup}, nil
	}

	totals, err := s.store.PeriodTotals(ctx, chatID, from, to)
	if err != nil {
		return render.Post{}, err
	}
	days, err := s.store.ListDayActivity(ctx, chatID, 0, from, to)
	if err != nil {
		return render.Post{}, err
	}
	people, err := s.people(ctx, chatID)
	if err != nil {
		return render.Post{}, err
	}
	sum := 0
	for _, t := range totals {
		sum += t.Total
	}

	lines = append(lines,
		tgui.Esc(fmt.Sprintf("✔️ Chat total: %d", sum)),
		shareLine("💪 Effort", render.EffortPoll, days),
		shareLine("🫀 Feeling", render.FeelingPoll, days),
		"",
		tgui.B("Top members"),
	)
	for i, t := range totals[:min(len(totals), topN)] {
		lines = append(lines, tgui.JoinH(" ",
			tgui.Esc(fmt.Sprintf("%d.", i+1)),
			personOf(people, t.UserID).Mention(),
			tgui.Esc(fmt.Sprintf("✔️(%d) in %d days", t.Total, t.ActiveDays)),
		))
	}
	if len(totals) == 0 {
		lines = append(lines, tgui.I("Nobody has checked in yet."))
	}
	return render.Post{Text: tgui.Lines(lines...).String(), Markup: markup}, nil
}

// recap summarizes userID's year in chatID.
func (s *Service) recap(ctx context.Context, chatID, userID int64, year int) (render.Post, error) {
	from := clock.Date{Year: year, Month: time.January, Day: 1}
	to := clock.Date{Year: year, Month: time.December, Day: 31}
	markup := tgui.Keyboard(backRow())

	days, err := s.store.ListDayActivity(ctx, chatID, userID, from, to)
	if err != nil {
		return render.Post{}, err
	}
	lines := []tgui.H{tgui.B(fmt.Sprintf("🎉 Your %d recap", year)), ""}
	if len(days) == 0 {
		lines = append(lines, tgui.I(fmt.Sprintf("No check-ins in %d. Next year is yours.", year)))
		return render.Post{Text: tgui.Lines(lines...).String(), Markup: markup}, nil
	}
	totals, err := s.store.PeriodTotals(ctx, chatID, from, to)
	if err != nil {
		return render.Post{}, err
	}

	r := summarize(days)
	lines = append(lines,
		tgui.Esc(fmt.Sprintf("✔️ %d check-ins over %d days", r.total, len(days))),
		tgui.Esc(fmt.Sprintf("📅 Best day: %s (%d)", r.bestDay.Date, r.bestDay.Activity)),
		tgui.Esc(fmt.Sprintf("🗓 Busiest month: %s (%d)", r.bestMonth, r.monthTotal)),
		tgui.Esc(fmt.Sprintf("🔥 Longest streak: %d", r.longest)),
	)
	if c, ok := topChoice(render.EffortPoll, days); ok {
		lines = append(lines, tgui.Esc(fmt.Sprintf("💪 Usual effort: %s %s", c.Icon, c.Label)))
	}
	if c, ok := topChoice(render.FeelingPoll, days); ok {
		lines = append(lines, tgui.Esc(fmt.Sprintf("🫀 Usual feeling: %s %s", c.Icon, c.Label)))
	}
	for i, t := range totals {
		if t.UserID == userID {
			lines = append(lines, tgui.Esc(fmt.Sprintf("🏅 Rank in chat: #%d of %d", i+1, len(totals))))
			break
		}
	}
	return render.Post{Text: tgui.Lines(lines...).String(), Markup: markup}, nil
}

type yearSummary struct {
	total      int
	bestDay    storage.DayActivity
	bestMonth  time.Month
	monthTotal int
	longest    int
}

// summarize expects days of one user, oldest first. Ties go to the earlier
// day or month.
func summarize(days []storage.DayActivity) yearSummary {
	var (
		r      yearSummary
		months = map[time.Month]int{}
		dates  = make([]clock.Date, 0, len(days))
	)
	for _, d := range days {
		r.total += d.Activity
		months[d.Date.Month] += d.Activity
		dates = append(dates, d.Date)
		if d.Activity > r.bestDay.Activity {
			r.bestDay = d
		}
	}
	for m := time.January; m <= time.December; m++ {
		if months[m] > r.monthTotal {
			r.bestMonth, r.monthTotal = m, months[m]
		}
	}
	r.longest = streak.Best(dates)
	return r
}

// counts tallies the answers of poll p over days, in choice order.
func counts(p render.Poll, days []storage.DayActivity) ([]int, int) {
	attr := pollAttribute(p)
	choices := p.Choices()
	out := make([]int, len(choices))
	n := 0
	for _, d := range days {
		v := attr(d)
		for i, c := range choices {
			if c.Code == v {
				out[i]++
				n++
				break
			}
		}
	}
	return out, n
}

func pollAttribute(p render.Poll) func(storage.DayActivity) string {
	if p == render.FeelingPoll {
		return func(d storage.DayActivity) string { return d.Feeling }
	}
	return func(d storage.DayActivity) string { return d.Effort }
}

// shareLine renders the answer distribution of poll p as percentages.
func shareLine(title string, p render.Poll, days []storage.DayActivity) tgui.H {
	cs, n := counts(p, days)
	if n == 0 {
		return tgui.Esc(title + ": no answers yet")
	}
	parts := make([]string, 0, len(cs))
	for i, c := range p.Choices() {
		if cs[i] == 0 {
			continue
		}
		pct := int(math.Round(100 * float64(cs[i]) / float64(n)))
		parts = append(parts, fmt.Sprintf("%s %s %d%%", c.Icon, c.Label, pct))
	}
	return tgui.Esc(title + ": " + strings.Join(parts, " | "))
}

// topChoice is the most frequent answer of poll p; ties go to the earlier choice.
func topChoice(p render.Poll, days []storage.DayActivity) (render.Choice, bool) {
	cs, n := counts(p, days)
	if n == 0 {
		return render.Choice{}, false
	}
	best := 0
	for i := range cs {
		if cs[i] > cs[best] {
			best = i
		}
	}
	return p.Choices()[best], true
}

func (s *Service) people(ctx context.Context, chatID int64) (map[int64]render.Person, error) {
	members, err := s.store.ListMembers(ctx, chatID)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]render.Person, len(members))
	for _, m := range members {
		out[m.ID] = render.Person{UserID: m.ID, Username: m.Username, FirstName: m.FirstName, LastName: m.LastName}
	}
	return out, nil
}

func personOf(people map[int64]render.Person, userID int64) render.Person {
	if p, ok := people[userID]; ok {
		return p
	}
	return render.Person{UserID: userID}
}
