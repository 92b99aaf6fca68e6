// Package session drives the per-tenant day aggregate through
// Active -> Closed and owns the daily post that belongs to it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"checkinbot/internal/clock"
	"checkinbot/internal/correlation"
	"checkinbot/internal/render"
	"checkinbot/internal/storage"
	"checkinbot/internal/streak"
	"checkinbot/internal/transport"
	logx "checkinbot/pkg/logx"
)

// ErrClosed is returned when an action targets a closed session.
var ErrClosed = errors.New("session: closed")

// Config holds the reloadable knobs the service reads per call.
type Config struct {
	// RemindAt labels the reminder button of the daily post.
	RemindAt clock.TimeOfDay
	// Polls posts the effort and feeling polls under the daily post.
	Polls bool
}

type Service struct {
	store    *storage.Store
	corr     *correlation.Store
	out      transport.Messenger
	calc     *streak.Calculator
	resolver *clock.Resolver
	log      logx.Logger

	cfg atomic.Pointer[Config]
}

func NewService(store *storage.Store, corr *correlation.Store, out transport.Messenger, calc *streak.Calculator, resolver *clock.Resolver, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store:    store,
		corr:     corr,
		out:      out,
		calc:     calc,
		resolver: resolver,
		log:      log.With(logx.String("comp", "session")),
	}
	s.Apply(Config{RemindAt: clock.TimeOfDay{Hour: 22}, Polls: true})
	return s
}

func (s *Service) Apply(cfg Config) { s.cfg.Store(&cfg) }

func (s *Service) config() Config { return *s.cfg.Load() }

// GetOrCreate returns the session of chatID for day, creating it atomically.
func (s *Service) GetOrCreate(ctx context.Context, chatID int64, day clock.Date) (storage.Session, error) {
	ss, created, err := s.store.GetOrCreateSession(ctx, chatID, day)
	if err != nil {
		return storage.Session{}, err
	}
	if created {
		s.log.Info("session opened", logx.Int64("chat_id", chatID), logx.String("date", day.String()))
	}
	return ss, nil
}

// Due reports whether sess must be closed at res: it is still active and
// either belongs to an earlier day or today's close boundary is reached.
func (s *Service) Due(res clock.Resolution, sess storage.Session) bool {
	if sess.Closed() {
		return false
	}
	if sess.Date.Before(res.Date) {
		return true
	}
	return sess.Date == res.Date && res.Reached(s.resolver.Bounds().CloseAt)
}

// Close flips sess to closed and folds its activity into the streaks in
// one transaction, then freezes the day's interactive messages. It reports
// false when another caller closed it first. A Forbidden lock result is
// returned as an error; other lock failures are logged.
func (s *Service) Close(ctx context.Context, sess storage.Session, at time.Time) (bool, error) {
	closed := false
	err := s.store.InTx(ctx, func(tx *storage.Store) error {
		ok, err := tx.CloseSession(ctx, sess.ID, at)
		if err != nil || !ok {
			return err
		}
		closed = true
		states, err := tx.ListUserStates(ctx, sess.ID)
		if err != nil {
			return err
		}
		activity := make(map[int64]int, len(states))
		for _, st := range states {
			activity[st.UserID] = st.Activity
		}
		return s.calc.CommitDay(ctx, tx, sess.ChatID, sess.Date, activity)
	})
	if err != nil {
		return false, fmt.Errorf("close session %d: %w", sess.ID, err)
	}
	if !closed {
		return false, nil
	}
	sess.Status = storage.SessionClosed
	s.log.Info("session closed", logx.Int64("chat_id", sess.ChatID), logx.String("date", sess.Date.String()))

	if err := s.lock(ctx, sess); err != nil {
		return true, err
	}
	return true, nil
}

// CatchUp closes every active session of chatID dated before today,
// oldest first, and returns how many it closed.
func (s *Service) CatchUp(ctx context.Context, chatID int64, today clock.Date, at time.Time) (int, error) {
	stale, err := s.store.ListStaleSessions(ctx, chatID, today)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sess := range stale {
		ok, err := s.Close(ctx, sess, at)
		if ok {
			n++
		}
		if err != nil {
			return n, err
		}
	}
	if n > 0 {
		s.log.Warn("caught up missed closes", logx.Int64("chat_id", chatID), logx.Int("closed", n))
	}
	return n, nil
}

// lock rewrites interactive messages of the closed day without keyboards.
// NotFound and Unmodified count as done.
func (s *Service) lock(ctx context.Context, sess storage.Session) error {
	entries, err := s.corr.Scope(ctx, sess.ChatID, sess.Date.String())
	if err != nil {
		s.log.Warn("lock: list correlations failed", logx.Int64("chat_id", sess.ChatID), logx.Err(err))
		return nil
	}
	for _, e := range entries {
		if !e.Kind.Interactive() {
			continue
		}
		post, err := s.render(ctx, sess, e.Kind)
		if err != nil {
			s.log.Warn("lock: render failed",
				logx.Int64("chat_id", sess.ChatID),
				logx.String("kind", e.Kind.String()),
				logx.Err(err),
			)
			continue
		}
		ref := transport.MessageRef{ChatID: sess.ChatID, MessageID: e.MessageID}
		res := s.out.Edit(ctx, ref, post.Text, post.Options())
		switch res.Outcome {
		case transport.OK, transport.Unmodified, transport.NotFound:
		case transport.Forbidden:
			return res.Err()
		default:
			s.log.Warn("lock: edit failed",
				logx.Int64("chat_id", sess.ChatID),
				logx.String("kind", e.Kind.String()),
				logx.Int("message_id", e.MessageID),
				logx.String("outcome", res.Outcome.String()),
				logx.Err(res.Cause),
			)
		}
	}
	return nil
}

// render builds the current content of an interactive kind.
func (s *Service) render(ctx context.Context, sess storage.Session, kind correlation.Kind) (render.Post, error) {
	switch kind {
	case correlation.DailyPost:
		return s.DailyPost(ctx, sess)
	case correlation.EffortPoll:
		return s.PollPost(ctx, sess, render.EffortPoll)
	case correlation.FeelingPoll:
		return s.PollPost(ctx, sess, render.FeelingPoll)
	}
	return render.Post{}, fmt.Errorf("no renderer for %s", kind)
}

// DailyPost renders the check-in message of sess from current state.
func (s *Service) DailyPost(ctx context.Context, sess storage.Session) (render.Post, error) {
	members, err := s.store.ListMembers(ctx, sess.ChatID)
	if err != nil {
		return render.Post{}, err
	}
	states, err := s.store.ListUserStates(ctx, sess.ID)
	if err != nil {
		return render.Post{}, err
	}
	streaks, err := s.store.ListStreaks(ctx, sess.ChatID)
	if err != nil {
		return render.Post{}, err
	}
	byUser := make(map[int64]storage.UserState, len(states))
	for _, st := range states {
		byUser[st.UserID] = st
	}

	view := render.DailyView{Date: sess.Date, Closed: sess.Closed(), RemindAt: s.config().RemindAt}
	for _, m := range members {
		st := byUser[m.ID]
		rec := streaks[m.ID]
		view.Participants = append(view.Participants, render.Participant{
			Person:   PersonOf(m.User),
			Activity: st.Activity,
			Remind:   st.Remind,
			Streak: streak.ProjectedStreak(
				streak.Record{Current: rec.Current, Best: rec.Best, Last: rec.LastDate},
				sess.Date, st.Activity > 0,
			),
		})
	}
	return render.DailyPost(view), nil
}

// PostDaily sends the day's check-in message once, followed by the polls
// when they are enabled. The returned delivery is the daily post's.
func (s *Service) PostDaily(ctx context.Context, sess storage.Session) (correlation.Delivery, error) {
	del, err := s.corr.EnsureSent(ctx, correlation.DayKey(sess.ChatID, sess.Date, correlation.DailyPost), s.build(sess, correlation.DailyPost))
	if err != nil {
		return del, err
	}
	return del, s.polls(ctx, sess, s.corr.EnsureSent)
}

// RefreshDaily edits the day's check-in message and polls, resending any
// that were deleted.
func (s *Service) RefreshDaily(ctx context.Context, sess storage.Session) (correlation.Delivery, error) {
	del, err := s.corr.EnsureFresh(ctx, correlation.DayKey(sess.ChatID, sess.Date, correlation.DailyPost), s.build(sess, correlation.DailyPost))
	if err != nil {
		return del, err
	}
	return del, s.polls(ctx, sess, s.corr.EnsureFresh)
}

// Forget erases userID from chatID and, when today's post is already out,
// redraws it without them. It reports whether userID was a member.
func (s *Service) Forget(ctx context.Context, chatID, userID int64, today clock.Date) (bool, error) {
	var gone bool
	err := s.store.InTx(ctx, func(tx *storage.Store) error {
		var err error
		gone, err = tx.ForgetMember(ctx, chatID, userID)
		return err
	})
	if err != nil || !gone {
		return gone, err
	}
	s.log.Info("member forgotten", logx.Int64("chat_id", chatID), logx.Int64("user_id", userID))

	sess, err := s.store.GetSession(ctx, chatID, today)
	if errors.Is(err, storage.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return true, err
	}
	if sess.Closed() {
		return true, nil
	}
	if _, err := s.corr.Lookup(ctx, correlation.DayKey(chatID, today, correlation.DailyPost)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return true, nil
		}
		return true, err
	}
	_, err = s.RefreshDaily(ctx, sess)
	return true, err
}

type ensureFunc func(ctx context.Context, key correlation.Key, build correlation.BuildFunc) (correlation.Delivery, error)

func (s *Service) polls(ctx context.Context, sess storage.Session, ensure ensureFunc) error {
	if !s.config().Polls {
		return nil
	}
	for _, p := range render.Polls() {
		kind := PollKind(p)
		if _, err := ensure(ctx, correlation.DayKey(sess.ChatID, sess.Date, kind), s.build(sess, kind)); err != nil {
			return fmt.Errorf("%s poll: %w", p, err)
		}
	}
	return nil
}

// PollMessage returns the message id of poll p for sess.
func (s *Service) PollMessage(ctx context.Context, sess storage.Session, p render.Poll) (int, error) {
	return s.corr.Lookup(ctx, correlation.DayKey(sess.ChatID, sess.Date, PollKind(p)))
}

// RefreshPoll edits one poll of the day in place.
func (s *Service) RefreshPoll(ctx context.Context, sess storage.Session, p render.Poll) (correlation.Delivery, error) {
	kind := PollKind(p)
	return s.corr.EnsureFresh(ctx, correlation.DayKey(sess.ChatID, sess.Date, kind), s.build(sess, kind))
}

func (s *Service) build(sess storage.Session, kind correlation.Kind) correlation.BuildFunc {
	return func(ctx context.Context) (correlation.Message, error) {
		post, err := s.render(ctx, sess, kind)
		if err != nil {
			return correlation.Message{}, err
		}
		return correlation.Message{Text: post.Text, Options: post.Options()}, nil
	}
}

// PollPost renders poll p of sess. Every member is listed in join order.
func (s *Service) PollPost(ctx context.Context, sess storage.Session, p render.Poll) (render.Post, error) {
	members, err := s.store.ListMembers(ctx, sess.ChatID)
	if err != nil {
		return render.Post{}, err
	}
	states, err := s.store.ListUserStates(ctx, sess.ID)
	if err != nil {
		return render.Post{}, err
	}
	byUser := make(map[int64]storage.UserState, len(states))
	for _, st := range states {
		byUser[st.UserID] = st
	}
	attr := PollAttribute(p)
	view := render.PollView{Poll: p, Date: sess.Date, Closed: sess.Closed()}
	for _, m := range members {
		st := byUser[m.ID]
		view.Rows = append(view.Rows, render.PollRow{Person: PersonOf(m.User), Activity: st.Activity, Answer: attr.Of(st)})
	}
	return render.PollPost(view), nil
}

// PollKind is the correlation kind of poll p.
func PollKind(p render.Poll) correlation.Kind {
	if p == render.FeelingPoll {
		return correlation.FeelingPoll
	}
	return correlation.EffortPoll
}

// PollAttribute is the stored answer column of poll p.
func PollAttribute(p render.Poll) storage.Attribute {
	if p == render.FeelingPoll {
		return storage.AttrFeeling
	}
	return storage.AttrEffort
}

// PersonOf maps a stored user to its display identity.
func PersonOf(u storage.User) render.Person {
	return render.Person{UserID: u.ID, Username: u.Username, FirstName: u.FirstName, LastName: u.LastName}
}
