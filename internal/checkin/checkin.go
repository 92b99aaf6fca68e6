// Package checkin applies user actions to today's session: counting a
// check-in, undoing one, toggling the evening reminder and answering the
// day's polls.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"checkinbot/internal/clock"
	"checkinbot/internal/ratelimit"
	"checkinbot/internal/render"
	"checkinbot/internal/session"
	"checkinbot/internal/storage"
	logx "checkinbot/pkg/logx"
)

var (
	ErrBlocked       = errors.New("checkin: day is being closed")
	ErrRateLimited   = errors.New("checkin: too fast")
	ErrLimit         = errors.New("checkin: daily limit reached")
	ErrNothingToUndo = errors.New("checkin: nothing to undo")
	ErrNoActivity    = errors.New("checkin: nothing to rate yet")
	ErrStale         = errors.New("checkin: poll is outdated")
)

type Action uint8

const (
	Plus Action = iota + 1
	Minus
	Remind
)

func (a Action) String() string {
	switch a {
	case Plus:
		return "plus"
	case Minus:
		return "minus"
	case Remind:
		return "remind"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// ParseAction is the inverse of String.
func ParseAction(s string) (Action, bool) {
	for _, a := range []Action{Plus, Minus, Remind} {
		if a.String() == s {
			return a, true
		}
	}
	return 0, false
}

type Config struct {
	Cooldown        time.Duration
	MaxPerDay       int
	DefaultTimezone string
}

var DefaultConfig = Config{Cooldown: 2 * time.Second, MaxPerDay: 10, DefaultTimezone: "Europe/Minsk"}

// Result is the user's state after an accepted action.
type Result struct {
	Session storage.Session
	State   storage.UserState
}

type Service struct {
	store    *storage.Store
	sessions *session.Service
	limiter  *ratelimit.Limiter
	resolver *clock.Resolver
	clock    clock.Clock
	log      logx.Logger

	cfg atomic.Pointer[Config]
}

func NewService(store *storage.Store, sessions *session.Service, limiter *ratelimit.Limiter, resolver *clock.Resolver, clk clock.Clock, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.System
	}
	s := &Service{
		store:    store,
		sessions: sessions,
		limiter:  limiter,
		resolver: resolver,
		clock:    clk,
		log:      log.With(logx.String("comp", "checkin")),
	}
	s.Apply(DefaultConfig)
	return s
}

func (s *Service) Apply(cfg Config) { s.cfg.Store(&cfg) }

// today resolves the open session of chatID. It fails with ErrBlocked in
// the transition window and session.ErrClosed once the day is closed.
func (s *Service) today(ctx context.Context, chatID int64, cfg Config) (storage.Session, time.Time, error) {
	tenant, err := s.store.GetTenant(ctx, chatID)
	if err != nil {
		return storage.Session{}, time.Time{}, err
	}
	now := s.clock.Now()
	res, err := s.resolver.Resolve(tenant.Zone(cfg.DefaultTimezone), now)
	if err != nil {
		return storage.Session{}, time.Time{}, err
	}
	if res.Window == clock.BlockedTransition {
		return storage.Session{}, time.Time{}, ErrBlocked
	}
	sess, err := s.sessions.GetOrCreate(ctx, chatID, res.Date)
	if err != nil {
		return storage.Session{}, time.Time{}, err
	}
	if sess.Closed() {
		return storage.Session{}, time.Time{}, session.ErrClosed
	}
	return sess, now, nil
}

func (s *Service) allow(ctx context.Context, chatID, userID int64, scope string, now time.Time, cfg Config) error {
	ok, err := s.limiter.Allow(ctx, ratelimit.Key{ChatID: chatID, UserID: userID, Scope: scope}, now, cfg.Cooldown)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRateLimited
	}
	return nil
}

// Do applies action for userID in chatID. Accepted actions refresh the
// daily post; a failed refresh is logged and does not undo the action.
func (s *Service) Do(ctx context.Context, chatID, userID int64, action Action) (Result, error) {
	cfg := *s.cfg.Load()
	sess, now, err := s.today(ctx, chatID, cfg)
	if err != nil {
		return Result{}, err
	}
	if err := s.allow(ctx, chatID, userID, action.String(), now, cfg); err != nil {
		return Result{}, err
	}

	var st storage.UserState
	err = s.store.InTx(ctx, func(tx *storage.Store) error {
		cur, err := tx.GetSessionByID(ctx, sess.ID)
		if err != nil {
			return err
		}
		if cur.Closed() {
			return session.ErrClosed
		}
		switch action {
		case Plus, Minus:
			delta, bound := 1, ErrLimit
			if action == Minus {
				delta, bound = -1, ErrNothingToUndo
			}
			var changed bool
			st, changed, err = tx.AdjustActivity(ctx, sess.ID, userID, delta, cfg.MaxPerDay)
			if err == nil && !changed {
				err = bound
			}
			return err
		case Remind:
			st, err = tx.ToggleRemind(ctx, sess.ID, userID)
			return err
		default:
			return fmt.Errorf("checkin: unknown action %d", uint8(action))
		}
	})
	if err != nil {
		return Result{}, err
	}

	log := s.log.With(logx.Int64("chat_id", chatID), logx.Int64("user_id", userID))
	log.Debug("action accepted", logx.String("action", action.String()), logx.Int("activity", st.Activity))
	if _, err := s.sessions.RefreshDaily(ctx, sess); err != nil {
		log.Warn("refresh daily post failed", logx.Err(err))
	}
	return Result{Session: sess, State: st}, nil
}

// Rate stores choice as userID's answer to poll p for today. messageID is
// the poll message the answer came from; any other message is stale. The
// poll message is refreshed afterwards.
func (s *Service) Rate(ctx context.Context, chatID, userID int64, messageID int, p render.Poll, choice render.Choice) (Result, error) {
	cfg := *s.cfg.Load()
	sess, now, err := s.today(ctx, chatID, cfg)
	if err != nil {
		return Result{}, err
	}
	current, err := s.sessions.PollMessage(ctx, sess, p)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return Result{}, ErrStale
	case err != nil:
		return Result{}, err
	case current != messageID:
		return Result{}, ErrStale
	}
	if err := s.allow(ctx, chatID, userID, p.String(), now, cfg); err != nil {
		return Result{}, err
	}

	var st storage.UserState
	err = s.store.InTx(ctx, func(tx *storage.Store) error {
		cur, err := tx.GetSessionByID(ctx, sess.ID)
		if err != nil {
			return err
		}
		if cur.Closed() {
			return session.ErrClosed
		}
		var changed bool
		st, changed, err = tx.SetAttribute(ctx, sess.ID, userID, session.PollAttribute(p), choice.Code)
		if err == nil && !changed {
			err = ErrNoActivity
		}
		return err
	})
	if err != nil {
		return Result{}, err
	}

	log := s.log.With(logx.Int64("chat_id", chatID), logx.Int64("user_id", userID))
	log.Debug("poll answered", logx.String("poll", p.String()), logx.String("choice", choice.Code))
	if _, err := s.sessions.RefreshPoll(ctx, sess, p); err != nil {
		log.Warn("refresh poll failed", logx.String("poll", p.String()), logx.Err(err))
	}
	return Result{Session: sess, State: st}, nil
}

// Reply is the short callback answer for the outcome of Do.
func Reply(action Action, r Result, err error) string {
	switch {
	case err == nil && action == Remind && r.State.Remind:
		return "I'll remind you tonight."
	case err == nil && action == Remind:
		return "Reminder off."
	case err == nil:
		return fmt.Sprintf("Today: %d", r.State.Activity)
	}
	return refusal(err)
}

// RateReply is the short callback answer for the outcome of Rate.
func RateReply(choice render.Choice, err error) string {
	if err == nil {
		return "Saved: " + choice.Icon + " " + choice.Label
	}
	return refusal(err)
}

func refusal(err error) string {
	switch {
	case errors.Is(err, ErrBlocked), errors.Is(err, session.ErrClosed):
		return "The day is closed. Try again after midnight."
	case errors.Is(err, ErrRateLimited):
		return "Easy there, wait a moment."
	case errors.Is(err, ErrLimit):
		return "That's the daily maximum."
	case errors.Is(err, ErrNothingToUndo):
		return "Nothing to undo."
	case errors.Is(err, ErrNoActivity):
		return "Check in with +1 first."
	case errors.Is(err, ErrStale):
		return "This poll is outdated."
	default:
		return "Something went wrong, try again."
	}
}
