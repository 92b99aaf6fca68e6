package checkin

import (
	"context"
	"errors"
	"testing"
	"time"

	"checkinbot/internal/clock"
	"checkinbot/internal/correlation"
	"checkinbot/internal/ratelimit"
	"checkinbot/internal/render"
	"checkinbot/internal/session"
	"checkinbot/internal/storage"
	"checkinbot/internal/streak"
	"checkinbot/internal/transport/transporttest"
	logx "checkinbot/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	chat = int64(-300)
	user = int64(7)
)

type fixture struct {
	svc      *Service
	sessions *session.Service
	store    *storage.Store
	out      *transporttest.Messenger
	clk      *clock.Fixed
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	ctx := context.Background()
	st, err := storage.Open(ctx, storage.Config{Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	_, err = st.UpsertTenant(ctx, chat, "c")
	require.NoError(t, err)
	tz := "UTC"
	require.NoError(t, st.UpdateTenantSettings(ctx, chat, storage.TenantSettings{Timezone: &tz}))
	require.NoError(t, st.UpsertUser(ctx, storage.User{ID: user, Username: "neo"}))
	_, err = st.AddMember(ctx, chat, user)
	require.NoError(t, err)

	out := transporttest.New()
	resolver := clock.NewResolver(clock.DefaultBounds)
	sessions := session.NewService(st, correlation.New(st, out, logx.Nop()), out, streak.NewCalculator(logx.Nop()), resolver, logx.Nop())
	sessions.Apply(session.Config{RemindAt: clock.TimeOfDay{Hour: 22}})
	clk := clock.NewFixed(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	svc := NewService(st, sessions, ratelimit.New(st), resolver, clk, logx.Nop())
	svc.Apply(cfg)
	return fixture{svc: svc, sessions: sessions, store: st, out: out, clk: clk}
}

func TestPlusCooldownAndRefresh(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Cooldown: 2 * time.Second, MaxPerDay: 10})
	ctx := context.Background()

	r, err := f.svc.Do(ctx, chat, user, Plus)
	require.NoError(t, err)
	assert.Equal(t, 1, r.State.Activity)
	require.Equal(t, 1, f.out.Count("send", chat))

	_, err = f.svc.Do(ctx, chat, user, Plus)
	assert.ErrorIs(t, err, ErrRateLimited)

	f.clk.Advance(2 * time.Second)
	r, err = f.svc.Do(ctx, chat, user, Plus)
	require.NoError(t, err)
	assert.Equal(t, 2, r.State.Activity)
	assert.Equal(t, 1, f.out.Count("send", chat))
	assert.Equal(t, 1, f.out.Count("edit", chat))
}

func TestBounds(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{MaxPerDay: 1})
	ctx := context.Background()

	_, err := f.svc.Do(ctx, chat, user, Minus)
	assert.ErrorIs(t, err, ErrNothingToUndo)

	_, err = f.svc.Do(ctx, chat, user, Plus)
	require.NoError(t, err)
	_, err = f.svc.Do(ctx, chat, user, Plus)
	assert.ErrorIs(t, err, ErrLimit)

	r, err := f.svc.Do(ctx, chat, user, Minus)
	require.NoError(t, err)
	assert.Zero(t, r.State.Activity)
}

func TestRemindToggle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	r, err := f.svc.Do(ctx, chat, user, Remind)
	require.NoError(t, err)
	assert.True(t, r.State.Remind)
	r, err = f.svc.Do(ctx, chat, user, Remind)
	require.NoError(t, err)
	assert.False(t, r.State.Remind)
}

func TestRejectedWhenDayEnds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("blocked window", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, Config{})
		f.clk.Set(time.Date(2024, 3, 10, 23, 56, 0, 0, time.UTC))
		_, err := f.svc.Do(ctx, chat, user, Plus)
		assert.ErrorIs(t, err, ErrBlocked)
	})

	t.Run("closed session", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, Config{})
		day := clock.Date{Year: 2024, Month: 3, Day: 10}
		sess, _, err := f.store.GetOrCreateSession(ctx, chat, day)
		require.NoError(t, err)
		_, err = f.store.CloseSession(ctx, sess.ID, f.clk.Now())
		require.NoError(t, err)

		_, err = f.svc.Do(ctx, chat, user, Plus)
		assert.ErrorIs(t, err, session.ErrClosed)
	})
}

func TestRateAnswersPoll(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Cooldown: 2 * time.Second, MaxPerDay: 10})
	f.sessions.Apply(session.Config{RemindAt: clock.TimeOfDay{Hour: 22}, Polls: true})
	ctx := context.Background()

	sess, err := f.sessions.GetOrCreate(ctx, chat, clock.Date{Year: 2024, Month: 3, Day: 10})
	require.NoError(t, err)
	_, err = f.sessions.PostDaily(ctx, sess)
	require.NoError(t, err)
	require.Equal(t, 3, f.out.Count("send", chat), "daily post and both polls")
	pollID, err := f.sessions.PollMessage(ctx, sess, render.EffortPoll)
	require.NoError(t, err)

	hard, _ := render.EffortPoll.Choice("hard")
	steps := []struct {
		name    string
		plus    bool
		message int
		advance time.Duration
		err     error
	}{
		{name: "other message", message: pollID + 100, err: ErrStale},
		{name: "no activity", message: pollID, err: ErrNoActivity},
		{name: "answered", plus: true, message: pollID, advance: 2 * time.Second},
		{name: "too fast", message: pollID, err: ErrRateLimited},
	}
	for _, st := range steps {
		f.clk.Advance(st.advance)
		if st.plus {
			_, err := f.svc.Do(ctx, chat, user, Plus)
			require.NoError(t, err, st.name)
		}
		r, err := f.svc.Rate(ctx, chat, user, st.message, render.EffortPoll, hard)
		if st.err != nil {
			require.ErrorIs(t, err, st.err, st.name)
			continue
		}
		require.NoError(t, err, st.name)
		assert.Equal(t, "hard", r.State.Effort)
	}

	text, live := f.out.Text(chat, pollID)
	require.True(t, live)
	assert.Contains(t, text, "@neo: 🧱")
}

func TestRateWithoutPollIsStale(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ok, _ := render.FeelingPoll.Choice("ok")
	_, err := f.svc.Rate(context.Background(), chat, user, 1, render.FeelingPoll, ok)
	assert.ErrorIs(t, err, ErrStale)
}

func TestUnknownTenant(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	_, err := f.svc.Do(context.Background(), 12345, user, Plus)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReply(t *testing.T) {
	t.Parallel()
	tests := []struct {
		action Action
		r      Result
		err    error
		want   string
	}{
		{Plus, Result{State: storage.UserState{Activity: 3}}, nil, "Today: 3"},
		{Remind, Result{State: storage.UserState{Remind: true}}, nil, "I'll remind you tonight."},
		{Remind, Result{}, nil, "Reminder off."},
		{Plus, Result{}, ErrRateLimited, "Easy there, wait a moment."},
		{Plus, Result{}, ErrLimit, "That's the daily maximum."},
		{Minus, Result{}, ErrNothingToUndo, "Nothing to undo."},
		{Plus, Result{}, session.ErrClosed, "The day is closed. Try again after midnight."},
		{Plus, Result{}, errors.New("db"), "Something went wrong, try again."},
	}
	for _, tc := range tests {
		if got := Reply(tc.action, tc.r, tc.err); got != tc.want {
			t.Fatalf("Reply(%s, %v) = %q, want %q", tc.action, tc.err, got, tc.want)
		}
	}
}

func TestRateReply(t *testing.T) {
	t.Parallel()
	great, _ := render.FeelingPoll.Choice("great")
	tests := []struct {
		err  error
		want string
	}{
		{nil, "Saved: 😇 great"},
		{ErrNoActivity, "Check in with +1 first."},
		{ErrStale, "This poll is outdated."},
		{ErrBlocked, "The day is closed. Try again after midnight."},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, RateReply(great, tc.err))
	}
}

func TestParseAction(t *testing.T) {
	t.Parallel()
	for _, a := range []Action{Plus, Minus, Remind} {
		got, ok := ParseAction(a.String())
		if !ok || got != a {
			t.Fatalf("ParseAction(%q) = %v, %v", a.String(), got, ok)
		}
	}
	if _, ok := ParseAction("nope"); ok {
		t.Fatalf("ParseAction accepted an unknown action")
	}
}
