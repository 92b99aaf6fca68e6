package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"checkinbot/internal/clock"
	"checkinbot/internal/correlation"
	"checkinbot/internal/render"
	"checkinbot/internal/storage"
	"checkinbot/internal/streak"
	"checkinbot/internal/transport"
	"checkinbot/internal/transport/transporttest"
	logx "checkinbot/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chat = int64(-100)

type fixture struct {
	svc   *Service
	store *storage.Store
	out   *transporttest.Messenger
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st, err := storage.Open(ctx, storage.Config{Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	_, err = st.UpsertTenant(ctx, chat, "c")
	require.NoError(t, err)
	for _, uid := range []int64{1, 2} {
		require.NoError(t, st.UpsertUser(ctx, storage.User{ID: uid, Username: "u" + string(rune('0'+uid))}))
		_, err := st.AddMember(ctx, chat, uid)
		require.NoError(t, err)
	}

	out := transporttest.New()
	corr := correlation.New(st, out, logx.Nop())
	svc := NewService(st, corr, out, streak.NewCalculator(logx.Nop()), clock.NewResolver(clock.DefaultBounds), logx.Nop())
	return fixture{svc: svc, store: st, out: out}
}

var d0 = clock.Date{Year: 2024, Month: 3, Day: 10}

func TestGetOrCreateConcurrent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[int64]bool{}
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ss, err := f.svc.GetOrCreate(ctx, chat, d0)
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			mu.Lock()
			ids[ss.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 1)
}

func TestDue(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	minsk, err := time.LoadLocation("Europe/Minsk")
	require.NoError(t, err)
	at := func(h, m int) clock.Resolution {
		return clock.Classify(clock.DefaultBounds, time.Date(2024, 3, 10, h, m, 0, 0, minsk))
	}
	active := storage.Session{Date: d0, Status: storage.SessionActive}
	older := storage.Session{Date: d0.AddDays(-1), Status: storage.SessionActive}
	closed := storage.Session{Date: d0.AddDays(-1), Status: storage.SessionClosed}

	tests := []struct {
		name string
		res  clock.Resolution
		sess storage.Session
		want bool
	}{
		{"today before boundary", at(23, 54), active, false},
		{"today at boundary", at(23, 55), active, true},
		{"missed day", at(9, 0), older, true},
		{"already closed", at(23, 59), closed, false},
	}
	for _, tt := range tests {
		if got := f.svc.Due(tt.res, tt.sess); got != tt.want {
			t.Fatalf("%s: Due = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCloseCommitsStreaksAndLocksPost(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.GetOrCreate(ctx, chat, d0)
	require.NoError(t, err)
	_, _, err = f.store.AdjustActivity(ctx, sess.ID, 1, 1, 10)
	require.NoError(t, err)
	d, err := f.svc.PostDaily(ctx, sess)
	require.NoError(t, err)
	require.True(t, f.out.HasMarkup(chat, d.MessageID))

	ok, err := f.svc.Close(ctx, sess, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	text, live := f.out.Text(chat, d.MessageID)
	require.True(t, live)
	assert.True(t, strings.Contains(text, render.ClosedPrefix))
	assert.False(t, f.out.HasMarkup(chat, d.MessageID))

	s1, err := f.store.GetStreak(ctx, chat, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, s1.Current)
	assert.Equal(t, d0, s1.LastDate)

	again, err := f.svc.Close(ctx, sess, time.Now())
	require.NoError(t, err)
	assert.False(t, again, "closed is terminal")
}

func TestCloseToleratesDeletedPost(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.GetOrCreate(ctx, chat, d0)
	require.NoError(t, err)
	d, err := f.svc.PostDaily(ctx, sess)
	require.NoError(t, err)
	f.out.Delete(chat, d.MessageID)

	ok, err := f.svc.Close(ctx, sess, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCloseReportsForbiddenAfterCommit(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.GetOrCreate(ctx, chat, d0)
	require.NoError(t, err)
	_, err = f.svc.PostDaily(ctx, sess)
	require.NoError(t, err)
	f.out.Forbid(chat)

	ok, err := f.svc.Close(ctx, sess, time.Now())
	assert.True(t, ok)
	require.Error(t, err)
	assert.True(t, transport.IsForbidden(err))

	got, err := f.store.GetSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, got.Closed())
}

func TestCatchUpClosesMissedDaysInOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	// user 1 active on three missed days, user 2 only on the middle one.
	for i := 0; i < 3; i++ {
		sess, err := f.svc.GetOrCreate(ctx, chat, d0.AddDays(i))
		require.NoError(t, err)
		_, _, err = f.store.AdjustActivity(ctx, sess.ID, 1, 1, 10)
		require.NoError(t, err)
		if i == 1 {
			_, _, err = f.store.AdjustActivity(ctx, sess.ID, 2, 1, 10)
			require.NoError(t, err)
		}
	}
	today, err := f.svc.GetOrCreate(ctx, chat, d0.AddDays(3))
	require.NoError(t, err)

	n, err := f.svc.CatchUp(ctx, chat, d0.AddDays(3), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	s1, err := f.store.GetStreak(ctx, chat, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, s1.Current, "ascending closes extend the streak")
	s2, err := f.store.GetStreak(ctx, chat, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, s2.Current)
	assert.Equal(t, d0.AddDays(1), s2.LastDate)

	cur, err := f.store.GetSessionByID(ctx, today.ID)
	require.NoError(t, err)
	assert.False(t, cur.Closed(), "today's session stays open")

	n, err = f.svc.CatchUp(ctx, chat, d0.AddDays(3), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRefreshDailyReflectsActivity(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.GetOrCreate(ctx, chat, d0)
	require.NoError(t, err)
	d, err := f.svc.PostDaily(ctx, sess)
	require.NoError(t, err)

	_, _, err = f.store.AdjustActivity(ctx, sess.ID, 2, 1, 10)
	require.NoError(t, err)
	r, err := f.svc.RefreshDaily(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, correlation.Edited, r.Action)

	text, _ := f.out.Text(chat, d.MessageID)
	assert.Contains(t, text, "@u2")
}

func TestPollsFollowDailyPostAndLockOnClose(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.GetOrCreate(ctx, chat, d0)
	require.NoError(t, err)
	_, err = f.svc.PostDaily(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, 3, f.out.Count("send", chat))

	ids := map[render.Poll]int{}
	for _, p := range render.Polls() {
		id, err := f.svc.PollMessage(ctx, sess, p)
		require.NoError(t, err)
		require.True(t, f.out.HasMarkup(chat, id))
		ids[p] = id
	}

	_, _, err = f.store.AdjustActivity(ctx, sess.ID, 1, 1, 10)
	require.NoError(t, err)
	_, _, err = f.store.SetAttribute(ctx, sess.ID, 1, storage.AttrFeeling, "great")
	require.NoError(t, err)
	_, err = f.svc.RefreshDaily(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, 3, f.out.Count("send", chat), "refresh edits in place")

	ok, err := f.svc.Close(ctx, sess, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	tests := []struct {
		poll render.Poll
		want string
	}{
		{render.EffortPoll, "@u1: " + render.Unanswered},
		{render.FeelingPoll, "@u1: 😇"},
	}
	for _, tt := range tests {
		text, live := f.out.Text(chat, ids[tt.poll])
		require.True(t, live)
		assert.Contains(t, text, render.ClosedPrefix)
		assert.Contains(t, text, tt.want)
		assert.Contains(t, text, "@u2: "+render.Idle)
		assert.False(t, f.out.HasMarkup(chat, ids[tt.poll]), tt.poll.String())
	}
}

func TestPollsDisabled(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.svc.Apply(Config{RemindAt: clock.TimeOfDay{Hour: 22}})
	ctx := context.Background()

	sess, err := f.svc.GetOrCreate(ctx, chat, d0)
	require.NoError(t, err)
	_, err = f.svc.PostDaily(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, 1, f.out.Count("send", chat))
	_, err = f.svc.PollMessage(ctx, sess, render.EffortPoll)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestForgetRedrawsPostedDay(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.svc.Apply(Config{RemindAt: clock.TimeOfDay{Hour: 22}})
	ctx := context.Background()

	gone, err := f.svc.Forget(ctx, chat, 2, d0)
	require.NoError(t, err)
	assert.True(t, gone)
	assert.Empty(t, f.out.Calls(), "nothing posted yet")

	require.NoError(t, f.store.UpsertUser(ctx, storage.User{ID: 2, Username: "u2"}))
	_, err = f.store.AddMember(ctx, chat, 2)
	require.NoError(t, err)
	sess, err := f.svc.GetOrCreate(ctx, chat, d0)
	require.NoError(t, err)
	del, err := f.svc.PostDaily(ctx, sess)
	require.NoError(t, err)
	text, _ := f.out.Text(chat, del.MessageID)
	require.Contains(t, text, "@u2")

	gone, err = f.svc.Forget(ctx, chat, 2, d0)
	require.NoError(t, err)
	assert.True(t, gone)
	assert.Equal(t, 1, f.out.Count("edit", chat))
	text, _ = f.out.Text(chat, del.MessageID)
	assert.NotContains(t, text, "@u2")
	assert.Contains(t, text, "@u1")

	gone, err = f.svc.Forget(ctx, chat, 2, d0)
	require.NoError(t, err)
	assert.False(t, gone)
}
