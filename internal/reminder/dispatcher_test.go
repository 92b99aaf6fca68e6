package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"checkinbot/internal/clock"
	"checkinbot/internal/correlation"
	"checkinbot/internal/storage"
	"checkinbot/internal/transport"
	"checkinbot/internal/transport/transporttest"
	logx "checkinbot/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chat = int64(-200)

// 2024-03-10 is a Sunday.
var d0 = clock.Date{Year: 2024, Month: 3, Day: 10}

type fixture struct {
	d     *Dispatcher
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
	for _, u := range []storage.User{{ID: 1, Username: "ann"}, {ID: 2, Username: "bob"}} {
		require.NoError(t, st.UpsertUser(ctx, u))
		_, err := st.AddMember(ctx, chat, u.ID)
		require.NoError(t, err)
	}
	out := transporttest.New()
	return fixture{
		d:     NewDispatcher(st, correlation.New(st, out, logx.Nop()), logx.Nop()),
		store: st,
		out:   out,
	}
}

func (f fixture) tenant(t *testing.T) storage.Tenant {
	t.Helper()
	tn, err := f.store.GetTenant(context.Background(), chat)
	require.NoError(t, err)
	return tn
}

func (f fixture) session(t *testing.T, day clock.Date) storage.Session {
	t.Helper()
	ss, _, err := f.store.GetOrCreateSession(context.Background(), chat, day)
	require.NoError(t, err)
	return ss
}

func at(day clock.Date, h, m, s int) clock.Resolution {
	return clock.Classify(clock.DefaultBounds, time.Date(day.Year, day.Month, day.Day, h, m, s, 0, time.UTC))
}

func TestEndOfDayOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	sess := f.session(t, d0)
	_, err := f.store.ToggleRemind(ctx, sess.ID, 1)
	require.NoError(t, err)

	got, err := f.d.Dispatch(ctx, f.tenant(t), sess, at(d0, 21, 59, 0), EndOfDay)
	require.NoError(t, err)
	assert.Equal(t, NotDue, got)

	got, err = f.d.Dispatch(ctx, f.tenant(t), sess, at(d0, 22, 0, 20), EndOfDay)
	require.NoError(t, err)
	assert.Equal(t, Sent, got)
	require.Equal(t, 1, f.out.Count("send", chat))
	assert.Contains(t, f.out.Calls()[0].Text, "@ann")
	assert.NotContains(t, f.out.Calls()[0].Text, "@bob")

	// A stale session value still lands on the recorded correlation.
	got, err = f.d.Dispatch(ctx, f.tenant(t), sess, at(d0, 22, 0, 40), EndOfDay)
	require.NoError(t, err)
	assert.Equal(t, AlreadyHandled, got)

	fresh, err := f.store.GetSession(ctx, chat, d0)
	require.NoError(t, err)
	assert.True(t, fresh.HasNotice(EndOfDay.Notice()))
	got, err = f.d.Dispatch(ctx, f.tenant(t), fresh, at(d0, 22, 0, 50), EndOfDay)
	require.NoError(t, err)
	assert.Equal(t, AlreadyHandled, got)
	assert.Equal(t, 1, f.out.Count("send", chat))
}

func TestSuppressedIsHandled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sess := f.session(t, d0)
		got, err := f.d.Dispatch(ctx, f.tenant(t), sess, at(d0, 22, 0, 0), EndOfDay)
		require.NoError(t, err)
		assert.Equal(t, Suppressed, got)
		assert.Zero(t, f.out.Count("send", chat))

		fresh, err := f.store.GetSession(ctx, chat, d0)
		require.NoError(t, err)
		assert.True(t, fresh.HasNotice(EndOfDay.Notice()))
	})

	t.Run("notifications off", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		off := false
		require.NoError(t, f.store.UpdateTenantSettings(ctx, chat, storage.TenantSettings{Notifications: &off}))
		sess := f.session(t, d0)
		got, err := f.d.Dispatch(ctx, f.tenant(t), sess, at(d0, 23, 30, 0), LastCall)
		require.NoError(t, err)
		assert.Equal(t, Suppressed, got)
		assert.Zero(t, f.out.Count("send", chat))
	})
}

func TestSendFailureRetries(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	sess := f.session(t, d0)
	f.out.Queue("send", transport.Fail(transport.Failed, errors.New("boom")))

	_, err := f.d.Dispatch(ctx, f.tenant(t), sess, at(d0, 23, 30, 0), LastCall)
	require.Error(t, err)
	fresh, err := f.store.GetSession(ctx, chat, d0)
	require.NoError(t, err)
	assert.False(t, fresh.HasNotice(LastCall.Notice()))

	got, err := f.d.Dispatch(ctx, f.tenant(t), fresh, at(d0, 23, 30, 30), LastCall)
	require.NoError(t, err)
	assert.Equal(t, Sent, got)
}

func TestLastCallNamesMissing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	sess := f.session(t, d0)
	_, _, err := f.store.AdjustActivity(ctx, sess.ID, 1, 1, 10)
	require.NoError(t, err)

	got, err := f.d.Dispatch(ctx, f.tenant(t), sess, at(d0, 23, 30, 0), LastCall)
	require.NoError(t, err)
	require.Equal(t, Sent, got)
	text := f.out.Calls()[0].Text
	assert.Contains(t, text, "@bob")
	assert.NotContains(t, text, "@ann")
}

func TestPeriodSummaryWeekday(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	for i := 6; i >= 0; i-- {
		ss := f.session(t, d0.AddDays(-i))
		_, _, err := f.store.AdjustActivity(ctx, ss.ID, 2, 2, 10)
		require.NoError(t, err)
	}

	monday := d0.AddDays(1)
	got, err := f.d.Dispatch(ctx, f.tenant(t), f.session(t, monday), at(monday, 21, 0, 0), PeriodSummary)
	require.NoError(t, err)
	assert.Equal(t, NotDue, got)

	got, err = f.d.Dispatch(ctx, f.tenant(t), f.session(t, d0), at(d0, 21, 0, 0), PeriodSummary)
	require.NoError(t, err)
	require.Equal(t, Sent, got)
	assert.Contains(t, f.out.Calls()[0].Text, "@bob")
}

func TestMilestoneAtPostTime(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.PutStreak(ctx, storage.Streak{ChatID: chat, UserID: 1, Current: 7, Best: 7, LastDate: d0.AddDays(-1)}))
	require.NoError(t, f.store.PutStreak(ctx, storage.Streak{ChatID: chat, UserID: 2, Current: 8, Best: 8, LastDate: d0.AddDays(-1)}))
	sess := f.session(t, d0)

	got, err := f.d.Dispatch(ctx, f.tenant(t), sess, at(d0, 9, 0, 0), Milestone)
	require.NoError(t, err)
	assert.Equal(t, NotDue, got)

	got, err = f.d.Dispatch(ctx, f.tenant(t), sess, at(d0, 10, 0, 0), Milestone)
	require.NoError(t, err)
	require.Equal(t, Sent, got)
	text := f.out.Calls()[0].Text
	assert.Contains(t, text, "@ann")
	assert.NotContains(t, text, "@bob")
}

func TestAnniversary(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	first := d0.AddDays(-366) // 2023-03-10
	f.session(t, first)

	got, err := f.d.Dispatch(ctx, f.tenant(t), f.session(t, d0.AddDays(-1)), at(d0.AddDays(-1), 12, 0, 0), Anniversary)
	require.NoError(t, err)
	assert.Equal(t, NotDue, got)

	got, err = f.d.Dispatch(ctx, f.tenant(t), f.session(t, d0), at(d0, 12, 0, 0), Anniversary)
	require.NoError(t, err)
	assert.Equal(t, Sent, got)
}

func TestIsAnniversary(t *testing.T) {
	t.Parallel()
	leapDay := clock.Date{Year: 2024, Month: time.February, Day: 29}
	tests := []struct {
		name  string
		first clock.Date
		day   clock.Date
		want  bool
	}{
		{"same day", d0, d0, false},
		{"one year", d0, clock.Date{Year: 2025, Month: 3, Day: 10}, true},
		{"next day", d0, clock.Date{Year: 2025, Month: 3, Day: 11}, false},
		{"leap day in common year", leapDay, clock.Date{Year: 2025, Month: time.February, Day: 28}, true},
		{"leap day in leap year", leapDay, clock.Date{Year: 2028, Month: time.February, Day: 29}, true},
		{"feb 28 in leap year", leapDay, clock.Date{Year: 2028, Month: time.February, Day: 28}, false},
	}
	for _, tc := range tests {
		if got := isAnniversary(tc.first, tc.day); got != tc.want {
			t.Fatalf("%s: isAnniversary(%s, %s) = %v, want %v", tc.name, tc.first, tc.day, got, tc.want)
		}
	}
}

func TestPostAtFallback(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig
	assert.Equal(t, cfg.DefaultPostAt, cfg.PostAt(storage.Tenant{}))
	assert.Equal(t, cfg.DefaultPostAt, cfg.PostAt(storage.Tenant{PostAt: "25:99"}))
	assert.Equal(t, clock.TimeOfDay{Hour: 8, Minute: 15}, cfg.PostAt(storage.Tenant{PostAt: "08:15"}))
}
