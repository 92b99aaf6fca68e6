package sweep

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"checkinbot/internal/clock"
	"checkinbot/internal/correlation"
	"checkinbot/internal/eventbus"
	"checkinbot/internal/reminder"
	"checkinbot/internal/session"
	"checkinbot/internal/storage"
	"checkinbot/internal/streak"
	"checkinbot/internal/transport"
	"checkinbot/internal/transport/transporttest"
	logx "checkinbot/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var d0 = clock.Date{Year: 2024, Month: 3, Day: 12}

type fixture struct {
	sw    *Sweeper
	store *storage.Store
	out   *transporttest.Messenger
	clk   *clock.Fixed
	bus   eventbus.Bus
}

func newFixture(t *testing.T, chats ...int64) fixture {
	t.Helper()
	ctx := context.Background()
	st, err := storage.Open(ctx, storage.Config{Path: ":memory:"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	tz := "UTC"
	for _, chat := range chats {
		_, err := st.UpsertTenant(ctx, chat, "")
		require.NoError(t, err)
		require.NoError(t, st.UpdateTenantSettings(ctx, chat, storage.TenantSettings{Timezone: &tz}))
		require.NoError(t, st.UpsertUser(ctx, storage.User{ID: 1, Username: "ann"}))
		_, err = st.AddMember(ctx, chat, 1)
		require.NoError(t, err)
	}

	out := transporttest.New()
	resolver := clock.NewResolver(clock.DefaultBounds)
	corr := correlation.New(st, out, logx.Nop())
	calc := streak.NewCalculator(logx.Nop())
	sessions := session.NewService(st, corr, out, calc, resolver, logx.Nop())
	// Counts below are of the daily post alone.
	sessions.Apply(session.Config{RemindAt: clock.TimeOfDay{Hour: 22}})
	reminders := reminder.NewDispatcher(st, corr, logx.Nop())
	clk := clock.NewFixed(at(d0, 10, 0))
	bus := eventbus.New()

	sw := New(st, sessions, reminders, calc, resolver, clk, bus, logx.Nop())
	cfg := DefaultConfig
	cfg.TenantThrottle = 0
	sw.Apply(cfg)
	return fixture{sw: sw, store: st, out: out, clk: clk, bus: bus}
}

func at(day clock.Date, h, m int) time.Time {
	return time.Date(day.Year, day.Month, day.Day, h, m, 0, 0, time.UTC)
}

func drain(ch <-chan eventbus.Event) map[string][]eventbus.Event {
	got := map[string][]eventbus.Event{}
	for {
		select {
		case e := <-ch:
			got[e.Type] = append(got[e.Type], e)
		default:
			return got
		}
	}
}

func TestDayLifecycle(t *testing.T) {
	t.Parallel()
	const chat = int64(-1)
	f := newFixture(t, chat)
	ctx := context.Background()

	rep := f.sw.Run(ctx)
	assert.Equal(t, 1, rep.Tenants)
	assert.Equal(t, 1, rep.Posted)
	assert.NotEmpty(t, rep.ID)

	// Repeated ticks inside the same day are idempotent.
	f.clk.Set(at(d0, 10, 0).Add(30 * time.Second))
	rep = f.sw.Run(ctx)
	assert.Zero(t, rep.Posted)
	assert.Equal(t, 1, f.out.Count("send", chat))

	f.clk.Set(at(d0, 23, 55))
	rep = f.sw.Run(ctx)
	assert.Equal(t, 1, rep.Closed)
	sess, err := f.store.GetSession(ctx, chat, d0)
	require.NoError(t, err)
	assert.True(t, sess.Closed())
	assert.Equal(t, 1, f.out.Count("edit", chat))

	// The blocked band after midnight does not open the new day.
	f.clk.Set(at(d0.AddDays(1), 0, 1))
	rep = f.sw.Run(ctx)
	assert.Zero(t, rep.Closed)
	_, err = f.store.GetSession(ctx, chat, d0.AddDays(1))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	f.clk.Set(at(d0.AddDays(1), 10, 0))
	rep = f.sw.Run(ctx)
	assert.Equal(t, 1, rep.Posted)
	assert.Equal(t, 2, f.out.Count("send", chat))

	last, ok := f.sw.Last()
	require.True(t, ok)
	assert.Equal(t, rep.ID, last.ID)
}

func TestTenantFailureIsolation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, -3, -2, -1)
	events, unsubscribe := f.bus.Subscribe(32)
	defer unsubscribe()

	f.out.Hook = func(op string, chatID int64) *transport.Result {
		if chatID == -2 {
			panic("adapter exploded")
		}
		return nil
	}

	rep := f.sw.Run(context.Background())
	assert.Equal(t, 3, rep.Tenants)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 2, rep.Posted)
	assert.Equal(t, 1, f.out.Count("send", -1))
	assert.Equal(t, 1, f.out.Count("send", -3))

	got := drain(events)
	require.Len(t, got[eventbus.TenantFailed], 1)
	assert.Equal(t, int64(-2), got[eventbus.TenantFailed][0].TenantID)
	assert.Len(t, got[eventbus.SweepFinished], 1)
}

func TestForbiddenDisablesTenant(t *testing.T) {
	t.Parallel()
	f := newFixture(t, -2, -1)
	ctx := context.Background()
	events, unsubscribe := f.bus.Subscribe(32)
	defer unsubscribe()
	f.out.Forbid(-2)

	rep := f.sw.Run(ctx)
	assert.Equal(t, 1, rep.Disabled)
	assert.Zero(t, rep.Failed)

	tn, err := f.store.GetTenant(ctx, -2)
	require.NoError(t, err)
	assert.False(t, tn.Enabled)
	assert.NotEmpty(t, tn.DisabledReason)
	assert.Len(t, drain(events)[eventbus.TenantDisabled], 1)

	rep = f.sw.Run(ctx)
	assert.Equal(t, 1, rep.Tenants)
}

func TestCatchUpAfterDowntime(t *testing.T) {
	t.Parallel()
	const chat = int64(-1)
	f := newFixture(t, chat)
	ctx := context.Background()
	for _, day := range []clock.Date{d0.AddDays(-2), d0.AddDays(-1)} {
		ss, _, err := f.store.GetOrCreateSession(ctx, chat, day)
		require.NoError(t, err)
		_, _, err = f.store.AdjustActivity(ctx, ss.ID, 1, 1, 10)
		require.NoError(t, err)
	}

	rep := f.sw.Run(ctx)
	assert.Equal(t, 2, rep.Closed)
	st, err := f.store.GetStreak(ctx, chat, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Current)
	assert.Equal(t, d0.AddDays(-1), st.LastDate)
}

func TestRepairOncePerDay(t *testing.T) {
	t.Parallel()
	const chat = int64(-1)
	f := newFixture(t, chat)
	ctx := context.Background()
	corrupt := storage.Streak{ChatID: chat, UserID: 1, Current: 99, Best: 99, LastDate: d0.AddDays(-1)}

	require.NoError(t, f.store.PutStreak(ctx, corrupt))
	rep := f.sw.Run(ctx)
	assert.Equal(t, 1, rep.Repaired)
	tn, err := f.store.GetTenant(ctx, chat)
	require.NoError(t, err)
	assert.Equal(t, d0, tn.LastRecompute)

	require.NoError(t, f.store.PutStreak(ctx, corrupt))
	rep = f.sw.Run(ctx)
	assert.Zero(t, rep.Repaired)

	// A new day moves past the marker and repairs again.
	f.clk.Set(at(d0.AddDays(1), 4, 30))
	rep = f.sw.Run(ctx)
	assert.Equal(t, 1, rep.Repaired)
	st, err := f.store.GetStreak(ctx, chat, 1)
	require.NoError(t, err)
	assert.Zero(t, st.Current)
}

func TestStopBetweenTenants(t *testing.T) {
	t.Parallel()
	f := newFixture(t, -2, -1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := f.sw.Run(ctx)
	assert.True(t, rep.Stopped)
	assert.Zero(t, rep.Tenants)
}

func TestTriggerSkipsOverlap(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	tr := NewTrigger(time.Hour, func(ctx context.Context) {
		runs.Add(1)
		started <- struct{}{}
		<-release
	}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, tr.Start(ctx))
	<-started

	tr.Fire()
	assert.Equal(t, int32(1), runs.Load())

	close(release)
	stopCtx, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	tr.Stop(stopCtx)
}

func TestTriggerRejectsSubSecond(t *testing.T) {
	t.Parallel()
	tr := NewTrigger(10*time.Millisecond, func(context.Context) {}, logx.Nop())
	assert.Error(t, tr.Start(context.Background()))
}

func TestTriggerStop(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		inFlight bool
	}{
		{"idle", false},
		{"run in flight", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var runs, finished atomic.Int32
			started := make(chan struct{}, 1)
			release := make(chan struct{})
			tr := NewTrigger(time.Hour, func(context.Context) {
				runs.Add(1)
				started <- struct{}{}
				if tt.inFlight {
					<-release
				}
				finished.Add(1)
			}, logx.Nop())

			require.NoError(t, tr.Start(context.Background()))
			<-started

			stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			if tt.inFlight {
				go func() {
					time.Sleep(20 * time.Millisecond)
					close(release)
				}()
			}
			tr.Stop(stopCtx)
			assert.Equal(t, int32(1), finished.Load(), "Stop returns after the run in flight")

			tr.Fire()
			assert.Equal(t, int32(1), runs.Load(), "no run after Stop")
		})
	}
}
