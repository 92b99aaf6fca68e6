package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"checkinbot/internal/storage"
	logx "checkinbot/pkg/logx"
)

func newLimiter(t *testing.T) *Limiter {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{Path: ":memory:"}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st)
}

func TestAllowCooldown(t *testing.T) {
	t.Parallel()
	cd := 2 * time.Second
	t0 := time.Date(2024, 5, 5, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		gap        time.Duration
		wantSecond bool
	}{
		{"inside cooldown", 1500 * time.Millisecond, false},
		{"exactly cooldown", cd, true},
		{"after cooldown", 5 * time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			l := newLimiter(t)
			k := Key{ChatID: 1, UserID: 2, Scope: "plus"}
			ok, err := l.Allow(context.Background(), k, t0, cd)
			if err != nil || !ok {
				t.Fatalf("first Allow = %v, %v; want true", ok, err)
			}
			ok, err = l.Allow(context.Background(), k, t0.Add(tt.gap), cd)
			if err != nil {
				t.Fatalf("second Allow: %v", err)
			}
			if ok != tt.wantSecond {
				t.Fatalf("second Allow = %v, want %v", ok, tt.wantSecond)
			}
		})
	}
}

func TestAllowConcurrentSingleWinner(t *testing.T) {
	t.Parallel()
	l := newLimiter(t)
	k := Key{ChatID: 1, UserID: 2, Scope: "plus"}
	now := time.Date(2024, 5, 5, 12, 0, 0, 0, time.UTC)

	var (
		wg      sync.WaitGroup
		granted atomic.Int32
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Allow(context.Background(), k, now, time.Second)
			if err != nil {
				t.Errorf("Allow: %v", err)
				return
			}
			if ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	if granted.Load() != 1 {
		t.Fatalf("granted = %d, want 1", granted.Load())
	}
}

func TestZeroCooldownAlwaysAllows(t *testing.T) {
	t.Parallel()
	l := New(nil)
	ok, err := l.Allow(context.Background(), Key{}, time.Now(), 0)
	if err != nil || !ok {
		t.Fatalf("Allow = %v, %v", ok, err)
	}
}
