// Package ratelimit gates user actions per (chat, user, scope) with a
// persisted cooldown.
package ratelimit

import (
	"context"
	"time"
)

// Key identifies one cooldown bucket.
type Key struct {
	ChatID int64
	UserID int64
	Scope  string
}

// Stamps is the persistence the limiter needs. TryAcquire must compare and
// stamp in one atomic step.
type Stamps interface {
	TryAcquire(ctx context.Context, chatID, userID int64, scope string, now time.Time, cooldown time.Duration) (bool, error)
}

type Limiter struct {
	stamps Stamps
}

func New(stamps Stamps) *Limiter { return &Limiter{stamps: stamps} }

// Allow accepts the first action of a key and any action at least cooldown
// after the last accepted one. Acceptance stamps now.
func (l *Limiter) Allow(ctx context.Context, k Key, now time.Time, cooldown time.Duration) (bool, error) {
	if cooldown <= 0 {
		return true, nil
	}
	return l.stamps.TryAcquire(ctx, k.ChatID, k.UserID, k.Scope, now, cooldown)
}
