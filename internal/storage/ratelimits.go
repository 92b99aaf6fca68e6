package storage

import (
	"context"
	"fmt"
	"time"
)

// TryAcquire stamps (chatID, userID, scope) with now when the previous stamp
// is at least cooldown old, in one statement. It reports whether the action
// was accepted.
func (s *Store) TryAcquire(ctx context.Context, chatID, userID int64, scope string, now time.Time, cooldown time.Duration) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO rate_limits (chat_id, user_id, scope, last_action_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(chat_id, user_id, scope) DO UPDATE SET last_action_at = excluded.last_action_at
		 WHERE excluded.last_action_at - rate_limits.last_action_at >= ?`,
		chatID, userID, scope, now.UnixMilli(), cooldown.Milliseconds(),
	)
	if err != nil {
		return false, fmt.Errorf("rate limit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rate limit rows: %w", err)
	}
	return n > 0, nil
}
