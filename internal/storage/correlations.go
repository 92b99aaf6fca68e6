package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Correlation maps a logical day-bound action to the message it produced.
type Correlation struct {
	ChatID    int64
	Key       string
	Kind      string
	MessageID int
}

func (s *Store) GetCorrelation(ctx context.Context, chatID int64, key, kind string) (int, error) {
	var id int
	err := s.q.QueryRowContext(ctx,
		`SELECT message_id FROM correlations WHERE chat_id = ? AND logical_key = ? AND kind = ?`,
		chatID, key, kind,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get correlation: %w", err)
	}
	return id, nil
}

// PutCorrelation writes or replaces the message id for the key.
func (s *Store) PutCorrelation(ctx context.Context, c Correlation) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO correlations (chat_id, logical_key, kind, message_id, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(chat_id, logical_key, kind) DO UPDATE SET
		   message_id = excluded.message_id,
		   updated_at = excluded.updated_at`,
		c.ChatID, c.Key, c.Kind, c.MessageID, s.stamp(),
	)
	if err != nil {
		return fmt.Errorf("put correlation: %w", err)
	}
	return nil
}

// DeleteCorrelation removes the entry only if it still points at messageID,
// so a concurrent replacement survives. messageID 0 removes unconditionally.
func (s *Store) DeleteCorrelation(ctx context.Context, chatID int64, key, kind string, messageID int) error {
	q := `DELETE FROM correlations WHERE chat_id = ? AND logical_key = ? AND kind = ?`
	args := []any{chatID, key, kind}
	if messageID != 0 {
		q += ` AND message_id = ?`
		args = append(args, messageID)
	}
	if _, err := s.q.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("delete correlation: %w", err)
	}
	return nil
}

// ListCorrelations returns every entry of chatID under key.
func (s *Store) ListCorrelations(ctx context.Context, chatID int64, key string) ([]Correlation, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT chat_id, logical_key, kind, message_id FROM correlations
		  WHERE chat_id = ? AND logical_key = ? ORDER BY kind`,
		chatID, key,
	)
	if err != nil {
		return nil, fmt.Errorf("list correlations: %w", err)
	}
	defer rows.Close()

	var out []Correlation
	for rows.Next() {
		var c Correlation
		if err := rows.Scan(&c.ChatID, &c.Key, &c.Kind, &c.MessageID); err != nil {
			return nil, fmt.Errorf("scan correlation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
