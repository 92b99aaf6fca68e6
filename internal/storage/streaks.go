package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkinbot/internal/clock"
)

type Streak struct {
	ChatID   int64
	UserID   int64
	Current  int
	Best     int
	LastDate clock.Date
}

func scanStreak(sc interface{ Scan(...any) error }) (Streak, error) {
	var (
		st   Streak
		last string
	)
	if err := sc.Scan(&st.ChatID, &st.UserID, &st.Current, &st.Best, &last); err != nil {
		return Streak{}, err
	}
	d, err := clock.ParseDate(last)
	if err != nil {
		return Streak{}, err
	}
	st.LastDate = d
	return st, nil
}

// GetStreak returns the stored record or a zero record when none exists.
func (s *Store) GetStreak(ctx context.Context, chatID, userID int64) (Streak, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT chat_id, user_id, current, best, last_date FROM streaks WHERE chat_id = ? AND user_id = ?`,
		chatID, userID,
	)
	st, err := scanStreak(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Streak{ChatID: chatID, UserID: userID}, nil
	}
	if err != nil {
		return Streak{}, fmt.Errorf("get streak: %w", err)
	}
	return st, nil
}

// ListStreaks returns every streak row of chatID keyed by user id.
func (s *Store) ListStreaks(ctx context.Context, chatID int64) (map[int64]Streak, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT chat_id, user_id, current, best, last_date FROM streaks WHERE chat_id = ?`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("list streaks: %w", err)
	}
	defer rows.Close()

	out := map[int64]Streak{}
	for rows.Next() {
		st, err := scanStreak(rows)
		if err != nil {
			return nil, fmt.Errorf("scan streak: %w", err)
		}
		out[st.UserID] = st
	}
	return out, rows.Err()
}

func (s *Store) PutStreak(ctx context.Context, st Streak) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO streaks (chat_id, user_id, current, best, last_date, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(chat_id, user_id) DO UPDATE SET
		   current = excluded.current,
		   best = excluded.best,
		   last_date = excluded.last_date,
		   updated_at = excluded.updated_at`,
		st.ChatID, st.UserID, st.Current, st.Best, st.LastDate.String(), s.stamp(),
	)
	if err != nil {
		return fmt.Errorf("put streak: %w", err)
	}
	return nil
}

// ActiveDays returns, per user, the ascending distinct dates with positive
// activity in chatID.
func (s *Store) ActiveDays(ctx context.Context, chatID int64) (map[int64][]clock.Date, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT DISTINCT u.user_id, s.session_date
		   FROM session_user_state u
		   JOIN sessions s ON s.id = u.session_id
		  WHERE s.chat_id = ? AND u.activity > 0
		  ORDER BY u.user_id, s.session_date`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("active days: %w", err)
	}
	defer rows.Close()

	out := map[int64][]clock.Date{}
	for rows.Next() {
		var (
			uid int64
			raw string
		)
		if err := rows.Scan(&uid, &raw); err != nil {
			return nil, fmt.Errorf("scan active day: %w", err)
		}
		d, err := clock.ParseDate(raw)
		if err != nil {
			return nil, err
		}
		out[uid] = append(out[uid], d)
	}
	return out, rows.Err()
}
