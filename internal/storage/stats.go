package storage

import (
	"context"
	"database/sql"
	"fmt"

	"checkinbot/internal/clock"
)

// UserTotal aggregates one user's activity over a date range.
type UserTotal struct {
	UserID     int64
	Total      int
	ActiveDays int
}

// PeriodTotals sums activity of chatID between from and to inclusive,
// highest total first.
func (s *Store) PeriodTotals(ctx context.Context, chatID int64, from, to clock.Date) ([]UserTotal, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT u.user_id, SUM(u.activity), SUM(CASE WHEN u.activity > 0 THEN 1 ELSE 0 END)
		   FROM session_user_state u
		   JOIN sessions s ON s.id = u.session_id
		  WHERE s.chat_id = ? AND s.session_date BETWEEN ? AND ?
		  GROUP BY u.user_id
		 HAVING SUM(u.activity) > 0
		  ORDER BY SUM(u.activity) DESC, u.user_id`,
		chatID, from.String(), to.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("period totals: %w", err)
	}
	defer rows.Close()

	var out []UserTotal
	for rows.Next() {
		var t UserTotal
		if err := rows.Scan(&t.UserID, &t.Total, &t.ActiveDays); err != nil {
			return nil, fmt.Errorf("scan total: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// FirstSessionDate returns the oldest session date of chatID.
func (s *Store) FirstSessionDate(ctx context.Context, chatID int64) (clock.Date, error) {
	var raw sql.NullString
	err := s.q.QueryRowContext(ctx, `SELECT MIN(session_date) FROM sessions WHERE chat_id = ?`, chatID).Scan(&raw)
	if err != nil {
		return clock.Date{}, fmt.Errorf("first session: %w", err)
	}
	if !raw.Valid || raw.String == "" {
		return clock.Date{}, ErrNotFound
	}
	return clock.ParseDate(raw.String)
}

// CountSessions returns how many sessions chatID has had.
func (s *Store) CountSessions(ctx context.Context, chatID int64) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE chat_id = ?`, chatID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// DayActivity is one user's active day.
type DayActivity struct {
	Date     clock.Date
	UserID   int64
	Activity int
	Effort   string
	Feeling  string
}

// ListDayActivity returns the active days of chatID between from and to
// inclusive, oldest first. userID 0 selects every user.
func (s *Store) ListDayActivity(ctx context.Context, chatID, userID int64, from, to clock.Date) ([]DayActivity, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT s.session_date, u.user_id, u.activity, u.effort, u.feeling
		   FROM session_user_state u
		   JOIN sessions s ON s.id = u.session_id
		  WHERE s.chat_id = ? AND s.session_date BETWEEN ? AND ? AND u.activity > 0
		    AND (? = 0 OR u.user_id = ?)
		  ORDER BY s.session_date, u.user_id`,
		chatID, from.String(), to.String(), userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list day activity: %w", err)
	}
	defer rows.Close()

	var out []DayActivity
	for rows.Next() {
		var (
			d    DayActivity
			date string
		)
		if err := rows.Scan(&date, &d.UserID, &d.Activity, &d.Effort, &d.Feeling); err != nil {
			return nil, fmt.Errorf("scan day activity: %w", err)
		}
		if d.Date, err = clock.ParseDate(date); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
