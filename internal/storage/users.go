package storage

import (
	"context"
	"fmt"
	"time"
)

type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// Member is a user who interacted in a tenant chat.
type Member struct {
	User
	ChatID   int64
	JoinedAt time.Time
}

func (s *Store) UpsertUser(ctx context.Context, u User) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO users (user_id, username, first_name, last_name, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   username = excluded.username,
		   first_name = excluded.first_name,
		   last_name = excluded.last_name,
		   updated_at = excluded.updated_at`,
		u.ID, u.Username, u.FirstName, u.LastName, s.stamp(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// AddMember links userID to chatID and creates the user's streak row.
// It reports whether the membership is new.
func (s *Store) AddMember(ctx context.Context, chatID, userID int64) (bool, error) {
	now := s.stamp()
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO members (chat_id, user_id, joined_at) VALUES (?, ?, ?)
		 ON CONFLICT(chat_id, user_id) DO NOTHING`,
		chatID, userID, now,
	)
	if err != nil {
		return false, fmt.Errorf("add member: %w", err)
	}
	if _, err := s.q.ExecContext(ctx,
		`INSERT INTO streaks (chat_id, user_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(chat_id, user_id) DO NOTHING`,
		chatID, userID, now,
	); err != nil {
		return false, fmt.Errorf("seed streak: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListMembers returns members of chatID in join order.
func (s *Store) ListMembers(ctx context.Context, chatID int64) ([]Member, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT m.chat_id, m.user_id, m.joined_at,
		        COALESCE(u.username, ''), COALESCE(u.first_name, ''), COALESCE(u.last_name, '')
		   FROM members m
		   LEFT JOIN users u ON u.user_id = m.user_id
		  WHERE m.chat_id = ?
		  ORDER BY m.joined_at, m.user_id`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var (
			m      Member
			joined int64
		)
		if err := rows.Scan(&m.ChatID, &m.ID, &joined, &m.Username, &m.FirstName, &m.LastName); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.JoinedAt = time.UnixMilli(joined)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ForgetMember erases userID's history in chatID: day states, streak, rate
// limit stamps and the membership. The users row stays; other chats share it.
// It reports whether userID was a member.
func (s *Store) ForgetMember(ctx context.Context, chatID, userID int64) (bool, error) {
	stmts := []struct {
		name  string
		query string
		args  []any
	}{
		{"day states", `DELETE FROM session_user_state
		   WHERE user_id = ? AND session_id IN (SELECT id FROM sessions WHERE chat_id = ?)`, []any{userID, chatID}},
		{"streak", `DELETE FROM streaks WHERE chat_id = ? AND user_id = ?`, []any{chatID, userID}},
		{"rate limits", `DELETE FROM rate_limits WHERE chat_id = ? AND user_id = ?`, []any{chatID, userID}},
	}
	for _, st := range stmts {
		if _, err := s.q.ExecContext(ctx, st.query, st.args...); err != nil {
			return false, fmt.Errorf("forget %s: %w", st.name, err)
		}
	}
	res, err := s.q.ExecContext(ctx, `DELETE FROM members WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	if err != nil {
		return false, fmt.Errorf("forget member: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
