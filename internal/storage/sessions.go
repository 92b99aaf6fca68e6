package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"checkinbot/internal/clock"
)

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// Session is the per-tenant, per-day aggregate. Notices is a bitmask of
// one-shot notifications already handled for the day.
type Session struct {
	ID        int64
	ChatID    int64
	Date      clock.Date
	Status    SessionStatus
	StartedAt time.Time
	EndedAt   time.Time
	Notices   uint32
}

func (s Session) Closed() bool { return s.Status == SessionClosed }

// HasNotice reports whether every bit of flag is set.
func (s Session) HasNotice(flag uint32) bool { return s.Notices&flag == flag }

const sessionCols = `id, chat_id, session_date, status, started_at, ended_at, notices`

func scanSession(sc interface{ Scan(...any) error }) (Session, error) {
	var (
		ss      Session
		date    string
		status  string
		started int64
		ended   sql.NullInt64
		notices int64
	)
	if err := sc.Scan(&ss.ID, &ss.ChatID, &date, &status, &started, &ended, &notices); err != nil {
		return Session{}, err
	}
	d, err := clock.ParseDate(date)
	if err != nil {
		return Session{}, err
	}
	ss.Date = d
	ss.Status = SessionStatus(status)
	ss.StartedAt = time.UnixMilli(started)
	ss.EndedAt = fromMillis(ended)
	ss.Notices = uint32(notices)
	return ss, nil
}

// GetOrCreateSession returns the session of chatID for day, inserting an
// active one when absent. Concurrent callers converge on the same row.
func (s *Store) GetOrCreateSession(ctx context.Context, chatID int64, day clock.Date) (Session, bool, error) {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO sessions (chat_id, session_date, status, started_at) VALUES (?, ?, 'active', ?)
		 ON CONFLICT(chat_id, session_date) DO NOTHING`,
		chatID, day.String(), s.stamp(),
	)
	if err != nil {
		return Session{}, false, fmt.Errorf("insert session: %w", err)
	}
	n, _ := res.RowsAffected()

	ss, err := s.GetSession(ctx, chatID, day)
	if err != nil {
		return Session{}, false, err
	}
	return ss, n > 0, nil
}

func (s *Store) GetSession(ctx context.Context, chatID int64, day clock.Date) (Session, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE chat_id = ? AND session_date = ?`,
		chatID, day.String(),
	)
	ss, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return ss, nil
}

func (s *Store) GetSessionByID(ctx context.Context, id int64) (Session, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id)
	ss, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return ss, nil
}

// ListStaleSessions returns active sessions of chatID dated strictly before
// day, oldest first.
func (s *Store) ListStaleSessions(ctx context.Context, chatID int64, day clock.Date) ([]Session, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+sessionCols+` FROM sessions
		  WHERE chat_id = ? AND status = 'active' AND session_date < ?
		  ORDER BY session_date`,
		chatID, day.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list stale sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		ss, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

// CloseSession flips an active session to closed. It reports false when the
// session was already closed.
func (s *Store) CloseSession(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE sessions SET status = 'closed', ended_at = ? WHERE id = ? AND status = 'active'`,
		at.UnixMilli(), id,
	)
	if err != nil {
		return false, fmt.Errorf("close session: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkNotice sets flag on the session and reports whether it was unset before.
func (s *Store) MarkNotice(ctx context.Context, id int64, flag uint32) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE sessions SET notices = notices | ? WHERE id = ? AND (notices & ?) = 0`,
		flag, id, flag,
	)
	if err != nil {
		return false, fmt.Errorf("mark notice: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UserState is one user's activity within a session. Effort and Feeling
// are the day's poll answers; empty means unanswered.
type UserState struct {
	SessionID int64
	UserID    int64
	Activity  int
	Remind    bool
	Effort    string
	Feeling   string
}

// Attribute names a per-day poll answer column.
type Attribute string

const (
	AttrEffort  Attribute = "effort"
	AttrFeeling Attribute = "feeling"
)

// Of returns the value of a in st.
func (a Attribute) Of(st UserState) string {
	switch a {
	case AttrEffort:
		return st.Effort
	case AttrFeeling:
		return st.Feeling
	}
	return ""
}

func (a Attribute) column() (string, error) {
	switch a {
	case AttrEffort, AttrFeeling:
		return string(a), nil
	}
	return "", fmt.Errorf("unknown attribute %q", string(a))
}

const userStateCols = `session_id, user_id, activity, remind, effort, feeling`

func scanUserState(sc interface{ Scan(...any) error }) (UserState, error) {
	var (
		st     UserState
		remind int
	)
	if err := sc.Scan(&st.SessionID, &st.UserID, &st.Activity, &remind, &st.Effort, &st.Feeling); err != nil {
		return UserState{}, err
	}
	st.Remind = remind != 0
	return st, nil
}

func (s *Store) ensureUserState(ctx context.Context, sessionID, userID int64) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO session_user_state (session_id, user_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id, user_id) DO NOTHING`,
		sessionID, userID, s.stamp(),
	)
	if err != nil {
		return fmt.Errorf("ensure user state: %w", err)
	}
	return nil
}

func (s *Store) GetUserState(ctx context.Context, sessionID, userID int64) (UserState, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+userStateCols+` FROM session_user_state WHERE session_id = ? AND user_id = ?`,
		sessionID, userID,
	)
	st, err := scanUserState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return UserState{SessionID: sessionID, UserID: userID}, nil
	}
	if err != nil {
		return UserState{}, fmt.Errorf("get user state: %w", err)
	}
	return st, nil
}

// AdjustActivity adds delta to the user's counter when the result stays in
// [0, limit]. changed is false when the bound rejected the update.
func (s *Store) AdjustActivity(ctx context.Context, sessionID, userID int64, delta, limit int) (UserState, bool, error) {
	if err := s.ensureUserState(ctx, sessionID, userID); err != nil {
		return UserState{}, false, err
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE session_user_state SET activity = activity + ?, updated_at = ?
		  WHERE session_id = ? AND user_id = ? AND activity + ? BETWEEN 0 AND ?`,
		delta, s.stamp(), sessionID, userID, delta, limit,
	)
	if err != nil {
		return UserState{}, false, fmt.Errorf("adjust activity: %w", err)
	}
	n, _ := res.RowsAffected()
	st, err := s.GetUserState(ctx, sessionID, userID)
	return st, n > 0, err
}

// ToggleRemind flips the user's reminder flag for the session.
func (s *Store) ToggleRemind(ctx context.Context, sessionID, userID int64) (UserState, error) {
	if err := s.ensureUserState(ctx, sessionID, userID); err != nil {
		return UserState{}, err
	}
	if _, err := s.q.ExecContext(ctx,
		`UPDATE session_user_state SET remind = 1 - remind, updated_at = ? WHERE session_id = ? AND user_id = ?`,
		s.stamp(), sessionID, userID,
	); err != nil {
		return UserState{}, fmt.Errorf("toggle remind: %w", err)
	}
	return s.GetUserState(ctx, sessionID, userID)
}

// SetAttribute stores value for the user's day. Only users with activity
// can answer; changed is false otherwise.
func (s *Store) SetAttribute(ctx context.Context, sessionID, userID int64, attr Attribute, value string) (UserState, bool, error) {
	col, err := attr.column()
	if err != nil {
		return UserState{}, false, err
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE session_user_state SET `+col+` = ?, updated_at = ?
		  WHERE session_id = ? AND user_id = ? AND activity > 0`,
		value, s.stamp(), sessionID, userID,
	)
	if err != nil {
		return UserState{}, false, fmt.Errorf("set %s: %w", col, err)
	}
	n, _ := res.RowsAffected()
	st, err := s.GetUserState(ctx, sessionID, userID)
	return st, n > 0, err
}

// ListUserStates returns every user state of the session ordered by user id.
func (s *Store) ListUserStates(ctx context.Context, sessionID int64) ([]UserState, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+userStateCols+` FROM session_user_state WHERE session_id = ? ORDER BY user_id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list user states: %w", err)
	}
	defer rows.Close()

	var out []UserState
	for rows.Next() {
		st, err := scanUserState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user state: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
