package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"checkinbot/internal/clock"
)

// Tenant is one chat served by the bot. Empty Timezone and PostAt mean
// "use the configured default".
type Tenant struct {
	ChatID         int64
	Title          string
	Timezone       string
	PostAt         string
	Notifications  bool
	Enabled        bool
	DisabledReason string
	LastRecompute  clock.Date
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Zone is the tenant's IANA timezone, or def when none was set.
func (t Tenant) Zone(def string) string {
	if t.Timezone != "" {
		return t.Timezone
	}
	return def
}

const tenantCols = `chat_id, title, timezone, post_at, notifications, enabled, disabled_reason, last_recompute_date, created_at, updated_at`

func scanTenant(sc interface{ Scan(...any) error }) (Tenant, error) {
	var (
		t         Tenant
		notif, en int
		recompute string
		created   int64
		updated   int64
	)
	if err := sc.Scan(&t.ChatID, &t.Title, &t.Timezone, &t.PostAt, &notif, &en, &t.DisabledReason, &recompute, &created, &updated); err != nil {
		return Tenant{}, err
	}
	d, err := clock.ParseDate(recompute)
	if err != nil {
		return Tenant{}, err
	}
	t.Notifications = notif != 0
	t.Enabled = en != 0
	t.LastRecompute = d
	t.CreatedAt = time.UnixMilli(created)
	t.UpdatedAt = time.UnixMilli(updated)
	return t, nil
}

// UpsertTenant records an inbound interaction from chatID. An existing
// tenant is re-enabled; a blank title keeps the stored one.
func (s *Store) UpsertTenant(ctx context.Context, chatID int64, title string) (reenabled bool, err error) {
	var wasEnabled sql.NullInt64
	err = s.q.QueryRowContext(ctx, `SELECT enabled FROM tenants WHERE chat_id = ?`, chatID).Scan(&wasEnabled)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("lookup tenant: %w", err)
	}

	now := s.stamp()
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO tenants (chat_id, title, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   title = CASE WHEN excluded.title <> '' THEN excluded.title ELSE tenants.title END,
		   enabled = 1,
		   disabled_reason = '',
		   updated_at = excluded.updated_at`,
		chatID, title, now, now,
	)
	if err != nil {
		return false, fmt.Errorf("upsert tenant: %w", err)
	}
	return wasEnabled.Valid && wasEnabled.Int64 == 0, nil
}

func (s *Store) GetTenant(ctx context.Context, chatID int64) (Tenant, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+tenantCols+` FROM tenants WHERE chat_id = ?`, chatID)
	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Tenant{}, ErrNotFound
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

// ListEnabledTenants returns enabled tenants ordered by chat id.
func (s *Store) ListEnabledTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+tenantCols+` FROM tenants WHERE enabled = 1 ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DisableTenant stops the scheduler from acting on chatID until the next
// UpsertTenant.
func (s *Store) DisableTenant(ctx context.Context, chatID int64, reason string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE tenants SET enabled = 0, disabled_reason = ?, updated_at = ? WHERE chat_id = ?`,
		reason, s.stamp(), chatID,
	)
	if err != nil {
		return fmt.Errorf("disable tenant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TenantSettings is the operator-editable part of a tenant. Nil fields are
// left unchanged.
type TenantSettings struct {
	Timezone      *string
	PostAt        *string
	Notifications *bool
}

func (s *Store) UpdateTenantSettings(ctx context.Context, chatID int64, set TenantSettings) error {
	t, err := s.GetTenant(ctx, chatID)
	if err != nil {
		return err
	}
	if set.Timezone != nil {
		t.Timezone = *set.Timezone
	}
	if set.PostAt != nil {
		t.PostAt = *set.PostAt
	}
	if set.Notifications != nil {
		t.Notifications = *set.Notifications
	}
	_, err = s.q.ExecContext(ctx,
		`UPDATE tenants SET timezone = ?, post_at = ?, notifications = ?, updated_at = ? WHERE chat_id = ?`,
		t.Timezone, t.PostAt, boolInt(t.Notifications), s.stamp(), chatID,
	)
	if err != nil {
		return fmt.Errorf("update tenant settings: %w", err)
	}
	return nil
}

// SetLastRecompute persists the day the streak repair last ran for chatID.
func (s *Store) SetLastRecompute(ctx context.Context, chatID int64, day clock.Date) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE tenants SET last_recompute_date = ?, updated_at = ? WHERE chat_id = ?`,
		day.String(), s.stamp(), chatID,
	)
	if err != nil {
		return fmt.Errorf("set last recompute: %w", err)
	}
	return nil
}
