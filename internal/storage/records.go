package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindWarn Kind = "warn"
	KindMute Kind = "mute"
	KindKick Kind = "kick"
	KindBan  Kind = "ban"
)

// Kinds lists the record kinds in display order.
var Kinds = []Kind{KindWarn, KindMute, KindKick, KindBan}

func ParseKind(value string) (Kind, bool) {
	for _, kind := range Kinds {
		if string(kind) == value {
			return kind, true
		}
	}
	return "", false
}

// Record is one moderation action. Duration is zero for indefinite actions
// and for kinds that carry no duration.
type Record struct {
	ID          int64
	Kind        Kind
	CreatedAt   time.Time
	ModeratorID string
	TargetID    string
	Duration    time.Duration
	Reason      string
	Origin      string
}

type recordRow struct {
	ID              int64  `db:"id"`
	Kind            string `db:"kind"`
	CreatedAt       int64  `db:"created_at"`
	ModeratorID     string `db:"moderator_id"`
	TargetID        string `db:"target_id"`
	DurationSeconds int64  `db:"duration_seconds"`
	Reason          string `db:"reason"`
	Origin          string `db:"origin"`
}

func (r recordRow) record() Record {
	return Record{
		ID:          r.ID,
		Kind:        Kind(r.Kind),
		CreatedAt:   time.Unix(r.CreatedAt, 0),
		ModeratorID: r.ModeratorID,
		TargetID:    r.TargetID,
		Duration:    time.Duration(r.DurationSeconds) * time.Second,
		Reason:      r.Reason,
		Origin:      r.Origin,
	}
}

// Expiry is a pending automatic undo of a timed mute or ban.
type Expiry struct {
	Kind      Kind
	UserID    string
	ExpiresAt time.Time
}

type expiryRow struct {
	Kind      string `db:"kind"`
	UserID    string `db:"user_id"`
	ExpiresAt int64  `db:"expires_at"`
}

var ErrRecordNotFound = errors.New("record not found")

const upsertExpiry = `
	INSERT INTO pending_expiries (kind, user_id, expires_at)
	VALUES (?, ?, ?)
	ON CONFLICT(kind, user_id) DO UPDATE SET expires_at = excluded.expires_at
`

const deleteExpiry = `DELETE FROM pending_expiries WHERE kind = ? AND user_id = ?`

// RecordAction appends rec and, in the same transaction, upserts the pending
// expiry for (rec.Kind, rec.TargetID) when expiresAt is set. A mute or ban
// without expiresAt is permanent and removes any pending expiry instead.
func (s *Store) RecordAction(ctx context.Context, rec Record, expiresAt *time.Time) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var id int64
	err = tx.QueryRowxContext(ctx, tx.Rebind(`
		INSERT INTO moderation_records (kind, created_at, moderator_id, target_id, duration_seconds, reason, origin)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`), string(rec.Kind), rec.CreatedAt.Unix(), rec.ModeratorID, rec.TargetID, int64(rec.Duration/time.Second), rec.Reason, rec.Origin).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert %s record: %w", rec.Kind, err)
	}

	switch {
	case expiresAt != nil:
		if _, err = tx.ExecContext(ctx, tx.Rebind(upsertExpiry), string(rec.Kind), rec.TargetID, expiresAt.Unix()); err != nil {
			return 0, fmt.Errorf("upsert %s expiry: %w", rec.Kind, err)
		}
	case rec.Kind == KindMute || rec.Kind == KindBan:
		if _, err = tx.ExecContext(ctx, tx.Rebind(deleteExpiry), string(rec.Kind), rec.TargetID); err != nil {
			return 0, fmt.Errorf("clear %s expiry: %w", rec.Kind, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) UpsertExpiry(ctx context.Context, kind Kind, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(upsertExpiry), string(kind), userID, expiresAt.Unix())
	return err
}

// DeleteExpiry reports whether a row was removed.
func (s *Store) DeleteExpiry(ctx context.Context, kind Kind, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(deleteExpiry), string(kind), userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) GetExpiry(ctx context.Context, kind Kind, userID string) (Expiry, bool, error) {
	var row expiryRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT kind, user_id, expires_at FROM pending_expiries WHERE kind = ? AND user_id = ?
	`), string(kind), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Expiry{}, false, nil
		}
		return Expiry{}, false, err
	}
	return Expiry{Kind: Kind(row.Kind), UserID: row.UserID, ExpiresAt: time.Unix(row.ExpiresAt, 0)}, true, nil
}

func (s *Store) ListExpiries(ctx context.Context, kind Kind) ([]Expiry, error) {
	var rows []expiryRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT kind, user_id, expires_at FROM pending_expiries WHERE kind = ? ORDER BY expires_at
	`), string(kind))
	if err != nil {
		return nil, err
	}
	out := make([]Expiry, 0, len(rows))
	for _, row := range rows {
		out = append(out, Expiry{Kind: Kind(row.Kind), UserID: row.UserID, ExpiresAt: time.Unix(row.ExpiresAt, 0)})
	}
	return out, nil
}

// ListRecords returns the target's records, newest first. limit <= 0 means all.
func (s *Store) ListRecords(ctx context.Context, targetID string, limit int) ([]Record, error) {
	query := `
		SELECT id, kind, created_at, moderator_id, target_id, duration_seconds, reason, origin
		FROM moderation_records
		WHERE target_id = ?
		ORDER BY id DESC`
	args := []any{targetID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}

func (s *Store) GetRecord(ctx context.Context, id int64) (Record, error) {
	var row recordRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT id, kind, created_at, moderator_id, target_id, duration_seconds, reason, origin
		FROM moderation_records WHERE id = ?
	`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, err
	}
	return row.record(), nil
}

func (s *Store) CountRecords(ctx context.Context, targetID string) (map[Kind]int, error) {
	var rows []struct {
		Kind  string `db:"kind"`
		Count int    `db:"count"`
	}
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT kind, COUNT(*) AS count FROM moderation_records WHERE target_id = ? GROUP BY kind
	`), targetID)
	if err != nil {
		return nil, err
	}
	counts := make(map[Kind]int, len(rows))
	for _, row := range rows {
		counts[Kind(row.Kind)] = row.Count
	}
	return counts, nil
}

func (s *Store) DeleteRecord(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM moderation_records WHERE id = ?`), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ClearRecords removes every record of kind for the target and returns how many went.
func (s *Store) ClearRecords(ctx context.Context, kind Kind, targetID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM moderation_records WHERE kind = ? AND target_id = ?`), string(kind), targetID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
