package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"power-dialer/pkg/utils"
)

// Repository persists sessions. The in-memory Manager stays authoritative while
// a session is live; rows are written on start, on settings changes and at end.
type Repository interface {
	Insert(ctx context.Context, s Session) error
	Update(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	// EndActiveForRep closes rows left active by a node that died without ending them.
	EndActiveForRep(ctx context.Context, repID string, at time.Time, reason string) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const sessionColumns = `id, rep_id, started_at, ended_at, is_active, auto_dial_enabled, auto_text_enabled,
device_identity, last_heartbeat_at, last_activity_at, end_reason, stats`

func (r *PostgresRepo) Insert(ctx context.Context, s Session) error {
	stats, err := json.Marshal(s.Stats)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO dialer_sessions (` + sessionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`
	_, err = r.db.ExecContext(ctx, q,
		s.ID,
		s.RepID,
		s.StartedAt,
		s.EndedAt,
		s.IsActive,
		s.AutoDialEnabled,
		s.AutoTextEnabled,
		s.DeviceIdentity,
		s.LastHeartbeatAt,
		s.LastActivityAt,
		s.EndReason,
		stats,
	)
	// dialer_sessions_one_active_per_rep: another node won the race.
	if utils.IsUniqueViolation(err) {
		return ErrSessionConflict
	}
	return err
}

func (r *PostgresRepo) Update(ctx context.Context, s Session) error {
	stats, err := json.Marshal(s.Stats)
	if err != nil {
		return err
	}
	const q = `
UPDATE dialer_sessions
SET ended_at = $2, is_active = $3, auto_dial_enabled = $4, auto_text_enabled = $5,
    device_identity = $6, last_heartbeat_at = $7, last_activity_at = $8, end_reason = $9, stats = $10
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q,
		s.ID,
		s.EndedAt,
		s.IsActive,
		s.AutoDialEnabled,
		s.AutoTextEnabled,
		s.DeviceIdentity,
		s.LastHeartbeatAt,
		s.LastActivityAt,
		s.EndReason,
		stats,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM dialer_sessions WHERE id = $1`
	var (
		s     Session
		ended sql.NullTime
		stats []byte
	)
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&s.ID,
		&s.RepID,
		&s.StartedAt,
		&ended,
		&s.IsActive,
		&s.AutoDialEnabled,
		&s.AutoTextEnabled,
		&s.DeviceIdentity,
		&s.LastHeartbeatAt,
		&s.LastActivityAt,
		&s.EndReason,
		&stats,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if ended.Valid {
		t := ended.Time
		s.EndedAt = &t
	}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &s.Stats); err != nil {
			return Session{}, err
		}
	}
	return s, nil
}

func (r *PostgresRepo) EndActiveForRep(ctx context.Context, repID string, at time.Time, reason string) (int, error) {
	const q = `
UPDATE dialer_sessions
SET is_active = FALSE, ended_at = $2, end_reason = $3
WHERE rep_id = $1 AND is_active
`
	res, err := r.db.ExecContext(ctx, q, repID, at, reason)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
