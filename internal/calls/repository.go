package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"power-dialer/pkg/utils"
)

// Repository persists leg rows and their transition history.
//
// Tables (see migrations):
// - call_legs: one row per leg, updated in place until terminal
// - call_leg_events: append-only transition history
type Repository interface {
	InsertLeg(ctx context.Context, l Leg) error
	// SaveTransition updates the leg row and appends the history entry atomically.
	SaveTransition(ctx context.Context, l Leg, e LegEvent) error
	// UpdateFlags persists Bridged/Dropped/Held without touching state.
	UpdateFlags(ctx context.Context, l Leg) error
	SetDisposition(ctx context.Context, legID, result string) error
	Get(ctx context.Context, legID string) (Leg, error)
	ListByLead(ctx context.Context, leadID string, limit int) ([]Leg, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const legColumns = `id, session_id, batch_id, lead_id, rep_id, direction, state, phone_used, caller_id,
started_at, connected_at, ended_at, last_event_at, bridged, dropped, held, disposition_result`

func (r *PostgresRepo) InsertLeg(ctx context.Context, l Leg) error {
	const q = `
INSERT INTO call_legs (` + legColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
`
	_, err := r.db.ExecContext(ctx, q,
		l.ID,
		l.SessionID,
		l.BatchID,
		l.LeadID,
		l.RepID,
		l.Direction,
		l.State,
		l.PhoneUsed,
		l.CallerID,
		l.StartedAt,
		l.ConnectedAt,
		l.EndedAt,
		l.LastEventAt,
		l.Bridged,
		l.Dropped,
		l.Held,
		l.DispositionResult,
	)
	return err
}

func (r *PostgresRepo) SaveTransition(ctx context.Context, l Leg, e LegEvent) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		// Terminal rows are frozen; the WHERE clause keeps a late writer from reopening them.
		const upd = `
UPDATE call_legs
SET state = $2, connected_at = $3, ended_at = $4, last_event_at = $5
WHERE id = $1 AND state NOT IN ('completed','no_answer','busy','failed')
`
		res, err := tx.ExecContext(ctx, upd, l.ID, l.State, l.ConnectedAt, l.EndedAt, l.LastEventAt)
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

		const ins = `
INSERT INTO call_leg_events (leg_id, from_state, to_state, occurred_at, source)
VALUES ($1,$2,$3,$4,$5)
`
		_, err = tx.ExecContext(ctx, ins, e.LegID, e.From, e.To, e.OccurredAt, e.Source)
		return err
	})
}

func (r *PostgresRepo) UpdateFlags(ctx context.Context, l Leg) error {
	const q = `UPDATE call_legs SET bridged = $2, dropped = $3, held = $4 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, l.ID, l.Bridged, l.Dropped, l.Held)
	return err
}

func (r *PostgresRepo) SetDisposition(ctx context.Context, legID, result string) error {
	const q = `UPDATE call_legs SET disposition_result = $2 WHERE id = $1 AND disposition_result = ''`
	res, err := r.db.ExecContext(ctx, q, legID, result)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.Get(ctx, legID); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, legID string) (Leg, error) {
	q := `SELECT ` + legColumns + ` FROM call_legs WHERE id = $1`
	l, err := scanLeg(r.db.QueryRowContext(ctx, q, legID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Leg{}, ErrNotFound
		}
		return Leg{}, err
	}
	return l, nil
}

func (r *PostgresRepo) ListByLead(ctx context.Context, leadID string, limit int) ([]Leg, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + legColumns + ` FROM call_legs WHERE lead_id = $1 ORDER BY started_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, leadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Leg
	for rows.Next() {
		l, err := scanLeg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLeg(s rowScanner) (Leg, error) {
	var (
		l           Leg
		connectedAt sql.NullTime
		endedAt     sql.NullTime
	)
	if err := s.Scan(
		&l.ID,
		&l.SessionID,
		&l.BatchID,
		&l.LeadID,
		&l.RepID,
		&l.Direction,
		&l.State,
		&l.PhoneUsed,
		&l.CallerID,
		&l.StartedAt,
		&connectedAt,
		&endedAt,
		&l.LastEventAt,
		&l.Bridged,
		&l.Dropped,
		&l.Held,
		&l.DispositionResult,
	); err != nil {
		return Leg{}, err
	}
	l.ConnectedAt = nullTime(connectedAt)
	l.EndedAt = nullTime(endedAt)
	return l, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
