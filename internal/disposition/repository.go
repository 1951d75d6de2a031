package disposition

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"power-dialer/pkg/utils"
)

// Repository stores dispositions and callback schedules.
type Repository interface {
	// InsertDisposition returns ErrAlreadyDispositioned when the leg already has one.
	InsertDisposition(ctx context.Context, d Disposition) error
	GetByLeg(ctx context.Context, legID string) (Disposition, error)
	ListByLead(ctx context.Context, leadID string, limit int) ([]Disposition, error)

	// ReplacePendingCallback cancels the lead's other pending callbacks and inserts cb, atomically.
	ReplacePendingCallback(ctx context.Context, cb Callback) (cancelled int, err error)
	CancelPendingForLead(ctx context.Context, leadID string, at time.Time) (int, error)
	GetCallback(ctx context.Context, id string) (Callback, error)
	// TransitionCallback moves a callback out of pending. ErrCallbackNotPending if it already left.
	TransitionCallback(ctx context.Context, id string, to CallbackStatus, callID string, at time.Time) (Callback, error)
	ListPendingForLeads(ctx context.Context, leadIDs []string) ([]Callback, error)
	ListPendingForRep(ctx context.Context, repID string) ([]Callback, error)
	// ListPendingDue returns pending callbacks scheduled at or before before.
	ListPendingDue(ctx context.Context, before time.Time, limit int) ([]Callback, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const dispositionColumns = `id, leg_id, lead_id, rep_id, session_id, outcome, notes, auto, created_at`

func (r *PostgresRepo) InsertDisposition(ctx context.Context, d Disposition) error {
	const q = `
INSERT INTO dispositions (` + dispositionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`
	_, err := r.db.ExecContext(ctx, q, d.ID, d.LegID, d.LeadID, d.RepID, d.SessionID, d.Outcome, d.Notes, d.Auto, d.CreatedAt)
	if utils.IsUniqueViolation(err) {
		return ErrAlreadyDispositioned
	}
	return err
}

func (r *PostgresRepo) GetByLeg(ctx context.Context, legID string) (Disposition, error) {
	q := `SELECT ` + dispositionColumns + ` FROM dispositions WHERE leg_id = $1`
	var d Disposition
	err := r.db.QueryRowContext(ctx, q, legID).Scan(
		&d.ID, &d.LegID, &d.LeadID, &d.RepID, &d.SessionID, &d.Outcome, &d.Notes, &d.Auto, &d.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Disposition{}, ErrNotFound
	}
	return d, err
}

func (r *PostgresRepo) ListByLead(ctx context.Context, leadID string, limit int) ([]Disposition, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + dispositionColumns + ` FROM dispositions WHERE lead_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, leadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Disposition
	for rows.Next() {
		var d Disposition
		if err := rows.Scan(&d.ID, &d.LegID, &d.LeadID, &d.RepID, &d.SessionID, &d.Outcome, &d.Notes, &d.Auto, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const callbackColumns = `id, lead_id, rep_id, scheduled_at, status, notes, call_id, created_at, updated_at`

func (r *PostgresRepo) ReplacePendingCallback(ctx context.Context, cb Callback) (int, error) {
	var cancelled int
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const cancel = `
UPDATE callback_schedules SET status = 'cancelled', updated_at = $2
WHERE lead_id = $1 AND status = 'pending'
`
		res, err := tx.ExecContext(ctx, cancel, cb.LeadID, cb.CreatedAt)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		cancelled = int(n)

		const ins = `
INSERT INTO callback_schedules (` + callbackColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`
		_, err = tx.ExecContext(ctx, ins,
			cb.ID, cb.LeadID, cb.RepID, cb.ScheduledAt, cb.Status, cb.Notes, cb.CallID, cb.CreatedAt, cb.UpdatedAt)
		return err
	})
	return cancelled, err
}

func (r *PostgresRepo) CancelPendingForLead(ctx context.Context, leadID string, at time.Time) (int, error) {
	const q = `
UPDATE callback_schedules SET status = 'cancelled', updated_at = $2
WHERE lead_id = $1 AND status = 'pending'
`
	res, err := r.db.ExecContext(ctx, q, leadID, at)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *PostgresRepo) GetCallback(ctx context.Context, id string) (Callback, error) {
	q := `SELECT ` + callbackColumns + ` FROM callback_schedules WHERE id = $1`
	cb, err := scanCallback(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Callback{}, ErrNotFound
	}
	return cb, err
}

func (r *PostgresRepo) TransitionCallback(ctx context.Context, id string, to CallbackStatus, callID string, at time.Time) (Callback, error) {
	q := `
UPDATE callback_schedules
SET status = $2, call_id = CASE WHEN $3 = '' THEN call_id ELSE $3 END, updated_at = $4
WHERE id = $1 AND status = 'pending'
RETURNING ` + callbackColumns
	cb, err := scanCallback(r.db.QueryRowContext(ctx, q, id, to, callID, at))
	if errors.Is(err, sql.ErrNoRows) {
		if _, gerr := r.GetCallback(ctx, id); gerr != nil {
			return Callback{}, gerr
		}
		return Callback{}, ErrCallbackNotPending
	}
	return cb, err
}

func (r *PostgresRepo) ListPendingForLeads(ctx context.Context, leadIDs []string) ([]Callback, error) {
	if len(leadIDs) == 0 {
		return nil, nil
	}
	q := `SELECT ` + callbackColumns + ` FROM callback_schedules WHERE status = 'pending' AND lead_id = ANY($1)`
	return r.list(ctx, q, leadIDs)
}

func (r *PostgresRepo) ListPendingForRep(ctx context.Context, repID string) ([]Callback, error) {
	q := `SELECT ` + callbackColumns + ` FROM callback_schedules WHERE status = 'pending' AND rep_id = $1 ORDER BY scheduled_at`
	return r.list(ctx, q, repID)
}

func (r *PostgresRepo) ListPendingDue(ctx context.Context, before time.Time, limit int) ([]Callback, error) {
	if limit <= 0 {
		limit = 500
	}
	q := `SELECT ` + callbackColumns + ` FROM callback_schedules WHERE status = 'pending' AND scheduled_at <= $1 ORDER BY scheduled_at LIMIT $2`
	return r.list(ctx, q, before, limit)
}

func (r *PostgresRepo) list(ctx context.Context, q string, args ...any) ([]Callback, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Callback
	for rows.Next() {
		cb, err := scanCallback(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cb)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCallback(s rowScanner) (Callback, error) {
	var cb Callback
	err := s.Scan(&cb.ID, &cb.LeadID, &cb.RepID, &cb.ScheduledAt, &cb.Status, &cb.Notes, &cb.CallID, &cb.CreatedAt, &cb.UpdatedAt)
	return cb, err
}
