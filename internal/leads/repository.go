package leads

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository is the read side of the CRM plus the two writes the dialer owns.
type Repository interface {
	Get(ctx context.Context, id string) (Lead, error)
	ListAssigned(ctx context.Context, repID string) ([]Lead, error)
	FindByPhone(ctx context.Context, phone string) (Lead, error)
	MarkDoNotContact(ctx context.Context, id string, at time.Time) error
	TouchContact(ctx context.Context, id string, at time.Time) error
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const leadColumns = `id, rep_id, name, phone, priority, temperature, status, do_not_contact,
engagement_score, created_at, last_contacted_at`

func (r *PostgresRepo) Get(ctx context.Context, id string) (Lead, error) {
	q := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`
	return r.one(ctx, q, id)
}

func (r *PostgresRepo) FindByPhone(ctx context.Context, phone string) (Lead, error) {
	q := `SELECT ` + leadColumns + ` FROM leads WHERE phone = $1 ORDER BY created_at DESC LIMIT 1`
	return r.one(ctx, q, phone)
}

func (r *PostgresRepo) ListAssigned(ctx context.Context, repID string) ([]Lead, error) {
	q := `SELECT ` + leadColumns + ` FROM leads WHERE rep_id = $1`
	rows, err := r.db.QueryContext(ctx, q, repID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) MarkDoNotContact(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE leads SET do_not_contact = TRUE, last_contacted_at = $2 WHERE id = $1`
	return r.exec(ctx, q, id, at)
}

func (r *PostgresRepo) TouchContact(ctx context.Context, id string, at time.Time) error {
	const q = `
UPDATE leads
SET last_contacted_at = $2,
    status = CASE WHEN status = 'new' THEN 'contacted' ELSE status END
WHERE id = $1
`
	return r.exec(ctx, q, id, at)
}

func (r *PostgresRepo) one(ctx context.Context, q string, arg string) (Lead, error) {
	l, err := scanLead(r.db.QueryRowContext(ctx, q, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, err
	}
	return l, nil
}

func (r *PostgresRepo) exec(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(s rowScanner) (Lead, error) {
	var (
		l    Lead
		last sql.NullTime
	)
	if err := s.Scan(
		&l.ID,
		&l.RepID,
		&l.Name,
		&l.Phone,
		&l.Priority,
		&l.Temperature,
		&l.Status,
		&l.DoNotContact,
		&l.EngagementScore,
		&l.CreatedAt,
		&last,
	); err != nil {
		return Lead{}, err
	}
	if last.Valid {
		t := last.Time
		l.LastContactedAt = &t
	}
	return l, nil
}
