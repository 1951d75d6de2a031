package utils

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

// Migrate applies all pending goose migrations found in fsys.
// fsys is expected to hold the *.sql files at its root.
func Migrate(ctx context.Context, db *sql.DB, fsys fs.FS, log *slog.Logger) error {
	if db == nil {
		return fmt.Errorf("db is nil")
	}
	if log == nil {
		log = slog.Default()
	}

	p, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("migrations init failed: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	for _, r := range results {
		log.Info("migration applied", "source", r.Source.Path, "duration_ms", r.Duration.Milliseconds())
	}
	return nil
}
