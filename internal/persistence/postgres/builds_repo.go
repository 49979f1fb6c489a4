// Package postgres implements the build ledger on PostgreSQL via sqlx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/bigpulp/valuemodel/internal/persistence"
)

const defaultTimeout = 10 * time.Second

// buildRepo implements persistence.BuildRepo for PostgreSQL.
type buildRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects to the ledger database and ensures the schema exists.
func Open(dsn string) (persistence.BuildRepo, func() error, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping ledger database: %w", err)
	}

	repo := &buildRepo{db: db, timeout: defaultTimeout}
	if err := repo.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return repo, db.Close, nil
}

func (r *buildRepo) ensureSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS value_model_builds (
			build_id           TEXT PRIMARY KEY,
			generated_at       TIMESTAMPTZ NOT NULL,
			schema_version     INT NOT NULL,
			metadata_hash      TEXT NOT NULL,
			offers_hash        TEXT NOT NULL,
			sales_hash         TEXT NOT NULL,
			artifact_hash      TEXT NOT NULL,
			ask_count          INT NOT NULL,
			sale_count         INT NOT NULL,
			sales_mapping_rate DOUBLE PRECISION NOT NULL,
			is_healthy         BOOLEAN NOT NULL,
			created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure ledger schema: %w", err)
	}
	return nil
}

// Record inserts one completed build into the ledger.
func (r *buildRepo) Record(ctx context.Context, rec persistence.BuildRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO value_model_builds
		(build_id, generated_at, schema_version, metadata_hash, offers_hash,
		 sales_hash, artifact_hash, ask_count, sale_count, sales_mapping_rate, is_healthy)
		VALUES (:build_id, :generated_at, :schema_version, :metadata_hash, :offers_hash,
		 :sales_hash, :artifact_hash, :ask_count, :sale_count, :sales_mapping_rate, :is_healthy)`

	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to record build %s: %w", rec.BuildID, err)
	}
	return nil
}
