package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

const schema = `CREATE TABLE IF NOT EXISTS publish_runs (
	run_id      TEXT PRIMARY KEY,
	workspace   TEXT NOT NULL,
	environment TEXT NOT NULL,
	package     TEXT NOT NULL,
	version     TEXT NOT NULL DEFAULT '',
	filename    TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
)`

// PostgresStore implements Store using Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a new store with an existing *sql.DB.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects to dsn and ensures the history table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	p := NewPostgres(db)
	if err := p.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// Migrate creates the history table if needed.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate publish_runs: %w", err)
	}
	return nil
}

func (p *PostgresStore) RecordRun(ctx context.Context, run Run) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO publish_runs
		(run_id, workspace, environment, package, version, filename, status, detail, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id) DO UPDATE SET
			filename = EXCLUDED.filename, status = EXCLUDED.status,
			detail = EXCLUDED.detail, finished_at = EXCLUDED.finished_at`,
		run.RunID, run.Workspace, run.Environment, run.Package, run.Version, run.Filename,
		run.Status, run.Detail, run.StartedAt, run.FinishedAt)
	return err
}

func (p *PostgresStore) Recent(ctx context.Context, pkg string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.db.QueryContext(ctx, `SELECT run_id, workspace, environment, package, version, filename,
		status, detail, started_at, finished_at
		FROM publish_runs WHERE ($1 = '' OR package = $1)
		ORDER BY started_at DESC LIMIT $2`, pkg, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.Workspace, &r.Environment, &r.Package, &r.Version, &r.Filename,
			&r.Status, &r.Detail, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Close() error { return p.db.Close() }
