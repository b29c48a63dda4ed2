package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aligncensus/aligncensus/internal/runs"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping run history db: %w", err)
	}
	return nil
}

// RecordRun inserts run and returns it with the database timestamp. A
// missing run id is generated.
func (r *Repository) RecordRun(ctx context.Context, run runs.Run) (runs.Run, error) {
	if strings.TrimSpace(run.RunID) == "" {
		run.RunID = runs.NewRunID()
	}
	if run.Status == "" {
		return runs.Run{}, fmt.Errorf("run status is required")
	}

	query := `
INSERT INTO census_run (run_id, operation, database_url, variable, predicate, request, status, row_count, error_kind, message, object_key)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING created_at`
	var createdAt time.Time
	if err := r.db.QueryRowContext(ctx, query,
		run.RunID,
		string(run.Operation),
		run.DatabaseURL,
		run.Variable,
		run.Predicate,
		run.Request,
		string(run.Status),
		run.RowCount,
		nullableString(run.ErrorKind),
		nullableString(run.Message),
		nullableString(run.ObjectKey),
	).Scan(&createdAt); err != nil {
		return runs.Run{}, fmt.Errorf("record run: %w", err)
	}
	run.CreatedAt = createdAt
	return run, nil
}

func (r *Repository) GetRun(ctx context.Context, runID string) (runs.Run, error) {
	query := `
SELECT run_id, operation, database_url, variable, predicate, request, status, row_count, error_kind, message, object_key, created_at
FROM census_run
WHERE run_id = $1`
	run, err := scanRun(r.db.QueryRowContext(ctx, query, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return runs.Run{}, runs.ErrNotFound
		}
		return runs.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. Non-positive limits use the
// default and large ones are capped.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]runs.Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT run_id, operation, database_url, variable, predicate, request, status, row_count, error_kind, message, object_key, created_at
FROM census_run
ORDER BY created_at DESC, run_id ASC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]runs.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (runs.Run, error) {
	var (
		run                          runs.Run
		operation, status            string
		errorKind, message, objectKey sql.NullString
	)
	if err := row.Scan(
		&run.RunID,
		&operation,
		&run.DatabaseURL,
		&run.Variable,
		&run.Predicate,
		&run.Request,
		&status,
		&run.RowCount,
		&errorKind,
		&message,
		&objectKey,
		&run.CreatedAt,
	); err != nil {
		return runs.Run{}, err
	}
	run.Operation = runs.Operation(operation)
	run.Status = runs.Status(status)
	run.ErrorKind = errorKind.String
	run.Message = message.String
	run.ObjectKey = objectKey.String
	return run, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
