// Package repository provides the run archive.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers. Only run results are
// archived; raw accounts and transactions never outlive a run.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun archives a completed analysis run with tenant isolation.
func (r *SQLRepository) SaveRun(ctx context.Context, tenantID string, run *domain.Run) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(run.Result)
	if err != nil {
		return fmt.Errorf("failed to encode run payload: %w", err)
	}

	query := `
		INSERT INTO runs (
			id, tenant_id, filename,
			total_accounts, suspicious_accounts, fraud_rings, processing_seconds,
			payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		run.ID, tenantID, run.Filename,
		run.Summary.TotalAccounts, run.Summary.SuspiciousAccounts,
		run.Summary.FraudRings, run.Summary.ProcessingTimeSecs,
		string(payload), run.CreatedAt,
	)
	return err
}

// GetRun retrieves an archived run, payload included.
func (r *SQLRepository) GetRun(ctx context.Context, tenantID string, runID string) (*domain.Run, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, filename,
			   total_accounts, suspicious_accounts, fraud_rings, processing_seconds,
			   payload, created_at
		FROM runs
		WHERE tenant_id = ? AND id = ?
	`

	var run domain.Run
	var payload string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, runID).Scan(
		&run.ID, &run.TenantID, &run.Filename,
		&run.Summary.TotalAccounts, &run.Summary.SuspiciousAccounts,
		&run.Summary.FraudRings, &run.Summary.ProcessingTimeSecs,
		&payload, &run.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if payload != "" && payload != "null" {
		var result domain.AnalysisResult
		if err := json.Unmarshal([]byte(payload), &result); err != nil {
			return nil, fmt.Errorf("failed to decode run payload: %w", err)
		}
		run.Result = &result
	}

	return &run, nil
}

// ListRuns returns run headers, newest first, without payloads.
func (r *SQLRepository) ListRuns(ctx context.Context, tenantID string, limit int) ([]*domain.Run, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, tenant_id, filename,
			   total_accounts, suspicious_accounts, fraud_rings, processing_seconds,
			   created_at
		FROM runs
		WHERE tenant_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		var run domain.Run
		if err := rows.Scan(
			&run.ID, &run.TenantID, &run.Filename,
			&run.Summary.TotalAccounts, &run.Summary.SuspiciousAccounts,
			&run.Summary.FraudRings, &run.Summary.ProcessingTimeSecs,
			&run.CreatedAt,
		); err != nil {
			return nil, err
		}
		runs = append(runs, &run)
	}

	return runs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
