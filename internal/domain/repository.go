package domain

import (
	"context"
	"time"
)

// Run is an archived analysis run. The payload is the AnalysisResult the
// engine produced; accounts and transactions themselves are never persisted
// across runs.
type Run struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenantId"`
	Filename  string          `json:"filename"`
	Summary   Summary         `json:"summary"`
	Result    *AnalysisResult `json:"result,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Repository defines the interface for run archival.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// SaveRun archives a completed analysis run.
	SaveRun(ctx context.Context, tenantID string, run *Run) error

	// GetRun retrieves an archived run, payload included.
	GetRun(ctx context.Context, tenantID string, runID string) (*Run, error)

	// ListRuns returns run headers (no payload) newest first.
	ListRuns(ctx context.Context, tenantID string, limit int) ([]*Run, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
