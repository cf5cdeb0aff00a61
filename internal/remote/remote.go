// Package remote is the adapter over the multi-device board store: a
// row-oriented PostgreSQL table with per-row optimistic version checks.
package remote

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/miokidk/astra-sync/internal/config"
)

// Store wraps the database connection pool
type Store struct {
	Pool   *pgxpool.Pool
	config *config.DatabaseConfig
}

// New creates a new database connection pool
func New(ctx context.Context, cfg *config.DatabaseConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	// Configure pool settings
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("connected to board store",
		"host", cfg.Host,
		"database", cfg.Database)

	return &Store{
		Pool:   pool,
		config: cfg,
	}, nil
}

// Close closes the database connection pool
func (s *Store) Close() {
	if s.Pool != nil {
		s.Pool.Close()
		slog.Info("board store connection closed")
	}
}

// Ping checks if the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

// RunMigrations executes all pending database migrations
func (s *Store) RunMigrations(ctx context.Context, migrationsDir string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	stdDB, err := sql.Open("pgx", s.config.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open stdlib connection: %w", err)
	}
	defer stdDB.Close()

	if err := goose.Up(stdDB, migrationsDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("migrations completed successfully")
	return nil
}

// MigrationStatus returns the current migration status
func (s *Store) MigrationStatus(migrationsDir string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	stdDB, err := sql.Open("pgx", s.config.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open stdlib connection: %w", err)
	}
	defer stdDB.Close()

	return goose.Status(stdDB, migrationsDir)
}

// GetStatus returns row counts and the newest update time for one owner.
func (s *Store) GetStatus(ctx context.Context, ownerID string) (*Status, error) {
	status := &Status{Connected: true}

	var count int
	err := s.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM boards WHERE owner_id = $1", ownerID).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to count boards: %w", err)
	}
	status.TotalBoards = count

	var last *time.Time
	err = s.Pool.QueryRow(ctx,
		"SELECT MAX(updated_at) FROM boards WHERE owner_id = $1", ownerID).Scan(&last)
	if err != nil {
		slog.Warn("failed to get last update time", "error", err)
	}
	status.LastUpdateAt = last

	return status, nil
}
