// Package pgstore mirrors completed catalog runs into Postgres. The
// append-only JSONL ledgers and catalog.json remain the system of
// record (§4.7, §4.8); this mirror is an additive, best-effort surface
// auditors use to query across runs without replaying files from disk.
package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Config holds connection parameters for the catalog mirror.
type Config struct {
	ConnectionString string
	MaxConnections   int32
	ConnectTimeout   time.Duration
	MigrationsPath   string
}

// Store is a connection to the Postgres catalog mirror.
type Store struct {
	pool   *pgxpool.Pool
	config *Config
}

// Open connects to Postgres and returns a Store. It does not run
// migrations; callers invoke Migrate explicitly so schema changes land
// only when intended.
func Open(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil || cfg.ConnectionString == "" {
		return nil, fmt.Errorf("pgstore: connection string is required")
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 10
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.MigrationsPath == "" {
		cfg.MigrationsPath = "file://internal/catalog/pgstore/migrations"
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse connection string: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConnections
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	timeoutCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(timeoutCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("pgstore: create connection pool: %w", err)
	}
	if err := pool.Ping(timeoutCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}

	return &Store{pool: pool, config: cfg}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies every pending migration under config.MigrationsPath.
// golang-migrate drives schema changes through database/sql rather than
// the pgx native pool, so this opens a dedicated connection registered
// under the "pgx" driver name (jackc/pgx/v5/stdlib).
func (s *Store) Migrate(ctx context.Context) error {
	migrationDB, err := sql.Open("pgx", s.config.ConnectionString)
	if err != nil {
		return fmt.Errorf("pgstore: open migration connection: %w", err)
	}
	defer migrationDB.Close()

	driver, err := postgres.WithInstance(migrationDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("pgstore: create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(s.config.MigrationsPath, "pgx", driver)
	if err != nil {
		return fmt.Errorf("pgstore: create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("pgstore: apply migrations: %w", err)
	}
	return nil
}
