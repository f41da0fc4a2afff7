// Package mysql implements the storage interface on a MySQL server.
// It is the shared-server counterpart of the sqlite backend: the same
// schema shape and sentinel mapping, with InnoDB row locks standing in
// for the single-writer database lock. Requires MySQL 8.0.19 or newer
// (upsert row aliases, enforced CHECK constraints).
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/thinktank-hq/notebook/internal/storage"
)

// Verify Store implements storage.Storage at compile time.
var _ storage.Storage = (*Store)(nil)

// Store implements the storage interface on one MySQL database.
type Store struct {
	db     *sql.DB
	addr   string
	closed atomic.Bool
}

// New connects to the database named by dsn (go-sql-driver syntax) and
// initializes the schema. Timestamps are stored and read as UTC
// regardless of server or session zone.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	// RowsAffected must count matched rows, not changed rows: targeted
	// updates map zero rows to ErrNotFound, and an update that rewrites
	// a row with identical values is still a hit.
	cfg.ClientFoundRows = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(4 * runtime.NumCPU())
	db.SetMaxIdleConns(runtime.NumCPU())
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
	}

	return &Store{db: db, addr: cfg.Addr + "/" + cfg.DBName}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.closed.Store(true)
	return s.db.Close()
}

// Ping reports whether the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Addr returns "host:port/database" for logs and diagnostics.
func (s *Store) Addr() string {
	return s.addr
}

// IsClosed returns true once Close has been called.
func (s *Store) IsClosed() bool {
	return s.closed.Load()
}
