package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DriverName is the database/sql driver the store is opened with.
const DriverName = "sqlite3"

// querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// SQLiteRepository implements the Repository interface on an embedded SQLite file.
type SQLiteRepository struct {
	db     *sqlx.DB
	q      querier
	tx     *sqlx.Tx
	logger zerolog.Logger
}

// DSN builds the connection string for a store file. Every connection enforces
// foreign keys and takes the write lock when a transaction begins. The store
// keeps a rollback journal: in WAL mode an exclusive transaction would not
// keep readers out during a migration.
func DSN(path string, busyTimeout time.Duration) string {
	params := url.Values{}
	params.Set("_foreign_keys", "1")
	params.Set("_busy_timeout", fmt.Sprintf("%d", busyTimeout.Milliseconds()))
	params.Set("_journal_mode", "DELETE")
	params.Set("_txlock", "immediate")
	return "file:" + path + "?" + params.Encode()
}

// Open opens the store file at path. The schema is not touched; use the
// migration package to bring it to the latest version.
func Open(ctx context.Context, path string, busyTimeout time.Duration) (*sqlx.DB, error) {
	db, err := sqlx.Open(DriverName, DSN(path, busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database %s: %w", path, err)
	}
	return db, nil
}

// NewSQLiteRepository creates a repository on an already migrated database.
func NewSQLiteRepository(db *sqlx.DB, logger zerolog.Logger) *SQLiteRepository {
	return &SQLiteRepository{
		db:     db,
		q:      db,
		logger: logger.With().Str("component", "repository").Logger(),
	}
}

// WithTransaction executes a function within a database transaction.
// If the function returns an error or panics, the transaction is rolled back.
// Otherwise, the transaction is committed. Nested calls join the outer transaction.
func (r *SQLiteRepository) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	return r.inTx(ctx, func(tx *SQLiteRepository) error {
		return fn(tx)
	})
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(tx *SQLiteRepository) error) (err error) {
	if r.tx != nil {
		return fn(r)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.logger.Error().Err(rbErr).Msg("rollback failed")
		}
	}()

	txRepo := &SQLiteRepository{db: r.db, q: tx, tx: tx, logger: r.logger}
	if err = fn(txRepo); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// InTransaction reports whether the repository is bound to a transaction.
func (r *SQLiteRepository) InTransaction() bool {
	return r.tx != nil
}

// Ping checks the database connection
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// SchemaVersion returns the version recorded in schema_metadata.
func (r *SQLiteRepository) SchemaVersion(ctx context.Context) (int, error) {
	return ReadSchemaVersion(ctx, r.q)
}

// ReadSchemaVersion reads the schema version through q. A store without a
// schema_metadata table is at version 0.
func ReadSchemaVersion(ctx context.Context, q sqlx.QueryerContext) (int, error) {
	var tables int
	err := q.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_metadata'`,
	).Scan(&tables)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if tables == 0 {
		return 0, nil
	}

	var version int
	err = q.QueryRowxContext(ctx, `SELECT version FROM schema_metadata LIMIT 1`).Scan(&version)
	if isNoRows(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
