// Package migration upgrades the asset database schema one version at a
// time. Every step runs on a dedicated connection holding an exclusive lock
// on the store, so no other connection observes a half-rewritten layout.
package migration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/Combine-Capital/assetdb/internal/metrics"
	"github.com/Combine-Capital/assetdb/internal/repository"
)

// LatestVersion is the schema version the repository operates on.
const LatestVersion = 3

var (
	stepCounter     *prometheus.CounterVec
	metricsInitOnce sync.Once
)

func initMigrationMetrics() {
	metricsInitOnce.Do(func() {
		stepCounter = metrics.NewCounterVec(metrics.CounterOpts{
			Subsystem: "migration",
			Name:      "steps_total",
			Help:      "Total number of migration steps run, by step and outcome",
			Labels:    []string{"step", "outcome"},
		})
	})
}

// Step transforms the store from version From to From+1.
type Step struct {
	From  int
	Name  string
	Apply func(ctx context.Context, tx *Tx) error
}

// DefaultSteps returns the registered steps in version order.
func DefaultSteps() []Step {
	return []Step{
		{From: 0, Name: "bootstrap legacy layout", Apply: bootstrapLegacyLayout},
		{From: 1, Name: "canonical identifiers", Apply: canonicalIdentifiers},
		{From: 2, Name: "composition hardening", Apply: hardenComposition},
	}
}

// Migrator runs the registered steps against a store.
type Migrator struct {
	db     *sqlx.DB
	steps  []Step
	logger zerolog.Logger
}

// NewMigrator creates a migrator. Steps must be contiguous starting at
// version 0; DefaultSteps is used when none are given.
func NewMigrator(db *sqlx.DB, logger zerolog.Logger, steps ...Step) (*Migrator, error) {
	if len(steps) == 0 {
		steps = DefaultSteps()
	}
	for i, step := range steps {
		if step.From != i {
			return nil, fmt.Errorf("migration step %q starts at version %d, want %d", step.Name, step.From, i)
		}
		if step.Apply == nil {
			return nil, fmt.Errorf("migration step %q has no transformation", step.Name)
		}
	}
	return &Migrator{
		db:     db,
		steps:  steps,
		logger: logger.With().Str("component", "migration").Logger(),
	}, nil
}

// MigrateTo applies every pending step up to target, committing each one
// separately, and returns the resulting version. A failing step is rolled
// back and reported as a *MigrationError; the store keeps the last committed
// version and nothing is retried.
func (m *Migrator) MigrateTo(ctx context.Context, target int) (int, error) {
	initMigrationMetrics()

	current, err := repository.ReadSchemaVersion(ctx, m.db)
	if err != nil {
		return 0, &MigrationError{Err: err}
	}
	if current > len(m.steps) {
		return current, &MigrationError{Version: current, Err: fmt.Errorf("%w: store is at version %d, latest known is %d",
			ErrSchemaTooNew, current, len(m.steps))}
	}
	if target > len(m.steps) {
		return current, &MigrationError{Version: current, Err: fmt.Errorf("unknown target schema version %d", target)}
	}
	if current >= target {
		m.logger.Debug().Int("version", current).Int("target", target).Msg("schema up to date")
		return current, nil
	}

	runID := uuid.NewString()
	logger := m.logger.With().Str("run_id", runID).Logger()
	logger.Info().Int("from", current).Int("to", target).Msg("migrating schema")

	for current < target {
		step := m.steps[current]
		start := time.Now()
		if err := m.runStep(ctx, runID, step, logger); err != nil {
			stepCounter.WithLabelValues(step.Name, "failed").Inc()
			logger.Error().Err(err).Int("version", current).Str("step", step.Name).Msg("migration step failed")
			return current, &MigrationError{Version: current, Step: step.Name, Err: err}
		}
		stepCounter.WithLabelValues(step.Name, "applied").Inc()
		current++
		logger.Info().
			Int("version", current).
			Str("step", step.Name).
			Dur("duration", time.Since(start)).
			Msg("migration step applied")
	}
	return current, nil
}

func (m *Migrator) runStep(ctx context.Context, runID string, step Step, logger zerolog.Logger) (err error) {
	conn, err := m.db.Connx(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	// Table rebuilds need foreign keys off; the pragma is ignored inside a
	// transaction, so it is toggled around it.
	if _, err := conn.ExecContext(ctx, `PRAGMA foreign_keys = OFF`); err != nil {
		return fmt.Errorf("disable foreign keys: %w", err)
	}
	defer func() {
		if _, fkErr := conn.ExecContext(context.WithoutCancel(ctx), `PRAGMA foreign_keys = ON`); fkErr != nil && err == nil {
			err = fmt.Errorf("enable foreign keys: %w", fkErr)
		}
	}()

	if _, err := conn.ExecContext(ctx, `BEGIN EXCLUSIVE`); err != nil {
		return fmt.Errorf("lock store: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if _, rbErr := conn.ExecContext(context.WithoutCancel(ctx), `ROLLBACK`); rbErr != nil {
			logger.Error().Err(rbErr).Str("step", step.Name).Msg("rollback failed")
		}
	}()

	// Another process may have advanced the store while we waited for the lock.
	version, err := repository.ReadSchemaVersion(ctx, conn)
	if err != nil {
		return err
	}
	if version != step.From {
		return fmt.Errorf("store moved to version %d while waiting for the lock", version)
	}

	tx := &Tx{
		conn:    conn,
		runID:   runID,
		version: step.From + 1,
		logger:  logger.With().Int("version", step.From+1).Logger(),
	}
	if err := step.Apply(ctx, tx); err != nil {
		return err
	}
	if err := writeVersion(ctx, conn, step.From+1); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true

	if tx.reviews > 0 {
		logger.Warn().
			Int("version", step.From+1).
			Int("reviews", tx.reviews).
			Msg("migration left rows for manual review")
	}
	return nil
}

func writeVersion(ctx context.Context, conn *sqlx.Conn, version int) error {
	if _, err := conn.ExecContext(ctx, `DELETE FROM schema_metadata`); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `INSERT INTO schema_metadata (version) VALUES (?)`, version); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	return nil
}

// OpenAndMigrate brings the store to target and returns a repository on it.
// The repository operations expect LatestVersion; lower targets are meant for
// staged upgrades.
func OpenAndMigrate(ctx context.Context, db *sqlx.DB, target int, logger zerolog.Logger) (*repository.SQLiteRepository, error) {
	migrator, err := NewMigrator(db, logger)
	if err != nil {
		return nil, err
	}
	if _, err := migrator.MigrateTo(ctx, target); err != nil {
		return nil, err
	}
	return repository.NewSQLiteRepository(db, logger), nil
}

// Tx is the locked connection a step runs on.
type Tx struct {
	conn    *sqlx.Conn
	runID   string
	version int
	logger  zerolog.Logger
	reviews int
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return tx.conn.ExecContext(ctx, query, args...)
}

func (tx *Tx) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return tx.conn.SelectContext(ctx, dest, query, args...)
}

func (tx *Tx) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return tx.conn.GetContext(ctx, dest, query, args...)
}

// Preparex prepares a statement for bulk inserts.
func (tx *Tx) Preparex(ctx context.Context, query string) (*sqlx.Stmt, error) {
	return sqlx.PreparexContext(ctx, tx.conn, query)
}

// Exec runs a list of statements in order.
func (tx *Tx) Exec(ctx context.Context, statements ...string) error {
	for _, stmt := range statements {
		if _, err := tx.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// Review records a row the step could not carry over cleanly.
func (tx *Tx) Review(ctx context.Context, table, rowKey, reference, reason string) error {
	tx.reviews++
	tx.logger.Warn().
		Str("table", table).
		Str("row", rowKey).
		Str("reference", reference).
		Str("reason", reason).
		Msg("row flagged for manual review")
	return repository.InsertMigrationReview(ctx, tx.conn, repository.MigrationReview{
		ID:        uuid.NewString(),
		RunID:     tx.runID,
		Version:   tx.version,
		Table:     table,
		RowKey:    rowKey,
		Reference: reference,
		Reason:    reason,
	})
}

func firstLine(stmt string) string {
	for _, line := range strings.Split(stmt, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
