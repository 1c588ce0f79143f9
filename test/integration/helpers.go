package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Combine-Capital/assetdb/internal/config"
	"github.com/Combine-Capital/assetdb/internal/migration"
	"github.com/Combine-Capital/assetdb/internal/repository"
	"github.com/Combine-Capital/assetdb/internal/service"
)

const (
	daiAddress   = "0x6B175474E89094C44Da98b954EedeAC495271d0F"
	yvDAIAddress = "0xdA816459F1AB5631232FE5e97a05BBBb94970c95"
	usdcAddress  = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
)

// TestFixture holds a started service over a temporary store file
type TestFixture struct {
	Service *service.Service
	Config  *config.Config
	Ctx     context.Context
	Cancel  context.CancelFunc
	stopped bool
}

// NewTestFixture starts a service over the store at dbPath. Options adjust
// the configuration before start.
func NewTestFixture(t *testing.T, dbPath string, opts ...func(*config.Config)) *TestFixture {
	t.Helper()

	cfg := loadTestConfig(dbPath)
	for _, opt := range opts {
		opt(cfg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	svc := service.New(cfg, zerolog.Nop())
	if err := svc.Start(ctx); err != nil {
		cancel()
		require.NoError(t, err, "Failed to start service")
	}

	f := &TestFixture{
		Service: svc,
		Config:  cfg,
		Ctx:     ctx,
		Cancel:  cancel,
	}
	t.Cleanup(func() { f.Cleanup(t) })
	return f
}

// Stop shuts the service down, flushing the user asset index.
func (f *TestFixture) Stop(t *testing.T) {
	t.Helper()
	if f.stopped {
		return
	}
	f.stopped = true
	require.NoError(t, f.Service.Stop(f.Ctx))
}

// Cleanup tears down all test resources
func (f *TestFixture) Cleanup(t *testing.T) {
	t.Helper()
	if !f.stopped {
		f.stopped = true
		_ = f.Service.Stop(context.Background())
	}
	if f.Cancel != nil {
		f.Cancel()
	}
}

// loadTestConfig builds the configuration for a test store. Setting
// TEST_REDIS_ADDR runs the service with the Redis cache enabled.
func loadTestConfig(dbPath string) *config.Config {
	cfg := &config.Config{
		Database: config.DatabaseConfig{Path: dbPath, BusyTimeout: 5 * time.Second},
		Oracle:   config.OracleConfig{Provider: "none"},
		Log:      config.LogConfig{Level: "info", Format: "json"},
	}
	if addr := getEnvOrDefault("TEST_REDIS_ADDR", ""); addr != "" {
		cfg.Cache = config.CacheConfig{Enabled: true, Addrs: []string{addr}, TTL: time.Minute}
	}
	return cfg
}

// newLegacyStore creates a version 1 store file filled by statements and
// returns its path.
func newLegacyStore(t *testing.T, statements ...string) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "global.db")

	db, err := repository.Open(ctx, path, 5*time.Second)
	require.NoError(t, err)
	defer db.Close()

	m, err := migration.NewMigrator(db, zerolog.Nop())
	require.NoError(t, err)
	_, err = m.MigrateTo(ctx, 1)
	require.NoError(t, err)

	for _, stmt := range statements {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}
	return path
}

// openStore reopens a store file after the service stopped.
func openStore(t *testing.T, path string) (*sqlx.DB, *repository.SQLiteRepository) {
	t.Helper()
	db, err := repository.Open(context.Background(), path, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, repository.NewSQLiteRepository(db, zerolog.Nop())
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func ptrUint8(d uint8) *uint8 {
	return &d
}
