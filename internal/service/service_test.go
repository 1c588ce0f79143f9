package service

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Combine-Capital/assetdb/internal/asset"
	"github.com/Combine-Capital/assetdb/internal/config"
	"github.com/Combine-Capital/assetdb/internal/manager"
	"github.com/Combine-Capital/assetdb/internal/migration"
	"github.com/Combine-Capital/assetdb/internal/repository"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "global.db"), BusyTimeout: time.Second},
		Oracle:   config.OracleConfig{Provider: "none"},
		Log:      config.LogConfig{Level: "info", Format: "json"},
		Metrics:  config.MetricsConfig{Addr: "127.0.0.1:0"},
	}
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	svc := New(cfg, zerolog.Nop())
	require.NoError(t, svc.Start(ctx))

	require.NoError(t, svc.Health(ctx))
	assert.Equal(t, "assetdb", svc.Name())

	version, err := svc.Repository().SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, migration.LatestVersion, version)

	eighteen := uint8(18)
	dai, err := svc.Assets().GetOrCreateChainToken(ctx, manager.ChainTokenAttributes{
		Chain:    asset.ChainEthereum,
		Kind:     asset.ERC20,
		Address:  common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
		Name:     "Dai Stablecoin",
		Symbol:   "DAI",
		Decimals: &eighteen,
	})
	require.NoError(t, err)
	require.NotNil(t, svc.Vaults())

	base := "http://" + svc.HTTPAddr()
	status, body := get(t, base+"/health/ready")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"ready"`)

	status, body = get(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "assetdb_resolver_created_total")

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(stopCtx))
	assert.Error(t, svc.Health(ctx), "store is closed after stop")

	// the index is flushed on stop
	db, err := repository.Open(ctx, cfg.Database.Path, time.Second)
	require.NoError(t, err)
	defer db.Close()
	owned, err := repository.NewSQLiteRepository(db, zerolog.Nop()).ListUserOwnedAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{dai.Identifier}, owned)
}

func TestService_TargetVersion(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Database.TargetVersion = migration.LatestVersion
	cfg.Metrics.Addr = ""

	svc := New(cfg, zerolog.Nop())
	require.NoError(t, svc.Start(ctx))
	defer svc.Stop(ctx)

	version, err := repository.ReadSchemaVersion(ctx, svc.db)
	require.NoError(t, err)
	assert.Equal(t, migration.LatestVersion, version)
	assert.Empty(t, svc.HTTPAddr())
}

func TestService_StaleTargetVersionFails(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Database.TargetVersion = migration.LatestVersion - 1
	cfg.Metrics.Addr = ""

	svc := New(cfg, zerolog.Nop())
	err := svc.Start(ctx)
	assert.ErrorContains(t, err, "target schema version")
	assert.Nil(t, svc.db)
	assert.NoFileExists(t, cfg.Database.Path, "the store is not touched")
}

func TestService_StartFailsWithoutCache(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Metrics.Addr = ""
	cfg.Cache = config.CacheConfig{Enabled: true, Addrs: []string{"127.0.0.1:1"}, TTL: time.Minute}

	svc := New(cfg, zerolog.Nop())
	err := svc.Start(ctx)
	assert.ErrorContains(t, err, "cache")
	assert.Nil(t, svc.db, "store is closed when start fails")
}

func TestService_HandlerWithoutStore(t *testing.T) {
	svc := New(testConfig(t), zerolog.Nop())
	assert.Error(t, svc.Health(context.Background()))
}
