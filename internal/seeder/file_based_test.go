package seeder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Combine-Capital/assetdb/internal/asset"
	"github.com/Combine-Capital/assetdb/internal/manager"
	"github.com/Combine-Capital/assetdb/internal/migration"
	"github.com/Combine-Capital/assetdb/internal/repository"
)

const (
	daiID  = "eip155:1/ERC20:0x6B175474E89094C44Da98b954EedeAC495271d0F"
	usdcID = "eip155:1/ERC20:0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	lpID   = "eip155:1/ERC20:0xAE461cA67B15dc8dc81CE7615e0320dA1A9aB8D5"
)

const assetsJSON = `[
	{"id": "EUR", "symbol": "EUR", "name": "Euro", "type": "A"},
	{"id": "BTC", "symbol": "BTC", "name": "Bitcoin", "type": "own chain", "started": 1231006505, "coingecko": "bitcoin"},
	{"id": "BCH", "symbol": "BCH", "name": "Bitcoin Cash", "type": "B", "forked": "BTC"},
	{"id": "WAT", "symbol": "WAT", "name": "Unknown type", "type": "spaceship"}
]`

const tokensJSON = `[
	{"chain": 1, "address": "0x6b175474e89094c44da98b954eedeac495271d0f", "symbol": "DAI", "name": "Dai Stablecoin", "decimals": 18},
	{"chain": 1, "kind": "erc20", "address": "0xae461ca67b15dc8dc81ce7615e0320da1a9ab8d5", "symbol": "UNI-V2", "name": "Uniswap V2", "decimals": 18,
	 "protocol": "uniswap", "underlying": [
		{"identifier": "eip155:1/ERC20:0x6B175474E89094C44Da98b954EedeAC495271d0F", "weight": "0.5"},
		{"identifier": "eip155:1/ERC20:0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "weight": "0.5"}
	]},
	{"chain": 1, "address": "0x123", "symbol": "BAD", "name": "Bad address", "decimals": 18},
	{"chain": 1, "address": "0x0000000000000000000000000000000000000001", "symbol": "BIG", "name": "Too precise", "decimals": 300}
]`

func writeDataDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

func newTestManager(t *testing.T) *manager.AssetManager {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(ctx, filepath.Join(t.TempDir(), "global.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo, err := migration.OpenAndMigrate(ctx, db, migration.LatestVersion, zerolog.Nop())
	require.NoError(t, err)
	return manager.NewAssetManager(repo, nil, nil, zerolog.Nop())
}

func TestFileBasedSeeder_SeedAll(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	dir := writeDataDir(t, map[string]string{assetsFileName: assetsJSON, tokensFileName: tokensJSON})
	s := NewFileBasedSeeder(m, dir, zerolog.Nop())

	result, err := s.SeedAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, result.TotalProcessed)
	assert.Equal(t, 5, result.Succeeded)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 3, result.Failed)
	require.Len(t, result.Errors, 3)
	assert.Equal(t, "WAT", result.Errors[0].Entity)

	btc, err := m.GetAsset(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, asset.TypeOwnChain, btc.Type)
	require.NotNil(t, btc.Started)
	assert.Equal(t, int64(1231006505), btc.Started.Unix())
	require.NotNil(t, btc.Coingecko)
	assert.Equal(t, "bitcoin", *btc.Coingecko)

	bch, err := m.GetAsset(ctx, "BCH")
	require.NoError(t, err)
	assert.Equal(t, "BTC", bch.Forked)

	dai, err := m.GetAsset(ctx, daiID)
	require.NoError(t, err)
	assert.Equal(t, "DAI", dai.Symbol)
	require.NotNil(t, dai.Token.Decimals)
	assert.Equal(t, uint8(18), *dai.Token.Decimals)

	lp, err := m.GetAsset(ctx, lpID)
	require.NoError(t, err)
	assert.Equal(t, "uniswap", lp.Token.Protocol)
	require.Len(t, lp.Components(), 2)

	// the missing component became an address-only placeholder
	usdc, err := m.GetAsset(ctx, usdcID)
	require.NoError(t, err)
	assert.Nil(t, usdc.Token.Decimals)

	// a second run changes nothing
	again, err := s.SeedAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, again.Skipped)
	assert.Equal(t, 0, again.Succeeded)
	assert.Equal(t, 3, again.Failed)
}

func TestFileBasedSeeder_MissingFilesAreSkipped(t *testing.T) {
	s := NewFileBasedSeeder(newTestManager(t), t.TempDir(), zerolog.Nop())
	result, err := s.SeedAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.TotalProcessed)
}

func TestFileBasedSeeder_MalformedFileFails(t *testing.T) {
	dir := writeDataDir(t, map[string]string{tokensFileName: `{"not": "a list"}`})
	s := NewFileBasedSeeder(newTestManager(t), dir, zerolog.Nop())
	_, err := s.SeedAll(context.Background())
	assert.ErrorContains(t, err, "failed to unmarshal tokens.json")
}

func TestParseAssetType(t *testing.T) {
	tests := []struct {
		in   string
		want asset.Type
	}{
		{"A", asset.TypeFiat},
		{"Z", asset.TypeNFT},
		{"evm token", asset.TypeEVMToken},
		{"Own Chain", asset.TypeOwnChain},
	}
	for _, tt := range tests {
		got, err := parseAssetType(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := parseAssetType("a")
	assert.Error(t, err)
}
