package repository_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Combine-Capital/assetdb/internal/asset"
	"github.com/Combine-Capital/assetdb/internal/migration"
	"github.com/Combine-Capital/assetdb/internal/repository"
)

const (
	daiAddress  = "0x6b175474e89094c44da98b954eedeac495271d0f"
	usdcAddress = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	yfiAddress  = "0x0bc529c00c6401aef6d220be8c6ea1667f6ad93e"
)

// newTestRepository returns a repository on a freshly migrated store file
func newTestRepository(t *testing.T) *repository.SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := repository.Open(ctx, filepath.Join(t.TempDir(), "global.db"), 5*time.Second)
	require.NoError(t, err, "Failed to open test database")
	t.Cleanup(func() { db.Close() })

	repo, err := migration.OpenAndMigrate(ctx, db, migration.LatestVersion, zerolog.Nop())
	require.NoError(t, err, "Failed to migrate test database")
	return repo
}

func ptr[T any](v T) *T { return &v }

func erc20Token(address string, symbol string, decimals uint8, components ...asset.UnderlyingToken) *asset.Asset {
	key := asset.TokenKey{Chain: asset.ChainEthereum, Kind: asset.ERC20, Address: common.HexToAddress(address)}
	return &asset.Asset{
		Identifier: asset.MustEncode(key),
		Type:       asset.TypeEVMToken,
		Name:       symbol + " token",
		Symbol:     symbol,
		Token: &asset.ChainToken{
			Chain:      key.Chain,
			Kind:       key.Kind,
			Address:    key.Address,
			Decimals:   &decimals,
			Underlying: components,
		},
	}
}

func generic(id, symbol string) *asset.Asset {
	return &asset.Asset{
		Identifier: id,
		Type:       asset.TypeOwnChain,
		Name:       id + " coin",
		Symbol:     symbol,
	}
}

func weight(id, w string) asset.UnderlyingToken {
	return asset.UnderlyingToken{Identifier: id, Weight: decimal.RequireFromString(w)}
}

// mustUpsert stores assets and fails the test on error
func mustUpsert(t *testing.T, repo repository.Repository, assets ...*asset.Asset) {
	t.Helper()
	for _, a := range assets {
		_, _, err := repo.UpsertAsset(context.Background(), a)
		require.NoError(t, err, "Failed to store %s", a.Identifier)
	}
}
