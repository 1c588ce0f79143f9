package migration

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Combine-Capital/assetdb/internal/asset"
	"github.com/Combine-Capital/assetdb/internal/repository"
)

const (
	daiChecksummed = "0x6B175474E89094C44Da98b954EedeAC495271d0F"
	daiLowercase   = "0x6b175474e89094c44da98b954eedeac495271d0f"
	usdcAddress    = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	basketAddress  = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	busdAddress    = "0xe9e7cea3dedca5984780bafc599bd69add087d56"
	punksAddress   = "0xb47e3cd837ddf8e4c57f05d70ab865de6e193bbb"
)

func erc20(chain asset.ChainID, address string) string {
	return asset.MustEncode(asset.TokenKey{Chain: chain, Kind: asset.ERC20, Address: common.HexToAddress(address)})
}

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := repository.Open(context.Background(), filepath.Join(t.TempDir(), "global.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestMigrator(t *testing.T, db *sqlx.DB, steps ...Step) *Migrator {
	t.Helper()
	m, err := NewMigrator(db, zerolog.Nop(), steps...)
	require.NoError(t, err)
	return m
}

func exec(t *testing.T, db *sqlx.DB, statements ...string) {
	t.Helper()
	for _, stmt := range statements {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
}

// seedLegacyStore fills a version 1 store with the shapes the rewrite has to
// handle: a case-variant collapse, a malformed address, dangling references
// and a component duplicated by the collapse.
func seedLegacyStore(t *testing.T, db *sqlx.DB) {
	exec(t, db,
		`INSERT INTO ethereum_tokens (address, decimals, protocol) VALUES
			('`+daiChecksummed+`', 18, NULL),
			('`+daiLowercase+`', 18, NULL),
			('`+usdcAddress+`', 6, NULL),
			('`+basketAddress+`', 18, 'balancer'),
			('`+busdAddress+`', 18, NULL),
			('0xnothex', 18, NULL)`,
		`INSERT INTO ethereum_nfts (identifier, address, collectible_id) VALUES
			('_nft_punk_42', '`+punksAddress+`', '42')`,
		`INSERT INTO assets (identifier, type, name, symbol, started, swapped_for, coingecko, cryptocompare, details_reference) VALUES
			('_ceth_`+daiChecksummed+`', 'C', 'Dai Stablecoin', 'DAI', 1573672677, NULL, 'dai', NULL, '`+daiChecksummed+`'),
			('_ceth_`+daiLowercase+`', 'C', 'Dai copy', 'DAI', NULL, NULL, NULL, NULL, '`+daiLowercase+`'),
			('_ceth_`+usdcAddress+`', 'C', 'USD Coin', 'USDC', NULL, NULL, 'usd-coin', '', '`+usdcAddress+`'),
			('_ceth_`+basketAddress+`', 'C', 'Basket', 'BSK', NULL, NULL, NULL, NULL, '`+basketAddress+`'),
			('BUSD-BSC', 'S', 'Binance USD', 'BUSD', NULL, NULL, NULL, NULL, '`+busdAddress+`'),
			('_ceth_bad', 'C', 'Broken', 'BAD', NULL, NULL, NULL, NULL, '0xnothex'),
			('_nft_punk_42', 'Z', 'Punk 42', 'PUNK', NULL, NULL, NULL, NULL, NULL),
			('SAI', 'W', 'Sai', 'SAI', NULL, '_ceth_`+daiLowercase+`', NULL, NULL, NULL),
			('OLD', 'B', 'Old coin', 'OLD', NULL, 'GONE', NULL, NULL, NULL),
			('BTC', 'B', 'Bitcoin', 'BTC', 1231006505, NULL, 'bitcoin', 'BTC', NULL),
			('BCH', 'B', 'Bitcoin Cash', 'BCH', NULL, NULL, NULL, NULL, NULL)`,
		`INSERT INTO common_asset_details (asset_id, forked) VALUES ('BCH', 'BTC')`,
		`INSERT INTO underlying_tokens_list (address, weight, parent_token_entry) VALUES
			('`+daiChecksummed+`', '0.5', '`+basketAddress+`'),
			('`+usdcAddress+`', '0.25', '`+basketAddress+`'),
			('`+daiLowercase+`', '0.25', '`+basketAddress+`')`,
		`INSERT INTO user_owned_assets (asset_id) VALUES
			('_ceth_`+daiChecksummed+`'), ('BTC'), ('_ceth_`+daiLowercase+`'), ('MISSING')`,
	)
}

func TestMigrateTo_FreshStore(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m := newTestMigrator(t, db)

	version, err := m.MigrateTo(ctx, LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, LatestVersion, version)

	stored, err := repository.ReadSchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, LatestVersion, stored)

	// A second run finds nothing to do.
	version, err = m.MigrateTo(ctx, LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, LatestVersion, version)

	var indexes int
	require.NoError(t, db.Get(&indexes,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name LIKE 'idx_%'`))
	assert.Equal(t, 3, indexes)
}

func TestMigrateTo_LegacyStore(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m := newTestMigrator(t, db)

	_, err := m.MigrateTo(ctx, 1)
	require.NoError(t, err)
	seedLegacyStore(t, db)

	version, err := m.MigrateTo(ctx, LatestVersion)
	require.NoError(t, err)
	require.Equal(t, LatestVersion, version)

	repo := repository.NewSQLiteRepository(db, zerolog.Nop())
	dai := erc20(asset.ChainEthereum, daiChecksummed)
	usdc := erc20(asset.ChainEthereum, usdcAddress)
	basket := erc20(asset.ChainEthereum, basketAddress)

	t.Run("tokens get canonical identifiers", func(t *testing.T) {
		a, err := repo.GetAsset(ctx, dai)
		require.NoError(t, err)
		assert.Equal(t, "Dai Stablecoin", a.Name)
		require.NotNil(t, a.Token)
		assert.Equal(t, asset.ChainEthereum, a.Token.Chain)
		require.NotNil(t, a.Token.Decimals)
		assert.Equal(t, uint8(18), *a.Token.Decimals)
		require.NotNil(t, a.Started)
		assert.Equal(t, int64(1573672677), a.Started.Unix())

		_, err = repo.GetAsset(ctx, "_ceth_"+daiChecksummed)
		assert.ErrorIs(t, err, asset.ErrUnknownAsset)

		usdcAsset, err := repo.GetAsset(ctx, usdc)
		require.NoError(t, err)
		require.NotNil(t, usdcAsset.Cryptocompare)
		assert.Equal(t, "", *usdcAsset.Cryptocompare)
	})

	t.Run("legacy token types keep their chain", func(t *testing.T) {
		a, err := repo.GetAsset(ctx, erc20(asset.ChainBinance, busdAddress))
		require.NoError(t, err)
		assert.Equal(t, asset.TypeBinanceToken, a.Type)
		assert.Equal(t, asset.ChainBinance, a.Token.Chain)
	})

	t.Run("nfts carry their collectible id", func(t *testing.T) {
		id := asset.MustEncode(asset.TokenKey{
			Chain:         asset.ChainEthereum,
			Kind:          asset.ERC721,
			Address:       common.HexToAddress(punksAddress),
			CollectibleID: "42",
		})
		a, err := repo.GetAsset(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "42", a.Token.CollectibleID)
	})

	t.Run("references follow the collapse winner", func(t *testing.T) {
		sai, err := repo.GetAsset(ctx, "SAI")
		require.NoError(t, err)
		assert.Equal(t, dai, sai.SwappedFor)

		bch, err := repo.GetAsset(ctx, "BCH")
		require.NoError(t, err)
		assert.Equal(t, "BTC", bch.Forked)
	})

	t.Run("dangling references are kept", func(t *testing.T) {
		old, err := repo.GetAsset(ctx, "OLD")
		require.NoError(t, err)
		assert.Equal(t, "GONE", old.SwappedFor)
	})

	t.Run("malformed addresses become generic assets", func(t *testing.T) {
		bad, err := repo.GetAsset(ctx, "_ceth_bad")
		require.NoError(t, err)
		assert.Equal(t, asset.TypeOther, bad.Type)
		assert.Nil(t, bad.Token)
	})

	t.Run("composition is rewritten and deduplicated", func(t *testing.T) {
		a, err := repo.GetAsset(ctx, basket)
		require.NoError(t, err)
		require.Len(t, a.Token.Underlying, 2)
		assert.Equal(t, dai, a.Token.Underlying[0].Identifier)
		assert.True(t, a.Token.Underlying[0].Weight.Equal(decimal.RequireFromString("0.5")))
		assert.Equal(t, usdc, a.Token.Underlying[1].Identifier)
		assert.Equal(t, "balancer", a.Token.Protocol)
	})

	t.Run("user owned assets are rewritten", func(t *testing.T) {
		owned, err := repo.ListUserOwnedAssets(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{dai, "BTC", "MISSING"}, owned)
	})

	t.Run("flagged rows", func(t *testing.T) {
		reviews, err := repo.ListMigrationReviews(ctx)
		require.NoError(t, err)

		reasons := make(map[string][]string)
		for _, r := range reviews {
			assert.Equal(t, 2, r.Version)
			assert.NotEmpty(t, r.RunID)
			reasons[r.Reason] = append(reasons[r.Reason], r.RowKey+" -> "+r.Reference)
		}
		assert.Equal(t, []string{"_ceth_" + daiLowercase + " -> " + dai}, reasons[repository.ReviewCollapsed])
		assert.Equal(t, []string{"_ceth_bad -> 0xnothex"}, reasons[repository.ReviewMalformedAddress])
		assert.Equal(t, []string{basket + " -> " + dai}, reasons[repository.ReviewDuplicateComponent])
		assert.ElementsMatch(t, []string{"OLD -> GONE", "MISSING -> MISSING"}, reasons[repository.ReviewDanglingReference])
	})

	t.Run("no unflagged orphans", func(t *testing.T) {
		assertNoUnflaggedOrphans(t, db)
	})
}

// assertNoUnflaggedOrphans checks that every swap target and component is a
// stored asset or was recorded for review.
func assertNoUnflaggedOrphans(t *testing.T, db *sqlx.DB) {
	t.Helper()
	var orphans []string
	require.NoError(t, db.Select(&orphans, `
		SELECT ref FROM (
			SELECT swapped_for AS ref FROM assets WHERE swapped_for IS NOT NULL
			UNION ALL
			SELECT component_identifier FROM underlying_tokens
		)
		WHERE ref NOT IN (SELECT identifier FROM assets)
		AND ref NOT IN (SELECT reference FROM migration_review)`))
	assert.Empty(t, orphans)
}

func TestMigrateTo_InvalidLegacyBasketAborts(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m := newTestMigrator(t, db)

	_, err := m.MigrateTo(ctx, 1)
	require.NoError(t, err)
	exec(t, db,
		`INSERT INTO ethereum_tokens (address, decimals) VALUES ('`+basketAddress+`', 18), ('`+usdcAddress+`', 6)`,
		`INSERT INTO assets (identifier, type, name, symbol, details_reference) VALUES
			('_ceth_`+basketAddress+`', 'C', 'Basket', 'BSK', '`+basketAddress+`'),
			('_ceth_`+usdcAddress+`', 'C', 'USD Coin', 'USDC', '`+usdcAddress+`')`,
		`INSERT INTO underlying_tokens_list (address, weight, parent_token_entry) VALUES
			('`+usdcAddress+`', '1.5', '`+basketAddress+`')`,
	)

	version, err := m.MigrateTo(ctx, LatestVersion)
	require.Error(t, err)
	assert.Equal(t, 1, version)
	assert.ErrorIs(t, err, ErrMigrationFailed)
	assert.ErrorIs(t, err, asset.ErrInvalidComposition)

	var migrationErr *MigrationError
	require.True(t, errors.As(err, &migrationErr))
	assert.Equal(t, 1, migrationErr.Version)

	stored, err := repository.ReadSchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 1, stored)

	// The legacy layout is untouched.
	var legacyRows int
	require.NoError(t, db.Get(&legacyRows, `SELECT COUNT(*) FROM underlying_tokens_list`))
	assert.Equal(t, 1, legacyRows)
}

func TestMigrateTo_HardensComposition(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m := newTestMigrator(t, db)

	_, err := m.MigrateTo(ctx, 2)
	require.NoError(t, err)
	exec(t, db,
		`INSERT INTO assets (identifier, type) VALUES ('P', 'W'), ('A', 'W'), ('B', 'W')`,
		`INSERT INTO common_asset_details (identifier, name, symbol) VALUES ('P', 'Parent', 'P'), ('A', 'A', 'A'), ('B', 'B', 'B')`,
		`INSERT INTO underlying_tokens (parent_identifier, component_identifier, weight) VALUES
			('P', 'B', '0.4'), ('P', 'A', '0.6'), ('P', 'B', '0.1')`,
	)

	_, err = m.MigrateTo(ctx, 3)
	require.NoError(t, err)

	var rows []struct {
		Component string `db:"component_identifier"`
		Weight    string `db:"weight"`
		Position  int    `db:"position"`
	}
	require.NoError(t, db.Select(&rows, `
		SELECT component_identifier, weight, position FROM underlying_tokens
		WHERE parent_identifier = 'P' ORDER BY position`))
	require.Len(t, rows, 2)
	assert.Equal(t, "B", rows[0].Component)
	assert.Equal(t, "0.4", rows[0].Weight)
	assert.Equal(t, 0, rows[0].Position)
	assert.Equal(t, "A", rows[1].Component)
	assert.Equal(t, 1, rows[1].Position)

	_, err = db.Exec(`INSERT INTO underlying_tokens (parent_identifier, component_identifier, weight, position) VALUES ('P', 'A', '0.1', 2)`)
	assert.Error(t, err, "duplicate components are rejected after the rebuild")

	var flagged int
	require.NoError(t, db.Get(&flagged,
		`SELECT COUNT(*) FROM migration_review WHERE reason = ? AND version = 3`, repository.ReviewDuplicateComponent))
	assert.Equal(t, 1, flagged)
}

func TestMigrateTo_FailingStepRollsBack(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	boom := errors.New("boom")

	steps := append(DefaultSteps()[:1], Step{
		From: 1,
		Name: "failing",
		Apply: func(ctx context.Context, tx *Tx) error {
			if err := tx.Exec(ctx, `CREATE TABLE half_done (id INTEGER)`); err != nil {
				return err
			}
			return boom
		},
	})
	m := newTestMigrator(t, db, steps...)

	version, err := m.MigrateTo(ctx, 2)
	require.Error(t, err)
	assert.Equal(t, 1, version)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrMigrationFailed)

	var tables int
	require.NoError(t, db.Get(&tables, `SELECT COUNT(*) FROM sqlite_master WHERE name = 'half_done'`))
	assert.Zero(t, tables)

	var fk int
	require.NoError(t, db.Get(&fk, `PRAGMA foreign_keys`))
	assert.Equal(t, 1, fk)
}

func TestMigrateTo_SchemaTooNew(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	exec(t, db,
		`CREATE TABLE schema_metadata (version INTEGER NOT NULL)`,
		`INSERT INTO schema_metadata (version) VALUES (99)`,
	)

	_, err := newTestMigrator(t, db).MigrateTo(ctx, LatestVersion)
	assert.ErrorIs(t, err, ErrSchemaTooNew)
	assert.ErrorIs(t, err, ErrMigrationFailed)
	var migrationErr *MigrationError
	require.ErrorAs(t, err, &migrationErr)
	assert.Equal(t, 99, migrationErr.Version)

	_, err = OpenAndMigrate(ctx, db, LatestVersion, zerolog.Nop())
	assert.ErrorIs(t, err, ErrMigrationFailed)
}

func TestMigrateTo_UnknownTargetFails(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	version, err := newTestMigrator(t, db).MigrateTo(ctx, LatestVersion+1)
	assert.ErrorIs(t, err, ErrMigrationFailed)
	assert.Equal(t, 0, version)
}

func TestNewMigrator_RejectsGaps(t *testing.T) {
	db := openTestDB(t)
	noop := func(context.Context, *Tx) error { return nil }

	_, err := NewMigrator(db, zerolog.Nop(),
		Step{From: 0, Name: "first", Apply: noop},
		Step{From: 2, Name: "skips", Apply: noop},
	)
	assert.Error(t, err)
}

func TestOpenAndMigrate(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	repo, err := OpenAndMigrate(ctx, db, LatestVersion, zerolog.Nop())
	require.NoError(t, err)

	version, err := repo.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, LatestVersion, version)
	require.NoError(t, repo.Ping(ctx))
}
