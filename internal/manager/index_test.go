package manager

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Combine-Capital/assetdb/internal/asset"
	"github.com/Combine-Capital/assetdb/internal/repository"
)

// failingOwnershipRepository fails every transaction while fail is set
type failingOwnershipRepository struct {
	repository.Repository
	fail bool
}

func (r *failingOwnershipRepository) WithTransaction(ctx context.Context, fn func(repo repository.Repository) error) error {
	if r.fail {
		return errors.New("database is locked")
	}
	return r.Repository.WithTransaction(ctx, fn)
}

func TestKnownAssets(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	m := NewAssetManager(repo, nil, nil, zerolog.Nop())
	for _, symbol := range []string{"BTC", "ETH", "DOT"} {
		_, err := m.CreateAsset(ctx, &asset.Asset{Identifier: symbol, Type: asset.TypeOwnChain, Name: symbol, Symbol: symbol})
		require.NoError(t, err)
	}
	require.NoError(t, repo.AddUserOwnedAssets(ctx, "BTC"))

	index := NewKnownAssets(repo, zerolog.Nop())
	require.NoError(t, index.Load(ctx))
	assert.True(t, index.Contains("BTC"))
	assert.False(t, index.Contains("ETH"))

	require.NoError(t, index.Register(ctx, "ETH"))
	require.NoError(t, index.Register(ctx, "ETH"))
	require.NoError(t, index.Register(ctx, "BTC"))
	assert.True(t, index.Contains("ETH"))

	owned, err := repo.ListUserOwnedAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC"}, owned, "registrations are buffered until flushed")

	require.NoError(t, index.Flush(ctx))
	owned, err = repo.ListUserOwnedAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "ETH"}, owned)

	require.NoError(t, index.Register(ctx, "DOT"))
	require.NoError(t, index.Close(ctx))
	owned, err = repo.ListUserOwnedAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC", "DOT", "ETH"}, owned, "close flushes")

	assert.ErrorIs(t, index.Register(ctx, "XMR"), ErrIndexClosed)
	assert.NoError(t, index.Close(ctx))
}

func TestKnownAssets_FlushFailureKeepsRegistrations(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	_, err := NewAssetManager(repo, nil, nil, zerolog.Nop()).
		CreateAsset(ctx, &asset.Asset{Identifier: "BTC", Type: asset.TypeOwnChain, Name: "Bitcoin", Symbol: "BTC"})
	require.NoError(t, err)

	failing := &failingOwnershipRepository{Repository: repo, fail: true}
	index := NewKnownAssets(failing, zerolog.Nop())
	require.NoError(t, index.Register(ctx, "BTC"))
	require.Error(t, index.Flush(ctx))

	failing.fail = false
	require.NoError(t, index.Flush(ctx))
	owned, err := repo.ListUserOwnedAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC"}, owned)
}

func TestKnownAssets_ThroughResolver(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	index := NewKnownAssets(repo, zerolog.Nop())
	require.NoError(t, index.Load(ctx))
	m := NewAssetManager(repo, index, nil, zerolog.Nop())

	dai, err := m.GetOrCreateChainToken(ctx, erc20(daiAddress, "DAI", 18))
	require.NoError(t, err)
	assert.True(t, index.Contains(dai.Identifier))

	require.NoError(t, index.Close(ctx))
	owned, err := repo.ListUserOwnedAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{dai.Identifier}, owned)

	// a closed index does not fail resolution
	_, err = m.GetOrCreateChainToken(ctx, erc20(usdcAddress, "USDC", 6))
	assert.NoError(t, err)
}

func TestKnownAssets_FlushDropsDeletedAssets(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	m := NewAssetManager(repo, nil, nil, zerolog.Nop())
	index := NewKnownAssets(repo, zerolog.Nop())
	require.NoError(t, index.Load(ctx))

	dai, err := m.GetOrCreateChainToken(ctx, erc20(daiAddress, "DAI", 18), WithIndex(index))
	require.NoError(t, err)
	require.NoError(t, m.DeleteAsset(ctx, dai.Identifier))
	weth, err := m.GetOrCreateChainToken(ctx, erc20(wethAddress, "WETH", 18), WithIndex(index))
	require.NoError(t, err)

	require.NoError(t, index.Flush(ctx))
	owned, err := repo.ListUserOwnedAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{weth.Identifier}, owned)
	assert.False(t, index.Contains(dai.Identifier))
	assert.True(t, index.Contains(weth.Identifier))

	require.NoError(t, index.Register(ctx, "BTC-not-stored"))
	assert.NoError(t, index.Close(ctx), "later flushes are not blocked")
}

func TestKnownAssets_DeleteThroughManagerForgets(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	index := NewKnownAssets(repo, zerolog.Nop())
	require.NoError(t, index.Load(ctx))
	m := NewAssetManager(repo, index, nil, zerolog.Nop())

	dai, err := m.GetOrCreateChainToken(ctx, erc20(daiAddress, "DAI", 18))
	require.NoError(t, err)
	require.True(t, index.Contains(dai.Identifier))

	require.NoError(t, m.DeleteAsset(ctx, dai.Identifier))
	assert.False(t, index.Contains(dai.Identifier))

	require.NoError(t, index.Close(ctx))
	owned, err := repo.ListUserOwnedAssets(ctx)
	require.NoError(t, err)
	assert.Empty(t, owned)
}
