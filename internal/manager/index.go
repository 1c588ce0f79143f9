package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Combine-Capital/assetdb/internal/asset"
	"github.com/Combine-Capital/assetdb/internal/repository"
)

// ErrIndexClosed is returned by a KnownAssets index after Close.
var ErrIndexClosed = errors.New("user asset index closed")

// UserAssetIndex is notified of every chain token created on behalf of the
// user. Register must be idempotent.
type UserAssetIndex interface {
	Register(ctx context.Context, id string) error
}

// forgetter is implemented by indexes that drop deleted assets.
type forgetter interface {
	Forget(ctx context.Context, id string)
}

// KnownAssets is the user-asset index backed by the user_owned_assets table.
// Registrations are kept in memory and written in one transaction by Flush.
type KnownAssets struct {
	repo   repository.Repository
	logger zerolog.Logger

	mu      sync.Mutex
	known   map[string]struct{}
	pending []string
	closed  bool
}

// NewKnownAssets creates an empty index. Call Load to read the persisted set.
func NewKnownAssets(repo repository.Repository, logger zerolog.Logger) *KnownAssets {
	return &KnownAssets{
		repo:   repo,
		logger: logger.With().Str("component", "user_asset_index").Logger(),
		known:  make(map[string]struct{}),
	}
}

// Load reads the persisted user-owned assets into the index.
func (k *KnownAssets) Load(ctx context.Context) error {
	ids, err := k.repo.ListUserOwnedAssets(ctx)
	if err != nil {
		return fmt.Errorf("load user asset index: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return ErrIndexClosed
	}
	for _, id := range ids {
		k.known[id] = struct{}{}
	}
	k.logger.Debug().Int("assets", len(ids)).Msg("Loaded user asset index")
	return nil
}

// Register adds id to the index. Known identifiers are ignored.
func (k *KnownAssets) Register(_ context.Context, id string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return ErrIndexClosed
	}
	if _, ok := k.known[id]; ok {
		return nil
	}
	k.known[id] = struct{}{}
	k.pending = append(k.pending, id)
	return nil
}

// Contains reports whether id has been loaded or registered.
func (k *KnownAssets) Contains(id string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.known[id]
	return ok
}

// Flush persists the buffered registrations in one transaction. Identifiers
// whose asset was deleted meanwhile are dropped from the index. On failure
// the registrations stay buffered for the next flush.
func (k *KnownAssets) Flush(ctx context.Context) error {
	k.mu.Lock()
	batch := k.pending
	k.pending = nil
	k.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var live, gone []string
	err := k.repo.WithTransaction(ctx, func(tx repository.Repository) error {
		live, gone = live[:0], gone[:0]
		for _, id := range batch {
			_, err := tx.GetAsset(ctx, id)
			switch {
			case err == nil:
				live = append(live, id)
			case errors.Is(err, asset.ErrUnknownAsset):
				gone = append(gone, id)
			default:
				return err
			}
		}
		return tx.AddUserOwnedAssets(ctx, live...)
	})
	if err != nil {
		k.mu.Lock()
		k.pending = append(batch, k.pending...)
		k.mu.Unlock()
		return fmt.Errorf("flush user asset index: %w", err)
	}

	if len(gone) > 0 {
		k.mu.Lock()
		for _, id := range gone {
			delete(k.known, id)
		}
		k.mu.Unlock()
		k.logger.Warn().Strs("identifiers", gone).Msg("Dropped deleted assets from user asset index")
	}
	k.logger.Debug().Int("assets", len(live)).Msg("Flushed user asset index")
	return nil
}

// Forget removes id from the index and from the pending registrations. The
// persisted row, if any, is removed by the store when the asset is deleted.
func (k *KnownAssets) Forget(_ context.Context, id string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.known, id)
	for i, pending := range k.pending {
		if pending == id {
			k.pending = append(k.pending[:i], k.pending[i+1:]...)
			break
		}
	}
}

// Close flushes pending registrations and rejects later use.
func (k *KnownAssets) Close(ctx context.Context) error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.mu.Unlock()

	err := k.Flush(ctx)

	k.mu.Lock()
	k.closed = true
	k.mu.Unlock()
	return err
}
