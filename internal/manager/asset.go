package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Combine-Capital/assetdb/internal/asset"
	"github.com/Combine-Capital/assetdb/internal/repository"
)

// ErrInvalidArgument is returned when a caller supplies an incomplete or
// inconsistent asset description.
var ErrInvalidArgument = errors.New("invalid argument")

// AssetManager handles business logic for asset operations: chain token
// resolution without duplicates, symbol lookup and generic asset lifecycle.
type AssetManager struct {
	repo           repository.Repository
	index          UserAssetIndex
	eventPublisher *EventPublisher
	logger         zerolog.Logger
}

// NewAssetManager creates a new AssetManager instance. The index receives
// every chain token created through GetOrCreateChainToken unless a call
// overrides it with WithIndex; it may be nil.
func NewAssetManager(repo repository.Repository, index UserAssetIndex, eventPublisher *EventPublisher, logger zerolog.Logger) *AssetManager {
	return &AssetManager{
		repo:           repo,
		index:          index,
		eventPublisher: eventPublisher,
		logger:         logger.With().Str("component", "resolver").Logger(),
	}
}

// CreateAsset creates a generic (non chain token) asset. Re-creating an
// existing asset with compatible attributes returns the stored one.
func (m *AssetManager) CreateAsset(ctx context.Context, a *asset.Asset) (*asset.Asset, error) {
	if err := ValidateRequiredAssetFields(a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if a.Token != nil {
		return nil, fmt.Errorf("%w: chain token %s must be created with GetOrCreateChainToken", ErrInvalidArgument, a.Identifier)
	}
	if asset.IsChainTokenIdentifier(a.Identifier) {
		return nil, fmt.Errorf("%w: %s is a chain token identifier", ErrInvalidArgument, a.Identifier)
	}

	stored, created, err := m.repo.UpsertAsset(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset: %w", err)
	}
	if created {
		m.eventPublisher.PublishAssetCreated(ctx, stored)
	}
	return stored, nil
}

// GetAsset retrieves an asset by identifier. Legacy identifiers are
// translated first.
func (m *AssetManager) GetAsset(ctx context.Context, id string) (*asset.Asset, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: identifier is required", ErrInvalidArgument)
	}
	return m.repo.GetAsset(ctx, asset.TranslateLegacyIdentifier(id))
}

// UpdateAsset updates an existing asset
func (m *AssetManager) UpdateAsset(ctx context.Context, a *asset.Asset) error {
	if err := ValidateRequiredAssetFields(a); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if err := m.repo.UpdateAsset(ctx, a); err != nil {
		return fmt.Errorf("failed to update asset: %w", err)
	}
	return nil
}

// DeleteAsset deletes an asset by identifier
func (m *AssetManager) DeleteAsset(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: identifier is required", ErrInvalidArgument)
	}
	if err := m.repo.DeleteAsset(ctx, id); err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	if f, ok := m.index.(forgetter); ok {
		f.Forget(ctx, id)
	}
	m.eventPublisher.PublishAssetDeleted(ctx, id)
	return nil
}

// ListAssets retrieves assets with optional filtering
func (m *AssetManager) ListAssets(ctx context.Context, filter *repository.AssetFilter) ([]*asset.Asset, error) {
	assets, err := m.repo.ListAssets(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	return assets, nil
}
