package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Combine-Capital/assetdb/internal/asset"
	"github.com/Combine-Capital/assetdb/internal/repository"
)

// ChainTokenAttributes describes a chain token a caller wants to resolve.
// Chain, Kind and Address (plus CollectibleID for non-fungible kinds) form
// the identity; the rest is metadata used only when the token is created.
type ChainTokenAttributes struct {
	Chain         asset.ChainID
	Kind          asset.TokenKind
	Address       common.Address
	CollectibleID string

	Name          string
	Symbol        string
	Decimals      *uint8
	Protocol      string
	Started       *time.Time
	SwappedFor    string
	Coingecko     *string
	Cryptocompare *string
	Underlying    []asset.UnderlyingToken
}

// Key returns the identity part of the attributes.
func (a ChainTokenAttributes) Key() asset.TokenKey {
	return asset.TokenKey{
		Chain:         a.Chain,
		Kind:          a.Kind,
		Address:       a.Address,
		CollectibleID: a.CollectibleID,
	}
}

func (a ChainTokenAttributes) toAsset(id string) *asset.Asset {
	return &asset.Asset{
		Identifier:    id,
		Type:          tokenType(a.Kind),
		Name:          a.Name,
		Symbol:        a.Symbol,
		Started:       a.Started,
		SwappedFor:    a.SwappedFor,
		Coingecko:     a.Coingecko,
		Cryptocompare: a.Cryptocompare,
		Token: &asset.ChainToken{
			Chain:         a.Chain,
			Kind:          a.Kind,
			Address:       a.Address,
			CollectibleID: a.CollectibleID,
			Decimals:      a.Decimals,
			Protocol:      a.Protocol,
			Underlying:    a.Underlying,
		},
	}
}

// metadataMismatches lists the supplied metadata fields that differ from the
// stored token. Empty supplied values are not compared.
func (a ChainTokenAttributes) metadataMismatches(stored *asset.Asset) []string {
	var fields []string
	if a.Name != "" && a.Name != stored.Name {
		fields = append(fields, "name")
	}
	if a.Symbol != "" && a.Symbol != stored.Symbol {
		fields = append(fields, "symbol")
	}
	if stored.Token == nil {
		return fields
	}
	if a.Decimals != nil && (stored.Token.Decimals == nil || *stored.Token.Decimals != *a.Decimals) {
		fields = append(fields, "decimals")
	}
	if a.Protocol != "" && a.Protocol != stored.Token.Protocol {
		fields = append(fields, "protocol")
	}
	return fields
}

func tokenType(kind asset.TokenKind) asset.Type {
	if kind == asset.ERC721 {
		return asset.TypeNFT
	}
	return asset.TypeEVMToken
}

type resolveOptions struct {
	index UserAssetIndex
}

// ResolveOption customizes a single GetOrCreateChainToken call.
type ResolveOption func(*resolveOptions)

// WithIndex registers a newly created token with index instead of the
// manager's default index.
func WithIndex(index UserAssetIndex) ResolveOption {
	return func(o *resolveOptions) {
		o.index = index
	}
}

// GetOrCreateChainToken returns the chain token identified by the attributes,
// creating it when it does not exist yet. An existing token is returned as
// stored; differing metadata is only reported. Concurrent callers resolving
// the same token never create a second row.
func (m *AssetManager) GetOrCreateChainToken(ctx context.Context, attrs ChainTokenAttributes, opts ...ResolveOption) (*asset.Asset, error) {
	options := resolveOptions{index: m.index}
	for _, opt := range opts {
		opt(&options)
	}

	id, err := asset.Encode(attrs.Key())
	if err != nil {
		return nil, err
	}

	existing, err := m.repo.GetAsset(ctx, id)
	switch {
	case err == nil:
		resolverCounter("existing").Inc()
		m.reportMismatch(ctx, existing, attrs)
		return existing, nil
	case !errors.Is(err, asset.ErrUnknownAsset):
		return nil, fmt.Errorf("resolve chain token %s: %w", id, err)
	}

	candidate := attrs.toAsset(id)
	if err := asset.ValidateComposition(id, candidate.Components()); err != nil {
		return nil, err
	}

	var (
		stored       *asset.Asset
		created      bool
		placeholders []*asset.Asset
	)
	err = m.repo.WithTransaction(ctx, func(tx repository.Repository) error {
		placeholders = placeholders[:0]
		for _, component := range candidate.Components() {
			placeholder, err := ensurePlaceholder(ctx, tx, component.Identifier)
			if err != nil {
				return err
			}
			if placeholder != nil {
				placeholders = append(placeholders, placeholder)
			}
		}

		stored, created, err = tx.UpsertAsset(ctx, candidate)
		return err
	})

	if errors.Is(err, asset.ErrDuplicateIdentifier) {
		// Lost the race against a writer with different metadata.
		stored, err = m.repo.GetAsset(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve chain token %s: %w", id, err)
		}
		resolverCounter("existing").Inc()
		m.reportMismatch(ctx, stored, attrs)
		return stored, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create chain token %s: %w", id, err)
	}
	if !created {
		resolverCounter("existing").Inc()
		return stored, nil
	}

	resolverCounter("created").Inc()
	for _, placeholder := range placeholders {
		m.eventPublisher.PublishPlaceholderCreated(ctx, placeholder, id)
	}
	m.eventPublisher.PublishAssetCreated(ctx, stored)

	if options.index != nil {
		if err := options.index.Register(ctx, id); err != nil {
			m.logger.Warn().Err(err).Str("identifier", id).Msg("Failed to register created token with the user asset index")
		}
	}
	return stored, nil
}

// ensurePlaceholder creates an address-only token for a missing component
// whose identifier encodes a chain token. Other missing components are left
// for the store to reject.
func ensurePlaceholder(ctx context.Context, tx repository.Repository, id string) (*asset.Asset, error) {
	_, err := tx.GetAsset(ctx, id)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, asset.ErrUnknownAsset) {
		return nil, err
	}

	key, err := asset.Decode(id)
	if err != nil {
		return nil, nil
	}
	placeholder := &asset.Asset{
		Identifier: id,
		Type:       tokenType(key.Kind),
		Token: &asset.ChainToken{
			Chain:         key.Chain,
			Kind:          key.Kind,
			Address:       key.Address,
			CollectibleID: key.CollectibleID,
		},
	}
	stored, created, err := tx.UpsertAsset(ctx, placeholder)
	if err != nil {
		return nil, fmt.Errorf("create placeholder %s: %w", id, err)
	}
	if !created {
		return nil, nil
	}
	return stored, nil
}

func (m *AssetManager) reportMismatch(ctx context.Context, stored *asset.Asset, attrs ChainTokenAttributes) {
	fields := attrs.metadataMismatches(stored)
	if len(fields) == 0 {
		return
	}
	resolverCounter("mismatch").Inc()
	m.eventPublisher.PublishMetadataMismatch(ctx, stored, fields)
}
