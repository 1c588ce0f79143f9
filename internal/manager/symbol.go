package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Combine-Capital/assetdb/internal/asset"
)

// ResolveBySymbol returns the single asset carrying symbol, optionally
// restricted to one asset type. Zero or several matches fail with
// ErrAmbiguousOrUnknownAsset.
func (m *AssetManager) ResolveBySymbol(ctx context.Context, symbol string, typ *asset.Type) (*asset.Asset, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ErrInvalidArgument)
	}

	matches, err := m.repo.FindBySymbol(ctx, symbol, typ)
	if err != nil {
		return nil, err
	}
	if len(matches) != 1 {
		m.logger.Debug().
			Str("symbol", symbol).
			Int("matches", len(matches)).
			Msg("Symbol does not resolve to a single asset")
		return nil, fmt.Errorf("resolve symbol %s: %w (%d matches)", symbol, asset.ErrAmbiguousOrUnknownAsset, len(matches))
	}
	return matches[0], nil
}

// ResolveSymbolOrIdentifier treats s as an asset identifier first, with
// legacy identifiers translated, and falls back to a symbol lookup.
func (m *AssetManager) ResolveSymbolOrIdentifier(ctx context.Context, s string) (*asset.Asset, error) {
	a, err := m.GetAsset(ctx, s)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, asset.ErrUnknownAsset) {
		return nil, err
	}
	return m.ResolveBySymbol(ctx, s, nil)
}
