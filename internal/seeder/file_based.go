// Package seeder loads reference assets from static JSON files into the
// global store through the resolver.
package seeder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Combine-Capital/assetdb/internal/asset"
	"github.com/Combine-Capital/assetdb/internal/manager"
)

const (
	assetsFileName = "assets.json"
	tokensFileName = "tokens.json"
)

// AssetCreator is the part of the resolver the seeder writes through.
type AssetCreator interface {
	GetAsset(ctx context.Context, id string) (*asset.Asset, error)
	CreateAsset(ctx context.Context, a *asset.Asset) (*asset.Asset, error)
	GetOrCreateChainToken(ctx context.Context, attrs manager.ChainTokenAttributes, opts ...manager.ResolveOption) (*asset.Asset, error)
}

// FileBasedSeeder seeds data from static JSON files
type FileBasedSeeder struct {
	assets  AssetCreator
	dataDir string
	logger  zerolog.Logger
}

// NewFileBasedSeeder creates a new file-based seeder
func NewFileBasedSeeder(assets AssetCreator, dataDir string, logger zerolog.Logger) *FileBasedSeeder {
	return &FileBasedSeeder{
		assets:  assets,
		dataDir: dataDir,
		logger:  logger.With().Str("component", "seeder").Logger(),
	}
}

// Asset represents a generic asset from assets.json
type Asset struct {
	ID            string  `json:"id"`
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	Started       int64   `json:"started,omitempty"`
	SwappedFor    string  `json:"swapped_for,omitempty"`
	Forked        string  `json:"forked,omitempty"`
	CoinGeckoID   *string `json:"coingecko,omitempty"`
	CryptoCompare *string `json:"cryptocompare,omitempty"`
}

// Token represents a chain token from tokens.json
type Token struct {
	Chain         uint64                  `json:"chain"`
	Kind          string                  `json:"kind"`
	Address       string                  `json:"address"`
	CollectibleID string                  `json:"collectible_id,omitempty"`
	Symbol        string                  `json:"symbol"`
	Name          string                  `json:"name"`
	Decimals      *int                    `json:"decimals,omitempty"`
	Protocol      string                  `json:"protocol,omitempty"`
	Started       int64                   `json:"started,omitempty"`
	SwappedFor    string                  `json:"swapped_for,omitempty"`
	CoinGeckoID   *string                 `json:"coingecko,omitempty"`
	CryptoCompare *string                 `json:"cryptocompare,omitempty"`
	Underlying    []asset.UnderlyingToken `json:"underlying,omitempty"`
}

// SeedResult tracks the results of seeding operations
type SeedResult struct {
	TotalProcessed int
	Succeeded      int
	Skipped        int
	Failed         int
	Errors         []SeedError
}

// SeedError represents a specific error during seeding
type SeedError struct {
	Entity string // asset identifier or token address
	Err    error
}

func (r *SeedResult) add(other SeedResult) {
	r.TotalProcessed += other.TotalProcessed
	r.Succeeded += other.Succeeded
	r.Skipped += other.Skipped
	r.Failed += other.Failed
	r.Errors = append(r.Errors, other.Errors...)
}

func (r *SeedResult) fail(entity string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, SeedError{Entity: entity, Err: err})
}

// SeedAll seeds generic assets first, then chain tokens, so tokens may
// reference seeded assets through swapped_for. A missing file is skipped.
func (s *FileBasedSeeder) SeedAll(ctx context.Context) (SeedResult, error) {
	s.logger.Info().Str("data_dir", s.dataDir).Msg("Starting file-based seeding")

	var total SeedResult
	result, err := s.SeedAssets(ctx)
	if err != nil {
		return total, fmt.Errorf("failed to seed assets: %w", err)
	}
	total.add(result)

	result, err = s.SeedTokens(ctx)
	if err != nil {
		return total, fmt.Errorf("failed to seed tokens: %w", err)
	}
	total.add(result)

	s.logger.Info().
		Int("success", total.Succeeded).
		Int("skipped", total.Skipped).
		Int("errors", total.Failed).
		Msg("File-based seeding completed")
	return total, nil
}

// SeedAssets seeds generic assets from assets.json
func (s *FileBasedSeeder) SeedAssets(ctx context.Context) (SeedResult, error) {
	var entries []Asset
	var result SeedResult
	if ok, err := s.readFile(assetsFileName, &entries); err != nil || !ok {
		return result, err
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.TotalProcessed++

		a, err := entry.toAsset()
		if err != nil {
			s.logger.Error().Str("asset_id", entry.ID).Err(err).Msg("Invalid asset entry")
			result.fail(entry.ID, err)
			continue
		}

		if _, err := s.assets.GetAsset(ctx, a.Identifier); err == nil {
			s.logger.Debug().Str("asset_id", a.Identifier).Msg("Asset already exists, skipping")
			result.Skipped++
			continue
		} else if !errors.Is(err, asset.ErrUnknownAsset) {
			return result, err
		}

		if _, err := s.assets.CreateAsset(ctx, a); err != nil {
			s.logger.Error().Str("asset_id", a.Identifier).Err(err).Msg("Failed to create asset")
			result.fail(a.Identifier, err)
			continue
		}

		s.logger.Info().
			Str("asset_id", a.Identifier).
			Str("symbol", a.Symbol).
			Msg("Created asset")
		result.Succeeded++
	}

	s.logger.Info().
		Int("success", result.Succeeded).
		Int("skipped", result.Skipped).
		Int("errors", result.Failed).
		Msg("Asset seeding complete")
	return result, nil
}

// SeedTokens seeds chain tokens from tokens.json
func (s *FileBasedSeeder) SeedTokens(ctx context.Context) (SeedResult, error) {
	var entries []Token
	var result SeedResult
	if ok, err := s.readFile(tokensFileName, &entries); err != nil || !ok {
		return result, err
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.TotalProcessed++

		attrs, err := entry.toAttributes()
		if err != nil {
			s.logger.Error().Str("address", entry.Address).Err(err).Msg("Invalid token entry")
			result.fail(entry.Address, err)
			continue
		}
		id, err := asset.Encode(attrs.Key())
		if err != nil {
			result.fail(entry.Address, err)
			continue
		}

		if _, err := s.assets.GetAsset(ctx, id); err == nil {
			s.logger.Debug().Str("asset_id", id).Msg("Token already exists, skipping")
			result.Skipped++
			continue
		} else if !errors.Is(err, asset.ErrUnknownAsset) {
			return result, err
		}

		if _, err := s.assets.GetOrCreateChainToken(ctx, attrs); err != nil {
			s.logger.Error().Str("asset_id", id).Err(err).Msg("Failed to create token")
			result.fail(id, err)
			continue
		}

		s.logger.Info().
			Str("asset_id", id).
			Str("symbol", attrs.Symbol).
			Stringer("chain", attrs.Chain).
			Msg("Created token")
		result.Succeeded++
	}

	s.logger.Info().
		Int("success", result.Succeeded).
		Int("skipped", result.Skipped).
		Int("errors", result.Failed).
		Msg("Token seeding complete")
	return result, nil
}

// readFile decodes a data file into v. It reports false when the file does
// not exist.
func (s *FileBasedSeeder) readFile(name string, v any) (bool, error) {
	path := filepath.Join(s.dataDir, name)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info().Str("file", path).Msg("Data file not present, skipping")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	s.logger.Info().Str("file", path).Msg("Loaded data file")
	return true, nil
}

func (e Asset) toAsset() (*asset.Asset, error) {
	typ, err := parseAssetType(e.Type)
	if err != nil {
		return nil, err
	}
	return &asset.Asset{
		Identifier:    strings.TrimSpace(e.ID),
		Type:          typ,
		Name:          e.Name,
		Symbol:        e.Symbol,
		Started:       unixTime(e.Started),
		SwappedFor:    e.SwappedFor,
		Forked:        e.Forked,
		Coingecko:     e.CoinGeckoID,
		Cryptocompare: e.CryptoCompare,
	}, nil
}

func (e Token) toAttributes() (manager.ChainTokenAttributes, error) {
	kind := asset.ERC20
	if e.Kind != "" {
		parsed, err := asset.ParseTokenKind(strings.ToUpper(e.Kind))
		if err != nil {
			return manager.ChainTokenAttributes{}, err
		}
		kind = parsed
	}

	address, err := manager.ParseContractAddress(e.Address)
	if err != nil {
		return manager.ChainTokenAttributes{}, err
	}

	var decimals *uint8
	if e.Decimals != nil {
		if err := manager.ValidateDecimals(*e.Decimals); err != nil {
			return manager.ChainTokenAttributes{}, err
		}
		d := uint8(*e.Decimals)
		decimals = &d
	}

	return manager.ChainTokenAttributes{
		Chain:         asset.ChainID(e.Chain),
		Kind:          kind,
		Address:       address,
		CollectibleID: e.CollectibleID,
		Name:          e.Name,
		Symbol:        e.Symbol,
		Decimals:      decimals,
		Protocol:      e.Protocol,
		Started:       unixTime(e.Started),
		SwappedFor:    e.SwappedFor,
		Coingecko:     e.CoinGeckoID,
		Cryptocompare: e.CryptoCompare,
		Underlying:    e.Underlying,
	}, nil
}

// parseAssetType accepts the single character code ("A") or the type name
// ("fiat").
func parseAssetType(s string) (asset.Type, error) {
	if t, err := asset.ParseType(s); err == nil {
		return t, nil
	}
	name := strings.ToLower(strings.TrimSpace(s))
	for code := byte('A'); code <= 'Z'; code++ {
		t := asset.Type(code)
		if t.IsValid() && t.String() == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown asset type %q", s)
}

func unixTime(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
