package migration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Combine-Capital/assetdb/internal/asset"
	"github.com/Combine-Capital/assetdb/internal/repository"
)

type legacyAssetRow struct {
	Identifier    string         `db:"identifier"`
	Type          string         `db:"type"`
	Name          sql.NullString `db:"name"`
	Symbol        sql.NullString `db:"symbol"`
	Started       sql.NullInt64  `db:"started"`
	SwappedFor    sql.NullString `db:"swapped_for"`
	Coingecko     sql.NullString `db:"coingecko"`
	Cryptocompare sql.NullString `db:"cryptocompare"`
	Forked        sql.NullString `db:"forked"`
	TokenAddress  sql.NullString `db:"token_address"`
	Decimals      sql.NullInt64  `db:"decimals"`
	Protocol      sql.NullString `db:"protocol"`
	NFTAddress    sql.NullString `db:"nft_address"`
	CollectibleID sql.NullString `db:"collectible_id"`
}

type legacyComponentRow struct {
	Address string `db:"address"`
	Weight  string `db:"weight"`
	Parent  string `db:"parent_token_entry"`
}

// Legacy rows in insertion order, which decides collapse winners.
const selectLegacyAssets = `
	SELECT
		a.identifier, a.type, a.name, a.symbol, a.started, a.swapped_for,
		a.coingecko, a.cryptocompare, c.forked,
		e.address AS token_address, e.decimals, e.protocol,
		n.address AS nft_address, n.collectible_id
	FROM assets a
	LEFT JOIN common_asset_details c ON c.asset_id = a.identifier
	LEFT JOIN ethereum_tokens e ON e.address = a.details_reference AND a.type IN ('C', 'S', 'X')
	LEFT JOIN ethereum_nfts n ON n.identifier = a.identifier AND a.type = 'Z'
	ORDER BY a.rowid
`

// Legacy token types carried the chain implicitly.
var legacyTokenChains = map[asset.Type]asset.ChainID{
	asset.TypeEVMToken:       asset.ChainEthereum,
	asset.TypeBinanceToken:   asset.ChainBinance,
	asset.TypeAvalancheToken: asset.ChainAvalanche,
}

// canonicalIdentifiers moves the legacy single-chain layout to the unified
// chain token layout and rewrites every identifier and reference on the way.
func canonicalIdentifiers(ctx context.Context, tx *Tx) error {
	if err := tx.Exec(ctx, createMigrationReview); err != nil {
		return err
	}

	var rows []legacyAssetRow
	if err := tx.SelectContext(ctx, &rows, selectLegacyAssets); err != nil {
		return fmt.Errorf("read legacy assets: %w", err)
	}
	var components []legacyComponentRow
	if err := tx.SelectContext(ctx, &components,
		`SELECT address, weight, parent_token_entry FROM underlying_tokens_list ORDER BY rowid`,
	); err != nil {
		return fmt.Errorf("read legacy underlying tokens: %w", err)
	}
	var owned []string
	if err := tx.SelectContext(ctx, &owned, `SELECT asset_id FROM user_owned_assets ORDER BY rowid`); err != nil {
		return fmt.Errorf("read legacy user owned assets: %w", err)
	}

	plan := newRewritePlan(tx)
	for _, row := range rows {
		if err := plan.addAsset(ctx, row); err != nil {
			return err
		}
	}
	if err := plan.rewriteReferences(ctx); err != nil {
		return err
	}
	if err := plan.addComponents(ctx, components); err != nil {
		return err
	}
	if err := plan.addOwned(ctx, owned); err != nil {
		return err
	}

	if err := tx.Exec(ctx, dropLegacyTables...); err != nil {
		return err
	}
	if err := tx.Exec(ctx, canonicalTables...); err != nil {
		return err
	}
	if err := plan.write(ctx); err != nil {
		return err
	}

	tx.logger.Info().
		Int("legacy_assets", len(rows)).
		Int("assets", len(plan.assets)).
		Int("components", plan.baskets.len()).
		Int("user_owned", len(plan.owned)).
		Msg("rewrote legacy identifiers")
	return nil
}

// rewritePlan holds the canonical rows computed from the legacy tables.
type rewritePlan struct {
	tx        *Tx
	assets    []*asset.Asset          // collapse winners, legacy order
	byID      map[string]*asset.Asset // canonical identifier -> winner
	ids       map[string]string       // legacy identifier -> canonical identifier
	addresses map[string]string       // lowercase legacy address -> canonical ERC20 identifier
	baskets   *baskets
	owned     []string
}

func newRewritePlan(tx *Tx) *rewritePlan {
	return &rewritePlan{
		tx:        tx,
		byID:      make(map[string]*asset.Asset),
		ids:       make(map[string]string),
		addresses: make(map[string]string),
		baskets:   newBaskets(),
	}
}

func (p *rewritePlan) addAsset(ctx context.Context, row legacyAssetRow) error {
	typ, err := asset.ParseType(row.Type)
	if err != nil {
		return fmt.Errorf("legacy asset %s: %w", row.Identifier, err)
	}

	a := &asset.Asset{
		Identifier:    row.Identifier,
		Type:          typ,
		Name:          row.Name.String,
		Symbol:        row.Symbol.String,
		SwappedFor:    row.SwappedFor.String,
		Forked:        row.Forked.String,
		Coingecko:     nullablePtr(row.Coingecko),
		Cryptocompare: nullablePtr(row.Cryptocompare),
	}
	if row.Started.Valid {
		started := time.Unix(row.Started.Int64, 0).UTC()
		a.Started = &started
	}

	key, rawAddress, isToken, keyErr := legacyTokenKey(typ, row)
	switch {
	case isToken && keyErr != nil:
		// Kept under its legacy identifier so nothing pointing at it breaks.
		a.Type = asset.TypeOther
		if err := p.tx.Review(ctx, "assets", row.Identifier, rawAddress, repository.ReviewMalformedAddress); err != nil {
			return err
		}
	case isToken:
		a.Identifier = asset.MustEncode(key)
		a.Token = &asset.ChainToken{
			Chain:         key.Chain,
			Kind:          key.Kind,
			Address:       key.Address,
			CollectibleID: key.CollectibleID,
			Protocol:      row.Protocol.String,
		}
		if row.Decimals.Valid {
			if row.Decimals.Int64 < 0 || row.Decimals.Int64 > 255 {
				reference := fmt.Sprintf("%d", row.Decimals.Int64)
				if err := p.tx.Review(ctx, "chain_tokens", a.Identifier, reference, repository.ReviewInvalidDecimals); err != nil {
					return err
				}
			} else {
				decimals := uint8(row.Decimals.Int64)
				a.Token.Decimals = &decimals
			}
		}
	}

	p.ids[row.Identifier] = a.Identifier
	if _, taken := p.byID[a.Identifier]; taken {
		// First row in legacy order wins; this one is re-pointed to it.
		return p.tx.Review(ctx, "assets", row.Identifier, a.Identifier, repository.ReviewCollapsed)
	}
	p.byID[a.Identifier] = a
	p.assets = append(p.assets, a)

	if a.Token != nil && a.Token.Kind == asset.ERC20 {
		address := strings.ToLower(a.Token.Address.Hex())
		if _, ok := p.addresses[address]; !ok {
			p.addresses[address] = a.Identifier
		}
	}
	return nil
}

// legacyTokenKey derives the token key of a legacy row. isToken is false for
// generic assets; err is set when the row is a token whose address or
// collectible id cannot be encoded.
func legacyTokenKey(typ asset.Type, row legacyAssetRow) (key asset.TokenKey, rawAddress string, isToken bool, err error) {
	switch {
	case row.TokenAddress.Valid:
		chain, ok := legacyTokenChains[typ]
		if !ok {
			return key, "", false, nil
		}
		rawAddress = row.TokenAddress.String
		if !common.IsHexAddress(rawAddress) {
			return key, rawAddress, true, fmt.Errorf("%w: address %q", asset.ErrMalformedIdentifier, rawAddress)
		}
		key = asset.TokenKey{Chain: chain, Kind: asset.ERC20, Address: common.HexToAddress(rawAddress)}
	case row.NFTAddress.Valid:
		rawAddress = row.NFTAddress.String
		if !common.IsHexAddress(rawAddress) {
			return key, rawAddress, true, fmt.Errorf("%w: address %q", asset.ErrMalformedIdentifier, rawAddress)
		}
		key = asset.TokenKey{
			Chain:         asset.ChainEthereum,
			Kind:          asset.ERC721,
			Address:       common.HexToAddress(rawAddress),
			CollectibleID: row.CollectibleID.String,
		}
	default:
		return key, "", false, nil
	}
	return key, rawAddress, true, key.Validate()
}

// resolve maps a legacy identifier reference onto its canonical identifier.
// ok is false when the reference points at nothing.
func (p *rewritePlan) resolve(ref string) (string, bool) {
	if id, ok := p.ids[ref]; ok {
		return id, true
	}
	if _, ok := p.byID[ref]; ok {
		return ref, true
	}
	if translated := asset.TranslateLegacyIdentifier(ref); translated != ref {
		if _, ok := p.byID[translated]; ok {
			return translated, true
		}
	}
	return ref, false
}

// resolveAddress maps a legacy token address reference.
func (p *rewritePlan) resolveAddress(ref string) (string, bool) {
	if id, ok := p.addresses[strings.ToLower(ref)]; ok {
		return id, true
	}
	return p.resolve(ref)
}

func (p *rewritePlan) rewriteReferences(ctx context.Context) error {
	for _, a := range p.assets {
		if a.SwappedFor != "" {
			ref, ok := p.resolve(a.SwappedFor)
			a.SwappedFor = ref
			if !ok {
				if err := p.tx.Review(ctx, "assets", a.Identifier, ref, repository.ReviewDanglingReference); err != nil {
					return err
				}
			}
		}
		if a.Forked != "" {
			ref, ok := p.resolve(a.Forked)
			a.Forked = ref
			if !ok {
				if err := p.tx.Review(ctx, "common_asset_details", a.Identifier, ref, repository.ReviewDanglingReference); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (p *rewritePlan) addComponents(ctx context.Context, rows []legacyComponentRow) error {
	for _, row := range rows {
		parent, ok := p.resolveAddress(row.Parent)
		if !ok {
			if err := p.tx.Review(ctx, "underlying_tokens", parent, parent, repository.ReviewDanglingReference); err != nil {
				return err
			}
		}
		component, ok := p.resolveAddress(row.Address)
		if !ok {
			if err := p.tx.Review(ctx, "underlying_tokens", parent, component, repository.ReviewDanglingReference); err != nil {
				return err
			}
		}
		weight, err := parseWeight(row.Weight, parent, component)
		if err != nil {
			return err
		}
		if !p.baskets.add(parent, component, weight) {
			if err := p.tx.Review(ctx, "underlying_tokens", parent, component, repository.ReviewDuplicateComponent); err != nil {
				return err
			}
		}
	}
	return p.baskets.validate()
}

func (p *rewritePlan) addOwned(ctx context.Context, ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, legacy := range ids {
		id, ok := p.resolve(legacy)
		if !ok {
			if err := p.tx.Review(ctx, "user_owned_assets", id, id, repository.ReviewDanglingReference); err != nil {
				return err
			}
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		p.owned = append(p.owned, id)
	}
	return nil
}

func (p *rewritePlan) write(ctx context.Context) error {
	var assetRows, detailRows, tokenRows, ownedRows [][]interface{}
	for _, a := range p.assets {
		var started sql.NullInt64
		if a.Started != nil {
			started = sql.NullInt64{Int64: a.Started.Unix(), Valid: true}
		}
		assetRows = append(assetRows, []interface{}{a.Identifier, a.Type.Code(), started, nullable(a.SwappedFor)})
		detailRows = append(detailRows, []interface{}{
			a.Identifier, a.Name, a.Symbol, nullableString(a.Coingecko), nullableString(a.Cryptocompare), nullable(a.Forked),
		})
		if t := a.Token; t != nil {
			var decimals sql.NullInt64
			if t.Decimals != nil {
				decimals = sql.NullInt64{Int64: int64(*t.Decimals), Valid: true}
			}
			tokenRows = append(tokenRows, []interface{}{
				a.Identifier, t.Kind.Code(), int64(t.Chain), t.Address.Hex(), nullable(t.CollectibleID), decimals, nullable(t.Protocol),
			})
		}
	}
	for _, id := range p.owned {
		ownedRows = append(ownedRows, []interface{}{id})
	}

	inserts := []struct {
		query string
		rows  [][]interface{}
	}{
		{`INSERT INTO assets (identifier, type, started, swapped_for)
			VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`, assetRows},
		{`INSERT INTO common_asset_details (identifier, name, symbol, coingecko, cryptocompare, forked)
			VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`, detailRows},
		{`INSERT INTO chain_tokens (identifier, token_kind, chain, address, collectible_id, decimals, protocol)
			VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`, tokenRows},
		{`INSERT INTO user_owned_assets (asset_id) VALUES (?) ON CONFLICT DO NOTHING`, ownedRows},
	}
	for _, insert := range inserts {
		if err := bulkInsert(ctx, p.tx, insert.query, insert.rows); err != nil {
			return err
		}
	}
	return p.baskets.insert(ctx, p.tx, "underlying_tokens", false)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullablePtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
