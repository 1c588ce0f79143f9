package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/Combine-Capital/assetdb/internal/asset"
)

const selectAssets = `
	SELECT
		a.identifier, a.type, a.started, a.swapped_for,
		d.name, d.symbol, d.coingecko, d.cryptocompare, d.forked,
		t.token_kind, t.chain, t.address, t.collectible_id, t.decimals, t.protocol
	FROM assets a
	LEFT JOIN common_asset_details d ON d.identifier = a.identifier
	LEFT JOIN chain_tokens t ON t.identifier = a.identifier
`

// componentBatchSize keeps IN lists well below SQLite's host parameter limit.
const componentBatchSize = 500

type assetRow struct {
	Identifier    string         `db:"identifier"`
	Type          string         `db:"type"`
	Started       sql.NullInt64  `db:"started"`
	SwappedFor    sql.NullString `db:"swapped_for"`
	Name          sql.NullString `db:"name"`
	Symbol        sql.NullString `db:"symbol"`
	Coingecko     sql.NullString `db:"coingecko"`
	Cryptocompare sql.NullString `db:"cryptocompare"`
	Forked        sql.NullString `db:"forked"`
	TokenKind     sql.NullString `db:"token_kind"`
	Chain         sql.NullInt64  `db:"chain"`
	Address       sql.NullString `db:"address"`
	CollectibleID sql.NullString `db:"collectible_id"`
	Decimals      sql.NullInt64  `db:"decimals"`
	Protocol      sql.NullString `db:"protocol"`
}

type componentRow struct {
	Parent    string          `db:"parent_identifier"`
	Component string          `db:"component_identifier"`
	Weight    decimal.Decimal `db:"weight"`
}

func (row *assetRow) toAsset() (*asset.Asset, error) {
	typ, err := asset.ParseType(row.Type)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", row.Identifier, err)
	}

	a := &asset.Asset{
		Identifier:    row.Identifier,
		Type:          typ,
		Name:          row.Name.String,
		Symbol:        row.Symbol.String,
		SwappedFor:    row.SwappedFor.String,
		Forked:        row.Forked.String,
		Coingecko:     stringPtr(row.Coingecko),
		Cryptocompare: stringPtr(row.Cryptocompare),
	}
	if row.Started.Valid {
		started := time.Unix(row.Started.Int64, 0).UTC()
		a.Started = &started
	}

	if !row.TokenKind.Valid {
		return a, nil
	}
	kind, err := asset.TokenKindFromCode(row.TokenKind.String)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", row.Identifier, err)
	}
	a.Token = &asset.ChainToken{
		Chain:         asset.ChainID(row.Chain.Int64),
		Kind:          kind,
		Address:       common.HexToAddress(row.Address.String),
		CollectibleID: row.CollectibleID.String,
		Protocol:      row.Protocol.String,
	}
	if row.Decimals.Valid {
		decimals := uint8(row.Decimals.Int64)
		a.Token.Decimals = &decimals
	}
	return a, nil
}

// GetAsset retrieves an asset by identifier
func (r *SQLiteRepository) GetAsset(ctx context.Context, id string) (*asset.Asset, error) {
	assets, err := r.queryAssets(ctx, "WHERE a.identifier = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get asset %s: %w", id, err)
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("get asset %s: %w", id, asset.ErrUnknownAsset)
	}
	return assets[0], nil
}

// UpsertAsset inserts an asset or confirms the stored one. Re-creating an
// asset with the same or a subset of its stored attributes returns the stored
// asset; supplying a value that differs from the stored one fails with
// ErrDuplicateIdentifier. The boolean result is true when a row was inserted.
func (r *SQLiteRepository) UpsertAsset(ctx context.Context, a *asset.Asset) (*asset.Asset, bool, error) {
	if err := validateForWrite(a); err != nil {
		return nil, false, fmt.Errorf("upsert asset: %w", err)
	}

	var (
		stored  *asset.Asset
		created bool
	)
	err := r.inTx(ctx, func(tx *SQLiteRepository) error {
		existing, err := tx.GetAsset(ctx, a.Identifier)
		switch {
		case err == nil:
			if conflicts := existing.ConflictsWith(a); len(conflicts) > 0 {
				return fmt.Errorf("upsert asset %s: %w: stored %s differs",
					a.Identifier, asset.ErrDuplicateIdentifier, strings.Join(conflicts, ", "))
			}
			stored = existing
			return nil
		case !isUnknown(err):
			return err
		}

		if err := tx.insertAsset(ctx, a); err != nil {
			return err
		}
		stored, err = tx.GetAsset(ctx, a.Identifier)
		created = err == nil
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// UpdateAsset replaces the mutable attributes of a stored asset, including
// its composition. The identifier and the token key cannot change.
func (r *SQLiteRepository) UpdateAsset(ctx context.Context, a *asset.Asset) error {
	if err := validateForWrite(a); err != nil {
		return fmt.Errorf("update asset: %w", err)
	}

	return r.inTx(ctx, func(tx *SQLiteRepository) error {
		existing, err := tx.GetAsset(ctx, a.Identifier)
		if err != nil {
			return err
		}
		if (existing.Token == nil) != (a.Token == nil) ||
			(a.Token != nil && existing.Token.Key() != a.Token.Key()) {
			return fmt.Errorf("update asset %s: %w", a.Identifier, ErrImmutableKey)
		}

		_, err = tx.q.ExecContext(ctx, `
			UPDATE assets SET type = ?, started = ?, swapped_for = ?
			WHERE identifier = ?`,
			a.Type.Code(), nullTime(a.Started), nullString(a.SwappedFor), a.Identifier,
		)
		if err != nil {
			return translateWriteError("update asset", a.Identifier, err)
		}

		_, err = tx.q.ExecContext(ctx, `
			UPDATE common_asset_details
			SET name = ?, symbol = ?, coingecko = ?, cryptocompare = ?, forked = ?
			WHERE identifier = ?`,
			a.Name, a.Symbol, nullStringPtr(a.Coingecko), nullStringPtr(a.Cryptocompare),
			nullString(a.Forked), a.Identifier,
		)
		if err != nil {
			return translateWriteError("update asset details", a.Identifier, err)
		}

		if a.Token == nil {
			return nil
		}
		_, err = tx.q.ExecContext(ctx, `
			UPDATE chain_tokens SET decimals = ?, protocol = ?
			WHERE identifier = ?`,
			nullDecimals(a.Token.Decimals), nullString(a.Token.Protocol), a.Identifier,
		)
		if err != nil {
			return translateWriteError("update chain token", a.Identifier, err)
		}
		if _, err := tx.q.ExecContext(ctx,
			`DELETE FROM underlying_tokens WHERE parent_identifier = ?`, a.Identifier,
		); err != nil {
			return fmt.Errorf("update asset %s: clear components: %w", a.Identifier, err)
		}
		return tx.insertComponents(ctx, a.Identifier, a.Token.Underlying)
	})
}

// DeleteAsset removes an asset together with its details, token row,
// composition and user ownership. Assets still referenced as a component or a
// swap target cannot be deleted.
func (r *SQLiteRepository) DeleteAsset(ctx context.Context, id string) error {
	return r.inTx(ctx, func(tx *SQLiteRepository) error {
		result, err := tx.q.ExecContext(ctx, `DELETE FROM assets WHERE identifier = ?`, id)
		if err != nil {
			return translateDeleteError(id, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete asset %s: %w", id, err)
		}
		if rows == 0 {
			return fmt.Errorf("delete asset %s: %w", id, asset.ErrUnknownAsset)
		}
		return nil
	})
}

// FindBySymbol returns every asset whose symbol matches case-insensitively,
// optionally restricted to one asset type.
func (r *SQLiteRepository) FindBySymbol(ctx context.Context, symbol string, typ *asset.Type) ([]*asset.Asset, error) {
	where := "WHERE d.symbol = ? COLLATE NOCASE"
	args := []interface{}{symbol}
	if typ != nil {
		where += " AND a.type = ?"
		args = append(args, typ.Code())
	}

	assets, err := r.queryAssets(ctx, where+" ORDER BY a.identifier", args...)
	if err != nil {
		return nil, fmt.Errorf("find assets by symbol %s: %w", symbol, err)
	}
	return assets, nil
}

// ListAssets retrieves assets with optional filtering
func (r *SQLiteRepository) ListAssets(ctx context.Context, filter *AssetFilter) ([]*asset.Asset, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter == nil {
		filter = &AssetFilter{}
	}
	if filter.Type != nil {
		conditions = append(conditions, "a.type = ?")
		args = append(args, filter.Type.Code())
	}
	if filter.Chain != nil {
		conditions = append(conditions, "t.chain = ?")
		args = append(args, int64(*filter.Chain))
	}
	if filter.Protocol != nil {
		conditions = append(conditions, "t.protocol = ?")
		args = append(args, *filter.Protocol)
	}
	if filter.Forked != nil {
		conditions = append(conditions, "d.forked = ?")
		args = append(args, *filter.Forked)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = "WHERE " + strings.Join(conditions, " AND ")
	}
	clause += " ORDER BY a.identifier"
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		clause += " LIMIT ? OFFSET ?"
		args = append(args, limit, filter.Offset)
	}

	assets, err := r.queryAssets(ctx, clause, args...)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return assets, nil
}

func (r *SQLiteRepository) queryAssets(ctx context.Context, clause string, args ...interface{}) ([]*asset.Asset, error) {
	var rows []assetRow
	if err := r.q.SelectContext(ctx, &rows, selectAssets+clause, args...); err != nil {
		return nil, err
	}

	assets := make([]*asset.Asset, 0, len(rows))
	tokens := make(map[string]*asset.ChainToken)
	var parents []string
	for i := range rows {
		a, err := rows[i].toAsset()
		if err != nil {
			return nil, err
		}
		if a.Token != nil {
			tokens[a.Identifier] = a.Token
			parents = append(parents, a.Identifier)
		}
		assets = append(assets, a)
	}

	for start := 0; start < len(parents); start += componentBatchSize {
		end := min(start+componentBatchSize, len(parents))
		components, err := r.loadComponents(ctx, parents[start:end])
		if err != nil {
			return nil, err
		}
		for _, c := range components {
			token := tokens[c.Parent]
			token.Underlying = append(token.Underlying, asset.UnderlyingToken{
				Identifier: c.Component,
				Weight:     c.Weight,
			})
		}
	}
	return assets, nil
}

func (r *SQLiteRepository) loadComponents(ctx context.Context, parents []string) ([]componentRow, error) {
	query, args, err := sqlx.In(`
		SELECT parent_identifier, component_identifier, weight
		FROM underlying_tokens
		WHERE parent_identifier IN (?)
		ORDER BY parent_identifier, position`, parents)
	if err != nil {
		return nil, fmt.Errorf("load components: %w", err)
	}

	var rows []componentRow
	if err := r.q.SelectContext(ctx, &rows, r.q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load components: %w", err)
	}
	return rows, nil
}

func (r *SQLiteRepository) insertAsset(ctx context.Context, a *asset.Asset) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO assets (identifier, type, started, swapped_for)
		VALUES (?, ?, ?, ?)`,
		a.Identifier, a.Type.Code(), nullTime(a.Started), nullString(a.SwappedFor),
	)
	if err != nil {
		return translateWriteError("insert asset", a.Identifier, err)
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO common_asset_details (identifier, name, symbol, coingecko, cryptocompare, forked)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.Identifier, a.Name, a.Symbol, nullStringPtr(a.Coingecko), nullStringPtr(a.Cryptocompare),
		nullString(a.Forked),
	)
	if err != nil {
		return translateWriteError("insert asset details", a.Identifier, err)
	}

	if a.Token == nil {
		return nil
	}
	t := a.Token
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO chain_tokens (identifier, token_kind, chain, address, collectible_id, decimals, protocol)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Identifier, t.Kind.Code(), int64(t.Chain), t.Address.Hex(), nullString(t.CollectibleID),
		nullDecimals(t.Decimals), nullString(t.Protocol),
	)
	if err != nil {
		return translateWriteError("insert chain token", a.Identifier, err)
	}
	return r.insertComponents(ctx, a.Identifier, t.Underlying)
}

func (r *SQLiteRepository) insertComponents(ctx context.Context, parent string, components []asset.UnderlyingToken) error {
	for i, c := range components {
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO underlying_tokens (parent_identifier, component_identifier, weight, position)
			VALUES (?, ?, ?, ?)`,
			parent, c.Identifier, c.Weight.String(), i,
		)
		if err != nil {
			return translateWriteError("insert component "+c.Identifier+" of", parent, err)
		}
	}
	return nil
}

func validateForWrite(a *asset.Asset) error {
	if a == nil || a.Identifier == "" {
		return fmt.Errorf("%w: empty identifier", asset.ErrMalformedIdentifier)
	}
	if !a.Type.IsValid() {
		return fmt.Errorf("asset %s: invalid type %d", a.Identifier, byte(a.Type))
	}
	if a.Token != nil {
		if uint64(a.Token.Chain) > math.MaxInt64 {
			return fmt.Errorf("%w: chain id %d out of range", asset.ErrMalformedIdentifier, a.Token.Chain)
		}
		id, err := asset.Encode(a.Token.Key())
		if err != nil {
			return err
		}
		if id != a.Identifier {
			return fmt.Errorf("%w: %s does not match token key %s", asset.ErrMalformedIdentifier, a.Identifier, id)
		}
	}
	return asset.ValidateComposition(a.Identifier, a.Components())
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func nullDecimals(d *uint8) sql.NullInt64 {
	if d == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*d), Valid: true}
}
