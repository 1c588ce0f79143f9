package repository

import (
	"context"
	"fmt"
)

// AddUserOwnedAssets marks assets as held by the user. Already marked assets
// are left untouched and unknown identifiers fail with ErrUnknownAsset.
func (r *SQLiteRepository) AddUserOwnedAssets(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.inTx(ctx, func(tx *SQLiteRepository) error {
		for _, id := range ids {
			_, err := tx.q.ExecContext(ctx,
				`INSERT INTO user_owned_assets (asset_id) VALUES (?) ON CONFLICT (asset_id) DO NOTHING`, id)
			if err != nil {
				return translateWriteError("add user owned asset", id, err)
			}
		}
		return nil
	})
}

// ListUserOwnedAssets returns the identifiers of every user-owned asset.
func (r *SQLiteRepository) ListUserOwnedAssets(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.q.SelectContext(ctx, &ids, `SELECT asset_id FROM user_owned_assets ORDER BY asset_id`); err != nil {
		return nil, fmt.Errorf("list user owned assets: %w", err)
	}
	return ids, nil
}
