package migration

import (
	"context"
	"fmt"

	"github.com/Combine-Capital/assetdb/internal/repository"
)

type compositionRow struct {
	Parent    string `db:"parent_identifier"`
	Component string `db:"component_identifier"`
	Weight    string `db:"weight"`
}

// hardenComposition rebuilds underlying_tokens with a uniqueness constraint
// and an explicit position, copying rows into a new table and renaming it.
// It also adds the lookup indexes the repository queries rely on.
func hardenComposition(ctx context.Context, tx *Tx) error {
	var rows []compositionRow
	if err := tx.SelectContext(ctx, &rows,
		`SELECT parent_identifier, component_identifier, weight FROM underlying_tokens ORDER BY rowid`,
	); err != nil {
		return fmt.Errorf("read underlying tokens: %w", err)
	}

	rebuilt := newBaskets()
	for _, row := range rows {
		weight, err := parseWeight(row.Weight, row.Parent, row.Component)
		if err != nil {
			return err
		}
		if !rebuilt.add(row.Parent, row.Component, weight) {
			if err := tx.Review(ctx, "underlying_tokens", row.Parent, row.Component, repository.ReviewDuplicateComponent); err != nil {
				return err
			}
		}
	}
	if err := rebuilt.validate(); err != nil {
		return err
	}

	if err := tx.Exec(ctx, createHardenedComposition); err != nil {
		return err
	}
	if err := rebuilt.insert(ctx, tx, "underlying_tokens_new", true); err != nil {
		return err
	}
	if err := tx.Exec(ctx,
		`DROP TABLE underlying_tokens`,
		`ALTER TABLE underlying_tokens_new RENAME TO underlying_tokens`,
	); err != nil {
		return err
	}
	if err := tx.Exec(ctx, lookupIndexes...); err != nil {
		return err
	}

	tx.logger.Info().
		Int("rows", len(rows)).
		Int("components", rebuilt.len()).
		Msg("rebuilt underlying tokens")
	return nil
}
