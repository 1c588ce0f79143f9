package migration

import "context"

// bootstrapLegacyLayout creates the legacy tables. A file that already holds
// them but never recorded a version is adopted as is.
func bootstrapLegacyLayout(ctx context.Context, tx *Tx) error {
	return tx.Exec(ctx, legacyTables...)
}
