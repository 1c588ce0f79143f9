package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/Combine-Capital/assetdb/internal/asset"
)

// ErrImmutableKey is returned when an update tries to change the attributes an
// identifier was derived from.
var ErrImmutableKey = errors.New("token key is immutable")

// translateWriteError maps driver constraint failures of an insert or update
// onto the asset error taxonomy.
func translateWriteError(op, id string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%s %s: %w: referenced asset does not exist", op, id, asset.ErrUnknownAsset)
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%s %s: %w", op, id, asset.ErrDuplicateIdentifier)
		}
	}
	return fmt.Errorf("%s %s: %w", op, id, err)
}

// translateDeleteError maps a foreign key failure of a delete onto ErrAssetInUse.
func translateDeleteError(id string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
		return fmt.Errorf("delete asset %s: %w", id, asset.ErrAssetInUse)
	}
	return fmt.Errorf("delete asset %s: %w", id, err)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func isUnknown(err error) bool {
	return errors.Is(err, asset.ErrUnknownAsset)
}
