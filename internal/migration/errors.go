package migration

import (
	"errors"
	"fmt"
)

var (
	// ErrMigrationFailed matches every *MigrationError.
	ErrMigrationFailed = errors.New("migration failed")

	// ErrSchemaTooNew is returned when the store was written by a newer
	// release than this one.
	ErrSchemaTooNew = errors.New("schema version is newer than supported")
)

// MigrationError reports the step that failed. The store is left at Version.
type MigrationError struct {
	Version int
	Step    string
	Err     error
}

func (e *MigrationError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("migration from version %d failed: %v", e.Version, e.Err)
	}
	return fmt.Sprintf("migration from version %d (%s) failed: %v", e.Version, e.Step, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

func (e *MigrationError) Is(target error) bool {
	return target == ErrMigrationFailed
}
