package repository

import (
	"context"
	"time"

	"github.com/Combine-Capital/assetdb/internal/asset"
)

// Repository defines the data access operations of the global asset database.
// Mutating operations run inside a transaction; WithTransaction lets callers
// group several of them so they commit or roll back together.
type Repository interface {
	// Asset operations
	GetAsset(ctx context.Context, id string) (*asset.Asset, error)
	UpsertAsset(ctx context.Context, a *asset.Asset) (*asset.Asset, bool, error)
	UpdateAsset(ctx context.Context, a *asset.Asset) error
	DeleteAsset(ctx context.Context, id string) error
	FindBySymbol(ctx context.Context, symbol string, typ *asset.Type) ([]*asset.Asset, error)
	ListAssets(ctx context.Context, filter *AssetFilter) ([]*asset.Asset, error)

	// User-owned asset operations
	AddUserOwnedAssets(ctx context.Context, ids ...string) error
	ListUserOwnedAssets(ctx context.Context) ([]string, error)

	// Migration bookkeeping
	ListMigrationReviews(ctx context.Context) ([]MigrationReview, error)
	SchemaVersion(ctx context.Context) (int, error)

	// Transaction support
	WithTransaction(ctx context.Context, fn func(repo Repository) error) error

	// Health check
	Ping(ctx context.Context) error
}

// AssetFilter defines filtering options for asset queries
type AssetFilter struct {
	Type     *asset.Type    // Filter by asset type
	Chain    *asset.ChainID // Filter by chain, implies chain tokens only
	Protocol *string        // Filter by token protocol
	Forked   *string        // Filter by the asset forked from
	Limit    int            // Maximum number of results
	Offset   int            // Number of results to skip
}

// MigrationReview is a row a migration step could not carry over cleanly and
// left for manual inspection.
type MigrationReview struct {
	ID        string    `db:"id"`
	RunID     string    `db:"run_id"`
	Version   int       `db:"version"`
	Table     string    `db:"table_name"`
	RowKey    string    `db:"row_key"`
	Reference string    `db:"reference"`
	Reason    string    `db:"reason"`
	CreatedAt time.Time `db:"-"`
}

// Review reasons recorded by migration steps.
const (
	ReviewCollapsed          = "collapsed"
	ReviewDanglingReference  = "dangling_reference"
	ReviewMalformedAddress   = "malformed_address"
	ReviewDuplicateComponent = "duplicate_component"
	ReviewInvalidDecimals    = "invalid_decimals"
)
