package migration

// Legacy single-chain layout (version 1). Token details live in per-kind
// tables keyed by address and assets carry their name and symbol directly.
var legacyTables = []string{
	`CREATE TABLE IF NOT EXISTS schema_metadata (
		version INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS assets (
		identifier TEXT NOT NULL PRIMARY KEY,
		type CHAR(1) NOT NULL DEFAULT('A'),
		name TEXT,
		symbol TEXT,
		started INTEGER,
		swapped_for TEXT,
		coingecko TEXT,
		cryptocompare TEXT,
		details_reference TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS ethereum_tokens (
		address VARCHAR(42) NOT NULL PRIMARY KEY,
		decimals INTEGER,
		protocol TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS ethereum_nfts (
		identifier TEXT NOT NULL PRIMARY KEY,
		address VARCHAR(42) NOT NULL,
		collectible_id TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS underlying_tokens_list (
		address VARCHAR(42) NOT NULL,
		weight TEXT NOT NULL,
		parent_token_entry TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS common_asset_details (
		asset_id TEXT NOT NULL PRIMARY KEY,
		forked TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS user_owned_assets (
		asset_id TEXT NOT NULL PRIMARY KEY
	)`,
}

var dropLegacyTables = []string{
	`DROP TABLE underlying_tokens_list`,
	`DROP TABLE ethereum_nfts`,
	`DROP TABLE ethereum_tokens`,
	`DROP TABLE common_asset_details`,
	`DROP TABLE user_owned_assets`,
	`DROP TABLE assets`,
}

const createMigrationReview = `CREATE TABLE IF NOT EXISTS migration_review (
	id TEXT NOT NULL PRIMARY KEY,
	run_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	table_name TEXT NOT NULL,
	row_key TEXT NOT NULL,
	reference TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL,
	created_at INTEGER NOT NULL
)`

// Unified chain-aware layout (version 2).
var canonicalTables = []string{
	`CREATE TABLE assets (
		identifier TEXT NOT NULL PRIMARY KEY,
		type CHAR(1) NOT NULL,
		started INTEGER,
		swapped_for TEXT REFERENCES assets(identifier) ON UPDATE CASCADE ON DELETE RESTRICT
	)`,
	`CREATE TABLE common_asset_details (
		identifier TEXT NOT NULL PRIMARY KEY REFERENCES assets(identifier) ON UPDATE CASCADE ON DELETE CASCADE,
		name TEXT NOT NULL DEFAULT '',
		symbol TEXT NOT NULL DEFAULT '',
		coingecko TEXT,
		cryptocompare TEXT,
		forked TEXT REFERENCES assets(identifier) ON UPDATE CASCADE ON DELETE SET NULL
	)`,
	`CREATE TABLE chain_tokens (
		identifier TEXT NOT NULL PRIMARY KEY REFERENCES assets(identifier) ON UPDATE CASCADE ON DELETE CASCADE,
		token_kind CHAR(1) NOT NULL,
		chain INTEGER NOT NULL,
		address VARCHAR(42) NOT NULL,
		collectible_id TEXT,
		decimals INTEGER CHECK (decimals IS NULL OR (decimals >= 0 AND decimals <= 255)),
		protocol TEXT
	)`,
	`CREATE TABLE underlying_tokens (
		parent_identifier TEXT NOT NULL REFERENCES assets(identifier) ON UPDATE CASCADE ON DELETE CASCADE,
		component_identifier TEXT NOT NULL REFERENCES assets(identifier) ON UPDATE CASCADE ON DELETE RESTRICT,
		weight TEXT NOT NULL
	)`,
	`CREATE TABLE user_owned_assets (
		asset_id TEXT NOT NULL PRIMARY KEY REFERENCES assets(identifier) ON UPDATE CASCADE ON DELETE CASCADE
	)`,
}

// Composition table of version 3, created under a temporary name and
// renamed once the version 2 rows are copied over.
const createHardenedComposition = `CREATE TABLE underlying_tokens_new (
	parent_identifier TEXT NOT NULL REFERENCES assets(identifier) ON UPDATE CASCADE ON DELETE CASCADE,
	component_identifier TEXT NOT NULL REFERENCES assets(identifier) ON UPDATE CASCADE ON DELETE RESTRICT,
	weight TEXT NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	UNIQUE (parent_identifier, component_identifier)
)`

var lookupIndexes = []string{
	`CREATE INDEX idx_common_asset_details_symbol ON common_asset_details (symbol COLLATE NOCASE)`,
	`CREATE INDEX idx_chain_tokens_address ON chain_tokens (chain, address)`,
	`CREATE INDEX idx_underlying_tokens_component ON underlying_tokens (component_identifier)`,
}
