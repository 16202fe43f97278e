package migrations

import "embed"

// SQLite holds the SQLite flavour of the schema. The Postgres migrations in
// this directory are read from disk through MIGRATIONS_PATH.
//
//go:embed sqlite/*.sql
var SQLite embed.FS
