package db

import "embed"

// MigrationFS embeds the SQL migrations for the delegation, registry, audit and event tables.
// cmd/migrate applies them through internal/db/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
