package store

import "embed"

// Migrations embeds the SQL migration set applied by sqlitestore.NewDB. It
// lives here, alongside the ModelStore abstraction, so any future backing
// store implementation can reuse the same schema history.
//
//go:embed migrations/*.sql
var Migrations embed.FS
