// Package migrations embeds the goose SQL migrations. The SQL sticks to the
// subset understood by both PostgreSQL and SQLite.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
