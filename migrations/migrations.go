// Package migrations embeds the SQL schema migrations for the auth database.
package migrations

import "embed"

// FS contains the ordered .up.sql migration files.
//
//go:embed *.sql
var FS embed.FS
