// Package migrations embeds the postgres schema migrations (goose format).
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
