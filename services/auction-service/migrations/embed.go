// Package migrations embeds the goose migrations of the auction service.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
