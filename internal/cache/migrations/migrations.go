// Package migrations embeds the client cache schema migration files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
