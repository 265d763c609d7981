// Package migrations embeds the PostgreSQL schema.
package migrations

import "embed"

// Files holds the numbered migrations, applied in lexical order.
//
//go:embed *.sql
var Files embed.FS
