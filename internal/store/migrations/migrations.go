// Package migrations embeds the mirror schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
