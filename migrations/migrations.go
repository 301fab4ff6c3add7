// Package migrations embeds the goose SQL migrations so the binary and the
// integration tests can apply schema without shipping loose files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
