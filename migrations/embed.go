// Package migrations embeds the SQL schema migrations so that binaries can
// apply them without a migrations directory on disk.
package migrations

import "embed"

// FS holds every *.sql migration
//
//go:embed *.sql
var FS embed.FS
