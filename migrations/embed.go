// Package migrations embeds the SQL schema so binaries and tests do not depend
// on the working directory.
package migrations

import "embed"

// FS holds the NNN_name.sql migration files
//
//go:embed *.sql
var FS embed.FS
