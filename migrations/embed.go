// Package migrations ships the service schema inside the binary.
package migrations

import "embed"

// Files holds the numbered SQL migrations in this directory.
//
//go:embed *.sql
var Files embed.FS
