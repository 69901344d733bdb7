// Package dbmigrations exposes embedded SQL migrations for bridge binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into bridge binaries.
//
//go:embed *.sql
var Files embed.FS
