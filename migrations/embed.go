// Package migrations ships the PostgreSQL schema of the messaging store.
package migrations

import "embed"

// FS holds the numbered up/down SQL files
//
//go:embed *.sql
var FS embed.FS
