//go:build !sqlite_vec

package storage

// Default build: modernc.org/sqlite, no C toolchain needed. FTS5 is built
// in; vector search is an exact scan scored in Go.

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the database/sql driver name
	DriverName = "sqlite"

	// VectorExtensionAvailable selects the SQL vector search path
	VectorExtensionAvailable = false

	// BuildMode is reported by `docsearch version`
	BuildMode = "purego"
)
