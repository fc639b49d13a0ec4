//go:build sqlite_vec

package storage

// Compiled with CGO and the sqlite_vec tag:
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec,fts5" ./...
//
// Vector search runs vec_distance_cosine inside SQLite, so the sqlite-vec
// extension must be loadable by github.com/mattn/go-sqlite3.

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the database/sql driver name
	DriverName = "sqlite3"

	// VectorExtensionAvailable selects the SQL vector search path
	VectorExtensionAvailable = true

	// BuildMode is reported by `docsearch version`
	BuildMode = "cgo+sqlite-vec"
)
