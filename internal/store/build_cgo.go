//go:build bombe_cgo
// +build bombe_cgo

package store

// This file is compiled when building with CGO and the bombe_cgo tag. The
// C driver is measurably faster on large repositories and guarantees FTS5.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "bombe_cgo fts5" ./...
//
// Driver used: github.com/mattn/go-sqlite3

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use.
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration.
	BuildMode = "cgo"
)
