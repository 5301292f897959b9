//go:build tools

package tools

// Tracks the migration CLI so `go run github.com/pressly/goose/v3/cmd/goose`
// uses the same version as the embedded runner.

import (
	_ "github.com/pressly/goose/v3/cmd/goose"
)
