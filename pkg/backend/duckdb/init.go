// Package duckdb provides an embedded DuckDB backend.
//
// This file registers the DuckDB driver with the backend registry.
// Import this package with a blank identifier to register the driver:
//
//	import _ "github.com/leapstack-labs/querydeck/pkg/backend/duckdb"
package duckdb

import (
	"log/slog"

	"github.com/leapstack-labs/querydeck/pkg/backend"
)

func init() {
	backend.Register(DriverName, func(logger *slog.Logger) backend.Driver { return New(logger) })
}
