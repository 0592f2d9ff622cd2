// Package postgres provides a PostgreSQL backend built on pgx.
//
// This file registers the PostgreSQL driver with the backend registry.
// Import this package with a blank identifier to register the driver:
//
//	import _ "github.com/leapstack-labs/querydeck/pkg/backend/postgres"
package postgres

import (
	"log/slog"

	"github.com/leapstack-labs/querydeck/pkg/backend"
)

func init() {
	backend.Register(DriverName, func(logger *slog.Logger) backend.Driver { return New(logger) })
}
