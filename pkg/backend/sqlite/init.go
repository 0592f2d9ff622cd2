package sqlite

import (
	"log/slog"

	"github.com/leapstack-labs/querydeck/pkg/backend"
)

func init() {
	backend.Register(DriverName, func(logger *slog.Logger) backend.Driver { return New(logger) })
}
