package commands

import (
	"context"
	"log/slog"

	"github.com/leapstack-labs/querydeck/internal/cli/config"
	"github.com/leapstack-labs/querydeck/internal/ui/notifier"
)

// runtimeKey is used to store the Runtime in context.
type runtimeKey struct{}

// Runtime is the process-wide state the root command sets up before any
// subcommand runs.
type Runtime struct {
	// Level controls the level of the process logger.
	Level *slog.LevelVar
	// Notifier receives every log line for the console's log tail.
	Notifier *notifier.Notifier
	// Loader re-reads configuration with the same file and flags.
	Loader *config.Loader
}

// WithRuntime returns a copy of ctx carrying rt.
func WithRuntime(ctx context.Context, rt *Runtime) context.Context {
	return context.WithValue(ctx, runtimeKey{}, rt)
}

// runtimeFrom returns the Runtime stored in ctx, or a fresh one.
func runtimeFrom(ctx context.Context) *Runtime {
	if rt, ok := ctx.Value(runtimeKey{}).(*Runtime); ok {
		return rt
	}
	return &Runtime{
		Level:    new(slog.LevelVar),
		Notifier: notifier.New(),
		Loader:   config.NewLoader("", nil),
	}
}
