// Package commands implements the querydeck subcommands.
package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/querydeck/internal/cli/config"
	"github.com/leapstack-labs/querydeck/internal/cli/output"
	"github.com/leapstack-labs/querydeck/internal/executor"
	"github.com/leapstack-labs/querydeck/internal/registry"
	"github.com/leapstack-labs/querydeck/internal/session"
	"github.com/leapstack-labs/querydeck/pkg/backend"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Sessions *session.Manager
	Executor *executor.Executor
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext connected to the configured
// backend. Returns the context and a cleanup function that must be called
// (typically via defer).
func NewCommandContext(cmd *cobra.Command, mode output.OutputMode) (*CommandContext, func(), error) {
	cmdCtx := NewCommandContextWithoutBackend(cmd, mode)
	cfg := cmdCtx.Cfg

	driver, err := backend.Open(cfg.Backend.Type, cmdCtx.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open backend: %w", err)
	}

	cmdCtx.Sessions = session.New(driver, cfg.Backend.ConnParams(), cmdCtx.Logger,
		session.WithConnectTimeout(cfg.Server.ConnectTimeout))
	cmdCtx.Executor = executor.New(cmdCtx.Sessions, registry.New(), cmdCtx.Logger)

	cleanup := func() {
		if err := cmdCtx.Sessions.Close(); err != nil {
			cmdCtx.Logger.Warn("failed to close backend", "error", err)
		}
	}
	return cmdCtx, cleanup, nil
}

// NewCommandContextWithoutBackend creates a CommandContext without a backend.
// Useful for commands that don't need database access.
func NewCommandContextWithoutBackend(cmd *cobra.Command, mode output.OutputMode) *CommandContext {
	return &CommandContext{
		Cfg:      config.GetConfig(cmd.Context()),
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode),
	}
}

// rendererFor creates a renderer on the command's output streams.
func rendererFor(cmd *cobra.Command, format string) *output.Renderer {
	return output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(format))
}
