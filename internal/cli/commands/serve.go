package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/querydeck/internal/cli/output"
	"github.com/leapstack-labs/querydeck/internal/ui"
	"github.com/leapstack-labs/querydeck/internal/ui/features/auth"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web SQL console",
		Long: `Start the web server hosting the SQL console.

Users sign in with their database credentials. Queries run over a WebSocket
and stream their results back as the backend produces them. The server log
can be followed live from the console.`,
		Example: `  # Serve a local PostgreSQL on the default address
  querydeck serve

  # Serve an embedded DuckDB with one database file per user
  querydeck serve --backend duckdb --data-dir ./data

  # Listen elsewhere and reload the log level when querydeck.yaml changes
  querydeck serve --addr 127.0.0.1:9000 --watch`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	// Values are read through the config loader, which maps these flags to
	// server.addr, watch and server.dev.
	cmd.Flags().String("addr", "", "Address to listen on (default: :8080)")
	cmd.Flags().Bool("watch", false, "Reload the log level when the config file changes")
	cmd.Flags().Bool("dev", false, "Development mode: allow short session secrets")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd, output.ModeAuto)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := cmdCtx.Cfg
	rt := runtimeFrom(cmd.Context())

	if err := cfg.EnsureSessionSecret(); err != nil {
		return err
	}
	if cfg.SecretGenerated {
		cmdCtx.Renderer.Warning("no session secret configured; sessions will not survive a restart")
	}

	store, err := auth.NewCookieStore(
		[]byte(cfg.Server.SessionSecret),
		[]byte(cfg.Server.EncryptionKey),
		cfg.Server.SecureCookies,
	)
	if err != nil {
		return err
	}

	server := ui.NewServer(ui.Config{
		Addr:              cfg.Server.Addr,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		Executor:          cmdCtx.Executor,
		Sessions:          cmdCtx.Sessions,
		SessionStore:      store,
		Notifier:          rt.Notifier,
		Watch:             cfg.Watch,
		ConfigFile:        rt.Loader.FileUsed(),
		Reload:            reloadLevel(rt),
		Level:             rt.Level,
		Logger:            cmdCtx.Logger,
	})

	cmdCtx.Renderer.Printf("Serving %s console on %s\n", cfg.Backend.Type, cfg.Server.Addr)
	cmdCtx.Renderer.Muted("Press Ctrl+C to stop")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	return server.Serve(ctx)
}

// reloadLevel re-reads the configuration and returns its log level.
func reloadLevel(rt *Runtime) ui.ReloadFunc {
	return func() (slog.Level, error) {
		cfg, err := rt.Loader.Load()
		if err != nil {
			return 0, fmt.Errorf("failed to reload config: %w", err)
		}
		return cfg.Log.SlogLevel()
	}
}
