// Package cli provides the command-line interface for querydeck.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/querydeck/internal/cli/commands"
	"github.com/leapstack-labs/querydeck/internal/cli/config"
	"github.com/leapstack-labs/querydeck/internal/ui/notifier"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "querydeck",
		Short: "querydeck - web SQL console with streaming results",
		Long: `querydeck is a web SQL console. Users sign in with their own database
credentials, run batches of SQL and watch the results stream in over a
WebSocket as the backend produces them.

Backends: PostgreSQL-compatible servers, and embedded DuckDB or SQLite with
one database file per user.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			// Load configuration; explicitly set flags win over env and file
			loader := config.NewLoader(cfgFile, cmd.Flags())
			cfg, err := loader.Load()
			if err != nil {
				return err
			}

			level, err := cfg.Log.SlogLevel()
			if err != nil {
				return err
			}
			levelVar := new(slog.LevelVar)
			levelVar.Set(level)

			notify := notifier.New()
			logger := newLogger(cmd.ErrOrStderr(), cfg.Log.Format, levelVar, notify)

			ctx := context.WithValue(cmd.Context(), config.LoggerKey(), logger)
			ctx = config.WithConfig(ctx, cfg)
			ctx = commands.WithRuntime(ctx, &commands.Runtime{
				Level:    levelVar,
				Notifier: notify,
				Loader:   loader,
			})
			cmd.SetContext(ctx)

			// Print config file used (if verbose)
			if cfg.Verbose {
				if file := loader.FileUsed(); file != "" {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Using config file: %s\n", file)
				}
			}

			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set version template
	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./querydeck.yaml)")
	rootCmd.PersistentFlags().String("backend", "", "Backend type (postgres|duckdb|sqlite)")
	rootCmd.PersistentFlags().String("host", "", "Backend host (postgres)")
	rootCmd.PersistentFlags().Int("port", 0, "Backend port (postgres)")
	rootCmd.PersistentFlags().String("data-dir", "", "Directory of per-user database files (duckdb, sqlite)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")

	_ = rootCmd.RegisterFlagCompletionFunc("backend", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"postgres", "duckdb", "sqlite"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("log-level", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveNoFileComp
	})

	// Add subcommands
	rootCmd.AddCommand(commands.NewVersionCommand(Version, GitCommit, BuildDate))
	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewExecCommand())
	rootCmd.AddCommand(commands.NewExplainCommand())
	rootCmd.AddCommand(commands.NewCheckCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// newLogger builds the process logger. Every record also goes to the
// notifier so the console can tail the log.
func newLogger(w io.Writer, format string, level *slog.LevelVar, n *notifier.Notifier) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if format == "json" {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}
	return slog.New(notifier.NewHandler(inner, n, level))
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for querydeck.

To load completions:

Bash:
  $ source <(querydeck completion bash)

Zsh:
  $ querydeck completion zsh > "${fpath[1]}/_querydeck"

Fish:
  $ querydeck completion fish | source

PowerShell:
  PS> querydeck completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
