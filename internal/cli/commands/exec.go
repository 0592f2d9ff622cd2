package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/querydeck/internal/cli/output"
	"github.com/leapstack-labs/querydeck/internal/executor"
	"github.com/leapstack-labs/querydeck/internal/protocol"
	"github.com/leapstack-labs/querydeck/internal/session"
)

// formatFrames writes the raw frames as they are produced, one JSON object
// per line, exactly as the console receives them.
const formatFrames = "frames"

// ExecOptions holds options for the exec command.
type ExecOptions struct {
	IdentityOptions
	File     string
	Format   string
	Delegate bool
}

// NewExecCommand creates the exec command.
func NewExecCommand() *cobra.Command {
	opts := &ExecOptions{}

	cmd := &cobra.Command{
		Use:     "exec [SQL]",
		Aliases: []string{"query"},
		Short:   "Execute SQL as a database user",
		Long: `Execute a batch of SQL statements as a database user.

The batch runs exactly like it does in the web console: statements run in
order on one connection and the first failure ends the batch. A query that
returns rows must be submitted on its own. Results are rendered as tables on a terminal and as
JSON otherwise.

Use --format frames to see the raw event stream, which also suits queries
whose results never end.

When invoked without arguments on a terminal, enters interactive REPL mode.`,
		Example: `  # Execute SQL directly
  querydeck exec -U alice "SELECT * FROM orders"

  # Several statements in one batch
  querydeck exec -U alice "CREATE TABLE t (x int); INSERT INTO t VALUES (1)"

  # Read SQL from a file and print JSON
  querydeck exec -U alice -f report.sql --format json

  # Let the backend run the batch and fetch all rows at once
  querydeck exec -U alice --delegate "SELECT 1"

  # Interactive mode
  querydeck exec -U alice`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, args, opts)
		},
	}

	opts.addFlags(cmd)
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "Read SQL from file")
	cmd.Flags().StringVarP(&opts.Format, "format", "o", "", "Output format: table, json, yaml, frames (default: table on a terminal, json otherwise)")
	cmd.Flags().BoolVar(&opts.Delegate, "delegate", false, "Run the batch in backend-delegated mode")

	_ = cmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"table", "json", "yaml", formatFrames}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runExec(cmd *cobra.Command, args []string, opts *ExecOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd, output.Mode(opts.Format))
	if err != nil {
		return err
	}
	defer cleanup()

	id, err := opts.resolve(cmd)
	if err != nil {
		return err
	}

	// Determine SQL source
	var text string

	switch {
	case len(args) > 0:
		text = strings.Join(args, " ")
	case opts.File != "":
		content, err := os.ReadFile(opts.File)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		text = string(content)
	case !stdinIsTerminal(cmd):
		// Read from stdin (piped input)
		content, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(content)
	default:
		// No input, TTY detected - enter REPL mode
		return runExecREPL(cmd, cmdCtx, id, opts)
	}

	return execute(cmd.Context(), cmdCtx, id, text, opts)
}

// execute runs text and renders what the client would have received. An
// error frame becomes the returned error.
func execute(ctx context.Context, cmdCtx *CommandContext, id session.Identity, text string, opts *ExecOptions) error {
	run := cmdCtx.Executor.Stream
	if opts.Delegate {
		run = cmdCtx.Executor.Delegate
	}

	if opts.Format == formatFrames {
		var failed *string
		write := frameWriter(cmdCtx.Renderer.Writer())
		err := run(ctx, id, text, executor.EmitterFunc(func(f protocol.Frame) error {
			if f.Err != nil {
				failed = f.Err
			}
			return write(f)
		}))
		if err != nil {
			return err
		}
		if failed != nil {
			return errors.New(*failed)
		}
		return nil
	}

	collector := &frameCollector{}
	if err := run(ctx, id, text, collector); err != nil {
		return err
	}

	outcome := collector.outcome()
	if err := renderOutcome(cmdCtx.Renderer, outcome); err != nil {
		return err
	}
	if outcome.Error != nil {
		return errors.New(*outcome.Error)
	}
	return nil
}

func stdinIsTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
