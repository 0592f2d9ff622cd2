package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/querydeck/internal/session"
)

const (
	replPrompt         = "querydeck> "
	replContinuePrompt = "      ...> "
)

func runExecREPL(cmd *cobra.Command, cmdCtx *CommandContext, id session.Identity, opts *ExecOptions) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     historyFile(),
		AutoComplete:    newREPLCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	r := cmdCtx.Renderer
	r.Printf("querydeck (%s as %s)\n", cmdCtx.Cfg.Backend.Type, id.Principal)
	r.Muted("Type .help for commands, .quit to exit")
	r.Println()

	repl := &execREPL{cmd: cmd, cmdCtx: cmdCtx, id: id, opts: *opts}

	// REPL loop
	var buffer strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			buffer.Reset()
			rl.SetPrompt(replPrompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Handle dot-commands
		if buffer.Len() == 0 && strings.HasPrefix(line, ".") {
			if quit := repl.dotCommand(line); quit {
				break
			}
			continue
		}

		// Accumulate multi-line SQL until semicolon
		buffer.WriteString(line)
		if !strings.HasSuffix(line, ";") {
			buffer.WriteString("\n")
			rl.SetPrompt(replContinuePrompt)
			continue
		}
		rl.SetPrompt(replPrompt)

		text := buffer.String()
		buffer.Reset()
		repl.run(text)
		r.Println()
	}

	return nil
}

// execREPL holds the state of an interactive session.
type execREPL struct {
	cmd    *cobra.Command
	cmdCtx *CommandContext
	id     session.Identity
	opts   ExecOptions
}

// run executes text. Ctrl+C stops the running execution instead of the
// process.
func (e *execREPL) run(text string) {
	ctx, stop := signal.NotifyContext(e.cmd.Context(), os.Interrupt)
	defer stop()

	if err := execute(ctx, e.cmdCtx, e.id, text, &e.opts); err != nil {
		e.cmdCtx.Renderer.Error(err.Error())
	}
}

// dotCommand handles a dot-command and reports whether the REPL should exit.
func (e *execREPL) dotCommand(line string) bool {
	r := e.cmdCtx.Renderer
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])
	rest := strings.TrimSpace(strings.TrimPrefix(line, parts[0]))

	switch command {
	case ".quit", ".exit":
		return true

	case ".help":
		printREPLHelp(r.Writer())

	case ".mode":
		if len(parts) > 1 {
			switch parts[1] {
			case "stream":
				e.opts.Delegate = false
			case "delegate":
				e.opts.Delegate = true
			default:
				r.Error("usage: .mode [stream|delegate]")
				return false
			}
		}
		r.Printf("mode: %s\n", e.mode())

	case ".format":
		if len(parts) > 1 {
			e.opts.Format = parts[1]
			e.cmdCtx.Renderer = rendererFor(e.cmd, e.opts.Format)
			r = e.cmdCtx.Renderer
		}
		r.Printf("format: %s\n", e.cmdCtx.Renderer.EffectiveMode())

	case ".explain":
		if rest == "" {
			r.Error("usage: .explain <statement>")
			return false
		}
		ctx, stop := signal.NotifyContext(e.cmd.Context(), os.Interrupt)
		defer stop()
		result := e.cmdCtx.Executor.Explain(ctx, e.id, rest)
		if err := renderPlan(r, result); err != nil {
			r.Error(err.Error())
		}

	case ".clear":
		r.Printf("\033[H\033[2J")

	default:
		r.Error(fmt.Sprintf("unknown command: %s (type .help for commands)", command))
	}
	return false
}

func (e *execREPL) mode() string {
	if e.opts.Delegate {
		return "delegate"
	}
	return "stream"
}

func printREPLHelp(w io.Writer) {
	help := `
Commands:
  .help                    Show this help message
  .mode [stream|delegate]  Show or set the execution mode
  .format [table|json|yaml|frames]
                           Show or set the output format
  .explain <statement>     Show the plan of a statement
  .clear                   Clear the screen
  .quit / .exit            Exit the REPL

Tips:
  - Batches end with a semicolon (;) at the end of a line
  - Ctrl+C stops a running query
  - Use arrow keys to navigate history
`
	_, _ = fmt.Fprintln(w, help)
}

// historyFile returns the REPL history path in the user cache directory, or
// "" to disable history.
func historyFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	dir = filepath.Join(dir, "querydeck")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return ""
	}
	return filepath.Join(dir, "history")
}

// newREPLCompleter completes dot-commands and their arguments.
func newREPLCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem(".help"),
		readline.PcItem(".mode", readline.PcItem("stream"), readline.PcItem("delegate")),
		readline.PcItem(".format",
			readline.PcItem("table"), readline.PcItem("json"),
			readline.PcItem("yaml"), readline.PcItem(formatFrames)),
		readline.PcItem(".explain"),
		readline.PcItem(".clear"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
}
