package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/querydeck/internal/cli/output"
	"github.com/leapstack-labs/querydeck/internal/protocol"
)

// ExplainOptions holds options for the explain command.
type ExplainOptions struct {
	IdentityOptions
	File   string
	Format string
}

// NewExplainCommand creates the explain command.
func NewExplainCommand() *cobra.Command {
	opts := &ExplainOptions{}

	cmd := &cobra.Command{
		Use:   "explain [SQL]",
		Short: "Show the plan of a statement",
		Long: `Show the query plan the backend chooses for a single statement.

The input must hold exactly one statement. JSON output has the same shape
as the console's plan endpoint: each node is [name, parent, tooltip].`,
		Example: `  querydeck explain -U alice "SELECT * FROM orders WHERE id = 1"
  querydeck explain -U alice -f report.sql --format yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(cmd, args, opts)
		},
	}

	opts.addFlags(cmd)
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "Read SQL from file")
	cmd.Flags().StringVarP(&opts.Format, "format", "o", "", "Output format: table, json, yaml (default: table on a terminal, json otherwise)")

	return cmd
}

func runExplain(cmd *cobra.Command, args []string, opts *ExplainOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd, output.Mode(opts.Format))
	if err != nil {
		return err
	}
	defer cleanup()

	id, err := opts.resolve(cmd)
	if err != nil {
		return err
	}

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
	default:
		content, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(content)
	}

	return renderPlan(cmdCtx.Renderer, cmdCtx.Executor.Explain(cmd.Context(), id, text))
}

// planNode is the readable form of a protocol.PlanNode.
type planNode struct {
	Name    string `yaml:"name"`
	Parent  string `yaml:"parent,omitempty"`
	Tooltip string `yaml:"tooltip,omitempty"`
}

type planOutput struct {
	Error *string    `yaml:"error"`
	Plan  []planNode `yaml:"plan"`
}

// renderPlan writes result in the renderer's effective mode. A failed
// explain is returned as an error after rendering.
func renderPlan(r *output.Renderer, result protocol.ExplainResult) error {
	var err error
	if result.Error != nil {
		err = errors.New(*result.Error)
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		if result.Plan == nil {
			result.Plan = protocol.Plan{}
		}
		if jerr := r.JSON(result); jerr != nil {
			return jerr
		}
	case output.ModeYAML:
		out := planOutput{Error: result.Error, Plan: make([]planNode, len(result.Plan))}
		for i, n := range result.Plan {
			out.Plan[i] = planNode(n)
		}
		if yerr := renderYAML(r.Writer(), out); yerr != nil {
			return yerr
		}
	default:
		if err == nil {
			renderPlanTree(r, result.Plan)
		}
	}
	return err
}

// renderPlanTree prints the plan as an indented tree. Nodes arrive parents
// first, so each node's depth is known when it is reached.
func renderPlanTree(r *output.Renderer, plan protocol.Plan) {
	if len(plan) == 0 {
		r.Muted("(no plan)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.Writer())
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(table.Row{"Node", "Detail"})

	depth := make(map[string]int, len(plan))
	for _, n := range plan {
		d := 0
		if parent, ok := depth[n.Parent]; ok && n.Parent != "" {
			d = parent + 1
		}
		if _, seen := depth[n.Name]; !seen {
			depth[n.Name] = d
		}

		label := n.Name
		if d > 0 {
			label = strings.Repeat("  ", d-1) + "└─ " + n.Name
		}
		t.AppendRow(table.Row{label, strings.ReplaceAll(n.Tooltip, "\n", " ")})
	}
	t.Render()
}
