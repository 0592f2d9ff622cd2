package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/querydeck/internal/cli/output"
	"github.com/leapstack-labs/querydeck/internal/protocol"
)

// Row change markers shown for streamed add and remove events.
const (
	opAdd    = "+"
	opRemove = "-"
)

// resultSet is one column descriptor and the rows that reached the client
// with it. Rows streamed before any descriptor form a set without columns.
type resultSet struct {
	Columns []string    `json:"columns" yaml:"columns"`
	Rows    [][]*string `json:"rows" yaml:"rows"`
	// Ops marks each row as added or removed; nil when every row was a
	// plain populate event.
	Ops []string `json:"ops,omitempty" yaml:"ops,omitempty"`
}

// execOutcome is everything one execution sent to the client.
type execOutcome struct {
	Results []*resultSet `json:"results" yaml:"results"`
	Error   *string      `json:"error" yaml:"error"`
}

// frameCollector is an executor.Emitter that folds frames into an outcome.
type frameCollector struct {
	mu      sync.Mutex
	results []*resultSet
	changed []bool
	err     *string
}

func (c *frameCollector) Emit(f protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch f.Kind {
	case protocol.KindColumns:
		c.results = append(c.results, &resultSet{Columns: f.Columns, Rows: [][]*string{}})
		c.changed = append(c.changed, false)
	case protocol.KindPopulate, protocol.KindAdd, protocol.KindRemove:
		if len(c.results) == 0 {
			c.results = append(c.results, &resultSet{Columns: []string{}, Rows: [][]*string{}})
			c.changed = append(c.changed, false)
		}
		last := len(c.results) - 1
		set := c.results[last]
		set.Rows = append(set.Rows, cells(f.Row))
		op := ""
		switch f.Kind {
		case protocol.KindAdd:
			op = opAdd
			c.changed[last] = true
		case protocol.KindRemove:
			op = opRemove
			c.changed[last] = true
		}
		set.Ops = append(set.Ops, op)
	case protocol.KindResult:
		c.err = f.Err
	}
	return nil
}

// outcome returns the collected result sets.
func (c *frameCollector) outcome() *execOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, set := range c.results {
		if !c.changed[i] {
			set.Ops = nil
		}
	}
	results := c.results
	if results == nil {
		results = []*resultSet{}
	}
	return &execOutcome{Results: results, Error: c.err}
}

func cells(row []protocol.Value) []*string {
	out := make([]*string, len(row))
	for i, v := range row {
		if !v.Null {
			text := v.Text
			out[i] = &text
		}
	}
	return out
}

// frameWriter returns an emitter function writing each frame in its wire
// form, one per line.
func frameWriter(w io.Writer) func(protocol.Frame) error {
	enc := json.NewEncoder(w)
	return func(f protocol.Frame) error {
		return enc.Encode(f)
	}
}

// renderOutcome writes o in the renderer's effective mode.
func renderOutcome(r *output.Renderer, o *execOutcome) error {
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(o)
	case output.ModeYAML:
		return renderYAML(r.Writer(), o)
	default:
		renderTables(r, o.Results)
		if o.Error == nil && len(o.Results) == 0 {
			r.Success("OK")
		}
		return nil
	}
}

func renderTables(r *output.Renderer, results []*resultSet) {
	styles := r.Styles()
	for i, set := range results {
		if i > 0 {
			r.Println()
		}

		t := table.NewWriter()
		t.SetOutputMirror(r.Writer())
		t.SetStyle(table.StyleLight)
		// column names are shown as the database reports them
		t.Style().Format.Header = text.FormatDefault

		header := make(table.Row, 0, len(set.Columns)+1)
		if set.Ops != nil {
			header = append(header, "")
		}
		for _, col := range set.Columns {
			header = append(header, col)
		}
		t.AppendHeader(header)

		for j, row := range set.Rows {
			out := make(table.Row, 0, len(row)+1)
			if set.Ops != nil {
				out = append(out, set.Ops[j])
			}
			for _, cell := range row {
				if cell == nil {
					out = append(out, styles.Null.Render(protocol.NullMarker))
					continue
				}
				out = append(out, *cell)
			}
			t.AppendRow(out)
		}

		t.Render()
		r.Muted(rowCount(len(set.Rows)))
	}
}

func rowCount(n int) string {
	if n == 1 {
		return "(1 row)"
	}
	return fmt.Sprintf("(%d rows)", n)
}

func renderYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
