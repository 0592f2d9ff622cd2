// Package output renders command results for terminals and for scripts.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// OutputMode selects how results are rendered.
type OutputMode string

// Output modes.
const (
	ModeAuto  OutputMode = "auto"
	ModeTable OutputMode = "table"
	ModeJSON  OutputMode = "json"
	ModeYAML  OutputMode = "yaml"
)

// Mode converts a flag value to an OutputMode. Unknown values mean auto.
func Mode(s string) OutputMode {
	switch OutputMode(s) {
	case ModeTable, ModeJSON, ModeYAML:
		return OutputMode(s)
	default:
		return ModeAuto
	}
}

// Styles are the terminal styles used by commands.
type Styles struct {
	Bold    lipgloss.Style
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
	Null    lipgloss.Style
}

func newStyles(color bool) *Styles {
	if !color {
		plain := lipgloss.NewStyle()
		return &Styles{Bold: plain, Header: plain, Success: plain, Warning: plain, Error: plain, Muted: plain, Null: plain}
	}
	return &Styles{
		Bold:    lipgloss.NewStyle().Bold(true),
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Error:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Null:    lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("8")),
	}
}

// Renderer writes command output.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	isTTY  bool
	mode   OutputMode
	styles *Styles
}

// NewRenderer creates a Renderer, detecting whether out is a terminal.
func NewRenderer(out, errOut io.Writer, mode OutputMode) *Renderer {
	return NewRendererWithTTY(out, errOut, IsTerminal(out), mode)
}

// NewRendererWithTTY creates a Renderer with an explicit terminal state.
func NewRendererWithTTY(out, errOut io.Writer, isTTY bool, mode OutputMode) *Renderer {
	return &Renderer{
		out:    out,
		errOut: errOut,
		isTTY:  isTTY,
		mode:   mode,
		styles: newStyles(isTTY),
	}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w any) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Writer returns the output writer.
func (r *Renderer) Writer() io.Writer { return r.out }

// ErrWriter returns the diagnostics writer.
func (r *Renderer) ErrWriter() io.Writer { return r.errOut }

// IsTTY reports whether output goes to a terminal.
func (r *Renderer) IsTTY() bool { return r.isTTY }

// Styles returns the renderer's styles.
func (r *Renderer) Styles() *Styles { return r.styles }

// EffectiveMode resolves auto: tables for terminals, JSON otherwise.
func (r *Renderer) EffectiveMode() OutputMode {
	if r.mode != ModeAuto {
		return r.mode
	}
	if r.isTTY {
		return ModeTable
	}
	return ModeJSON
}

// Println writes a line to the output.
func (r *Renderer) Println(a ...any) {
	_, _ = fmt.Fprintln(r.out, a...)
}

// Printf writes formatted text to the output.
func (r *Renderer) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(r.out, format, a...)
}

// Header writes a bold heading.
func (r *Renderer) Header(s string) {
	r.Println(r.styles.Header.Render(s))
}

// Success writes a success message.
func (r *Renderer) Success(s string) {
	r.Println(r.styles.Success.Render(s))
}

// Muted writes a de-emphasised line.
func (r *Renderer) Muted(s string) {
	r.Println(r.styles.Muted.Render(s))
}

// Warning writes a warning to the diagnostics writer.
func (r *Renderer) Warning(s string) {
	_, _ = fmt.Fprintln(r.errOut, r.styles.Warning.Render("Warning: "+s))
}

// Error writes an error to the diagnostics writer.
func (r *Renderer) Error(s string) {
	_, _ = fmt.Fprintln(r.errOut, r.styles.Error.Render("Error: "+s))
}

// JSON writes v as indented JSON.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
