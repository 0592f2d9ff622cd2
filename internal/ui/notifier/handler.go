package notifier

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
)

// Handler is an slog.Handler that writes every record to an inner handler
// and also broadcasts it, formatted as a logfmt line, through a Notifier.
type Handler struct {
	inner slog.Handler
	line  slog.Handler
}

// NewHandler wraps inner. Records below level are not broadcast; inner keeps
// its own level.
func NewHandler(inner slog.Handler, n *Notifier, level slog.Leveler) *Handler {
	return &Handler{
		inner: inner,
		line:  slog.NewTextHandler(&lineWriter{n: n}, &slog.HandlerOptions{Level: level}),
	}
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level) || h.line.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.inner.Enabled(ctx, r.Level) {
		err = h.inner.Handle(ctx, r.Clone())
	}
	if h.line.Enabled(ctx, r.Level) {
		_ = h.line.Handle(ctx, r)
	}
	return err
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs), line: h.line.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name), line: h.line.WithGroup(name)}
}

// lineWriter receives one complete record per Write from slog.TextHandler.
type lineWriter struct {
	mu sync.Mutex
	n  *Notifier
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.n.Broadcast(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}
