// Package logs provides the live server log tail.
package logs

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/leapstack-labs/querydeck/internal/ui/features/auth"
	"github.com/leapstack-labs/querydeck/internal/ui/notifier"
)

// TargetID is the id of the element log lines are appended to.
const TargetID = "log"

// Handlers provides HTTP handlers for the logs feature.
type Handlers struct {
	notifier *notifier.Notifier
	logger   *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(notify *notifier.Notifier, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handlers{notifier: notify, logger: logger}
}

// Tail is the long-lived SSE endpoint streaming log lines as they are
// written. Lines logged before the client connected are not replayed.
func (h *Handlers) Tail(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)

	lines := h.notifier.Subscribe()
	defer h.notifier.Unsubscribe(lines)
	h.logger.Debug("log tail attached", slog.Int("listeners", h.notifier.Listeners()))

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := sse.PatchElementTempl(LogLine(line),
				datastar.WithSelectorID(TargetID),
				datastar.WithModeAppend(),
			); err != nil {
				return
			}
		}
	}
}

// LogLine renders one escaped log line.
func LogLine(line string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<div class="log-line">`+templ.EscapeString(line)+`</div>`)
		return err
	})
}

// SetupRoutes configures routes for the logs feature.
func SetupRoutes(router chi.Router, sessionStore sessions.Store, notify *notifier.Notifier, logger *slog.Logger) error {
	handlers := NewHandlers(notify, logger)
	router.With(auth.RequireSession(sessionStore)).Get("/log", handlers.Tail)
	return nil
}
