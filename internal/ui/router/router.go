// Package router sets up HTTP routes for the UI server.
package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"

	"github.com/leapstack-labs/querydeck/internal/executor"
	"github.com/leapstack-labs/querydeck/internal/session"
	authFeature "github.com/leapstack-labs/querydeck/internal/ui/features/auth"
	consoleFeature "github.com/leapstack-labs/querydeck/internal/ui/features/console"
	logsFeature "github.com/leapstack-labs/querydeck/internal/ui/features/logs"
	"github.com/leapstack-labs/querydeck/internal/ui/notifier"
)

// Deps are the shared services the features are built on.
type Deps struct {
	Executor       *executor.Executor
	Sessions       session.Opener
	SessionStore   sessions.Store
	Notifier       *notifier.Notifier
	AllowedOrigins []string
	Logger         *slog.Logger
}

// SetupRoutes configures all routes for the UI server.
func SetupRoutes(router chi.Router, deps Deps) error {
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	// Feature routes
	if err := authFeature.SetupRoutes(router, deps.SessionStore, deps.Sessions, deps.Logger); err != nil {
		return err
	}

	if err := consoleFeature.SetupRoutes(router, deps.Executor, deps.SessionStore, deps.AllowedOrigins, deps.Logger); err != nil {
		return err
	}

	if err := logsFeature.SetupRoutes(router, deps.SessionStore, deps.Notifier, deps.Logger); err != nil {
		return err
	}

	return nil
}
