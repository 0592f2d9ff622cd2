package console

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"

	"github.com/leapstack-labs/querydeck/internal/executor"
	"github.com/leapstack-labs/querydeck/internal/ui/features/auth"
)

// SetupRoutes configures routes for the console feature.
func SetupRoutes(
	router chi.Router,
	exec *executor.Executor,
	sessionStore sessions.Store,
	allowedOrigins []string,
	logger *slog.Logger,
) error {
	handlers := NewHandlers(exec, allowedOrigins, logger)

	router.Group(func(r chi.Router) {
		r.Use(auth.RequireSession(sessionStore))

		r.Get("/websocket", handlers.WebSocket)
		r.Get("/stopexecution", handlers.StopExecution)
		r.Post("/stopexecution", handlers.StopExecution)
		r.Post("/explain", handlers.Explain)
	})

	return nil
}
