package auth

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"

	"github.com/leapstack-labs/querydeck/internal/session"
)

// SetupRoutes configures routes for the auth feature.
func SetupRoutes(
	router chi.Router,
	sessionStore sessions.Store,
	opener session.Opener,
	logger *slog.Logger,
) error {
	handlers := NewHandlers(sessionStore, opener, logger)

	router.Post("/signin", handlers.SignIn)
	router.Get("/signout", handlers.SignOut)
	router.Post("/signout", handlers.SignOut)
	router.With(RequireSession(sessionStore)).Get("/me", handlers.Me)

	return nil
}
