package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"

	"github.com/leapstack-labs/querydeck/internal/protocol"
	"github.com/leapstack-labs/querydeck/internal/session"
)

// Sign-in failure messages.
const (
	MsgMissingFields = "Both username and password are required."
	MsgBadPassword   = "Password authentication failed."
	MsgUnknownUser   = "Username does not exist."
	MsgNotSignedIn   = "not signed in"
)

// Handlers provides HTTP handlers for the auth feature.
type Handlers struct {
	sessionStore sessions.Store
	opener       session.Opener
	logger       *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(sessionStore sessions.Store, opener session.Opener, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handlers{
		sessionStore: sessionStore,
		opener:       opener,
		logger:       logger,
	}
}

// SignIn verifies the posted credentials by opening a backend connection
// and, on success, stores them in a new session.
func (h *Handlers) SignIn(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form: "+err.Error())
		return
	}
	user := r.PostFormValue("user")
	password := r.PostFormValue("pass")
	remember := r.PostFormValue("remember") != ""

	if user == "" || password == "" {
		writeError(w, http.StatusBadRequest, MsgMissingFields)
		return
	}

	if err := h.opener.Check(r.Context(), session.Identity{Principal: user, Credentials: password}); err != nil {
		h.logger.Info("sign-in rejected", slog.String("user", user), slog.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, signInMessage(err))
		return
	}

	// a failed decode still yields a usable new session
	s, _ := h.sessionStore.New(r, SessionName)
	id := signIn(s, user, password, remember)
	if err := s.Save(r, w); err != nil {
		h.logger.Error("failed to save session", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to save session")
		return
	}

	h.logger.Info("signed in", slog.String("user", id.Principal), slog.Bool("remember", remember))
	w.WriteHeader(http.StatusNoContent)
}

// SignOut destroys the session.
func (h *Handlers) SignOut(w http.ResponseWriter, r *http.Request) {
	s, _ := h.sessionStore.Get(r, SessionName)
	if id, ok := identityOf(s); ok {
		h.logger.Info("signed out", slog.String("user", id.Principal))
	}
	s.Values = map[any]any{}
	s.Options.MaxAge = -1
	if err := s.Save(r, w); err != nil {
		h.logger.Error("failed to clear session", slog.String("error", err.Error()))
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me reports who is signed in.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"user": id.Principal})
}

// RequireSession rejects requests without a signed-in session and stores the
// session's identity in the request context for the handlers behind it.
func RequireSession(store sessions.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, err := store.Get(r, SessionName)
			if err != nil {
				writeError(w, http.StatusUnauthorized, MsgNotSignedIn)
				return
			}
			id, ok := identityOf(s)
			if !ok {
				writeError(w, http.StatusUnauthorized, MsgNotSignedIn)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// signInMessage turns a failed connection check into the text shown on the
// sign-in form.
func signInMessage(err error) string {
	msg := protocol.Render(err)
	switch {
	case strings.Contains(msg, "authentication failed"):
		return MsgBadPassword
	case strings.Contains(msg, "does not exist"):
		return MsgUnknownUser
	default:
		return msg
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
