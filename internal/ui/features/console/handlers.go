package console

import (
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"

	"golang.org/x/net/websocket"

	"github.com/leapstack-labs/querydeck/internal/executor"
	"github.com/leapstack-labs/querydeck/internal/registry"
	"github.com/leapstack-labs/querydeck/internal/ui/features/auth"
)

// Handlers provides HTTP handlers for the console feature.
type Handlers struct {
	exec     *executor.Executor
	registry *registry.Registry
	mux      *Multiplexer
	origins  []string
	logger   *slog.Logger
}

// NewHandlers creates a new Handlers instance. allowedOrigins lists origins,
// besides the server's own, that may open the query socket.
func NewHandlers(exec *executor.Executor, allowedOrigins []string, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handlers{
		exec:     exec,
		registry: exec.Registry(),
		mux:      NewMultiplexer(exec, logger),
		origins:  allowedOrigins,
		logger:   logger,
	}
}

// WebSocket upgrades the request and serves queries on it until the client
// disconnects.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	srv := websocket.Server{
		Handshake: sameOrigin(h.origins),
		Handler: func(conn *websocket.Conn) {
			conn.PayloadType = websocket.TextFrame
			_ = h.mux.Serve(conn.Request().Context(), NewWebSocketTransport(conn), id)
		},
	}
	srv.ServeHTTP(w, r)
}

// StopExecution cancels the caller's running query, if any.
func (h *Handlers) StopExecution(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	if h.registry.Cancel(id.SessionID) {
		h.logger.Info("query cancelled", slog.String("user", id.Principal))
	}
	w.WriteHeader(http.StatusNoContent)
}

type explainRequest struct {
	Query string `json:"query"`
}

// Explain returns the plan of the posted statement.
func (h *Handlers) Explain(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	query, err := readQuery(r)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	res := h.exec.Explain(r.Context(), id, query)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		h.logger.Warn("failed to write plan", slog.String("error", err.Error()))
	}
}

// readQuery accepts a form field or a JSON body.
func readQuery(r *http.Request) (string, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var req explainRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", err
		}
		return req.Query, nil
	}
	if err := r.ParseForm(); err != nil {
		return "", err
	}
	return r.PostFormValue("query"), nil
}
