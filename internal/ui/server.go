// Package ui provides the web SQL console server.
package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/querydeck/internal/executor"
	"github.com/leapstack-labs/querydeck/internal/session"
	"github.com/leapstack-labs/querydeck/internal/ui/notifier"
	"github.com/leapstack-labs/querydeck/internal/ui/router"
)

// Default timeouts used when Config leaves them unset.
const (
	DefaultShutdownTimeout   = 5 * time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
)

// reloadDebounce collapses the burst of events editors produce on save.
const reloadDebounce = 100 * time.Millisecond

// ReloadFunc re-reads configuration and returns the log level to apply.
type ReloadFunc func() (slog.Level, error)

// Config holds configuration for the UI server.
type Config struct {
	Addr              string
	AllowedOrigins    []string
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration

	Executor     *executor.Executor
	Sessions     session.Opener
	SessionStore sessions.Store
	Notifier     *notifier.Notifier

	// Watch enables reloading the log level when ConfigFile changes.
	Watch      bool
	ConfigFile string
	Reload     ReloadFunc
	Level      *slog.LevelVar

	Logger *slog.Logger
}

// Server is the main UI server.
type Server struct {
	cfg    Config
	logger *slog.Logger
}

// NewServer creates a new UI server instance.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notifier.New()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	return &Server{cfg: cfg, logger: cfg.Logger}
}

// Notifier returns the notifier feeding the log tail.
func (s *Server) Notifier() *notifier.Notifier {
	return s.cfg.Notifier
}

// Handler builds the HTTP handler with middleware and all feature routes.
func (s *Server) Handler() (http.Handler, error) {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.Compress(5),
	)

	if err := router.SetupRoutes(r, router.Deps{
		Executor:       s.cfg.Executor,
		Sessions:       s.cfg.Sessions,
		SessionStore:   s.cfg.SessionStore,
		Notifier:       s.cfg.Notifier,
		AllowedOrigins: s.cfg.AllowedOrigins,
		Logger:         s.logger,
	}); err != nil {
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}
	return r, nil
}

// Serve listens on the configured address and blocks until the context is
// cancelled.
func (s *Server) Serve(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until the context is cancelled, then shuts down
// gracefully. Executions still running when the shutdown timeout expires are
// cut off with their connections.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	handler, err := s.Handler()
	if err != nil {
		_ = ln.Close()
		return err
	}

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	s.logger.Info("starting console server", "addr", ln.Addr().String())

	if s.cfg.Watch && s.cfg.ConfigFile != "" && s.cfg.Reload != nil {
		eg.Go(func() error {
			return s.watchConfig(egctx)
		})
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		s.logger.Debug("shutting down console server...")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			// Hijacked websocket connections are not tracked by Shutdown;
			// cancelling egctx already stopped their executions.
			s.logger.Warn("graceful shutdown incomplete", "error", err)
			return srv.Close()
		}
		return nil
	})

	return eg.Wait()
}

// watchConfig reloads the log level whenever the config file changes. The
// directory is watched because editors replace files on save.
func (s *Server) watchConfig(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	target, err := filepath.Abs(s.cfg.ConfigFile)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		s.logger.Error("failed to watch config file", "file", target, "error", err)
		// Don't fail - continue without watching
		<-ctx.Done()
		return nil
	}

	// Debounce timer
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != target {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(reloadDebounce, s.reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", "error", err)
		}
	}
}

func (s *Server) reload() {
	level, err := s.cfg.Reload()
	if err != nil {
		s.logger.Error("config reload failed", "file", s.cfg.ConfigFile, "error", err)
		return
	}
	if s.cfg.Level != nil && s.cfg.Level.Level() != level {
		s.cfg.Level.Set(level)
		s.logger.Info("log level changed", "level", level.String())
	}
}
