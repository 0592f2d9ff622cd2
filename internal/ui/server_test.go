package ui

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/querydeck/internal/testutil"
	"github.com/leapstack-labs/querydeck/internal/ui/features"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	f := features.SetupTestFixture(t, nil)
	cfg.Executor = f.Executor
	cfg.Sessions = f.Sessions
	cfg.SessionStore = f.SessionStore
	cfg.Notifier = f.Notifier
	if cfg.Logger == nil {
		cfg.Logger = testutil.NewTestLogger(t)
	}
	return NewServer(cfg)
}

// start serves s on a loopback port and returns its base URL and a stop
// function that returns Serve's error.
func start(t *testing.T, s *Server) (string, func() error) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(ctx, ln) }()

	return "http://" + ln.Addr().String(), func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("server did not shut down")
			return nil
		}
	}
}

func TestServer_ServeAndShutdown(t *testing.T) {
	s := newTestServer(t, Config{ShutdownTimeout: time.Second})
	base, stop := start(t, s)

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	assert.NoError(t, stop())
}

func TestServer_ProtectedRoutes(t *testing.T) {
	s := newTestServer(t, Config{})
	base, stop := start(t, s)
	defer func() { _ = stop() }()

	resp, err := http.Get(base + "/me")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_Defaults(t *testing.T) {
	s := NewServer(Config{})
	assert.NotNil(t, s.Notifier())
	assert.Equal(t, DefaultShutdownTimeout, s.cfg.ShutdownTimeout)
	assert.Equal(t, DefaultReadHeaderTimeout, s.cfg.ReadHeaderTimeout)
}

func TestServer_ServeBadAddress(t *testing.T) {
	s := newTestServer(t, Config{Addr: "127.0.0.1:-1"})
	err := s.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestServer_WatchReloadsLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "querydeck.yaml")
	require.NoError(t, os.WriteFile(path, []byte("info"), 0600))

	level := new(slog.LevelVar)
	s := newTestServer(t, Config{
		Watch:      true,
		ConfigFile: path,
		Level:      level,
		Reload: func() (slog.Level, error) {
			data, err := os.ReadFile(path)
			if err != nil {
				return 0, err
			}
			var l slog.Level
			err = l.UnmarshalText([]byte(strings.TrimSpace(string(data))))
			return l, err
		},
	})
	_, stop := start(t, s)
	defer func() { _ = stop() }()

	// Rewrite on every tick: the watcher may not be registered yet on the
	// first write. The tick is longer than the debounce so a reload fires.
	assert.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("debug"), 0600)
		return level.Level() == slog.LevelDebug
	}, 5*time.Second, 3*reloadDebounce)
}

func TestServer_ReloadErrorKeepsLevel(t *testing.T) {
	logger, logs := testutil.NewCapturingLogger(t)
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	s := newTestServer(t, Config{
		Level:  level,
		Logger: logger,
		Reload: func() (slog.Level, error) { return 0, assert.AnError },
	})

	s.reload()
	assert.Equal(t, slog.LevelWarn, level.Level())
	assert.True(t, logs.Contains("config reload failed"))
}

func TestServer_ReloadLogsLevelChange(t *testing.T) {
	logger, logs := testutil.NewCapturingLogger(t)
	level := new(slog.LevelVar)
	s := newTestServer(t, Config{
		Level:  level,
		Logger: logger,
		Reload: func() (slog.Level, error) { return slog.LevelError, nil },
	})

	s.reload()
	assert.Equal(t, slog.LevelError, level.Level())
	assert.True(t, logs.Contains("log level changed"))

	before := logs.String()
	s.reload()
	assert.Equal(t, before, logs.String(), "an unchanged level is not logged again")
}
