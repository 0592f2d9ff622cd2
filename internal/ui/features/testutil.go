// Package features provides shared test utilities for UI feature tests.
package features

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/querydeck/internal/executor"
	"github.com/leapstack-labs/querydeck/internal/registry"
	"github.com/leapstack-labs/querydeck/internal/session"
	"github.com/leapstack-labs/querydeck/internal/testutil"
	"github.com/leapstack-labs/querydeck/internal/ui/notifier"
	"github.com/leapstack-labs/querydeck/pkg/backend"
	"github.com/leapstack-labs/querydeck/pkg/backend/backendtest"
)

// TestSessionName matches the cookie name of the auth feature.
const TestSessionName = "querydeck.session"

// TestFixture holds all dependencies needed for UI handler tests.
type TestFixture struct {
	Driver       *backendtest.Driver
	Sessions     *session.Manager
	Registry     *registry.Registry
	Executor     *executor.Executor
	Notifier     *notifier.Notifier
	SessionStore *sessions.CookieStore

	t *testing.T
}

// SetupTestFixture creates a complete test fixture around a scripted backend.
func SetupTestFixture(t *testing.T, drv *backendtest.Driver) *TestFixture {
	t.Helper()

	if drv == nil {
		drv = backendtest.New()
	}
	logger := testutil.NewTestLogger(t)

	sessionStore := sessions.NewCookieStore(
		[]byte("test-hash-key-0123456789abcdef0123456789"),
		[]byte("test-encryption-key-0123456789ab"),
	)
	sessionStore.Options.Path = "/"
	sessionStore.Options.HttpOnly = true
	sessionStore.Options.MaxAge = 0

	mgr := session.New(drv, backend.Params{}, logger)
	reg := registry.New()

	return &TestFixture{
		Driver:       drv,
		Sessions:     mgr,
		Registry:     reg,
		Executor:     executor.New(mgr, reg, logger),
		Notifier:     notifier.New(),
		SessionStore: sessionStore,
		t:            t,
	}
}

// SessionCookie returns a cookie carrying a signed-in session for id.
func (f *TestFixture) SessionCookie(id session.Identity) *http.Cookie {
	f.t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	s, err := f.SessionStore.New(req, TestSessionName)
	require.NoError(f.t, err)
	s.Values["id"] = id.SessionID
	s.Values["user"] = id.Principal
	s.Values["password"] = id.Credentials
	require.NoError(f.t, s.Save(req, rec))

	cookies := rec.Result().Cookies()
	require.NotEmpty(f.t, cookies)
	return cookies[0]
}

// FormRequest builds a POST request with an url-encoded form body.
func FormRequest(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}
