package console

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/leapstack-labs/querydeck/internal/protocol"
	"github.com/leapstack-labs/querydeck/internal/session"
	"github.com/leapstack-labs/querydeck/internal/testutil"
	"github.com/leapstack-labs/querydeck/internal/ui/features"
	"github.com/leapstack-labs/querydeck/pkg/backend"
	"github.com/leapstack-labs/querydeck/pkg/backend/backendtest"
)

var ada = session.Identity{SessionID: "sess-ada", Principal: "ada", Credentials: "pw"}

// fakeTransport replays scripted messages and records sent frames.
type fakeTransport struct {
	mu      sync.Mutex
	inbox   []string
	recvErr error
	sendErr error
	sent    []string
	closed  bool
}

func (f *fakeTransport) Receive() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbox) == 0 {
		if f.recvErr != nil {
			return "", f.recvErr
		}
		return "", io.EOF
	}
	msg := f.inbox[0]
	f.inbox = f.inbox[1:]
	return msg, nil
}

func (f *fakeTransport) Send(fr protocol.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	b, err := json.Marshal(fr)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, string(b))
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func scriptedDriver() *backendtest.Driver {
	return backendtest.New().
		On("SELECT n FROM t", backendtest.Result{
			Columns: []string{"n"},
			Events:  []backendtest.Event{backendtest.Populate(int64(1)), backendtest.Terminate()},
			Rows:    [][]any{{int64(1)}},
		})
}

func TestMultiplexer_Serve(t *testing.T) {
	tests := []struct {
		name    string
		inbox   []string
		recvErr error
		wantErr bool
		want    []string
	}{
		{
			name:  "stream then delegate in arrival order",
			inbox: []string{"dSELECT n FROM t", "bSELECT n FROM t"},
			want: []string{
				`{"a":"d","c":["n"]}`, `{"a":"p","r":[{"v":"1"}]}`, `{"a":"t"}`,
				`{"a":"d","c":["n"]}`, `{"a":"p","r":[{"v":"1"}]}`, `{"a":"s"}`, `{"a":"t"}`,
			},
		},
		{
			name:  "unknown tags and empty messages are ignored",
			inbox: []string{"", "xSELECT n FROM t", "dCREATE TABLE u (x int)"},
			want:  []string{`{"error":null}`},
		},
		{
			name:  "empty query after tag",
			inbox: []string{"d"},
			want:  []string{`{"error":null}`},
		},
		{
			name:  "rejected batch",
			inbox: []string{"dSELECT 1; SELECT 2"},
			want:  []string{`{"error":"a batch that streams rows must contain exactly one statement"}`},
		},
		{
			name:    "transport failure ends the loop",
			inbox:   []string{"dCREATE TABLE u (x int)"},
			recvErr: errors.New("connection reset"),
			wantErr: true,
			want:    []string{`{"error":null}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fixture := features.SetupTestFixture(t, scriptedDriver())
			m := NewMultiplexer(fixture.Executor, testutil.NewTestLogger(t))
			tr := &fakeTransport{inbox: tt.inbox, recvErr: tt.recvErr}

			err := m.Serve(context.Background(), tr, ada)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, tr.sent)
			assert.True(t, tr.closed, "transport is closed on return")
			assert.Equal(t, fixture.Driver.Connects(), fixture.Driver.Closes(), "every connection released")
		})
	}
}

func TestMultiplexer_SendFailureStopsServing(t *testing.T) {
	fixture := features.SetupTestFixture(t, scriptedDriver())
	m := NewMultiplexer(fixture.Executor, testutil.NewTestLogger(t))
	tr := &fakeTransport{
		inbox:   []string{"dSELECT n FROM t", "dSELECT n FROM t"},
		sendErr: errors.New("broken pipe"),
	}

	err := m.Serve(context.Background(), tr, ada)
	require.Error(t, err)
	assert.Equal(t, protocol.KindTransport, protocol.KindOf(err))
	assert.Equal(t, []string{"SELECT n FROM t"}, fixture.Driver.Statements(), "second message is never run")
	assert.Equal(t, 0, fixture.Registry.Len())
}

func setupRouter(t *testing.T, drv *backendtest.Driver) (chi.Router, *features.TestFixture) {
	t.Helper()
	fixture := features.SetupTestFixture(t, drv)
	r := chi.NewRouter()
	require.NoError(t, SetupRoutes(r, fixture.Executor, fixture.SessionStore, nil, testutil.NewTestLogger(t)))
	return r, fixture
}

func TestEndpoints_RequireSession(t *testing.T) {
	r, _ := setupRouter(t, nil)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/websocket", nil),
		httptest.NewRequest(http.MethodGet, "/stopexecution", nil),
		features.FormRequest("/explain", url.Values{"query": {"SELECT 1"}}),
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, req.URL.Path)
	}
}

func TestStopExecution(t *testing.T) {
	drv := backendtest.New().On("SELECT * FROM forever", backendtest.Result{
		Columns: []string{"v"},
		Block:   true,
	})
	r, fixture := setupRouter(t, drv)
	cookie := fixture.SessionCookie(ada)

	stop := func() int {
		req := httptest.NewRequest(http.MethodGet, "/stopexecution", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	// nothing running is not an error
	assert.Equal(t, http.StatusNoContent, stop())

	tr := &fakeTransport{inbox: []string{"dSELECT * FROM forever"}}
	done := make(chan error, 1)
	go func() {
		done <- NewMultiplexer(fixture.Executor, nil).Serve(context.Background(), tr, ada)
	}()

	require.Eventually(t, func() bool { return fixture.Registry.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, http.StatusNoContent, stop())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("stopped query kept running")
	}
	assert.Equal(t, []string{
		`{"a":"d","c":["v"]}`,
		`{"error":"` + backendtest.ErrStopped.Error() + `"}`,
	}, tr.sent)
	assert.Equal(t, 1, drv.Stops())
}

func TestExplain(t *testing.T) {
	drv := backendtest.New()
	drv.Plan = []backend.PlanNode{{Name: "1. Seq Scan on t", Detail: "cost=0.00..1.00"}}
	r, fixture := setupRouter(t, drv)
	cookie := fixture.SessionCookie(ada)

	tests := []struct {
		name string
		req  *http.Request
		want string
	}{
		{
			name: "form",
			req:  features.FormRequest("/explain", url.Values{"query": {"SELECT * FROM t"}}),
			want: `{"error":null,"plan":[["1. Seq Scan on t","","cost=0.00..1.00"]]}`,
		},
		{
			name: "json",
			req: func() *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/explain", strings.NewReader(`{"query":"SELECT * FROM t;"}`))
				req.Header.Set("Content-Type", "application/json; charset=utf-8")
				return req
			}(),
			want: `{"error":null,"plan":[["1. Seq Scan on t","","cost=0.00..1.00"]]}`,
		},
		{
			name: "no statement",
			req:  features.FormRequest("/explain", url.Values{"query": {" ; "}}),
			want: `{"error":null,"plan":null}`,
		},
		{
			name: "two statements",
			req:  features.FormRequest("/explain", url.Values{"query": {"SELECT 1; SELECT 2"}}),
			want: `{"error":"only one statement can be explained","plan":null}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.AddCookie(cookie)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, tt.req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.want, rec.Body.String())
		})
	}
}

func TestExplain_BadJSON(t *testing.T) {
	r, fixture := setupRouter(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/explain", strings.NewReader(`{"query":`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(fixture.SessionCookie(ada))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func dialConsole(t *testing.T, srv *httptest.Server, cookie *http.Cookie, origin string) (*websocket.Conn, error) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/websocket"
	cfg, err := websocket.NewConfig(wsURL, origin)
	require.NoError(t, err)
	cfg.Header.Add("Cookie", cookie.String())
	return websocket.DialConfig(cfg)
}

func TestWebSocket_EndToEnd(t *testing.T) {
	r, fixture := setupRouter(t, scriptedDriver())
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, err := dialConsole(t, srv, fixture.SessionCookie(ada), srv.URL)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, websocket.Message.Send(conn, "dSELECT n FROM t"))

	var got []string
	for i := 0; i < 3; i++ {
		var msg string
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, websocket.Message.Receive(conn, &msg))
		got = append(got, strings.TrimSpace(msg))
	}
	assert.Equal(t, []string{`{"a":"d","c":["n"]}`, `{"a":"p","r":[{"v":"1"}]}`, `{"a":"t"}`}, got)
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	r, fixture := setupRouter(t, nil)
	srv := httptest.NewServer(r)
	defer srv.Close()

	_, err := dialConsole(t, srv, fixture.SessionCookie(ada), "http://evil.example")
	assert.Error(t, err)
}

func TestSameOrigin(t *testing.T) {
	check := sameOrigin([]string{"https://console.example.com/"})

	tests := []struct {
		name    string
		host    string
		origin  string
		wantErr bool
	}{
		{name: "no origin header", host: "db.local:8080"},
		{name: "same host", host: "db.local:8080", origin: "http://db.local:8080"},
		{name: "allowed extra origin", host: "db.local:8080", origin: "https://console.example.com"},
		{name: "foreign", host: "db.local:8080", origin: "http://evil.example", wantErr: true},
		{name: "same host other port", host: "db.local:8080", origin: "http://db.local:9090", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/websocket", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			cfg := &websocket.Config{Version: websocket.ProtocolVersionHybi13}

			err := check(cfg, req)
			if tt.wantErr {
				assert.ErrorIs(t, err, errCrossOrigin)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
