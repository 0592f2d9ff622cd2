package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/querydeck/internal/batch"
	"github.com/leapstack-labs/querydeck/internal/protocol"
	"github.com/leapstack-labs/querydeck/internal/registry"
	"github.com/leapstack-labs/querydeck/internal/session"
	"github.com/leapstack-labs/querydeck/internal/testutil"
	"github.com/leapstack-labs/querydeck/pkg/backend"
	"github.com/leapstack-labs/querydeck/pkg/backend/backendtest"
)

var ada = session.Identity{SessionID: "sess-ada", Principal: "ada", Credentials: "pw"}

func newExecutor(t *testing.T, drv backend.Driver) *Executor {
	t.Helper()
	logger := testutil.NewTestLogger(t)
	return New(session.New(drv, backend.Params{}, logger), registry.New(), logger)
}

// collect records frames and renders them to their wire form.
type collect struct {
	mu     sync.Mutex
	frames []protocol.Frame
}

func (c *collect) Emit(f protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *collect) wire(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		b, err := json.Marshal(f)
		require.NoError(t, err)
		out[i] = string(b)
	}
	return out
}

func TestStream_SelectStreamsRows(t *testing.T) {
	drv := backendtest.New().On("SELECT id, name FROM users", backendtest.Result{
		Columns: []string{"id", "name"},
		Events: []backendtest.Event{
			backendtest.Populate(int64(1), "ada"),
			backendtest.Populate(int64(2), nil),
			backendtest.Shift(),
			backendtest.Terminate(),
		},
	})
	e := newExecutor(t, drv)

	out := &collect{}
	require.NoError(t, e.Stream(context.Background(), ada, "SELECT id, name FROM users;", out))

	assert.Equal(t, []string{
		`{"a":"d","c":["id","name"]}`,
		`{"a":"p","r":[{"v":"1"},{"v":"ada"}]}`,
		`{"a":"p","r":[{"v":"2"},{"v":null,"f":"NULL"}]}`,
		`{"a":"s"}`,
		`{"a":"t"}`,
	}, out.wire(t))
	assert.Equal(t, 1, drv.Closes(), "connection released")
	assert.Equal(t, 0, e.Registry().Len(), "handle released")
}

func TestStream_StatementsWithoutResult(t *testing.T) {
	drv := backendtest.New()
	e := newExecutor(t, drv)

	out := &collect{}
	require.NoError(t, e.Stream(context.Background(), ada, "CREATE TABLE t (id int); INSERT INTO t VALUES (1)", out))

	assert.Equal(t, []string{`{"error":null}`}, out.wire(t))
	assert.Equal(t, []string{"CREATE TABLE t (id int)", "INSERT INTO t VALUES (1)"}, drv.Statements())
}

func TestStream_RejectedBatchNeverTouchesBackend(t *testing.T) {
	drv := backendtest.New()
	e := newExecutor(t, drv)

	out := &collect{}
	require.NoError(t, e.Stream(context.Background(), ada, "SELECT 1; SELECT 2;", out))

	assert.Equal(t, []string{`{"error":"` + batch.MsgStreamingBatch + `"}`}, out.wire(t))
	assert.Equal(t, 0, drv.Connects())
	assert.Empty(t, drv.Statements())
}

func TestStream_ZeroStatements(t *testing.T) {
	for _, text := range []string{"", "   ", ";;\n;"} {
		t.Run(fmt.Sprintf("%q", text), func(t *testing.T) {
			drv := backendtest.New()
			e := newExecutor(t, drv)

			out := &collect{}
			done := make(chan error, 1)
			go func() { done <- e.Stream(context.Background(), ada, text, out) }()

			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(time.Second):
				t.Fatal("zero statement batch hung")
			}
			assert.Equal(t, []string{`{"error":null}`}, out.wire(t))
			assert.Equal(t, drv.Connects(), drv.Closes())
		})
	}
}

func TestStream_MidBatchFailureAbortsRest(t *testing.T) {
	drv := backendtest.New().On("INSERT INTO missing VALUES (1)", backendtest.Result{
		Err: errors.New(`relation "missing" does not exist`),
	})
	e := newExecutor(t, drv)

	out := &collect{}
	require.NoError(t, e.Stream(context.Background(), ada,
		"CREATE TABLE a (x int); INSERT INTO missing VALUES (1); DROP TABLE a", out))

	assert.Equal(t, []string{`{"error":"relation \"missing\" does not exist"}`}, out.wire(t))
	assert.Equal(t, []string{"CREATE TABLE a (x int)", "INSERT INTO missing VALUES (1)"}, drv.Statements())
	assert.Equal(t, 1, drv.Closes())
}

func TestStream_DrainFailureKeepsEmittedRows(t *testing.T) {
	drv := backendtest.New().On("SELECT 1/x FROM t", backendtest.Result{
		Columns:  []string{"?column?"},
		Events:   []backendtest.Event{backendtest.Populate(int64(1))},
		DrainErr: errors.New("division by zero"),
	})
	e := newExecutor(t, drv)

	out := &collect{}
	require.NoError(t, e.Stream(context.Background(), ada, "SELECT 1/x FROM t", out))

	assert.Equal(t, []string{
		`{"a":"d","c":["?column?"]}`,
		`{"a":"p","r":[{"v":"1"}]}`,
		`{"error":"division by zero"}`,
	}, out.wire(t))
	assert.Equal(t, 0, e.Registry().Len())
}

func TestStream_ConnectionFailure(t *testing.T) {
	drv := &backendtest.Driver{ConnectErr: errors.New("connection refused")}
	e := newExecutor(t, drv)

	out := &collect{}
	require.NoError(t, e.Stream(context.Background(), ada, "SELECT 1", out))
	assert.Equal(t, []string{`{"error":"database connection failed: connection refused"}`}, out.wire(t))
}

func TestStream_CancelledFromRegistry(t *testing.T) {
	drv := backendtest.New().On("SELECT * FROM stream", backendtest.Result{
		Columns: []string{"v"},
		Events:  []backendtest.Event{backendtest.Populate("first")},
		Block:   true,
	})
	e := newExecutor(t, drv)

	ch := make(chan protocol.Frame, 16)
	done := make(chan error, 1)
	go func() {
		done <- e.Stream(context.Background(), ada, "SELECT * FROM stream", NewChanEmitter(context.Background(), ch))
	}()

	assert.Equal(t, protocol.KindColumns, (<-ch).Kind)
	assert.Equal(t, protocol.KindPopulate, (<-ch).Kind)

	assert.Eventually(t, func() bool { return e.Registry().Cancel(ada.SessionID) }, time.Second, 5*time.Millisecond)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("cancelled query did not finish")
	}

	last := <-ch
	require.Equal(t, protocol.KindResult, last.Kind)
	require.NotNil(t, last.Err)
	assert.Equal(t, backendtest.ErrStopped.Error(), *last.Err)
	assert.Equal(t, 0, e.Registry().Len())
	assert.Equal(t, 1, drv.Stops())
}

func TestStream_ClientGone(t *testing.T) {
	drv := backendtest.New().On("SELECT v FROM t", backendtest.Result{
		Columns: []string{"v"},
		Events:  []backendtest.Event{backendtest.Populate("a"), backendtest.Populate("b"), backendtest.Terminate()},
	})
	e := newExecutor(t, drv)

	gone := errors.New("broken pipe")
	sent := 0
	out := EmitterFunc(func(protocol.Frame) error {
		sent++
		if sent > 2 {
			return gone
		}
		return nil
	})

	err := e.Stream(context.Background(), ada, "SELECT v FROM t", out)
	require.Error(t, err)
	assert.ErrorIs(t, err, gone)
	assert.Equal(t, protocol.KindTransport, protocol.KindOf(err))
	assert.Equal(t, 3, sent, "no error frame after the transport failed")
	assert.Equal(t, 1, drv.Closes())
}

func TestStream_FrameOrderingUnderConcurrency(t *testing.T) {
	const sessions = 16

	drv := backendtest.New()
	for i := 0; i < sessions; i++ {
		drv.On(fmt.Sprintf("SELECT %d", i), backendtest.Result{
			Columns: []string{"n"},
			Events: []backendtest.Event{
				backendtest.Populate(int64(i)),
				backendtest.Add(int64(i + 100)),
				backendtest.Terminate(),
			},
		})
	}
	e := newExecutor(t, drv)

	var wg sync.WaitGroup
	results := make([][]protocol.Frame, sessions)
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch := make(chan protocol.Frame)
			id := session.Identity{SessionID: fmt.Sprintf("s%d", i), Principal: "u"}
			go func() {
				defer close(ch)
				_ = e.Stream(context.Background(), id, fmt.Sprintf("SELECT %d", i), NewChanEmitter(context.Background(), ch))
			}()
			for f := range ch {
				results[i] = append(results[i], f)
			}
		}(i)
	}
	wg.Wait()

	for i, frames := range results {
		require.Len(t, frames, 4, "session %d", i)
		assert.Equal(t, protocol.KindColumns, frames[0].Kind)
		assert.Equal(t, protocol.RowFrame(protocol.KindPopulate, []protocol.Value{protocol.Text(fmt.Sprint(i))}), frames[1])
		assert.Equal(t, protocol.RowFrame(protocol.KindAdd, []protocol.Value{protocol.Text(fmt.Sprint(i + 100))}), frames[2])
		assert.Equal(t, protocol.Marker(protocol.KindTerminate), frames[3])
	}
}

func TestDelegate_RowsInBackendOrder(t *testing.T) {
	drv := backendtest.New().On("SELECT n FROM t", backendtest.Result{
		Columns: []string{"n"},
		Rows:    [][]any{{int64(3)}, {int64(1)}, {int64(2)}},
	})
	e := newExecutor(t, drv)

	out := &collect{}
	require.NoError(t, e.Delegate(context.Background(), ada, "SELECT n FROM t", out))

	assert.Equal(t, []string{
		`{"a":"d","c":["n"]}`,
		`{"a":"p","r":[{"v":"3"}]}`,
		`{"a":"p","r":[{"v":"1"}]}`,
		`{"a":"p","r":[{"v":"2"}]}`,
		`{"a":"s"}`,
		`{"a":"t"}`,
	}, out.wire(t))

	// the last two frames are the delegated completion kinds
	assert.Equal(t, protocol.KindStreamComplete, out.frames[4].Kind)
	assert.Equal(t, protocol.KindTransactionComplete, out.frames[5].Kind)
	assert.Equal(t, 0, e.Registry().Len())
}

func TestDelegate_Outcomes(t *testing.T) {
	tests := []struct {
		name string
		drv  *backendtest.Driver
		text string
		want []string
	}{
		{
			name: "no result",
			drv:  backendtest.New(),
			text: "UPDATE t SET x = 1",
			want: []string{`{"error":null}`},
		},
		{
			name: "rejected batch",
			drv:  backendtest.New(),
			text: "select 1; select 2",
			want: []string{`{"error":"` + batch.MsgStreamingBatch + `"}`},
		},
		{
			name: "execute failure",
			drv:  backendtest.New().On("SELEC 1", backendtest.Result{Err: errors.New("syntax error")}),
			text: "SELEC 1",
			want: []string{`{"error":"syntax error"}`},
		},
		{
			name: "fetch failure emits no rows",
			drv: backendtest.New().On("SELECT x FROM t", backendtest.Result{
				Columns:  []string{"x"},
				Rows:     [][]any{{int64(1)}},
				DrainErr: errors.New("out of memory"),
			}),
			text: "SELECT x FROM t",
			want: []string{`{"error":"out of memory"}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newExecutor(t, tt.drv)
			out := &collect{}
			require.NoError(t, e.Delegate(context.Background(), ada, tt.text, out))
			assert.Equal(t, tt.want, out.wire(t))
		})
	}
}

func TestExplain(t *testing.T) {
	drv := backendtest.New()
	drv.Plan = []backend.PlanNode{
		{Name: "1. Sort", Detail: "cost=1"},
		{Name: "2. Seq Scan on t", Parent: "1. Sort", Detail: "cost=0.5"},
	}
	e := newExecutor(t, drv)
	ctx := context.Background()

	res := e.Explain(ctx, ada, "SELECT * FROM t ORDER BY x;")
	assert.Nil(t, res.Error)
	assert.Equal(t, protocol.Plan{
		{Name: "1. Sort", Tooltip: "cost=1"},
		{Name: "2. Seq Scan on t", Parent: "1. Sort", Tooltip: "cost=0.5"},
	}, res.Plan)
	assert.Contains(t, drv.Statements(), "EXPLAIN SELECT * FROM t ORDER BY x")

	empty := e.Explain(ctx, ada, "  ")
	assert.Nil(t, empty.Error)
	assert.Nil(t, empty.Plan)

	multi := e.Explain(ctx, ada, "SELECT 1; SELECT 2")
	require.NotNil(t, multi.Error)
	assert.Equal(t, batch.MsgExplainBatch, *multi.Error)

	drv.PlanErr = errors.New("syntax error")
	failed := e.Explain(ctx, ada, "SELEC")
	require.NotNil(t, failed.Error)
	assert.Equal(t, "syntax error", *failed.Error)
	assert.Nil(t, failed.Plan)
}

func TestChanEmitter_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	em := NewChanEmitter(ctx, make(chan protocol.Frame))
	cancel()
	assert.ErrorIs(t, em.Emit(protocol.Success()), context.Canceled)
}
