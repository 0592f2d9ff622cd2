package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_MarshalJSON(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name  string
		frame Frame
		want  string
	}{
		{name: "columns", frame: Columns([]string{"id", "name"}), want: `{"a":"d","c":["id","name"]}`},
		{name: "empty columns", frame: Columns(nil), want: `{"a":"d","c":[]}`},
		{name: "populate", frame: RowFrame(KindPopulate, []Value{Text("1"), Null()}), want: `{"a":"p","r":[{"v":"1"},{"v":null,"f":"NULL"}]}`},
		{name: "add", frame: RowFrame(KindAdd, []Value{Text("2")}), want: `{"a":"a","r":[{"v":"2"}]}`},
		{name: "remove", frame: RowFrame(KindRemove, nil), want: `{"a":"r","r":[]}`},
		{name: "shift", frame: Marker(KindShift), want: `{"a":"s"}`},
		{name: "terminate", frame: Marker(KindTerminate), want: `{"a":"t"}`},
		{name: "stream complete", frame: Marker(KindStreamComplete), want: `{"a":"s"}`},
		{name: "transaction complete", frame: Marker(KindTransactionComplete), want: `{"a":"t"}`},
		{name: "success", frame: Success(), want: `{"error":null}`},
		{name: "failure", frame: Failure(boom), want: `{"error":"boom"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.frame)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(b))
		})
	}
}

func TestFrame_MarshalUnknownKind(t *testing.T) {
	_, err := json.Marshal(Frame{})
	assert.Error(t, err)
}

func TestDecodeFrame_ModeScopedLetters(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"a":"s"}`), false)
	require.NoError(t, err)
	assert.Equal(t, KindShift, f.Kind)

	f, err = DecodeFrame([]byte(`{"a":"s"}`), true)
	require.NoError(t, err)
	assert.Equal(t, KindStreamComplete, f.Kind)

	f, err = DecodeFrame([]byte(`{"a":"t"}`), true)
	require.NoError(t, err)
	assert.Equal(t, KindTransactionComplete, f.Kind)

	f, err = DecodeFrame([]byte(`{"error":null}`), false)
	require.NoError(t, err)
	assert.Equal(t, KindResult, f.Kind)
	assert.Nil(t, f.Err)

	f, err = DecodeFrame([]byte(`{"error":"bad"}`), false)
	require.NoError(t, err)
	require.NotNil(t, f.Err)
	assert.Equal(t, "bad", *f.Err)

	f, err = DecodeFrame([]byte(`{"a":"p","r":[{"v":"1"},{"v":null,"f":"NULL"}]}`), false)
	require.NoError(t, err)
	assert.Equal(t, []Value{Text("1"), Null()}, f.Row)

	_, err = DecodeFrame([]byte(`{"a":"z"}`), false)
	assert.Error(t, err)
}

func TestFrame_Predicates(t *testing.T) {
	assert.True(t, RowFrame(KindAdd, nil).IsRow())
	assert.False(t, Marker(KindShift).IsRow())
	assert.True(t, Success().IsTerminal())
	assert.True(t, Marker(KindTerminate).IsTerminal())
	assert.False(t, Marker(KindStreamComplete).IsTerminal())
}

func TestRender(t *testing.T) {
	pgErr := &pgconn.PgError{Severity: "ERROR", Message: `relation "nope" does not exist`, Code: "42P01"}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "batch", err: NewBatchError("a batch that streams rows must contain exactly one statement"), want: "a batch that streams rows must contain exactly one statement"},
		{name: "connection", err: ConnectionError(errors.New("password authentication failed")), want: "database connection failed: password authentication failed"},
		{name: "plain backend", err: errors.New("syntax error"), want: "syntax error"},
		{name: "postgres error", err: fmt.Errorf("execute: %w", pgErr), want: `ERROR: relation "nope" does not exist`},
		{name: "wrapped postgres error", err: ExecutionError(pgErr), want: `ERROR: relation "nope" does not exist`},
		{name: "cancelled", err: ExecutionError(fmt.Errorf("drain: %w", context.Canceled)), want: "query was cancelled"},
		{name: "transport", err: TransportError(errors.New("broken pipe")), want: "transport failed: broken pipe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.err))
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindBatchComposition, KindOf(NewBatchError("x")))
	assert.Equal(t, KindConnection, KindOf(fmt.Errorf("open: %w", ConnectionError(errors.New("x")))))
	assert.Equal(t, KindBackendExecution, KindOf(errors.New("x")))
	assert.Equal(t, KindTransport, KindOf(TransportError(errors.New("x"))))

	// already classified errors keep their kind
	assert.Equal(t, KindConnection, KindOf(ExecutionError(ConnectionError(errors.New("x")))))
	assert.NoError(t, ExecutionError(nil))
}

func TestExplainResult_JSON(t *testing.T) {
	b, err := json.Marshal(ExplainResult{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":null,"plan":null}`, string(b))

	b, err = json.Marshal(ExplainResult{Plan: Plan{{Name: "Seq Scan", Parent: "", Tooltip: "cost=1"}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":null,"plan":[["Seq Scan","","cost=1"]]}`, string(b))

	b, err = json.Marshal(ExplainFailure(errors.New("only one statement can be explained")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"only one statement can be explained","plan":null}`, string(b))
}
