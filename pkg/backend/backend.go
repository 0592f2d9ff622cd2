// Package backend defines the contract between the console and the database
// engines that execute its statements.
//
// A Driver opens one Conn per client session. A Conn hands out Cursors, which
// run statements and push result rows to a RowFunc as the engine produces
// them. Concrete drivers live in pkg/backend subdirectories and register
// themselves from init functions.
package backend

import (
	"context"
	"fmt"
)

// Action tells a RowFunc what happened to the result.
type Action int

// Row actions.
const (
	// ActionPopulate delivers a row of the initial result.
	ActionPopulate Action = iota + 1
	// ActionAdd delivers a row added after the initial result.
	ActionAdd
	// ActionRemove retracts a row delivered earlier.
	ActionRemove
	// ActionShift marks the end of the initial population.
	ActionShift
	// ActionTerminate marks the end of the result stream.
	ActionTerminate
)

func (a Action) String() string {
	switch a {
	case ActionPopulate:
		return "populate"
	case ActionAdd:
		return "add"
	case ActionRemove:
		return "remove"
	case ActionShift:
		return "shift"
	case ActionTerminate:
		return "terminate"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// RowFunc receives result events. row is nil for shift and terminate. A
// returned error aborts the running statement.
type RowFunc func(action Action, row []any) error

// Handle is a running query that can be stopped from another goroutine.
// Stopping a finished query is a no-op.
type Handle interface {
	Stop()
}

// Params identifies the database a Conn is opened against.
type Params struct {
	// Principal is the signed-in user the connection acts as.
	Principal string
	// Credentials is the principal's password, if the engine checks one.
	Credentials string

	Host     string
	Port     int
	Database string
	// DataDir holds per-principal database files for embedded engines.
	DataDir string
	// Options are passed through to the engine's connection string.
	Options map[string]string
	// Settings are engine specific and decoded by each driver.
	Settings map[string]any
}

// PlanNode is one node of an execution plan.
type PlanNode struct {
	// Name labels the node and is unique within a plan.
	Name string
	// Parent is the Name of the parent node, empty for the root.
	Parent string
	// Detail describes the node (costs, estimates).
	Detail string
}

// Driver opens connections for one database engine.
type Driver interface {
	// Name returns the registered driver name.
	Name() string

	// Connect opens a connection for p.Principal.
	Connect(ctx context.Context, p Params) (Conn, error)
}

// Conn is one backend connection owned by a single client session.
type Conn interface {
	// Cursor returns a new cursor bound to this connection.
	Cursor() Cursor

	// Explain returns the plan of stmt without running it.
	Explain(ctx context.Context, stmt string) ([]PlanNode, error)

	// Close releases the connection.
	Close() error
}

// Cursor runs statements on a Conn.
//
// In streaming use, Execute runs a statement and keeps its result open; after
// the caller has inspected Columns, Drain delivers the rows to the RowFunc
// given to Execute and returns once the stream terminates. In direct use,
// ExecuteDirect runs a statement and FetchAll returns its rows.
type Cursor interface {
	Handle

	// Execute runs sql. Rows of a result are delivered to fn by Drain.
	Execute(ctx context.Context, sql string, fn RowFunc) error

	// ExecuteDirect runs sql without a row callback.
	ExecuteDirect(ctx context.Context, sql string) error

	// Columns returns the column names of the last statement's result, or nil
	// when it produced no result.
	Columns() []string

	// Drain blocks until the open result terminates.
	Drain(ctx context.Context) error

	// FetchAll returns every row of the open result.
	FetchAll(ctx context.Context) ([][]any, error)

	// Close releases any open result.
	Close() error
}
