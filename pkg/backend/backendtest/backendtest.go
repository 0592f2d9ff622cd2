// Package backendtest provides a scripted in-memory backend for tests.
package backendtest

import (
	"context"
	"errors"
	"sync"

	"github.com/leapstack-labs/querydeck/pkg/backend"
)

// Event is one call a cursor makes to its RowFunc while draining.
type Event struct {
	Action backend.Action
	Row    []any
}

// Populate returns a populate event.
func Populate(row ...any) Event { return Event{Action: backend.ActionPopulate, Row: row} }

// Add returns an add event.
func Add(row ...any) Event { return Event{Action: backend.ActionAdd, Row: row} }

// Remove returns a remove event.
func Remove(row ...any) Event { return Event{Action: backend.ActionRemove, Row: row} }

// Shift returns a shift event.
func Shift() Event { return Event{Action: backend.ActionShift} }

// Terminate returns a terminate event.
func Terminate() Event { return Event{Action: backend.ActionTerminate} }

// Result scripts the outcome of one statement.
type Result struct {
	// Columns is nil for statements without a result set.
	Columns []string
	// Events are delivered by Drain, in order.
	Events []Event
	// Rows are returned by FetchAll. When nil, the rows of populate events
	// are used.
	Rows [][]any
	// Err is returned by Execute.
	Err error
	// DrainErr is returned by Drain and FetchAll after the events.
	DrainErr error
	// Block makes Drain wait for Stop or context cancellation after the
	// events, like a result stream that never ends by itself.
	Block bool
}

// Driver is a scripted backend.Driver. Statements without a script succeed
// without a result set.
type Driver struct {
	ConnectErr error
	Plan       []backend.PlanNode
	PlanErr    error

	mu         sync.Mutex
	results    map[string]Result
	connects   int
	closes     int
	statements []string
	stops      int
	cursors    []*Cursor
}

// New creates a driver without scripted statements.
func New() *Driver {
	return &Driver{results: map[string]Result{}}
}

// On scripts the result of stmt.
func (d *Driver) On(stmt string, r Result) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results[stmt] = r
	return d
}

// Name implements backend.Driver.
func (d *Driver) Name() string { return "backendtest" }

// Connect implements backend.Driver.
func (d *Driver) Connect(_ context.Context, _ backend.Params) (backend.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ConnectErr != nil {
		return nil, d.ConnectErr
	}
	d.connects++
	return &Conn{d: d}, nil
}

// Connects returns the number of successful connects.
func (d *Driver) Connects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

// Closes returns the number of closed connections.
func (d *Driver) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// Statements returns every executed statement in order.
func (d *Driver) Statements() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.statements...)
}

// Stops returns how many times a cursor was stopped.
func (d *Driver) Stops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

// OpenCursors returns the number of cursors that were not closed.
func (d *Driver) OpenCursors() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.cursors {
		if !c.closed {
			n++
		}
	}
	return n
}

// Conn is a scripted backend.Conn.
type Conn struct {
	d *Driver
}

// Cursor implements backend.Conn.
func (c *Conn) Cursor() backend.Cursor {
	cur := &Cursor{d: c.d, stopped: make(chan struct{})}
	c.d.mu.Lock()
	c.d.cursors = append(c.d.cursors, cur)
	c.d.mu.Unlock()
	return cur
}

// Explain implements backend.Conn.
func (c *Conn) Explain(_ context.Context, stmt string) ([]backend.PlanNode, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.statements = append(c.d.statements, "EXPLAIN "+stmt)
	return c.d.Plan, c.d.PlanErr
}

// Close implements backend.Conn.
func (c *Conn) Close() error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.closes++
	return nil
}

// Cursor is a scripted backend.Cursor.
type Cursor struct {
	d *Driver

	stopOnce sync.Once
	stopped  chan struct{}

	// guarded by d.mu
	pending *Result
	fn      backend.RowFunc
	closed  bool
}

// ErrStopped is returned by a blocked Drain once the cursor is stopped.
var ErrStopped = errors.New("canceling statement due to user request")

// Execute implements backend.Cursor.
func (c *Cursor) Execute(_ context.Context, sql string, fn backend.RowFunc) error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()

	c.d.statements = append(c.d.statements, sql)
	c.pending, c.fn = nil, nil

	r, ok := c.d.results[sql]
	if !ok {
		return nil
	}
	if r.Err != nil {
		return r.Err
	}
	if r.Columns != nil {
		c.pending, c.fn = &r, fn
	}
	return nil
}

// ExecuteDirect implements backend.Cursor.
func (c *Cursor) ExecuteDirect(ctx context.Context, sql string) error {
	return c.Execute(ctx, sql, nil)
}

// Columns implements backend.Cursor.
func (c *Cursor) Columns() []string {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	return c.pending.Columns
}

// Drain implements backend.Cursor.
func (c *Cursor) Drain(ctx context.Context) error {
	c.d.mu.Lock()
	r, fn := c.pending, c.fn
	c.pending, c.fn = nil, nil
	c.d.mu.Unlock()

	if r == nil {
		return nil
	}
	for _, ev := range r.Events {
		if fn == nil {
			continue
		}
		if err := fn(ev.Action, ev.Row); err != nil {
			return err
		}
	}
	if r.Block {
		select {
		case <-c.stopped:
			return ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return r.DrainErr
}

// FetchAll implements backend.Cursor.
func (c *Cursor) FetchAll(_ context.Context) ([][]any, error) {
	c.d.mu.Lock()
	r := c.pending
	c.pending, c.fn = nil, nil
	c.d.mu.Unlock()

	if r == nil {
		return nil, nil
	}
	if r.DrainErr != nil {
		return nil, r.DrainErr
	}
	if r.Rows != nil {
		return r.Rows, nil
	}
	var rows [][]any
	for _, ev := range r.Events {
		if ev.Action == backend.ActionPopulate {
			rows = append(rows, ev.Row)
		}
	}
	return rows, nil
}

// Stop implements backend.Handle.
func (c *Cursor) Stop() {
	c.stopOnce.Do(func() {
		c.d.mu.Lock()
		c.d.stops++
		c.d.mu.Unlock()
		close(c.stopped)
	})
}

// Close implements backend.Cursor.
func (c *Cursor) Close() error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.closed = true
	c.pending, c.fn = nil, nil
	return nil
}
