// Package sqldb implements backend connections and cursors on top of
// database/sql for engines that ship a database/sql driver.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/querydeck/pkg/backend"
)

// ExplainFunc computes the plan of stmt on conn.
type ExplainFunc func(ctx context.Context, conn *sql.Conn, stmt string) ([]backend.PlanNode, error)

// Conn is a backend.Conn that pins one connection of a *sql.DB so that every
// statement of a session sees the same session state.
type Conn struct {
	DB      *sql.DB
	Conn    *sql.Conn
	Logger  *slog.Logger
	explain ExplainFunc

	// ownsDB closes DB together with the connection.
	ownsDB  bool
	onClose func() error
}

// Option configures a Conn.
type Option func(*Conn)

// WithExplain sets the function used by Explain.
func WithExplain(fn ExplainFunc) Option {
	return func(c *Conn) { c.explain = fn }
}

// OwnDB makes Close also close the *sql.DB.
func OwnDB() Option {
	return func(c *Conn) { c.ownsDB = true }
}

// OnClose registers fn to run after the connection is released.
func OnClose(fn func() error) Option {
	return func(c *Conn) { c.onClose = fn }
}

// Open pins a connection of db.
func Open(ctx context.Context, db *sql.DB, logger *slog.Logger, opts ...Option) (*Conn, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	c := &Conn{DB: db, Conn: conn, Logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Cursor returns a new cursor on the pinned connection.
func (c *Conn) Cursor() backend.Cursor {
	return NewCursor(c.Conn, c.Logger)
}

// Explain returns the plan of stmt.
func (c *Conn) Explain(ctx context.Context, stmt string) ([]backend.PlanNode, error) {
	if c.explain == nil {
		return nil, fmt.Errorf("explain is not supported by this backend")
	}
	return c.explain(ctx, c.Conn, stmt)
}

// Close releases the pinned connection.
func (c *Conn) Close() error {
	c.Logger.Debug("closing database connection")
	err := c.Conn.Close()
	if c.ownsDB {
		if dbErr := c.DB.Close(); err == nil {
			err = dbErr
		}
	}
	if c.onClose != nil {
		if hookErr := c.onClose(); err == nil {
			err = hookErr
		}
	}
	return err
}

// Cursor runs statements on a *sql.Conn.
type Cursor struct {
	backend.Stopper

	conn   *sql.Conn
	logger *slog.Logger

	mu      sync.Mutex
	rows    *sql.Rows
	release context.CancelFunc
	columns []string
	fn      backend.RowFunc
}

// NewCursor creates a cursor on conn.
func NewCursor(conn *sql.Conn, logger *slog.Logger) *Cursor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cursor{conn: conn, logger: logger}
}

// Execute runs query and keeps its result open for Drain.
func (c *Cursor) Execute(ctx context.Context, query string, fn backend.RowFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeRowsLocked()

	opCtx, release := c.Bind(ctx)
	//nolint:rowserrcheck // rows.Err() is checked by Drain and FetchAll
	rows, err := c.conn.QueryContext(opCtx, query)
	if err != nil {
		release()
		return fmt.Errorf("failed to execute statement: %w", err)
	}

	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		release()
		return fmt.Errorf("failed to read columns: %w", err)
	}

	if len(cols) == 0 {
		// no result set: consume it so errors raised late surface here
		for rows.Next() {
		}
		err := rows.Err()
		_ = rows.Close()
		release()
		if err != nil {
			return fmt.Errorf("failed to execute statement: %w", err)
		}
		return nil
	}

	c.rows, c.release, c.columns, c.fn = rows, release, cols, fn
	c.logger.Debug("statement produced a result", "columns", len(cols))
	return nil
}

// ExecuteDirect runs query; its rows are read with FetchAll.
func (c *Cursor) ExecuteDirect(ctx context.Context, query string) error {
	return c.Execute(ctx, query, nil)
}

// Columns returns the column names of the open result.
func (c *Cursor) Columns() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.columns
}

// Drain delivers every row of the open result to the RowFunc given to
// Execute, followed by the shift and terminate events.
func (c *Cursor) Drain(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rows == nil {
		return nil
	}
	defer c.closeRowsLocked()

	stop := context.AfterFunc(ctx, c.Stop)
	defer stop()

	fn := c.fn
	if fn == nil {
		fn = func(backend.Action, []any) error { return nil }
	}

	n := 0
	err := scanRows(c.rows, len(c.columns), func(row []any) error {
		n++
		return fn(backend.ActionPopulate, row)
	})
	if err != nil {
		return err
	}
	c.logger.Debug("result drained", "rows", n)

	if err := fn(backend.ActionShift, nil); err != nil {
		return err
	}
	return fn(backend.ActionTerminate, nil)
}

// FetchAll returns every row of the open result.
func (c *Cursor) FetchAll(ctx context.Context) ([][]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rows == nil {
		return nil, nil
	}
	defer c.closeRowsLocked()

	stop := context.AfterFunc(ctx, c.Stop)
	defer stop()

	var out [][]any
	err := scanRows(c.rows, len(c.columns), func(row []any) error {
		out = append(out, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the open result, if any.
func (c *Cursor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeRowsLocked()
	return nil
}

func (c *Cursor) closeRowsLocked() {
	if c.rows != nil {
		_ = c.rows.Close()
		c.rows = nil
	}
	if c.release != nil {
		c.release()
		c.release = nil
	}
	c.columns = nil
	c.fn = nil
}

func scanRows(rows *sql.Rows, width int, fn func([]any) error) error {
	for rows.Next() {
		vals := make([]any, width)
		ptrs := make([]any, width)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		if err := fn(vals); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read rows: %w", err)
	}
	return nil
}
