package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/leapstack-labs/querydeck/pkg/backend"
)

// Cursor runs statements on a pgx connection.
type Cursor struct {
	backend.Stopper

	conn   *pgx.Conn
	logger *slog.Logger

	mu      sync.Mutex
	rows    pgx.Rows
	release context.CancelFunc
	columns []string
	dates   []bool
	fn      backend.RowFunc
}

// Execute runs query and keeps its result open for Drain.
func (c *Cursor) Execute(ctx context.Context, query string, fn backend.RowFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.finishRowsLocked(); err != nil {
		return fmt.Errorf("failed to execute statement: %w", err)
	}

	opCtx, release := c.Bind(ctx)
	rows, err := c.conn.Query(opCtx, query)
	if err != nil {
		release()
		return fmt.Errorf("failed to execute statement: %w", err)
	}

	fields := rows.FieldDescriptions()
	if len(fields) == 0 {
		rows.Close()
		release()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to execute statement: %w", err)
		}
		c.logger.Debug("statement completed", slog.String("tag", rows.CommandTag().String()))
		return nil
	}

	columns := make([]string, len(fields))
	dates := make([]bool, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
		dates[i] = f.DataTypeOID == pgtype.DateOID
	}

	c.rows, c.release, c.columns, c.dates, c.fn = rows, release, columns, dates, fn
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
	err := c.scanLocked(func(row []any) error {
		n++
		return fn(backend.ActionPopulate, row)
	})
	if err != nil {
		return err
	}
	c.logger.Debug("result drained", slog.Int("rows", n))

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
	err := c.scanLocked(func(row []any) error {
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

func (c *Cursor) scanLocked(fn func([]any) error) error {
	for c.rows.Next() {
		vals, err := c.rows.Values()
		if err != nil {
			return fmt.Errorf("failed to decode row: %w", err)
		}
		for i, isDate := range c.dates {
			if t, ok := vals[i].(time.Time); ok && isDate {
				vals[i] = pgtype.Date{Time: t, Valid: true}
			}
		}
		if err := fn(vals); err != nil {
			return err
		}
	}
	if err := c.rows.Err(); err != nil {
		return fmt.Errorf("failed to read rows: %w", err)
	}
	return nil
}

// finishRowsLocked closes a result that is being replaced by a new
// statement. The rest of the result is read so that an error raised after
// the last fetched row is reported instead of dropped.
func (c *Cursor) finishRowsLocked() error {
	var err error
	if c.rows != nil {
		c.rows.Close()
		if !c.Stopped() {
			err = c.rows.Err()
		}
	}
	c.closeRowsLocked()
	return err
}

func (c *Cursor) closeRowsLocked() {
	// cancel first so closing an abandoned result does not read it to the end
	if c.release != nil {
		c.release()
		c.release = nil
	}
	if c.rows != nil {
		c.rows.Close()
		c.rows = nil
	}
	c.columns = nil
	c.dates = nil
	c.fn = nil
}
