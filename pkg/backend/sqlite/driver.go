// Package sqlite provides an embedded SQLite backend on the pure Go
// modernc.org/sqlite driver. Every principal gets its own database file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/leapstack-labs/querydeck/pkg/backend"
	"github.com/leapstack-labs/querydeck/pkg/backend/sqldb"

	// sqlite driver (pure Go)
	_ "modernc.org/sqlite"
)

// DriverName is the name the driver registers under.
const DriverName = "sqlite"

const fileExt = ".db"

// Driver opens SQLite databases, one file per principal.
type Driver struct {
	logger *slog.Logger
	files  *sqldb.Pool
	memory *sqldb.Pool
}

// New creates a new SQLite driver.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Driver{
		logger: logger,
		files:  sqldb.NewPool(DriverName),
		memory: sqldb.NewRetainingPool(DriverName),
	}
}

// Name returns the registered driver name.
func (d *Driver) Name() string {
	return DriverName
}

// Connect opens the principal's database. Without a data directory the
// principal gets a shared-cache in-memory database that lives as long as the
// driver.
func (d *Driver) Connect(ctx context.Context, p backend.Params) (backend.Conn, error) {
	if err := backend.CheckPrincipal(p.Principal); err != nil {
		return nil, err
	}

	pool := d.memory
	dsn := "file:" + url.PathEscape(p.Principal) + "?mode=memory&cache=shared"
	if p.DataDir != "" {
		path, err := backend.PrincipalFile(p.DataDir, p.Principal, fileExt)
		if err != nil {
			return nil, err
		}
		pool = d.files
		dsn = "file:" + path + "?" + pragmas(p.Options).Encode()
	}
	d.logger.Debug("opening sqlite database", slog.String("principal", p.Principal), slog.String("dsn", dsn))

	db, release, err := pool.Acquire(ctx, dsn, dsn)
	if err != nil {
		return nil, err
	}

	conn, err := sqldb.Open(ctx, db, d.logger, sqldb.WithExplain(explain), sqldb.OnClose(release))
	if err != nil {
		_ = release()
		return nil, err
	}
	return conn, nil
}

// Close closes every database the driver opened.
func (d *Driver) Close() error {
	err := d.memory.Close()
	if fileErr := d.files.Close(); err == nil {
		err = fileErr
	}
	return err
}

// pragmas builds the connection query: WAL and foreign keys by default,
// plus any _pragma options from config.
func pragmas(options map[string]string) url.Values {
	v := url.Values{}
	v.Add("_pragma", "foreign_keys(1)")
	v.Add("_pragma", "journal_mode(WAL)")
	v.Add("_pragma", "busy_timeout(5000)")
	for k, val := range options {
		v.Add("_pragma", fmt.Sprintf("%s(%s)", k, val))
	}
	return v
}

// explain converts EXPLAIN QUERY PLAN output. Rows reference their parent by
// id, and parents are listed before their children.
func explain(ctx context.Context, conn *sql.Conn, stmt string) ([]backend.PlanNode, error) {
	rows, err := conn.QueryContext(ctx, "EXPLAIN QUERY PLAN "+stmt)
	if err != nil {
		return nil, fmt.Errorf("failed to explain statement: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := map[int64]string{}
	var out []backend.PlanNode
	for rows.Next() {
		var (
			id, parent, notused int64
			detail              string
		)
		if err := rows.Scan(&id, &parent, &notused, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		name := fmt.Sprintf("%d. %s", len(out)+1, detail)
		names[id] = name
		out = append(out, backend.PlanNode{Name: name, Parent: names[parent], Detail: detail})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return out, nil
}
