// Package duckdb provides an embedded DuckDB backend. Every principal gets
// its own database file under the configured data directory.
package duckdb

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver

	"github.com/leapstack-labs/querydeck/pkg/backend"
	"github.com/leapstack-labs/querydeck/pkg/backend/sqldb"
)

// DriverName is the name the driver registers under.
const DriverName = "duckdb"

// fileExt is appended to the principal's name.
const fileExt = ".duckdb"

// memoryDSN opens a private in-memory database per handle.
const memoryDSN = ":memory:"

// Driver opens DuckDB databases, one file per principal.
type Driver struct {
	logger *slog.Logger
	files  *sqldb.Pool
	memory *sqldb.Pool
}

// New creates a new DuckDB driver.
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

// Connect opens the principal's database.
func (d *Driver) Connect(ctx context.Context, p backend.Params) (backend.Conn, error) {
	params, err := decodeParams(p.Settings)
	if err != nil {
		return nil, err
	}

	if err := backend.CheckPrincipal(p.Principal); err != nil {
		return nil, err
	}

	pool, key, dsn := d.memory, p.Principal, memoryDSN
	if !params.InMemory && p.DataDir != "" {
		if dsn, err = fileDSN(p, params); err != nil {
			return nil, err
		}
		pool, key = d.files, dsn
	}
	d.logger.Debug("opening duckdb database", slog.String("principal", p.Principal), slog.String("dsn", dsn))

	db, release, err := pool.Acquire(ctx, key, dsn)
	if err != nil {
		return nil, err
	}

	conn, err := sqldb.Open(ctx, db, d.logger, sqldb.WithExplain(explain), sqldb.OnClose(release))
	if err != nil {
		_ = release()
		return nil, err
	}

	if err := setup(ctx, conn, params); err != nil {
		_ = conn.Close()
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

func fileDSN(p backend.Params, params Params) (string, error) {
	path, err := backend.PrincipalFile(p.DataDir, p.Principal, fileExt)
	if err != nil {
		return "", err
	}
	if params.ReadOnly {
		return path + "?access_mode=READ_ONLY", nil
	}
	return path, nil
}

func setup(ctx context.Context, conn *sqldb.Conn, params Params) error {
	var stmts []string
	for _, ext := range params.Extensions {
		stmts = append(stmts, "INSTALL "+quoteIdent(ext), "LOAD "+quoteIdent(ext))
	}
	stmts = append(stmts, params.settingStatements()...)

	for _, stmt := range stmts {
		if _, err := conn.Conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run %q: %w", stmt, err)
		}
	}
	return nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
