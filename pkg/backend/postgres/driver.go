// Package postgres provides a PostgreSQL backend built on pgx.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgconn/ctxwatch"

	"github.com/leapstack-labs/querydeck/pkg/backend"
)

// DriverName is the name the driver registers under.
const DriverName = "postgres"

// cancelGrace is how long a cancel request gets before the socket deadline
// is forced.
const cancelGrace = 2 * time.Second

// Driver opens pgx connections, one per client session.
type Driver struct {
	logger *slog.Logger
}

// New creates a new PostgreSQL driver.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Driver{logger: logger}
}

// Name returns the registered driver name.
func (d *Driver) Name() string {
	return DriverName
}

// Connect opens a connection as p.Principal. The database defaults to the
// principal's name.
func (d *Driver) Connect(ctx context.Context, p backend.Params) (backend.Conn, error) {
	cfg, err := pgx.ParseConfig(buildPostgresDSN(p))
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	// ad-hoc statements are not worth preparing
	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	// cancelling a context asks the server to cancel the running query
	cfg.BuildContextWatcherHandler = func(pgConn *pgconn.PgConn) ctxwatch.Handler {
		return &pgconn.CancelRequestContextWatcherHandler{
			Conn:          pgConn,
			DeadlineDelay: cancelGrace,
		}
	}

	d.logger.Debug("connecting to postgres",
		slog.String("host", cfg.Host),
		slog.String("database", cfg.Database),
		slog.String("user", cfg.User))

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &Conn{conn: conn, logger: d.logger}, nil
}

// buildPostgresDSN constructs a key=value connection string.
func buildPostgresDSN(p backend.Params) string {
	host := p.Host
	if host == "" {
		host = "localhost"
	}

	port := p.Port
	if port == 0 {
		port = 5432
	}

	database := p.Database
	if database == "" {
		database = p.Principal
	}

	sslmode := "disable"
	if mode, ok := p.Options["sslmode"]; ok {
		sslmode = mode
	}

	parts := []string{
		"host=" + dsnValue(host),
		fmt.Sprintf("port=%d", port),
		"dbname=" + dsnValue(database),
		"sslmode=" + dsnValue(sslmode),
	}
	if p.Principal != "" {
		parts = append(parts, "user="+dsnValue(p.Principal))
	}
	if p.Credentials != "" {
		parts = append(parts, "password="+dsnValue(p.Credentials))
	}

	extra := make([]string, 0, len(p.Options))
	for k := range p.Options {
		if k != "sslmode" {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		parts = append(parts, k+"="+dsnValue(p.Options[k]))
	}

	return strings.Join(parts, " ")
}

// dsnValue quotes v when it is empty or contains characters that would end
// a bare value.
func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// Conn is one pgx connection.
type Conn struct {
	conn   *pgx.Conn
	logger *slog.Logger
}

// Cursor returns a new cursor on the connection.
func (c *Conn) Cursor() backend.Cursor {
	return &Cursor{conn: c.conn, logger: c.logger}
}

// Explain returns the plan of stmt as reported by EXPLAIN (FORMAT JSON).
func (c *Conn) Explain(ctx context.Context, stmt string) ([]backend.PlanNode, error) {
	var raw []byte
	if err := c.conn.QueryRow(ctx, "EXPLAIN (FORMAT JSON) "+stmt).Scan(&raw); err != nil {
		return nil, fmt.Errorf("failed to explain statement: %w", err)
	}
	return parsePlan(raw)
}

// Close closes the connection.
func (c *Conn) Close() error {
	c.logger.Debug("closing postgres connection")
	ctx, cancel := context.WithTimeout(context.Background(), cancelGrace)
	defer cancel()
	return c.conn.Close(ctx)
}
