// Package session opens backend connections on behalf of signed-in users and
// guarantees they are released.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leapstack-labs/querydeck/internal/protocol"
	"github.com/leapstack-labs/querydeck/pkg/backend"
)

// Identity is who a connection acts for.
type Identity struct {
	// SessionID is the opaque id of the browser session.
	SessionID string
	// Principal is the database user.
	Principal string
	// Credentials is the principal's password.
	Credentials string
}

// Opener opens connection sessions.
type Opener interface {
	// Open opens a connection for id. Failures are connection errors.
	Open(ctx context.Context, id Identity) (*Conn, error)

	// With opens a connection, runs fn and closes the connection and its
	// cursors however fn returns.
	With(ctx context.Context, id Identity, fn func(*Conn) error) error

	// Check opens and closes a connection to verify id's credentials.
	Check(ctx context.Context, id Identity) error
}

// Manager is the Opener backed by a backend.Driver.
type Manager struct {
	driver         backend.Driver
	base           backend.Params
	connectTimeout time.Duration
	logger         *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithConnectTimeout bounds how long opening a connection may take.
func WithConnectTimeout(d time.Duration) Option {
	return func(m *Manager) { m.connectTimeout = d }
}

// New creates a Manager. base supplies everything but the principal and
// credentials, which come from the identity of each Open.
func New(driver backend.Driver, base backend.Params, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := &Manager{driver: driver, base: base, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open implements Opener.
func (m *Manager) Open(ctx context.Context, id Identity) (*Conn, error) {
	if id.Principal == "" {
		return nil, protocol.ConnectionError(errors.New("no user signed in"))
	}

	if m.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.connectTimeout)
		defer cancel()
	}

	p := m.base
	p.Principal = id.Principal
	p.Credentials = id.Credentials

	bc, err := m.driver.Connect(ctx, p)
	if err != nil {
		m.logger.Warn("backend connection failed",
			slog.String("backend", m.driver.Name()),
			slog.String("user", id.Principal),
			slog.String("error", err.Error()))
		return nil, protocol.ConnectionError(err)
	}
	m.logger.Debug("backend connection opened", slog.String("user", id.Principal))
	return &Conn{id: id, conn: bc, logger: m.logger}, nil
}

// With implements Opener.
func (m *Manager) With(ctx context.Context, id Identity, fn func(*Conn) error) error {
	conn, err := m.Open(ctx, id)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			m.logger.Warn("failed to close backend connection",
				slog.String("user", id.Principal),
				slog.String("error", cerr.Error()))
		}
	}()
	return fn(conn)
}

// Check implements Opener.
func (m *Manager) Check(ctx context.Context, id Identity) error {
	return m.With(ctx, id, func(*Conn) error { return nil })
}

// Close releases resources held by the driver, if it holds any.
func (m *Manager) Close() error {
	if c, ok := m.driver.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Conn is one backend connection scoped to an identity. Cursors opened on it
// are closed with it.
type Conn struct {
	id     Identity
	conn   backend.Conn
	logger *slog.Logger

	mu      sync.Mutex
	cursors []backend.Cursor
	closed  bool
}

// Identity returns who the connection acts for.
func (c *Conn) Identity() Identity {
	return c.id
}

// Cursor opens a cursor that is closed together with the connection.
func (c *Conn) Cursor() backend.Cursor {
	cur := c.conn.Cursor()
	c.mu.Lock()
	c.cursors = append(c.cursors, cur)
	c.mu.Unlock()
	return cur
}

// Explain returns the plan of stmt.
func (c *Conn) Explain(ctx context.Context, stmt string) (protocol.Plan, error) {
	nodes, err := c.conn.Explain(ctx, stmt)
	if err != nil {
		return nil, protocol.ExecutionError(err)
	}
	plan := make(protocol.Plan, len(nodes))
	for i, n := range nodes {
		plan[i] = protocol.PlanNode{Name: n.Name, Parent: n.Parent, Tooltip: n.Detail}
	}
	return plan, nil
}

// Close closes every cursor and then the connection. It is safe to call
// more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cursors := c.cursors
	c.cursors = nil
	c.mu.Unlock()

	var errs []error
	for _, cur := range cursors {
		if err := cur.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close cursor: %w", err))
		}
	}
	if err := c.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
	}
	c.logger.Debug("backend connection closed", slog.String("user", c.id.Principal))
	return errors.Join(errs...)
}
