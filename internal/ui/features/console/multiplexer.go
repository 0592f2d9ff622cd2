// Package console provides the SQL console feature: the per-socket message
// loop that runs queries, and the endpoints that stop and explain them.
package console

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/leapstack-labs/querydeck/internal/executor"
	"github.com/leapstack-labs/querydeck/internal/session"
)

// Message tags.
const (
	TagStream   = 'd'
	TagDelegate = 'b'
)

// Multiplexer serves the execution requests arriving on client transports.
type Multiplexer struct {
	exec   *executor.Executor
	logger *slog.Logger
}

// NewMultiplexer creates a Multiplexer running queries with exec.
func NewMultiplexer(exec *executor.Executor, logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Multiplexer{exec: exec, logger: logger}
}

// Serve reads messages from t until the client goes away and runs each one
// to completion before reading the next, so frames reach the client in the
// order the executions produced them. t is closed on return.
func (m *Multiplexer) Serve(ctx context.Context, t Transport, id session.Identity) error {
	defer func() { _ = t.Close() }()

	logger := m.logger.With(slog.String("user", id.Principal))
	logger.Debug("console connected")

	out := executor.EmitterFunc(t.Send)
	for {
		msg, err := t.Receive()
		if errors.Is(err, io.EOF) {
			logger.Debug("console disconnected")
			return nil
		}
		if err != nil {
			logger.Warn("console transport failed", slog.String("error", err.Error()))
			return err
		}
		if msg == "" {
			continue
		}

		switch msg[0] {
		case TagStream:
			err = m.exec.Stream(ctx, id, msg[1:], out)
		case TagDelegate:
			err = m.exec.Delegate(ctx, id, msg[1:], out)
		default:
			logger.Debug("ignoring message", slog.String("tag", msg[:1]))
			continue
		}
		if err != nil {
			logger.Warn("console transport failed", slog.String("error", err.Error()))
			return err
		}
	}
}
