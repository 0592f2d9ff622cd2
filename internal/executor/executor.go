// Package executor runs client-submitted SQL against a connection session and
// reports the outcome as a sequence of frames.
//
// Two modes exist. Stream forwards rows as the backend pushes them and keeps
// the running query cancellable through the session registry. Delegate lets
// the backend run the statement to completion and then relays every row.
// Either way, failures never escape as errors: they become a single error
// frame. The only error returned to the caller is a failed Emit, which means
// the client is gone.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/leapstack-labs/querydeck/internal/batch"
	"github.com/leapstack-labs/querydeck/internal/protocol"
	"github.com/leapstack-labs/querydeck/internal/registry"
	"github.com/leapstack-labs/querydeck/internal/session"
	"github.com/leapstack-labs/querydeck/pkg/backend"
)

// Executor runs batches for any number of concurrent clients.
type Executor struct {
	opener   session.Opener
	registry *registry.Registry
	logger   *slog.Logger
}

// New creates an executor. Running streamed queries are registered in reg.
func New(opener session.Opener, reg *registry.Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if reg == nil {
		reg = registry.New()
	}
	return &Executor{opener: opener, registry: reg, logger: logger}
}

// Registry returns the registry running queries are kept in.
func (e *Executor) Registry() *registry.Registry {
	return e.registry
}

// run tracks whether the client can still be reached during one execution.
type run struct {
	out     Emitter
	lost    error
	emitted int
}

func (r *run) emit(f protocol.Frame) error {
	if r.lost != nil {
		return r.lost
	}
	if err := r.out.Emit(f); err != nil {
		r.lost = protocol.TransportError(err)
		return r.lost
	}
	r.emitted++
	return nil
}

// Stream executes text in streaming mode.
//
// Frames: the row events of every statement as the backend produces them;
// then, if the last statement has a result, its column descriptor followed
// by the rows delivered while draining (ending with the terminate marker);
// otherwise a success frame. Any failure ends the execution with exactly
// one error frame and skips the remaining statements.
func (e *Executor) Stream(ctx context.Context, id session.Identity, text string, out Emitter) error {
	start := time.Now()
	r := &run{out: out}

	b, err := batch.Compose(text)
	if err != nil {
		return e.finish(r, id, "stream", start, err)
	}

	err = e.opener.With(ctx, id, func(conn *session.Conn) error {
		cur := conn.Cursor()
		rowFn := func(action backend.Action, row []any) error {
			return r.emit(rowFrame(action, row))
		}

		for _, stmt := range b {
			if err := cur.Execute(ctx, stmt, rowFn); err != nil {
				return protocol.ExecutionError(err)
			}
		}

		cols := cur.Columns()
		if cols == nil {
			return r.emit(protocol.Success())
		}

		e.registry.Register(id.SessionID, cur)
		defer e.registry.Release(id.SessionID, cur)

		if err := r.emit(protocol.Columns(cols)); err != nil {
			return err
		}
		// rows reach the client through rowFn while this blocks
		if err := cur.Drain(ctx); err != nil {
			return protocol.ExecutionError(err)
		}
		return nil
	})
	return e.finish(r, id, "stream", start, err)
}

// Delegate executes text in backend-delegated mode.
//
// Frames: if the last statement has a result, its column descriptor, one
// populate frame per row in backend order, then stream-complete and
// transaction-complete; otherwise a success frame. A failure produces one
// error frame and nothing else.
func (e *Executor) Delegate(ctx context.Context, id session.Identity, text string, out Emitter) error {
	start := time.Now()
	r := &run{out: out}

	b, err := batch.Compose(text)
	if err != nil {
		return e.finish(r, id, "delegate", start, err)
	}

	err = e.opener.With(ctx, id, func(conn *session.Conn) error {
		cur := conn.Cursor()
		for _, stmt := range b {
			if err := cur.ExecuteDirect(ctx, stmt); err != nil {
				return protocol.ExecutionError(err)
			}
		}

		cols := cur.Columns()
		if cols == nil {
			return r.emit(protocol.Success())
		}

		e.registry.Register(id.SessionID, cur)
		rows, err := cur.FetchAll(ctx)
		e.registry.Release(id.SessionID, cur)
		if err != nil {
			return protocol.ExecutionError(err)
		}

		if err := r.emit(protocol.Columns(cols)); err != nil {
			return err
		}
		for _, row := range rows {
			if err := r.emit(protocol.RowFrame(protocol.KindPopulate, protocol.EncodeRow(row))); err != nil {
				return err
			}
		}
		if err := r.emit(protocol.Marker(protocol.KindStreamComplete)); err != nil {
			return err
		}
		return r.emit(protocol.Marker(protocol.KindTransactionComplete))
	})
	return e.finish(r, id, "delegate", start, err)
}

// finish reports err to the client as the closing error frame, unless the
// client is already unreachable.
func (e *Executor) finish(r *run, id session.Identity, mode string, start time.Time, err error) error {
	logger := e.logger.With(
		slog.String("mode", mode),
		slog.String("user", id.Principal),
		slog.Int("frames", r.emitted),
		slog.Duration("elapsed", time.Since(start)))

	if r.lost != nil {
		logger.Warn("client went away during execution", slog.String("error", r.lost.Error()))
		return r.lost
	}
	if err == nil {
		logger.Debug("execution finished")
		return nil
	}

	logger.Debug("execution failed",
		slog.String("kind", protocol.KindOf(err).String()),
		slog.String("error", err.Error()))
	if emitErr := r.emit(protocol.Failure(err)); emitErr != nil {
		logger.Warn("failed to report execution error", slog.String("error", emitErr.Error()))
		return emitErr
	}
	return nil
}

// Explain returns the plan of the single statement in text. Text without a
// statement yields an empty result.
func (e *Executor) Explain(ctx context.Context, id session.Identity, text string) protocol.ExplainResult {
	stmt, ok, err := batch.Single(text)
	if err != nil {
		return protocol.ExplainFailure(err)
	}
	if !ok {
		return protocol.ExplainResult{}
	}

	var plan protocol.Plan
	err = e.opener.With(ctx, id, func(conn *session.Conn) error {
		var err error
		plan, err = conn.Explain(ctx, stmt)
		return err
	})
	if err != nil {
		e.logger.Debug("explain failed", slog.String("user", id.Principal), slog.String("error", err.Error()))
		return protocol.ExplainFailure(err)
	}
	return protocol.ExplainResult{Plan: plan}
}

func rowFrame(action backend.Action, row []any) protocol.Frame {
	switch action {
	case backend.ActionPopulate:
		return protocol.RowFrame(protocol.KindPopulate, protocol.EncodeRow(row))
	case backend.ActionAdd:
		return protocol.RowFrame(protocol.KindAdd, protocol.EncodeRow(row))
	case backend.ActionRemove:
		return protocol.RowFrame(protocol.KindRemove, protocol.EncodeRow(row))
	case backend.ActionShift:
		return protocol.Marker(protocol.KindShift)
	default:
		return protocol.Marker(protocol.KindTerminate)
	}
}
