package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies every failure the console can report.
type Kind int

// Error kinds.
const (
	// KindBatchComposition means the client submitted a batch that may not run.
	KindBatchComposition Kind = iota + 1
	// KindConnection means the backend was unreachable or rejected the credentials.
	KindConnection
	// KindBackendExecution covers any failure raised while a statement ran,
	// including cancellation.
	KindBackendExecution
	// KindTransport means the client connection dropped.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindBatchComposition:
		return "batch_composition"
	case KindConnection:
		return "connection"
	case KindBackendExecution:
		return "backend_execution"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String() + " error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// NewBatchError creates a batch composition error with the given message.
func NewBatchError(msg string) *Error {
	return &Error{Kind: KindBatchComposition, Msg: msg}
}

// ConnectionError wraps a failure to open a backend connection.
func ConnectionError(err error) *Error {
	return &Error{Kind: KindConnection, Msg: "database connection failed", Err: err}
}

// ExecutionError wraps a failure raised by the backend while executing.
// Errors that are already classified are returned unchanged.
func ExecutionError(err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Kind: KindBackendExecution, Err: err}
}

// TransportError wraps a failure of the client connection.
func TransportError(err error) *Error {
	return &Error{Kind: KindTransport, Msg: "transport failed", Err: err}
}

// KindOf reports the kind of err. Unclassified errors count as backend
// execution errors since that is where they surface.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindBackendExecution
}

// Render returns the text sent to the client for err.
func Render(err error) string {
	if err == nil {
		return ""
	}
	var pe *Error
	if !errors.As(err, &pe) {
		return renderBackend(err)
	}
	switch pe.Kind {
	case KindBatchComposition:
		return pe.Msg
	case KindConnection:
		if pe.Err == nil {
			return pe.Msg
		}
		return pe.Msg + ": " + renderBackend(pe.Err)
	case KindBackendExecution:
		if pe.Err == nil {
			return pe.Msg
		}
		return renderBackend(pe.Err)
	default:
		return pe.Error()
	}
}

func renderBackend(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		msg := pgErr.Severity + ": " + pgErr.Message
		if pgErr.Detail != "" {
			msg += "\nDETAIL: " + pgErr.Detail
		}
		if pgErr.Hint != "" {
			msg += "\nHINT: " + pgErr.Hint
		}
		return msg
	}
	if errors.Is(err, context.Canceled) {
		return "query was cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "query timed out"
	}
	return err.Error()
}
