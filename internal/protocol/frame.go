// Package protocol defines the frames exchanged with the browser console:
// the wrapped cell values, the event frames and the error taxonomy used to
// report failures.
package protocol

import (
	"encoding/json"
	"fmt"
)

// FrameKind identifies the single event a Frame carries.
//
// The streaming and backend-delegated modes reuse the wire letters "s" and
// "t" for different events, so each mode gets its own kinds.
type FrameKind int

// Frame kinds.
const (
	// KindColumns describes the columns of the result that follows.
	KindColumns FrameKind = iota + 1
	// KindPopulate carries a row of the initial result.
	KindPopulate
	// KindAdd carries a row appended after the initial result.
	KindAdd
	// KindRemove retracts a previously sent row.
	KindRemove
	// KindShift marks the end of the initial population in streaming mode.
	KindShift
	// KindTerminate marks the end of a streaming result.
	KindTerminate
	// KindStreamComplete marks that every row of a delegated result was sent.
	KindStreamComplete
	// KindTransactionComplete marks the end of a delegated execution.
	KindTransactionComplete
	// KindResult ends an execution with an error, or with success when the
	// statements produced no rows.
	KindResult
)

// Action codes as they appear in the "a" field.
const (
	ActionColumns  = "d"
	ActionPopulate = "p"
	ActionAdd      = "a"
	ActionRemove   = "r"
	ActionShift    = "s"
	ActionTerm     = "t"
)

// Action returns the wire letter of k, or "" for result frames.
func (k FrameKind) Action() string {
	switch k {
	case KindColumns:
		return ActionColumns
	case KindPopulate:
		return ActionPopulate
	case KindAdd:
		return ActionAdd
	case KindRemove:
		return ActionRemove
	case KindShift, KindStreamComplete:
		return ActionShift
	case KindTerminate, KindTransactionComplete:
		return ActionTerm
	default:
		return ""
	}
}

func (k FrameKind) String() string {
	switch k {
	case KindColumns:
		return "columns"
	case KindPopulate:
		return "populate"
	case KindAdd:
		return "add"
	case KindRemove:
		return "remove"
	case KindShift:
		return "shift"
	case KindTerminate:
		return "terminate"
	case KindStreamComplete:
		return "stream_complete"
	case KindTransactionComplete:
		return "transaction_complete"
	case KindResult:
		return "result"
	default:
		return fmt.Sprintf("FrameKind(%d)", int(k))
	}
}

// Frame is one event sent to the client.
type Frame struct {
	Kind    FrameKind
	Columns []string
	Row     []Value
	// Err is nil for a success result.
	Err *string
}

// Columns returns a column descriptor frame.
func Columns(names []string) Frame {
	if names == nil {
		names = []string{}
	}
	return Frame{Kind: KindColumns, Columns: names}
}

// RowFrame returns a populate, add or remove frame carrying row.
func RowFrame(kind FrameKind, row []Value) Frame {
	if row == nil {
		row = []Value{}
	}
	return Frame{Kind: kind, Row: row}
}

// Marker returns a frame without payload (shift, terminate, stream-complete,
// transaction-complete).
func Marker(kind FrameKind) Frame {
	return Frame{Kind: kind}
}

// Success returns the result frame sent when statements produced no rows.
func Success() Frame {
	return Frame{Kind: KindResult}
}

// Failure returns the result frame for err.
func Failure(err error) Frame {
	msg := Render(err)
	return Frame{Kind: KindResult, Err: &msg}
}

// IsRow reports whether f carries a row.
func (f Frame) IsRow() bool {
	return f.Kind == KindPopulate || f.Kind == KindAdd || f.Kind == KindRemove
}

// IsTerminal reports whether f ends an execution.
func (f Frame) IsTerminal() bool {
	switch f.Kind {
	case KindResult, KindTerminate, KindTransactionComplete:
		return true
	}
	return false
}

type actionFrame struct {
	A string `json:"a"`
}

type resultFrame struct {
	Error *string `json:"error"`
}

// MarshalJSON implements json.Marshaler.
func (f Frame) MarshalJSON() ([]byte, error) {
	switch f.Kind {
	case KindResult:
		return json.Marshal(resultFrame{Error: f.Err})
	case KindColumns:
		cols := f.Columns
		if cols == nil {
			cols = []string{}
		}
		// c must be present even when empty, so no omitempty here.
		return json.Marshal(struct {
			A string   `json:"a"`
			C []string `json:"c"`
		}{A: ActionColumns, C: cols})
	case KindPopulate, KindAdd, KindRemove:
		row := f.Row
		if row == nil {
			row = []Value{}
		}
		return json.Marshal(struct {
			A string  `json:"a"`
			R []Value `json:"r"`
		}{A: f.Kind.Action(), R: row})
	case KindShift, KindTerminate, KindStreamComplete, KindTransactionComplete:
		return json.Marshal(actionFrame{A: f.Kind.Action()})
	default:
		return nil, fmt.Errorf("cannot marshal frame of kind %s", f.Kind)
	}
}

// DecodeFrame parses a frame from its wire form. The letters "s" and "t" are
// mode-scoped, so the caller says whether the frame came from a delegated
// execution.
func DecodeFrame(data []byte, delegated bool) (Frame, error) {
	var raw struct {
		A     *string          `json:"a"`
		R     []Value          `json:"r"`
		C     []string         `json:"c"`
		Error *json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Frame{}, err
	}
	if raw.A == nil {
		f := Frame{Kind: KindResult}
		if raw.Error != nil && string(*raw.Error) != "null" {
			var msg string
			if err := json.Unmarshal(*raw.Error, &msg); err != nil {
				return Frame{}, err
			}
			f.Err = &msg
		}
		return f, nil
	}
	switch *raw.A {
	case ActionColumns:
		return Columns(raw.C), nil
	case ActionPopulate:
		return RowFrame(KindPopulate, raw.R), nil
	case ActionAdd:
		return RowFrame(KindAdd, raw.R), nil
	case ActionRemove:
		return RowFrame(KindRemove, raw.R), nil
	case ActionShift:
		if delegated {
			return Marker(KindStreamComplete), nil
		}
		return Marker(KindShift), nil
	case ActionTerm:
		if delegated {
			return Marker(KindTransactionComplete), nil
		}
		return Marker(KindTerminate), nil
	}
	return Frame{}, fmt.Errorf("unknown frame action %q", *raw.A)
}
