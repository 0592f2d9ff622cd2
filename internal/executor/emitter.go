package executor

import (
	"context"

	"github.com/leapstack-labs/querydeck/internal/protocol"
)

// Emitter receives the frames of one execution, in order.
type Emitter interface {
	Emit(protocol.Frame) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(protocol.Frame) error

// Emit calls f.
func (f EmitterFunc) Emit(frame protocol.Frame) error {
	return f(frame)
}

// ChanEmitter sends frames to a channel. Emit blocks until the frame is
// received or ctx is done.
type ChanEmitter struct {
	ctx context.Context
	ch  chan<- protocol.Frame
}

// NewChanEmitter creates an emitter writing to ch.
func NewChanEmitter(ctx context.Context, ch chan<- protocol.Frame) *ChanEmitter {
	return &ChanEmitter{ctx: ctx, ch: ch}
}

// Emit implements Emitter.
func (e *ChanEmitter) Emit(frame protocol.Frame) error {
	select {
	case e.ch <- frame:
		return nil
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}
