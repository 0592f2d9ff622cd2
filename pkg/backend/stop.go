package backend

import (
	"context"
	"sync"
)

// Stopper implements Handle for cursors: Stop cancels every operation
// context obtained from Bind, present and future.
type Stopper struct {
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *Stopper) init() {
	s.once.Do(func() {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	})
}

// Bind derives an operation context from parent that is also cancelled by
// Stop. The returned release func must be called when the operation ends.
func (s *Stopper) Bind(parent context.Context) (context.Context, context.CancelFunc) {
	s.init()
	ctx, cancel := context.WithCancel(parent)
	unhook := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		unhook()
		cancel()
	}
}

// Stop cancels bound operations.
func (s *Stopper) Stop() {
	s.init()
	s.cancel()
}

// Stopped reports whether Stop was called.
func (s *Stopper) Stopped() bool {
	s.init()
	return s.ctx.Err() != nil
}
