// Package notifier provides a simple broadcast mechanism for SSE updates.
package notifier

import "sync"

// DefaultBuffer is how many undelivered lines a listener may fall behind
// before further lines are dropped for it.
const DefaultBuffer = 256

// Notifier broadcasts lines to all subscribed listeners.
// A slow listener loses lines instead of holding up the broadcaster.
type Notifier struct {
	mu        sync.RWMutex
	listeners map[chan string]struct{}
	buffer    int
}

// New creates a new Notifier instance.
func New() *Notifier {
	return NewWithBuffer(DefaultBuffer)
}

// NewWithBuffer creates a Notifier whose listener channels hold size lines.
func NewWithBuffer(size int) *Notifier {
	if size < 1 {
		size = 1
	}
	return &Notifier{
		listeners: make(map[chan string]struct{}),
		buffer:    size,
	}
}

// Subscribe returns a channel that receives every broadcast line.
// The caller must call Unsubscribe when done to prevent goroutine leaks.
func (n *Notifier) Subscribe() chan string {
	ch := make(chan string, n.buffer)
	n.mu.Lock()
	n.listeners[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener channel and closes it.
func (n *Notifier) Unsubscribe(ch chan string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.listeners[ch]; !ok {
		return
	}
	delete(n.listeners, ch)
	close(ch)
}

// Broadcast sends line to all listeners.
// Non-blocking: if a listener's channel is full, the line is skipped for it.
func (n *Notifier) Broadcast(line string) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for ch := range n.listeners {
		select {
		case ch <- line:
		default:
		}
	}
}

// Listeners returns the number of subscribed listeners.
func (n *Notifier) Listeners() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}
