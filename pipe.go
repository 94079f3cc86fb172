package sandbox

import (
	"context"
	"sync"
)

// PipeHandles is a queue-backed Handles implementation for callers that
// drive the guest from the same process: payloads pushed with Push are
// consumed by the guest's recv-bytes, and payloads the guest sends surface
// on Output. Log lines go to an optional sink.
type PipeHandles struct {
	toGuest   chan []byte
	fromGuest chan []byte

	mu    sync.RWMutex
	logFn func(text string)
}

// NewPipeHandles creates pipe handles with the given queue capacity in each
// direction.
func NewPipeHandles(buffer int) *PipeHandles {
	return &PipeHandles{
		toGuest:   make(chan []byte, buffer),
		fromGuest: make(chan []byte, buffer),
	}
}

// Push queues a payload for the guest's next recv-bytes.
func (h *PipeHandles) Push(ctx context.Context, payload []byte) error {
	select {
	case h.toGuest <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Output returns the stream of payloads the guest has sent.
func (h *PipeHandles) Output() <-chan []byte {
	return h.fromGuest
}

// OnLog sets the sink for guest log lines. A nil sink drops them.
func (h *PipeHandles) OnLog(fn func(text string)) {
	h.mu.Lock()
	h.logFn = fn
	h.mu.Unlock()
}

func (h *PipeHandles) SendBytes(ctx context.Context, payload []byte) error {
	select {
	case h.fromGuest <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *PipeHandles) RecvBytes(ctx context.Context) ([]byte, error) {
	select {
	case payload := <-h.toGuest:
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *PipeHandles) RecvReady(_ context.Context) (bool, error) {
	return len(h.toGuest) > 0, nil
}

func (h *PipeHandles) WriteLog(_ context.Context, text string) error {
	h.mu.RLock()
	fn := h.logFn
	h.mu.RUnlock()
	if fn != nil {
		fn(text)
	}
	return nil
}

var _ Handles = (*PipeHandles)(nil)
