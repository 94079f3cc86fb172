package sandbox

import "context"

// Handles is the set of capability functions the host injects into a guest.
// Any implementation satisfying these four operations is acceptable; the
// runner captures one Handles value at construction and owns it for the
// manager's entire lifetime.
//
// The guest is single-threaded and cooperative: it never invokes two
// capabilities concurrently, so implementations are called strictly in
// sequence from the goroutine driving the run. Implementations that bridge
// into an environment with a single global execution lock must acquire and
// release that lock per call, never holding it across a blocking wait.
type Handles interface {
	// SendBytes delivers a guest payload to the host. The guest suspends
	// until SendBytes returns.
	SendBytes(ctx context.Context, payload []byte) error

	// RecvBytes produces the next host payload for the guest, blocking
	// until one is available. The guest suspends until RecvBytes returns.
	RecvBytes(ctx context.Context) ([]byte, error)

	// RecvReady reports whether a RecvBytes call would complete without
	// blocking. It must not block.
	RecvReady(ctx context.Context) (bool, error)

	// WriteLog records one guest log line. It must complete before
	// returning so ordering with subsequent guest calls is preserved, but
	// it must not block on slow sinks.
	WriteLog(ctx context.Context, text string) error
}
