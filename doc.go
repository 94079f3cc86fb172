// Package sandbox hosts a single untrusted WebAssembly guest and exposes
// exactly four host capabilities to it: byte send, byte receive, a
// receive-readiness poll, and a log write.
//
// The packages are organized by responsibility:
//
//	sandbox/        Root package with the Handles capability interface
//	├── runner/     Guest environment and the execution-guarded lifecycle manager
//	├── bridge/     Guest-facing import functions over injected Handles
//	├── cache/      Compiled-artifact cache with staleness detection
//	├── engine/     wazero integration: compilation, asyncify scheduling, memory
//	└── errors/     Structured error types
//
// # Quick Start
//
//	handles := sandbox.NewPipeHandles(16)
//	r, err := runner.New(ctx, runner.Config{
//	    ID:        "agent-1",
//	    Handles:   handles,
//	    GuestPath: "env.wasm",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	go func() {
//	    if err := r.Run(ctx); err != nil {
//	        log.Println(err)
//	    }
//	}()
//
// The guest runs a cooperative message loop: it calls one capability at a
// time and suspends until the host handle completes. A Runner owns one guest
// instance; at most one Run is in flight at any time, and a second caller is
// rejected immediately rather than queued. Managing many guests means
// managing many Runners.
//
// # Thread Safety
//
// Runner is safe for concurrent use; the guest instance it owns is driven by
// exactly one goroutine at a time, enforced by the execution guard.
package sandbox
