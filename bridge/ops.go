package bridge

import (
	"context"

	sandbox "github.com/wippyai/wasm-sandbox"
	"github.com/wippyai/wasm-sandbox/engine"
	"github.com/wippyai/wasm-sandbox/errors"
)

// sendOp delivers a payload to the host while the guest is suspended. The
// payload was copied out of guest memory before the unwind.
type sendOp struct {
	handles sandbox.Handles
	payload []byte
}

func (o *sendOp) Execute(ctx context.Context) (uint64, error) {
	if err := o.handles.SendBytes(ctx, o.payload); err != nil {
		return 0, asHandleFailure(err)
	}
	return 0, nil
}

// recvOp waits for a payload and lowers it into guest memory: the bytes go
// through cabi_realloc, the (ptr, len) pair lands at retptr. Runs only while
// the guest is parked, so calling back into the guest allocator is safe.
type recvOp struct {
	handles sandbox.Handles
	mem     engine.Memory
	alloc   *engine.Allocator
	retptr  uint32
}

func (o *recvOp) Execute(ctx context.Context) (uint64, error) {
	payload, err := o.handles.RecvBytes(ctx)
	if err != nil {
		return 0, asHandleFailure(err)
	}

	ptr, err := o.alloc.WriteBytes(ctx, o.mem, payload)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseHost, errors.KindIO, err, "lower received payload")
	}

	if !o.mem.WriteUint32Le(o.retptr, ptr) || !o.mem.WriteUint32Le(o.retptr+4, uint32(len(payload))) {
		return 0, errors.Newf(errors.PhaseHost, errors.KindIO, "write return area at %d", o.retptr)
	}
	return 0, nil
}
