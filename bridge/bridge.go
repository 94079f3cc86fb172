package bridge

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	sandbox "github.com/wippyai/wasm-sandbox"
	"github.com/wippyai/wasm-sandbox/engine"
	"github.com/wippyai/wasm-sandbox/errors"
)

// ModuleName is the component-model root import namespace. Capability
// imports declared directly on the guest world land here.
const ModuleName = "$root"

// Export names under ModuleName.
const (
	FuncSendBytes = "send-bytes"
	FuncRecvBytes = "recv-bytes"
	FuncRecvReady = "recv-ready"
	FuncWriteLog  = "write-log"
)

// Bridge adapts a Handles implementation to the guest's core-level imports.
// One bridge serves one guest instance.
type Bridge struct {
	handles sandbox.Handles
	logger  *zap.Logger

	failureMu sync.Mutex
	failure   *errors.Error
}

func New(handles sandbox.Handles, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{handles: handles, logger: logger}
}

// Instantiate registers the capability functions on r under ModuleName.
func (b *Bridge) Instantiate(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	i32 := api.ValueTypeI32

	mod, err := r.NewHostModuleBuilder(ModuleName).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(b.sendBytes), []api.ValueType{i32, i32}, nil).
		Export(FuncSendBytes).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(b.recvBytes), []api.ValueType{i32}, nil).
		Export(FuncRecvBytes).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(b.recvReady), nil, []api.ValueType{i32}).
		Export(FuncRecvReady).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(b.writeLog), []api.ValueType{i32, i32}, nil).
		Export(FuncWriteLog).
		Instantiate(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindInstantiation, err, "instantiate capability module")
	}
	return mod, nil
}

// TakeFailure returns and clears the last synchronous handle failure. Host
// functions cannot return errors through wazero, so a failing sync call
// records here and traps; the caller recovers the richer error afterwards.
func (b *Bridge) TakeFailure() error {
	b.failureMu.Lock()
	defer b.failureMu.Unlock()
	if b.failure == nil {
		return nil
	}
	f := b.failure
	b.failure = nil
	return f
}

// fail records err and traps out of the guest call.
func (b *Bridge) fail(fn string, err error) {
	failure := asHandleFailure(err)
	b.logger.Debug("capability call failed", zap.String("func", fn), zap.Error(failure))

	b.failureMu.Lock()
	b.failure = failure
	b.failureMu.Unlock()

	panic(failure)
}

// sendBytes lowers: send-bytes(ptr: i32, len: i32)
func (b *Bridge) sendBytes(ctx context.Context, mod api.Module, stack []uint64) {
	async := engine.GetAsyncify(ctx)
	if async != nil && async.IsRewinding() {
		if _, err := engine.Resume(ctx); err != nil {
			b.fail(FuncSendBytes, err)
		}
		return
	}

	// Copy out before any suspension: guest memory may move under us later.
	payload, err := engine.ReadBytes(mod.Memory(), uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		b.fail(FuncSendBytes, err)
	}

	op := &sendOp{handles: b.handles, payload: payload}
	if async == nil {
		// Guest is not asyncified; block in place.
		if _, err := op.Execute(ctx); err != nil {
			b.fail(FuncSendBytes, err)
		}
		return
	}

	if err := engine.Suspend(ctx, op); err != nil {
		b.fail(FuncSendBytes, err)
	}
}

// recvBytes lowers: recv-bytes(retptr: i32). The result list is written to
// the caller-provided return area.
func (b *Bridge) recvBytes(ctx context.Context, mod api.Module, stack []uint64) {
	async := engine.GetAsyncify(ctx)
	if async != nil && async.IsRewinding() {
		if _, err := engine.Resume(ctx); err != nil {
			b.fail(FuncRecvBytes, err)
		}
		return
	}

	op := &recvOp{
		handles: b.handles,
		mem:     mod.Memory(),
		alloc:   engine.NewAllocator(mod.ExportedFunction(engine.CabiRealloc)),
		retptr:  uint32(stack[0]),
	}

	if async == nil {
		if _, err := op.Execute(ctx); err != nil {
			b.fail(FuncRecvBytes, err)
		}
		return
	}

	if err := engine.Suspend(ctx, op); err != nil {
		b.fail(FuncRecvBytes, err)
	}
}

// recvReady lowers: recv-ready() -> i32. Synchronous by contract.
func (b *Bridge) recvReady(ctx context.Context, _ api.Module, stack []uint64) {
	ready, err := b.handles.RecvReady(ctx)
	if err != nil {
		b.fail(FuncRecvReady, err)
	}
	if ready {
		stack[0] = 1
	} else {
		stack[0] = 0
	}
}

// writeLog lowers: write-log(ptr: i32, len: i32). Synchronous by contract.
func (b *Bridge) writeLog(ctx context.Context, mod api.Module, stack []uint64) {
	msg, err := engine.ReadString(mod.Memory(), uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		b.fail(FuncWriteLog, err)
	}
	if err := b.handles.WriteLog(ctx, msg); err != nil {
		b.fail(FuncWriteLog, err)
	}
}
