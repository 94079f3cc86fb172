package engine

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Asyncify drives the Binaryen asyncify protocol (wasm-opt --asyncify) on an
// instrumented guest.
//
// States: 0=Normal, 1=Unwinding (saving stack), 2=Rewinding (restoring stack)
//
// Memory layout at dataAddr:
//   - [0:4] stack pointer (grows upward from dataAddr+8)
//   - [4:8] stack end
//   - [8:stackSize] stack data
type Asyncify struct {
	exports struct {
		getState    Callable
		startUnwind Callable
		stopUnwind  Callable
		startRewind Callable
		stopRewind  Callable
	}
	memory    Memory
	state     int32
	dataAddr  uint32
	stackSize uint32
}

const AsyncifyDataAddr uint32 = 16
const AsyncifyDefaultStackSize uint32 = 1024

// AsyncifyConfig overrides the default unwind stack placement.
type AsyncifyConfig struct {
	StackSize uint32
	DataAddr  uint32
}

func NewAsyncify(cfg AsyncifyConfig) *Asyncify {
	a := &Asyncify{
		dataAddr:  AsyncifyDataAddr,
		stackSize: AsyncifyDefaultStackSize,
	}
	if cfg.StackSize > 0 {
		a.stackSize = cfg.StackSize
	}
	if cfg.DataAddr > 0 {
		a.dataAddr = cfg.DataAddr
	}
	return a
}

// Init resolves the asyncify exports and writes the unwind stack descriptor
// into guest memory. Call after instantiation, before any suspending call.
func (a *Asyncify) Init(lookup func(name string) Callable, mem Memory) error {
	if mem == nil {
		return fmt.Errorf("asyncify: instance has no memory")
	}
	a.memory = mem

	a.exports.getState = lookup("asyncify_get_state")
	a.exports.startUnwind = lookup("asyncify_start_unwind")
	a.exports.stopUnwind = lookup("asyncify_stop_unwind")
	a.exports.startRewind = lookup("asyncify_start_rewind")
	a.exports.stopRewind = lookup("asyncify_stop_rewind")

	if a.exports.getState == nil {
		return fmt.Errorf("asyncify: missing asyncify_get_state export (run wasm-opt --asyncify)")
	}

	stackPtr := a.dataAddr + 8
	stackEnd := stackPtr + a.stackSize

	if !a.memory.WriteUint32Le(a.dataAddr, stackPtr) {
		return fmt.Errorf("asyncify: failed to write stack pointer")
	}
	if !a.memory.WriteUint32Le(a.dataAddr+4, stackEnd) {
		return fmt.Errorf("asyncify: failed to write stack end")
	}

	return nil
}

func (a *Asyncify) IsNormal() bool    { return atomic.LoadInt32(&a.state) == 0 }
func (a *Asyncify) IsUnwinding() bool { return atomic.LoadInt32(&a.state) == 1 }
func (a *Asyncify) IsRewinding() bool { return atomic.LoadInt32(&a.state) == 2 }

func (a *Asyncify) StartUnwind(ctx context.Context) error {
	if a.exports.startUnwind != nil {
		if _, err := a.exports.startUnwind.Call(ctx, uint64(a.dataAddr)); err != nil {
			return err
		}
	}
	atomic.StoreInt32(&a.state, 1)
	return nil
}

func (a *Asyncify) StopUnwind(ctx context.Context) error {
	if a.exports.stopUnwind != nil {
		if _, err := a.exports.stopUnwind.Call(ctx); err != nil {
			return err
		}
	}
	atomic.StoreInt32(&a.state, 0)
	return nil
}

func (a *Asyncify) StartRewind(ctx context.Context) error {
	if a.exports.startRewind != nil {
		if _, err := a.exports.startRewind.Call(ctx, uint64(a.dataAddr)); err != nil {
			return err
		}
	}
	atomic.StoreInt32(&a.state, 2)
	return nil
}

func (a *Asyncify) StopRewind(ctx context.Context) error {
	if a.exports.stopRewind != nil {
		if _, err := a.exports.stopRewind.Call(ctx); err != nil {
			return err
		}
	}
	atomic.StoreInt32(&a.state, 0)
	return nil
}

// ResetStack resets the unwind stack pointer. Call before each new
// top-level guest call.
func (a *Asyncify) ResetStack() {
	if a.memory != nil {
		if !a.memory.WriteUint32Le(a.dataAddr, a.dataAddr+8) {
			Logger().Warn("asyncify: failed to reset stack pointer")
		}
	}
}

// PendingOp is an asynchronous host operation yielded during an unwind. It
// runs while the guest's stack is parked; its result resumes the guest.
type PendingOp interface {
	Execute(ctx context.Context) (uint64, error)
}

type StepStatus int

const (
	StepContinue StepStatus = iota // yielded an operation, expects resume
	StepDone                       // execution complete
)

type StepResult struct {
	PendingOp PendingOp
	Results   []uint64
	Status    StepStatus
}

// YieldResult carries a completed PendingOp's outcome back into Step.
type YieldResult struct {
	Error error
	Value uint64
}

// Scheduler manages asyncify execution with step-based control so callers
// can integrate with their own event loops.
type Scheduler struct {
	fn          Callable
	pendingOp   PendingOp
	err         error
	asyncify    *Asyncify
	args        []uint64
	result      uint64
	initialized bool
}

func NewScheduler(asyncify *Asyncify) *Scheduler {
	return &Scheduler{asyncify: asyncify}
}

func (s *Scheduler) SetPending(op PendingOp) {
	s.pendingOp = op
}

func (s *Scheduler) GetResult() (uint64, error) {
	return s.result, s.err
}

func (s *Scheduler) ClearPending() {
	s.pendingOp = nil
	s.result = 0
	s.err = nil
}

// Execute initializes execution. Call Step to advance.
func (s *Scheduler) Execute(ctx context.Context, fn Callable, args ...uint64) error {
	if !s.asyncify.IsNormal() {
		return fmt.Errorf("scheduler: asyncify not in normal state")
	}
	s.fn = fn
	s.args = args
	s.initialized = true
	s.asyncify.ResetStack()
	return nil
}

// Step advances execution. Pass nil for the first call, or a YieldResult to
// resume after a pending operation completed.
func (s *Scheduler) Step(ctx context.Context, yr *YieldResult) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	if !s.initialized {
		return StepResult{}, fmt.Errorf("scheduler: call Execute first")
	}

	if yr != nil {
		s.result = yr.Value
		s.err = yr.Error
		if s.err != nil {
			return StepResult{}, s.err
		}
		if err := s.asyncify.StartRewind(ctx); err != nil {
			return StepResult{}, fmt.Errorf("scheduler: start rewind: %w", err)
		}
	}

	results, callErr := s.fn.Call(ctx, s.args...)

	if s.asyncify.IsUnwinding() {
		if err := s.asyncify.StopUnwind(ctx); err != nil {
			return StepResult{}, fmt.Errorf("scheduler: stop unwind: %w", err)
		}
		if s.pendingOp == nil {
			return StepResult{}, fmt.Errorf("scheduler: no pending operation after unwind")
		}
		op := s.pendingOp
		s.pendingOp = nil
		return StepResult{Status: StepContinue, PendingOp: op}, nil
	}

	if callErr != nil {
		return StepResult{}, callErr
	}

	if !s.asyncify.IsNormal() {
		return StepResult{}, fmt.Errorf("scheduler: unexpected asyncify state after call")
	}

	s.initialized = false
	return StepResult{Status: StepDone, Results: results}, nil
}

// Run executes fn to completion, driving pending operations as they are
// yielded. Convenience wrapper over Execute/Step.
func (s *Scheduler) Run(ctx context.Context, fn Callable, args ...uint64) ([]uint64, error) {
	if err := s.Execute(ctx, fn, args...); err != nil {
		return nil, err
	}

	var yr *YieldResult
	for {
		sr, err := s.Step(ctx, yr)
		if err != nil {
			return nil, err
		}

		switch sr.Status {
		case StepDone:
			return sr.Results, nil
		case StepContinue:
			val, opErr := sr.PendingOp.Execute(ctx)
			yr = &YieldResult{Value: val, Error: opErr}
		}
	}
}

type ctxKeyScheduler struct{}
type ctxKeyAsyncify struct{}

func WithScheduler(ctx context.Context, s *Scheduler) context.Context {
	return context.WithValue(ctx, ctxKeyScheduler{}, s)
}

func GetScheduler(ctx context.Context) *Scheduler {
	if v := ctx.Value(ctxKeyScheduler{}); v != nil {
		return v.(*Scheduler)
	}
	return nil
}

func WithAsyncify(ctx context.Context, a *Asyncify) context.Context {
	return context.WithValue(ctx, ctxKeyAsyncify{}, a)
}

func GetAsyncify(ctx context.Context) *Asyncify {
	if v := ctx.Value(ctxKeyAsyncify{}); v != nil {
		return v.(*Asyncify)
	}
	return nil
}

// Suspend registers op and starts unwinding. Called by host handlers.
func Suspend(ctx context.Context, op PendingOp) error {
	sched := GetScheduler(ctx)
	async := GetAsyncify(ctx)

	if sched == nil || async == nil {
		return fmt.Errorf("suspend: scheduler or asyncify not in context")
	}

	sched.SetPending(op)
	return async.StartUnwind(ctx)
}

// Resume pops the pending operation's result and stops rewinding. Called by
// host handlers when re-entered during a rewind.
func Resume(ctx context.Context) (uint64, error) {
	sched := GetScheduler(ctx)
	async := GetAsyncify(ctx)

	if sched == nil || async == nil {
		return 0, fmt.Errorf("resume: scheduler or asyncify not in context")
	}

	result, err := sched.GetResult()
	if err != nil {
		return 0, err
	}

	if err := async.StopRewind(ctx); err != nil {
		return 0, err
	}

	sched.ClearPending()
	return result, nil
}
