package runner

import (
	"context"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-sandbox/bridge"
	"github.com/wippyai/wasm-sandbox/engine"
	"github.com/wippyai/wasm-sandbox/errors"
)

// Guest entry points.
const (
	exportInit = "init-exec-env"
	exportLoop = "run-msg-loop"
)

// environment is one live guest instance, initialized and ready to run its
// message loop.
type environment struct {
	module api.Module
	initFn api.Function
	loopFn api.Function
	alloc  *engine.Allocator
	async  *engine.Asyncify
	sched  *engine.Scheduler
	bridge *bridge.Bridge
	logger *zap.Logger
}

type envConfig struct {
	id           string
	logTags      string // empty means absent
	hasLogTags   bool
	inheritStdio bool
}

// instantiate brings up a guest: WASI, module instance, asyncify probe, then
// the guest's own init entry point. Any failure tears the instance down.
func instantiate(ctx context.Context, eng *engine.Engine, br *bridge.Bridge, compiled wazero.CompiledModule, world *World, cfg envConfig, logger *zap.Logger) (*environment, error) {
	if err := eng.InitWASI(ctx); err != nil {
		return nil, err
	}

	// Anonymous instance: failed inits may be retried without a module name
	// collision on the shared runtime.
	modCfg := wazero.NewModuleConfig().WithName("").WithStartFunctions()
	if cfg.inheritStdio {
		modCfg = modCfg.WithStdin(os.Stdin).WithStdout(os.Stdout).WithStderr(os.Stderr)
	}

	module, err := eng.Runtime().InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return nil, errors.Instantiation(err)
	}

	env := &environment{
		module: module,
		bridge: br,
		logger: logger,
		alloc:  engine.NewAllocator(module.ExportedFunction(engine.CabiRealloc)),
	}

	// Reactor-style guests expose _initialize instead of _start.
	if initialize := module.ExportedFunction("_initialize"); initialize != nil {
		if _, err := initialize.Call(ctx); err != nil {
			_ = module.Close(ctx)
			return nil, errors.Instantiation(err)
		}
	}

	env.initFn = module.ExportedFunction(exportInit)
	env.loopFn = module.ExportedFunction(exportLoop)
	if env.initFn == nil || env.loopFn == nil {
		_ = module.Close(ctx)
		return nil, errors.Newf(errors.PhaseInstantiate, errors.KindInvalidData,
			"guest does not export %s and %s", exportInit, exportLoop)
	}
	env.checkSignatures(world)

	// Suspending capability calls need an asyncified guest. Without the
	// instrumentation the bridge degrades to blocking inline, so a failed
	// probe is not fatal.
	async := engine.NewAsyncify(engine.AsyncifyConfig{})
	lookup := func(name string) engine.Callable {
		if fn := module.ExportedFunction(name); fn != nil {
			return fn
		}
		return nil
	}
	if err := async.Init(lookup, module.Memory()); err != nil {
		logger.Debug("guest is not asyncified, capability calls will block inline", zap.Error(err))
	} else {
		env.async = async
		env.sched = engine.NewScheduler(async)
	}

	if err := env.init(ctx, cfg); err != nil {
		_ = module.Close(ctx)
		return nil, err
	}

	return env, nil
}

// checkSignatures compares the guest's entry points against the world's
// core-level signatures. Mismatches are logged, not fatal: the call itself
// will surface a hard incompatibility.
func (e *environment) checkSignatures(world *World) {
	for name, fn := range map[string]api.Function{exportInit: e.initFn, exportLoop: e.loopFn} {
		decl, ok := world.Exports[name]
		if !ok {
			continue
		}
		wantParams, wantResults := decl.CoreExportSignature()
		def := fn.Definition()
		if !valueTypesEqual(def.ParamTypes(), wantParams) || !valueTypesEqual(def.ResultTypes(), wantResults) {
			e.logger.Warn("guest export signature differs from world",
				zap.String("func", name),
				zap.Any("got_params", def.ParamTypes()),
				zap.Any("want_params", wantParams))
		}
	}
}

func valueTypesEqual(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// init lowers the instance id and log tags and calls init-exec-env.
//
// Flat signature: (id_ptr, id_len, tags_disc, tags_ptr, tags_len) -> disc
func (e *environment) init(ctx context.Context, cfg envConfig) error {
	idPtr, err := e.alloc.WriteBytes(ctx, e.module.Memory(), []byte(cfg.id))
	if err != nil {
		return errors.Instantiation(err)
	}

	args := []uint64{uint64(idPtr), uint64(len(cfg.id))}
	if cfg.hasLogTags {
		tagsPtr, err := e.alloc.WriteBytes(ctx, e.module.Memory(), []byte(cfg.logTags))
		if err != nil {
			return errors.Instantiation(err)
		}
		args = append(args, 1, uint64(tagsPtr), uint64(len(cfg.logTags)))
	} else {
		args = append(args, 0, 0, 0)
	}

	results, err := e.call(ctx, e.initFn, args...)
	if err != nil {
		return errors.Instantiation(err)
	}
	if len(results) > 0 && uint32(results[0]) != 0 {
		return errors.Instantiation(errors.GuestFault(exportInit + " returned an error"))
	}

	e.logger.Debug("guest environment initialized",
		zap.String("id", cfg.id),
		zap.Bool("asyncified", e.async != nil))
	return nil
}

// RunLoop drives run-msg-loop until the guest returns.
func (e *environment) RunLoop(ctx context.Context) error {
	results, err := e.call(ctx, e.loopFn)
	if err != nil {
		return err
	}
	if len(results) > 0 && uint32(results[0]) != 0 {
		return errors.GuestFault(exportLoop + " returned an error")
	}
	return nil
}

// call invokes a guest export, through the scheduler when the guest is
// asyncified. A recorded bridge failure takes precedence over the trap it
// caused.
func (e *environment) call(ctx context.Context, fn api.Function, args ...uint64) ([]uint64, error) {
	var results []uint64
	var err error

	if e.sched != nil {
		callCtx := engine.WithScheduler(engine.WithAsyncify(ctx, e.async), e.sched)
		results, err = e.sched.Run(callCtx, fn, args...)
	} else {
		results, err = fn.Call(ctx, args...)
	}

	if err != nil {
		if failure := e.bridge.TakeFailure(); failure != nil {
			return nil, failure
		}
		return nil, err
	}

	// A bridge failure can also surface without a trap when the guest
	// swallows it; drop it so it cannot leak into the next call.
	_ = e.bridge.TakeFailure()
	return results, nil
}

// Close releases the guest instance.
func (e *environment) Close(ctx context.Context) error {
	return e.module.Close(ctx)
}
