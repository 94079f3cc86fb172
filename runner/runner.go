package runner

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	sandbox "github.com/wippyai/wasm-sandbox"
	"github.com/wippyai/wasm-sandbox/bridge"
	"github.com/wippyai/wasm-sandbox/cache"
	"github.com/wippyai/wasm-sandbox/engine"
	"github.com/wippyai/wasm-sandbox/errors"
)

// Defaults mirror the common deployment layout: guest binary next to the
// process, compiled artifact next to the guest.
const (
	DefaultGuestPath   = "env.wasm"
	DefaultCacheSuffix = ".compiled"
)

// Config configures a Runner.
type Config struct {
	// ID identifies the guest environment instance; passed to init-exec-env.
	ID string

	// Handles receives the guest's capability calls. Required.
	Handles sandbox.Handles

	// LogTags is forwarded to the guest's logging setup when set.
	LogTags    string
	HasLogTags bool

	// GuestPath locates the guest binary. Defaults to DefaultGuestPath.
	GuestPath string

	// CachePath locates the compiled artifact. Defaults to GuestPath +
	// DefaultCacheSuffix.
	CachePath string

	// InheritStdio wires the guest's WASI stdio to the host process.
	InheritStdio bool

	// ForceRecompile ignores the cached artifact.
	ForceRecompile bool

	// MemoryLimitPages caps guest memory, in 64KB pages. 0 means no cap.
	MemoryLimitPages uint32

	// Logger receives host-side diagnostics. Nil disables them.
	Logger *zap.Logger
}

// engineCompiler feeds the artifact cache from the engine. Load goes through
// the engine's persistent compilation cache, so a fresh artifact costs a
// code load, not a recompile.
type engineCompiler struct {
	eng *engine.Engine
}

func (c engineCompiler) Compile(ctx context.Context, wasm []byte) (cache.Compiled, error) {
	return c.eng.Compile(ctx, wasm)
}

func (c engineCompiler) Load(ctx context.Context, wasm []byte) (cache.Compiled, error) {
	return c.eng.Load(ctx, wasm)
}

// guestEnv is the runner's view of an instantiated guest.
type guestEnv interface {
	RunLoop(ctx context.Context) error
	Close(ctx context.Context) error
}

// Runner owns one guest environment and serializes execution of its message
// loop. A Runner is safe for concurrent use; at most one Run proceeds at a
// time, the rest are rejected immediately.
type Runner struct {
	cfg    Config
	logger *zap.Logger

	eng   *engine.Engine
	br    *bridge.Bridge
	art   *cache.Artifact
	world *World

	// instantiate is swapped in tests.
	instantiate func(ctx context.Context) (guestEnv, error)

	runMu       sync.Mutex // execution guard, TryLock only
	env         guestEnv   // guarded by runMu
	lastInitErr error      // guarded by runMu

	running atomic.Bool
	closed  atomic.Bool
}

// New compiles or loads the guest binary and prepares the host side. The
// guest itself is not instantiated until the first Run.
func New(ctx context.Context, cfg Config) (*Runner, error) {
	if cfg.ID == "" {
		return nil, errors.InvalidInput(errors.PhaseGuard, "environment id is required")
	}
	if cfg.Handles == nil {
		return nil, errors.InvalidInput(errors.PhaseGuard, "handles are required")
	}
	if cfg.GuestPath == "" {
		cfg.GuestPath = DefaultGuestPath
	}
	if cfg.CachePath == "" {
		cfg.CachePath = cfg.GuestPath + DefaultCacheSuffix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	} else {
		engine.SetLogger(logger.Named("engine"))
		cache.SetLogger(logger.Named("cache"))
	}

	eng, err := engine.NewWithConfig(ctx, &engine.Config{
		CompilationCacheDir: cache.CodeCacheDir(cfg.CachePath),
		MemoryLimitPages:    cfg.MemoryLimitPages,
	})
	if err != nil {
		return nil, err
	}

	br := bridge.New(cfg.Handles, logger.Named("bridge"))
	if _, err := br.Instantiate(ctx, eng.Runtime()); err != nil {
		_ = eng.Close(ctx)
		return nil, err
	}

	art, err := cache.Resolve(ctx, engineCompiler{eng}, cfg.GuestPath, cfg.CachePath, cfg.ForceRecompile)
	if err != nil {
		_ = eng.Close(ctx)
		return nil, err
	}
	logger.Info("guest artifact ready",
		zap.String("guest", cfg.GuestPath),
		zap.Bool("from_cache", art.FromCache))

	r := &Runner{
		cfg:    cfg,
		logger: logger,
		eng:    eng,
		br:     br,
		art:    art,
		world:  DefaultWorld(),
	}
	r.instantiate = func(ctx context.Context) (guestEnv, error) {
		compiled, ok := art.Compiled.(wazero.CompiledModule)
		if !ok {
			return nil, errors.New(errors.PhaseInstantiate, errors.KindInvalidData, "artifact is not a wazero module")
		}
		return instantiate(ctx, eng, br, compiled, r.world, envConfig{
			id:           cfg.ID,
			logTags:      cfg.LogTags,
			hasLogTags:   cfg.HasLogTags,
			inheritStdio: cfg.InheritStdio,
		}, logger)
	}
	return r, nil
}

// Run instantiates the guest if needed and drives its message loop until the
// guest returns. If a run is already in progress, Run returns immediately
// with an already-running error; nothing is queued.
//
// A guest that failed to instantiate does not fail Run at the instantiation
// step: the failure is absorbed and Run reports the environment as not
// started, carrying the instantiation error as the cause. The next Run
// retries instantiation.
func (r *Runner) Run(ctx context.Context) error {
	if r.closed.Load() {
		return errors.Closed()
	}

	if !r.runMu.TryLock() {
		return errors.AlreadyRunning()
	}
	defer r.runMu.Unlock()

	r.running.Store(true)
	defer r.running.Store(false)

	if r.env == nil {
		env, err := r.instantiate(ctx)
		if err != nil {
			r.logger.Warn("guest instantiation failed", zap.Error(err))
			r.lastInitErr = err
		} else {
			r.env = env
			r.lastInitErr = nil
		}
	}

	if r.env == nil {
		return errors.NotStarted(r.lastInitErr)
	}

	r.logger.Debug("message loop starting", zap.String("id", r.cfg.ID))
	err := r.env.RunLoop(ctx)
	r.logger.Debug("message loop finished", zap.String("id", r.cfg.ID), zap.Error(err))
	return err
}

// IsRunning reports whether a message loop is currently executing. The
// answer is advisory: a run may start or finish immediately after.
func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// Close marks the runner closed and, if no run is in progress, releases the
// guest and engine. A loop still executing keeps its resources; Close never
// interrupts it, it only prevents new runs.
func (r *Runner) Close(ctx context.Context) error {
	if r.closed.Swap(true) {
		return nil
	}

	if !r.runMu.TryLock() {
		r.logger.Info("close requested while message loop is running")
		return nil
	}
	defer r.runMu.Unlock()

	if r.env != nil {
		if err := r.env.Close(ctx); err != nil {
			r.logger.Warn("guest close failed", zap.Error(err))
		}
		r.env = nil
	}
	return r.eng.Close(ctx)
}
