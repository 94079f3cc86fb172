package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/wippyai/wasm-sandbox/errors"
)

// Config holds configuration for engine creation
type Config struct {
	// CompilationCacheDir persists compiled machine code on disk. When set,
	// compiling a previously seen binary loads the persisted code instead of
	// recompiling, across process restarts. Empty disables persistence.
	CompilationCacheDir string

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32
}

// Engine owns a wazero runtime. One engine hosts one guest instance plus the
// host capability module.
type Engine struct {
	runtime      wazero.Runtime
	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool
}

// New creates an engine with default configuration
func New(ctx context.Context) (*Engine, error) {
	return NewWithConfig(ctx, nil)
}

// NewWithConfig creates an engine with custom configuration
func NewWithConfig(ctx context.Context, cfg *Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	if cfg != nil && cfg.CompilationCacheDir != "" {
		cc, err := wazero.NewCompilationCacheWithDir(cfg.CompilationCacheDir)
		if err != nil {
			return nil, errors.CacheIO("create compilation cache", err)
		}
		runtimeCfg = runtimeCfg.WithCompilationCache(cc)
	}

	return &Engine{runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg)}, nil
}

// Runtime exposes the underlying wazero runtime for host module registration
// and instantiation.
func (e *Engine) Runtime() wazero.Runtime {
	return e.runtime
}

// Compile compiles a prepared core module binary. With a compilation cache
// configured the resulting machine code is persisted for later Loads.
func (e *Engine) Compile(ctx context.Context, wasm []byte) (wazero.CompiledModule, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Compile(err)
	}
	return compiled, nil
}

// Load materializes a previously compiled core module. With a compilation
// cache configured this reads the persisted machine code back rather than
// compiling; without one it degrades to a plain compile.
func (e *Engine) Load(ctx context.Context, wasm []byte) (wazero.CompiledModule, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCache, errors.KindInvalidData, err, "load compiled module")
	}
	return compiled, nil
}

// InitWASI instantiates the WASI preview1 host module for this engine's
// runtime. Safe for repeated and concurrent calls.
func (e *Engine) InitWASI(ctx context.Context) error {
	if e.wasiInitDone.Load() {
		return nil
	}

	e.wasiInitMu.Lock()
	defer e.wasiInitMu.Unlock()

	if e.wasiInitDone.Load() {
		return nil
	}

	if e.runtime.Module(wasi_snapshot_preview1.ModuleName) == nil {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, e.runtime); err != nil {
			return errors.Wrap(errors.PhaseInstantiate, errors.KindInstantiation, err, "instantiate WASI")
		}
	}

	e.wasiInitDone.Store(true)
	return nil
}

// Close releases all engine resources, including the guest instance.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}
