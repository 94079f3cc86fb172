package cache

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-sandbox/errors"
)

// ForceRecompileEnv forces a rebuild of the cached artifact when set to "1".
// Other values are ignored.
const ForceRecompileEnv = "SANDBOX_FORCE_RECOMPILE"

// Artifact file header: magic, format version, reserved.
var artifactMagic = [4]byte{'S', 'B', 'X', 'C'}

const (
	artifactVersion    uint16 = 1
	artifactHeaderSize        = 8
)

// Compiled is the subset of a compiled module the cache hands back to
// callers. wazero's CompiledModule satisfies it.
type Compiled interface {
	Name() string
	Close(ctx context.Context) error
}

// Compiler materializes a prepared core module. Compile is a fresh build;
// Load reuses machine code the engine persisted under CodeCacheDir and does
// no compilation work. A Load failure on a cached artifact marks it stale;
// a Compile failure on source is fatal.
type Compiler interface {
	Compile(ctx context.Context, wasm []byte) (Compiled, error)
	Load(ctx context.Context, wasm []byte) (Compiled, error)
}

// Artifact is a resolved, compiled guest.
type Artifact struct {
	Compiled  Compiled
	Core      []byte // prepared core module, as stored in the artifact file
	FromCache bool
}

var logger = zap.NewNop()

// SetLogger installs l as the package logger. A nil l restores the no-op
// logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

// Resolve loads the cached artifact at cachePath if it is fresh relative to
// the guest binary at sourcePath, otherwise rebuilds from source and
// refreshes the cache. A fresh artifact goes through Compiler.Load, so with
// the engine's compilation cache wired no compilation happens on a hit; a
// stale one purges the persisted machine code first so the rebuild cannot be
// served from it. Cache write failures are logged, never returned.
func Resolve(ctx context.Context, c Compiler, sourcePath, cachePath string, force bool) (*Artifact, error) {
	force = force || os.Getenv(ForceRecompileEnv) == "1"

	if art := tryLoad(ctx, c, sourcePath, cachePath, force); art != nil {
		return art, nil
	}

	source, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, errors.CacheIO("read guest binary", err)
	}

	core, err := ExtractCore(source)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCompile, errors.KindInvalidData, err, "prepare guest binary")
	}

	purgeCodeCache(CodeCacheDir(cachePath))

	compiled, err := c.Compile(ctx, core)
	if err != nil {
		return nil, err
	}

	writeArtifact(cachePath, core)

	return &Artifact{Compiled: compiled, Core: core}, nil
}

// CodeCacheDir returns the directory holding the engine's persisted machine
// code for the artifact at cachePath. Wire it into the engine
// (Config.CompilationCacheDir) so a fresh artifact resolves without
// recompiling across process restarts.
func CodeCacheDir(cachePath string) string {
	return cachePath + ".d"
}

// purgeCodeCache drops persisted machine code so a stale guest cannot be
// served back out of the engine's compilation cache. Best effort: the dir is
// kept, the engine recreates entries on the next compile.
func purgeCodeCache(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			logger.Warn("failed to purge code cache entry",
				zap.String("dir", dir),
				zap.String("entry", entry.Name()),
				zap.Error(err))
		}
	}
	logger.Debug("purged code cache", zap.String("dir", dir), zap.Int("entries", len(entries)))
}

// tryLoad returns a compiled artifact from cachePath, or nil when the cache
// is stale, unreadable, or fails to load.
func tryLoad(ctx context.Context, c Compiler, sourcePath, cachePath string, force bool) *Artifact {
	if force {
		logger.Debug("forced recompile, ignoring cached artifact", zap.String("cache", cachePath))
		return nil
	}

	cacheInfo, err := os.Stat(cachePath)
	if err != nil {
		return nil
	}
	if cacheInfo.Size() == 0 {
		logger.Debug("cached artifact is empty", zap.String("cache", cachePath))
		return nil
	}

	if sourceInfo, err := os.Stat(sourcePath); err == nil {
		if cacheInfo.ModTime().Before(sourceInfo.ModTime()) {
			logger.Debug("cached artifact older than guest binary",
				zap.String("cache", cachePath),
				zap.Time("cache_mtime", cacheInfo.ModTime()),
				zap.Time("source_mtime", sourceInfo.ModTime()))
			return nil
		}
	}

	data, err := os.ReadFile(cachePath)
	if err != nil {
		logger.Warn("failed to read cached artifact", zap.String("cache", cachePath), zap.Error(err))
		return nil
	}

	core, err := decodeArtifact(data)
	if err != nil {
		logger.Warn("cached artifact is invalid, rebuilding", zap.String("cache", cachePath), zap.Error(err))
		return nil
	}

	compiled, err := c.Load(ctx, core)
	if err != nil {
		logger.Warn("cached artifact failed to load, rebuilding", zap.String("cache", cachePath), zap.Error(err))
		return nil
	}

	logger.Debug("reusing cached artifact", zap.String("cache", cachePath), zap.Int("size", len(data)))
	return &Artifact{Compiled: compiled, Core: core, FromCache: true}
}

func decodeArtifact(data []byte) ([]byte, error) {
	if len(data) < artifactHeaderSize {
		return nil, errors.New(errors.PhaseCache, errors.KindInvalidData, "artifact truncated")
	}
	if [4]byte(data[:4]) != artifactMagic {
		return nil, errors.New(errors.PhaseCache, errors.KindInvalidData, "artifact magic mismatch")
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != artifactVersion {
		return nil, errors.Newf(errors.PhaseCache, errors.KindInvalidData, "artifact version %d, want %d", v, artifactVersion)
	}
	return data[artifactHeaderSize:], nil
}

func encodeArtifact(core []byte) []byte {
	out := make([]byte, artifactHeaderSize+len(core))
	copy(out, artifactMagic[:])
	binary.LittleEndian.PutUint16(out[4:6], artifactVersion)
	copy(out[artifactHeaderSize:], core)
	return out
}

// writeArtifact refreshes the cache file. Best effort: the caller already has
// a compiled guest, so a failed write only costs the next startup a rebuild.
func writeArtifact(cachePath string, core []byte) {
	if err := os.WriteFile(cachePath, encodeArtifact(core), 0o644); err != nil {
		logger.Warn("failed to write cached artifact", zap.String("cache", cachePath), zap.Error(err))
		return
	}
	logger.Debug("wrote cached artifact", zap.String("cache", cachePath), zap.Int("core_size", len(core)))
}
