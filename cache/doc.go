// Package cache resolves a guest binary to a compiled artifact, reusing an
// on-disk prepared copy when it is still fresh.
//
// The cache has two layers. The artifact file at the cache path is the
// guest's core module prefixed with a small header (magic, format version);
// it carries the staleness metadata. The machine code itself persists in the
// engine's compilation cache directory (CodeCacheDir), so resolving a fresh
// artifact loads compiled code instead of compiling. Resolution order:
//
//  1. forced rebuild (Config flag or SANDBOX_FORCE_RECOMPILE=1)
//  2. artifact missing
//  3. artifact empty
//  4. artifact older than the guest binary
//  5. artifact loads -> reuse without recompiling
//
// A cached artifact that fails to load is treated as stale and rebuilt from
// source; a stale artifact also purges the persisted machine code so the
// rebuild cannot be served from it. Writing the refreshed artifact back is
// best effort: failures are logged and never fail resolution.
package cache
