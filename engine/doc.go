// Package engine wraps wazero for the sandbox host: module compilation,
// WASI preview1 bootstrap, guest memory access through cabi_realloc, and
// the asyncify protocol driver that lets host capability calls suspend the
// guest's cooperative message loop.
package engine
