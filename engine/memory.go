package engine

import (
	"context"
	"fmt"
)

// Callable is the subset of wazero's api.Function the engine depends on.
type Callable interface {
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
}

// Memory is the subset of wazero's api.Memory the engine depends on.
type Memory interface {
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, data []byte) bool
	WriteUint32Le(offset, v uint32) bool
}

// CabiRealloc is the canonical ABI allocator export name.
const CabiRealloc = "cabi_realloc"

// ReadBytes copies length bytes at ptr out of guest memory. The copy is
// required: views returned by wazero are invalidated by guest execution.
func ReadBytes(m Memory, ptr, length uint32) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	view, ok := m.Read(ptr, length)
	if !ok {
		return nil, fmt.Errorf("read out of bounds: offset=%d, length=%d", ptr, length)
	}
	data := make([]byte, length)
	copy(data, view)
	return data, nil
}

// ReadString copies a UTF-8 string of length bytes at ptr out of guest memory.
func ReadString(m Memory, ptr, length uint32) (string, error) {
	data, err := ReadBytes(m, ptr, length)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Allocator allocates guest memory through the guest's exported cabi_realloc.
type Allocator struct {
	realloc Callable
}

// NewAllocator wraps the guest's cabi_realloc export. realloc may be nil;
// Alloc then fails.
func NewAllocator(realloc Callable) *Allocator {
	return &Allocator{realloc: realloc}
}

// Alloc allocates size bytes with the given alignment in guest memory.
func (a *Allocator) Alloc(ctx context.Context, size, align uint32) (uint32, error) {
	if a == nil || a.realloc == nil {
		return 0, fmt.Errorf("no %s export available", CabiRealloc)
	}

	// cabi_realloc(old_ptr=0, old_size=0, align, new_size)
	results, err := a.realloc.Call(ctx, 0, 0, uint64(align), uint64(size))
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("%s returned no result", CabiRealloc)
	}
	return uint32(results[0]), nil
}

// WriteBytes allocates guest memory and copies data into it, returning the
// guest pointer. Zero-length data yields a null pointer.
func (a *Allocator) WriteBytes(ctx context.Context, m Memory, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	ptr, err := a.Alloc(ctx, uint32(len(data)), 1)
	if err != nil {
		return 0, err
	}
	if !m.Write(ptr, data) {
		return 0, fmt.Errorf("write out of bounds: offset=%d, length=%d", ptr, len(data))
	}
	return ptr, nil
}
