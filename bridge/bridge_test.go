package bridge

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/wippyai/wasm-sandbox/engine"
	"github.com/wippyai/wasm-sandbox/errors"
)

// fakeHandles records calls and serves canned responses.
type fakeHandles struct {
	sent     [][]byte
	recvData []byte
	recvErr  error
	sendErr  error
	ready    bool
	readyErr error
	logs     []string
	logErr   error
}

func (h *fakeHandles) SendBytes(_ context.Context, payload []byte) error {
	h.sent = append(h.sent, payload)
	return h.sendErr
}

func (h *fakeHandles) RecvBytes(context.Context) ([]byte, error) {
	return h.recvData, h.recvErr
}

func (h *fakeHandles) RecvReady(context.Context) (bool, error) {
	return h.ready, h.readyErr
}

func (h *fakeHandles) WriteLog(_ context.Context, msg string) error {
	h.logs = append(h.logs, msg)
	return h.logErr
}

type fakeMemory struct {
	data []byte
}

func (m *fakeMemory) Read(offset, byteCount uint32) ([]byte, bool) {
	if int(offset)+int(byteCount) > len(m.data) {
		return nil, false
	}
	return m.data[offset : offset+byteCount], true
}

func (m *fakeMemory) Write(offset uint32, data []byte) bool {
	if int(offset)+len(data) > len(m.data) {
		return false
	}
	copy(m.data[offset:], data)
	return true
}

func (m *fakeMemory) WriteUint32Le(offset, v uint32) bool {
	if int(offset)+4 > len(m.data) {
		return false
	}
	m.data[offset] = byte(v)
	m.data[offset+1] = byte(v >> 8)
	m.data[offset+2] = byte(v >> 16)
	m.data[offset+3] = byte(v >> 24)
	return true
}

func (m *fakeMemory) uint32At(offset uint32) uint32 {
	return uint32(m.data[offset]) | uint32(m.data[offset+1])<<8 |
		uint32(m.data[offset+2])<<16 | uint32(m.data[offset+3])<<24
}

type reallocFunc func(ctx context.Context, params ...uint64) ([]uint64, error)

func (f reallocFunc) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	return f(ctx, params...)
}

func bumpAllocator(next *uint32) engine.Callable {
	return reallocFunc(func(_ context.Context, params ...uint64) ([]uint64, error) {
		size := uint32(params[3])
		ptr := *next
		*next += size
		return []uint64{uint64(ptr)}, nil
	})
}

func TestSendOp(t *testing.T) {
	t.Run("delivers payload", func(t *testing.T) {
		h := &fakeHandles{}
		op := &sendOp{handles: h, payload: []byte("msg")}
		if _, err := op.Execute(context.Background()); err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if len(h.sent) != 1 || string(h.sent[0]) != "msg" {
			t.Errorf("sent = %v, want [msg]", h.sent)
		}
	})

	t.Run("handle failure is formatted", func(t *testing.T) {
		h := &fakeHandles{sendErr: &timeoutError{after: "2s"}}
		op := &sendOp{handles: h, payload: []byte("msg")}
		_, err := op.Execute(context.Background())

		var se *errors.Error
		if !stderrors.As(err, &se) || se.Kind != errors.KindHandleFailure {
			t.Fatalf("error = %v, want handle failure", err)
		}
		if se.Detail != "timeoutError: no message after 2s" {
			t.Errorf("detail = %q", se.Detail)
		}
	})
}

func TestRecvOp(t *testing.T) {
	t.Run("lowers payload into guest memory", func(t *testing.T) {
		mem := &fakeMemory{data: make([]byte, 256)}
		next := uint32(128)
		op := &recvOp{
			handles: &fakeHandles{recvData: []byte("incoming")},
			mem:     mem,
			alloc:   engine.NewAllocator(bumpAllocator(&next)),
			retptr:  16,
		}

		if _, err := op.Execute(context.Background()); err != nil {
			t.Fatalf("Execute failed: %v", err)
		}

		ptr := mem.uint32At(16)
		length := mem.uint32At(20)
		if ptr != 128 || length != 8 {
			t.Fatalf("return area = (%d, %d), want (128, 8)", ptr, length)
		}
		if string(mem.data[ptr:ptr+length]) != "incoming" {
			t.Errorf("payload in memory = %q", mem.data[ptr:ptr+length])
		}
	})

	t.Run("empty payload", func(t *testing.T) {
		mem := &fakeMemory{data: make([]byte, 64)}
		next := uint32(32)
		op := &recvOp{
			handles: &fakeHandles{recvData: nil},
			mem:     mem,
			alloc:   engine.NewAllocator(bumpAllocator(&next)),
			retptr:  8,
		}

		if _, err := op.Execute(context.Background()); err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if ptr, length := mem.uint32At(8), mem.uint32At(12); ptr != 0 || length != 0 {
			t.Errorf("return area = (%d, %d), want (0, 0)", ptr, length)
		}
	})

	t.Run("handle failure is formatted", func(t *testing.T) {
		op := &recvOp{
			handles: &fakeHandles{recvErr: &timeoutError{after: "30s"}},
			mem:     &fakeMemory{data: make([]byte, 64)},
			alloc:   engine.NewAllocator(nil),
			retptr:  0,
		}
		_, err := op.Execute(context.Background())

		var se *errors.Error
		if !stderrors.As(err, &se) || se.Detail != "timeoutError: no message after 30s" {
			t.Fatalf("error = %v, want formatted handle failure", err)
		}
	})

	t.Run("missing allocator", func(t *testing.T) {
		op := &recvOp{
			handles: &fakeHandles{recvData: []byte("x")},
			mem:     &fakeMemory{data: make([]byte, 64)},
			alloc:   engine.NewAllocator(nil),
			retptr:  0,
		}
		if _, err := op.Execute(context.Background()); err == nil {
			t.Fatal("expected error without cabi_realloc")
		}
	})
}

func TestBridge_RecvReady(t *testing.T) {
	tests := []struct {
		name  string
		ready bool
		want  uint64
	}{
		{"ready", true, 1},
		{"not ready", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(&fakeHandles{ready: tt.ready}, nil)
			stack := []uint64{0xDEAD}
			b.recvReady(context.Background(), nil, stack)
			if stack[0] != tt.want {
				t.Errorf("stack[0] = %d, want %d", stack[0], tt.want)
			}
		})
	}
}

func TestBridge_FailTrapsAndRecords(t *testing.T) {
	b := New(&fakeHandles{readyErr: &timeoutError{after: "1s"}}, nil)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("failing sync call should trap")
			}
		}()
		b.recvReady(context.Background(), nil, []uint64{0})
	}()

	err := b.TakeFailure()
	if err == nil {
		t.Fatal("failure should be recorded")
	}
	var se *errors.Error
	if !stderrors.As(err, &se) || se.Kind != errors.KindHandleFailure {
		t.Fatalf("failure = %v, want handle failure", err)
	}
	if se.Detail != "timeoutError: no message after 1s" {
		t.Errorf("detail = %q", se.Detail)
	}

	// Taking clears the box.
	if b.TakeFailure() != nil {
		t.Error("second take should return nil")
	}
}
