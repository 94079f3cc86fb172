package runner

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"go.uber.org/zap"

	sandbox "github.com/wippyai/wasm-sandbox"
	"github.com/wippyai/wasm-sandbox/engine"
	"github.com/wippyai/wasm-sandbox/errors"
)

// fakeEnv is a controllable guest environment.
type fakeEnv struct {
	started  chan struct{} // closed when RunLoop enters
	release  chan struct{} // RunLoop blocks until closed
	loopErr  error
	runs     int
	closed   bool
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (e *fakeEnv) RunLoop(ctx context.Context) error {
	e.runs++
	close(e.started)
	select {
	case <-e.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return e.loopErr
}

func (e *fakeEnv) Close(context.Context) error {
	e.closed = true
	return nil
}

// quickEnv completes immediately.
type quickEnv struct {
	runs    int
	loopErr error
}

func (e *quickEnv) RunLoop(context.Context) error {
	e.runs++
	return e.loopErr
}

func (e *quickEnv) Close(context.Context) error { return nil }

func newTestRunner(t *testing.T, inst func(ctx context.Context) (guestEnv, error)) *Runner {
	t.Helper()
	eng, err := engine.New(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = eng.Close(context.Background()) })
	return &Runner{
		logger:      zap.NewNop(),
		eng:         eng,
		world:       DefaultWorld(),
		instantiate: inst,
	}
}

func TestRunner_RejectsConcurrentRun(t *testing.T) {
	ctx := context.Background()
	env := newFakeEnv()
	r := newTestRunner(t, func(context.Context) (guestEnv, error) { return env, nil })

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	<-env.started

	// Second run is rejected immediately, never queued.
	if err := r.Run(ctx); !stderrors.Is(err, errors.AlreadyRunning()) {
		t.Fatalf("concurrent Run = %v, want already running", err)
	}

	close(env.release)
	if err := <-done; err != nil {
		t.Fatalf("first Run = %v", err)
	}

	// Guard is free again.
	env2 := &quickEnv{}
	r.env = env2
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run after release = %v", err)
	}
}

func TestRunner_NotStartedCarriesInitFailure(t *testing.T) {
	ctx := context.Background()
	cause := errors.Instantiation(stderrors.New("missing export"))
	attempts := 0
	r := newTestRunner(t, func(context.Context) (guestEnv, error) {
		attempts++
		return nil, cause
	})

	err := r.Run(ctx)
	if !stderrors.Is(err, errors.NotStarted(nil)) {
		t.Fatalf("Run = %v, want not started", err)
	}
	if !stderrors.Is(err, cause) {
		t.Fatalf("Run error should carry the instantiation failure, got %v", err)
	}

	// Each run retries instantiation.
	_ = r.Run(ctx)
	if attempts != 2 {
		t.Errorf("instantiate attempts = %d, want 2", attempts)
	}
}

func TestRunner_RecoversAfterFailedInit(t *testing.T) {
	ctx := context.Background()
	env := &quickEnv{}
	attempts := 0
	r := newTestRunner(t, func(context.Context) (guestEnv, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.Instantiation(stderrors.New("transient"))
		}
		return env, nil
	})

	if err := r.Run(ctx); !stderrors.Is(err, errors.NotStarted(nil)) {
		t.Fatalf("first Run = %v, want not started", err)
	}
	if err := r.Run(ctx); err != nil {
		t.Fatalf("second Run = %v, want success", err)
	}
	if env.runs != 1 {
		t.Errorf("loop runs = %d, want 1", env.runs)
	}
}

func TestRunner_ReusesEnvironment(t *testing.T) {
	ctx := context.Background()
	env := &quickEnv{}
	attempts := 0
	r := newTestRunner(t, func(context.Context) (guestEnv, error) {
		attempts++
		return env, nil
	})

	for i := 0; i < 3; i++ {
		if err := r.Run(ctx); err != nil {
			t.Fatalf("Run %d = %v", i, err)
		}
	}
	if attempts != 1 {
		t.Errorf("instantiate attempts = %d, want 1", attempts)
	}
	if env.runs != 3 {
		t.Errorf("loop runs = %d, want 3", env.runs)
	}
}

func TestRunner_IsRunning(t *testing.T) {
	ctx := context.Background()
	env := newFakeEnv()
	r := newTestRunner(t, func(context.Context) (guestEnv, error) { return env, nil })

	if r.IsRunning() {
		t.Fatal("new runner should not report running")
	}

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	<-env.started

	if !r.IsRunning() {
		t.Error("runner should report running while loop executes")
	}

	close(env.release)
	if err := <-done; err != nil {
		t.Fatalf("Run = %v", err)
	}

	// The flag clears when the guard is released; poll briefly to avoid
	// racing the deferred store.
	deadline := time.After(time.Second)
	for r.IsRunning() {
		select {
		case <-deadline:
			t.Fatal("runner still reports running after loop finished")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestRunner_Close(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects run after close", func(t *testing.T) {
		r := newTestRunner(t, func(context.Context) (guestEnv, error) { return &quickEnv{}, nil })
		if err := r.Close(ctx); err != nil {
			t.Fatalf("Close = %v", err)
		}
		if err := r.Run(ctx); !stderrors.Is(err, errors.Closed()) {
			t.Fatalf("Run after close = %v, want closed", err)
		}
	})

	t.Run("releases idle environment", func(t *testing.T) {
		env := &quickEnv{}
		r := newTestRunner(t, func(context.Context) (guestEnv, error) { return env, nil })
		fake := newFakeEnv()
		r.env = fake
		if err := r.Close(ctx); err != nil {
			t.Fatalf("Close = %v", err)
		}
		if !fake.closed {
			t.Error("idle environment should be closed")
		}
	})

	t.Run("never interrupts a running loop", func(t *testing.T) {
		env := newFakeEnv()
		r := newTestRunner(t, func(context.Context) (guestEnv, error) { return env, nil })

		done := make(chan error, 1)
		go func() { done <- r.Run(ctx) }()
		<-env.started

		if err := r.Close(ctx); err != nil {
			t.Fatalf("Close while running = %v", err)
		}
		if env.closed {
			t.Error("running environment must not be closed underneath the loop")
		}

		close(env.release)
		if err := <-done; err != nil {
			t.Fatalf("Run = %v", err)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		r := newTestRunner(t, func(context.Context) (guestEnv, error) { return &quickEnv{}, nil })
		if err := r.Close(ctx); err != nil {
			t.Fatal(err)
		}
		if err := r.Close(ctx); err != nil {
			t.Fatal(err)
		}
	})
}

func TestRunner_LoopErrorPropagates(t *testing.T) {
	ctx := context.Background()
	fault := errors.GuestFault("run-msg-loop returned an error")
	env := &quickEnv{loopErr: fault}
	r := newTestRunner(t, func(context.Context) (guestEnv, error) { return env, nil })

	if err := r.Run(ctx); !stderrors.Is(err, fault) {
		t.Fatalf("Run = %v, want guest fault", err)
	}
}

func TestNew_ValidatesConfig(t *testing.T) {
	if _, err := New(context.Background(), Config{ID: "env-1"}); err == nil {
		t.Fatal("expected error for missing handles")
	}
	if _, err := New(context.Background(), Config{Handles: sandbox.NewPipeHandles(1)}); err == nil {
		t.Fatal("expected error for missing id")
	}
}
