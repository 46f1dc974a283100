package connectivity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegisterAndCall(t *testing.T) {
	r := New()
	called := false
	r.Register("echo", func(ctx context.Context, payload []byte) ([]byte, error) {
		called = true
		return payload, nil
	})

	resp, err := r.Call(context.Background(), "echo", []byte("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
	if string(resp) != "hello" {
		t.Fatalf("got %q, want %q", resp, "hello")
	}
}

func TestCallUnknownOperation(t *testing.T) {
	r := New()
	_, err := r.Call(context.Background(), "nonexistent", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var onf *ErrOperationNotFound
	if !errors.As(err, &onf) {
		t.Fatalf("expected ErrOperationNotFound, got %T: %v", err, err)
	}
	if onf.Operation != "nonexistent" {
		t.Fatalf("got operation %q, want %q", onf.Operation, "nonexistent")
	}
}

func TestRegisterReplaces(t *testing.T) {
	r := New()
	r.Register("op", func(ctx context.Context, _ []byte) ([]byte, error) {
		return []byte("first"), nil
	})
	r.Register("op", func(ctx context.Context, _ []byte) ([]byte, error) {
		return []byte("second"), nil
	})
	resp, err := r.Call(context.Background(), "op", nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != "second" {
		t.Fatalf("got %q, want second", resp)
	}
}

func TestUseWrapsSubsequentRegistrations(t *testing.T) {
	r := New()
	var order []string
	mw := func(tag string) HandlerMiddleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, payload []byte) ([]byte, error) {
				order = append(order, tag)
				return next(ctx, payload)
			}
		}
	}

	r.Use(mw("outer"), mw("inner"))
	r.Register("op", func(ctx context.Context, _ []byte) ([]byte, error) {
		order = append(order, "handler")
		return nil, nil
	})

	if _, err := r.Call(context.Background(), "op", nil); err != nil {
		t.Fatal(err)
	}
	if len(order) != 3 || order[0] != "outer" || order[1] != "inner" || order[2] != "handler" {
		t.Fatalf("execution order = %v", order)
	}
}

func TestOperations(t *testing.T) {
	r := New()
	r.Register("a", func(ctx context.Context, _ []byte) ([]byte, error) { return nil, nil })
	r.Register("b", func(ctx context.Context, _ []byte) ([]byte, error) { return nil, nil })
	ops := r.Operations()
	if len(ops) != 2 {
		t.Fatalf("operations = %v", ops)
	}
}

func TestWithRetry(t *testing.T) {
	var attempts atomic.Int32
	h := func(ctx context.Context, _ []byte) ([]byte, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return []byte("ok"), nil
	}
	wrapped := WithRetry(3, time.Millisecond, nil)(h)

	resp, err := wrapped(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp) != "ok" || attempts.Load() != 3 {
		t.Fatalf("resp=%q attempts=%d", resp, attempts.Load())
	}
}

func TestWithRetryExhausted(t *testing.T) {
	sentinel := errors.New("permanent")
	var attempts atomic.Int32
	h := func(ctx context.Context, _ []byte) ([]byte, error) {
		attempts.Add(1)
		return nil, sentinel
	}
	wrapped := WithRetry(2, time.Millisecond, nil)(h)

	_, err := wrapped(context.Background(), nil)
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v", err)
	}
	if attempts.Load() != 3 {
		t.Fatalf("attempts = %d, want 3 (1 initial + 2 retries)", attempts.Load())
	}
}

func TestWithRetrySkipsOpenCircuit(t *testing.T) {
	var attempts atomic.Int32
	h := func(ctx context.Context, _ []byte) ([]byte, error) {
		attempts.Add(1)
		return nil, &ErrCircuitOpen{Operation: "op"}
	}
	wrapped := WithRetry(3, time.Millisecond, nil)(h)

	_, err := wrapped(context.Background(), nil)
	var open *ErrCircuitOpen
	if !errors.As(err, &open) {
		t.Fatalf("err = %v", err)
	}
	if attempts.Load() != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry on open circuit)", attempts.Load())
	}
}

func TestCircuitBreakerTripsAndRecovers(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	cb := NewCircuitBreaker(
		WithBreakerThreshold(2),
		WithBreakerResetTimeout(time.Second),
		WithBreakerHalfOpenMax(1),
		WithBreakerClock(clock),
	)

	fail := errors.New("boom")
	var healthy atomic.Bool
	h := func(ctx context.Context, _ []byte) ([]byte, error) {
		if healthy.Load() {
			return []byte("ok"), nil
		}
		return nil, fail
	}
	wrapped := WithCircuitBreaker(cb, "op")(h)
	ctx := context.Background()

	wrapped(ctx, nil)
	wrapped(ctx, nil)
	if cb.State() != BreakerOpen {
		t.Fatalf("state = %v, want open after threshold failures", cb.State())
	}

	if _, err := wrapped(ctx, nil); err == nil {
		t.Fatal("open breaker must reject calls")
	} else if _, ok := err.(*ErrCircuitOpen); !ok {
		t.Fatalf("err = %T, want ErrCircuitOpen", err)
	}

	// After the reset timeout a probe is allowed; success closes the breaker.
	now = now.Add(2 * time.Second)
	healthy.Store(true)
	if _, err := wrapped(ctx, nil); err != nil {
		t.Fatalf("probe call: %v", err)
	}
	if cb.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed after successful probe", cb.State())
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	h := func(ctx context.Context, _ []byte) ([]byte, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return []byte("slow"), nil
		}
	}
	wrapped := Timeout(10 * time.Millisecond)(h)

	_, err := wrapped(context.Background(), nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := func(ctx context.Context, _ []byte) ([]byte, error) {
		panic("unexpected state")
	}
	wrapped := Recovery(testLogger())(h)

	_, err := wrapped(context.Background(), nil)
	var pe *ErrPanic
	if !errors.As(err, &pe) {
		t.Fatalf("err = %T, want ErrPanic", err)
	}
}
