package greenloop

import (
	"context"
	"testing"
	"time"
)

// newTestLoop creates a loop destroyed at the end of the test.
func newTestLoop(t *testing.T, opts ...LoopOption) *Loop {
	t.Helper()
	loop, err := New(opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = loop.Destroy() })
	return loop
}

// runWithTimeout runs the loop until it returns, failing the test if that
// takes longer than timeout.
func runWithTimeout(t *testing.T, loop *Loop, timeout time.Duration) error {
	t.Helper()
	return runModeWithTimeout(t, loop.Run, timeout)
}

// runForeverWithTimeout is runWithTimeout for RunForever.
func runForeverWithTimeout(t *testing.T, loop *Loop, timeout time.Duration) error {
	t.Helper()
	return runModeWithTimeout(t, loop.RunForever, timeout)
}

func runModeWithTimeout(t *testing.T, run func(context.Context) error, timeout time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := run(ctx)
	if ctx.Err() != nil {
		t.Fatalf("loop did not return within %v", timeout)
	}
	return err
}

// waitLoopState waits for a loop to reach a specific state within a timeout.
func waitLoopState(t *testing.T, loop *Loop, expected LoopState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for loop.State() != expected && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if state := loop.State(); state != expected {
		t.Fatalf("Loop failed to reach %v state (got %v)", expected, state)
	}
}

// awaitRunning polls until the loop is running, reporting false on timeout.
// Safe to call from goroutines other than the test's.
func awaitRunning(loop *Loop, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for loop.State() != StateRunning {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
	return true
}
