package greenloop

import (
	"strings"
	"sync"
	"testing"
)

func TestHandle_StateTransitions(t *testing.T) {
	h := &Handle{kind: KindImmediate}
	if h.State() != HandlePending {
		t.Fatalf("expected pending, got %v", h.State())
	}
	if !h.fire() {
		t.Fatal("fire of a pending handle failed")
	}
	if h.fire() {
		t.Error("second fire succeeded")
	}
	h.Cancel()
	if h.State() != HandleFired {
		t.Errorf("cancel of a fired one-shot handle changed its state to %v", h.State())
	}
}

func TestHandle_CancelRepeatingWhileFired(t *testing.T) {
	h := &Handle{kind: KindRepeating}
	if !h.fire() {
		t.Fatal("fire failed")
	}
	h.Cancel()
	if !h.Cancelled() {
		t.Fatal("cancel of a running repeating handle did not take effect")
	}
	if h.rearm() {
		t.Error("rearm resurrected a cancelled handle")
	}
}

func TestHandle_CancelConcurrent(t *testing.T) {
	loop := newTestLoop(t)
	h, err := loop.CallLater(0, func() {})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Cancel()
		}()
	}
	wg.Wait()

	if !h.Cancelled() {
		t.Fatal("expected handle to be cancelled")
	}
	if n := loop.PendingTimers(); n != 0 {
		t.Errorf("expected the live timer count to drop exactly once, got %d", n)
	}
}

func TestHandle_CancelNil(t *testing.T) {
	var h *Handle
	h.Cancel()
	if s := h.String(); s != "Handle(nil)" {
		t.Errorf("unexpected String: %q", s)
	}
}

func TestHandle_String(t *testing.T) {
	loop := newTestLoop(t)
	h, err := loop.CallSoon(func() {})
	if err != nil {
		t.Fatal(err)
	}
	if s := h.String(); !strings.Contains(s, "immediate") || !strings.Contains(s, "pending") {
		t.Errorf("unexpected String: %q", s)
	}
	h.Cancel()
	if s := h.String(); !strings.Contains(s, "cancelled") {
		t.Errorf("unexpected String: %q", s)
	}
}

func TestHandleKind_String(t *testing.T) {
	for kind, expected := range map[HandleKind]string{
		KindImmediate:  "immediate",
		KindDelayed:    "delayed",
		KindRepeating:  "repeating",
		KindSignal:     "signal",
		KindIO:         "io",
		HandleKind(99): "unknown",
	} {
		if got := kind.String(); got != expected {
			t.Errorf("HandleKind(%d).String() = %q, want %q", kind, got, expected)
		}
	}
}
