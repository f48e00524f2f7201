package greenloop

import (
	"errors"
	"testing"
	"time"
)

func TestLoopOptions_Defaults(t *testing.T) {
	cfg, err := resolveLoopOptions(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.workers != DefaultExecutorWorkers {
		t.Errorf("expected %d workers, got %d", DefaultExecutorWorkers, cfg.workers)
	}
	if cfg.maxPollTimeout != DefaultMaxPollTimeout {
		t.Errorf("expected max poll timeout %v, got %v", DefaultMaxPollTimeout, cfg.maxPollTimeout)
	}
	if cfg.faultLimiter == nil {
		t.Error("expected a default fault limiter")
	}
	if cfg.logger != nil || cfg.exceptionHandler != nil {
		t.Error("expected no logger or exception handler by default")
	}
}

func TestLoopOptions_NilSkipped(t *testing.T) {
	cfg, err := resolveLoopOptions([]LoopOption{nil, WithWorkers(3), nil})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.workers != 3 {
		t.Errorf("expected 3 workers, got %d", cfg.workers)
	}
}

func TestLoopOptions_Invalid(t *testing.T) {
	for name, opt := range map[string]LoopOption{
		"zero workers":          WithWorkers(0),
		"negative workers":      WithWorkers(-1),
		"zero poll timeout":     WithMaxPollTimeout(0),
		"negative poll timeout": WithMaxPollTimeout(-time.Second),
		"non-monotonic rates":   WithFaultLogRates(map[time.Duration]int{time.Second: 10, time.Minute: 5}),
		"non-positive rate":     WithFaultLogRates(map[time.Duration]int{time.Second: 0}),
	} {
		t.Run(name, func(t *testing.T) {
			loop, err := New(opt)
			if err == nil {
				_ = loop.Destroy()
				t.Fatal("expected an error")
			}
			var rangeErr *RangeError
			if !errors.As(err, &rangeErr) {
				t.Fatalf("expected *RangeError, got %T: %v", err, err)
			}
			if !IsUsageError(err) {
				t.Error("expected a usage error")
			}
		})
	}
}

func TestLoopOptions_Applied(t *testing.T) {
	handler := func(*Handle, error) {}
	cfg, err := resolveLoopOptions([]LoopOption{
		WithWorkers(5),
		WithMaxPollTimeout(time.Second),
		WithExceptionHandler(handler),
		WithFaultLogRates(nil),
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.workers != 5 {
		t.Errorf("expected 5 workers, got %d", cfg.workers)
	}
	if cfg.maxPollTimeout != time.Second {
		t.Errorf("expected max poll timeout 1s, got %v", cfg.maxPollTimeout)
	}
	if cfg.exceptionHandler == nil {
		t.Error("expected exception handler to be set")
	}
	if cfg.faultLimiter != nil {
		t.Error("expected empty rates to disable the limiter")
	}
}

func TestLoopOptions_CustomErrorPropagates(t *testing.T) {
	errCustom := errors.New("custom")
	_, err := New(&loopOptionImpl{func(*loopOptions) error { return errCustom }})
	if !errors.Is(err, errCustom) {
		t.Fatalf("expected custom error, got %v", err)
	}
}

func TestMaxPollTimeout_CapsWait(t *testing.T) {
	loop := newTestLoop(t, WithMaxPollTimeout(5*time.Millisecond))
	if _, err := loop.CallLater(time.Hour, func() {}); err != nil {
		t.Fatal(err)
	}
	if ms := loop.calculateTimeout(); ms != 5 {
		t.Fatalf("expected timeout capped at 5ms, got %d", ms)
	}
}

func TestRegistryOptions(t *testing.T) {
	var created, destroyed int
	cfg := resolveRegistryOptions([]RegistryOption{
		nil,
		WithLoopOptions(WithWorkers(2)),
		WithLoopOptions(WithMaxPollTimeout(time.Second)),
		WithOnCreate(func(*Loop) { created++ }),
		WithOnDestroy(func(*Loop) { destroyed++ }),
	})
	if len(cfg.loopOptions) != 2 {
		t.Errorf("expected loop options to accumulate, got %d", len(cfg.loopOptions))
	}
	cfg.onCreate(nil)
	cfg.onDestroy(nil)
	if created != 1 || destroyed != 1 {
		t.Error("expected hooks to be set")
	}
}
