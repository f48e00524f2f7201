// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package greenloop

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

const (
	// DefaultExecutorWorkers is the size of the worker pool a loop creates
	// on first use of its default executor.
	DefaultExecutorWorkers = 100

	// DefaultMaxPollTimeout caps a single blocking wait of the loop.
	DefaultMaxPollTimeout = 10 * time.Second
)

// DefaultFaultLogRates returns the default rate limits applied to callback
// fault log lines, per handle kind.
func DefaultFaultLogRates() map[time.Duration]int {
	return map[time.Duration]int{
		time.Second: 10,
		time.Minute: 100,
	}
}

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	logger           *logiface.Logger[logiface.Event]
	exceptionHandler func(*Handle, error)
	faultLimiter     *catrate.Limiter
	workers          int
	maxPollTimeout   time.Duration
}

// --- Loop Options ---

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLogger sets the structured logger for the loop.
// A nil logger disables logging; callback faults then fall back to the
// standard library logger.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithExceptionHandler replaces the default log-and-continue policy for
// callback faults. The handler runs on the loop goroutine, receives the
// faulting handle (nil for task and worker faults) and the recovered
// failure, typically a *PanicError. A panicking handler is itself recovered
// and logged.
func WithExceptionHandler(fn func(*Handle, error)) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.exceptionHandler = fn
		return nil
	}}
}

// WithWorkers sets the number of workers of the loop's default executor.
func WithWorkers(n int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if n <= 0 {
			return &RangeError{Message: fmt.Sprintf("greenloop: workers must be positive, got %d", n)}
		}
		opts.workers = n
		return nil
	}}
}

// WithFaultLogRates sets the per-kind rate limits for callback fault log
// lines, in the go-catrate format (window to max events). An empty map
// disables rate limiting.
func WithFaultLogRates(rates map[time.Duration]int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) (err error) {
		if len(rates) == 0 {
			opts.faultLimiter = nil
			return nil
		}
		defer func() {
			if r := recover(); r != nil {
				err = &RangeError{Message: fmt.Sprint(r)}
			}
		}()
		opts.faultLimiter = catrate.NewLimiter(rates)
		return nil
	}}
}

// WithMaxPollTimeout caps the duration of a single blocking wait.
func WithMaxPollTimeout(d time.Duration) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if d <= 0 {
			return &RangeError{Message: fmt.Sprintf("greenloop: max poll timeout must be positive, got %s", d)}
		}
		opts.maxPollTimeout = d
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		faultLimiter:   catrate.NewLimiter(DefaultFaultLogRates()),
		workers:        DefaultExecutorWorkers,
		maxPollTimeout: DefaultMaxPollTimeout,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// --- Registry Options ---

// registryOptions holds configuration options for Registry creation.
type registryOptions struct {
	onCreate    func(*Loop)
	onDestroy   func(*Loop)
	loopOptions []LoopOption
}

// RegistryOption configures a Registry instance.
type RegistryOption interface {
	applyRegistry(*registryOptions)
}

type registryOptionImpl struct {
	applyRegistryFunc func(*registryOptions)
}

func (r *registryOptionImpl) applyRegistry(opts *registryOptions) {
	r.applyRegistryFunc(opts)
}

// WithLoopOptions sets the options used for every loop the registry
// creates. Repeated use appends.
func WithLoopOptions(opts ...LoopOption) RegistryOption {
	return &registryOptionImpl{func(o *registryOptions) {
		o.loopOptions = append(o.loopOptions, opts...)
	}}
}

// WithOnCreate registers a hook called after the registry creates a loop,
// on the creating goroutine.
func WithOnCreate(fn func(*Loop)) RegistryOption {
	return &registryOptionImpl{func(o *registryOptions) {
		o.onCreate = fn
	}}
}

// WithOnDestroy registers a hook called after a loop of the registry is
// destroyed and removed.
func WithOnDestroy(fn func(*Loop)) RegistryOption {
	return &registryOptionImpl{func(o *registryOptions) {
		o.onDestroy = fn
	}}
}

func resolveRegistryOptions(opts []RegistryOption) *registryOptions {
	cfg := &registryOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyRegistry(cfg)
	}
	return cfg
}
