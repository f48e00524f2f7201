package greenloop

import (
	"errors"
	"sync"
)

// Registry associates at most one loop with each goroutine, creating it on
// first use. Loops created by a registry remove themselves on Destroy. A
// destroyed loop still running until its Run returns is no longer the loop
// of its goroutine.
//
// Registries are independent: each owns only the loops it created.
type Registry struct {
	loops map[uint64]*Loop
	opts  *registryOptions
	mu    sync.Mutex
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	return &Registry{
		loops: make(map[uint64]*Loop),
		opts:  resolveRegistryOptions(opts),
	}
}

// Get returns the loop of the calling goroutine, creating it if there is
// none.
func (r *Registry) Get() (*Loop, error) {
	if l := r.Current(); l != nil {
		return l, nil
	}
	return r.New()
}

// Current returns the loop of the calling goroutine, or nil.
func (r *Registry) Current() *Loop {
	key := getGoroutineID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if l := r.loops[key]; l != nil && !l.destroyed.Load() {
		return l
	}
	return nil
}

// New creates the loop of the calling goroutine, failing with
// ErrLoopExists if it already has one.
func (r *Registry) New() (*Loop, error) {
	key := getGoroutineID()

	r.mu.Lock()
	if l := r.loops[key]; l != nil && !l.destroyed.Load() {
		r.mu.Unlock()
		return nil, ErrLoopExists
	}
	r.mu.Unlock()

	l, err := New(r.opts.loopOptions...)
	if err != nil {
		return nil, err
	}
	l.registry = r
	l.registryKey = key

	r.mu.Lock()
	r.loops[key] = l
	r.mu.Unlock()

	if r.opts.onCreate != nil {
		r.opts.onCreate(l)
	}
	return l, nil
}

// Len returns the number of live loops in the registry.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, l := range r.loops {
		if !l.destroyed.Load() {
			n++
		}
	}
	return n
}

// Close destroys every loop of the registry. Running loops are stopped, and
// removed once their Run returns.
func (r *Registry) Close() error {
	r.mu.Lock()
	loops := make([]*Loop, 0, len(r.loops))
	for _, l := range r.loops {
		loops = append(loops, l)
	}
	r.mu.Unlock()

	var errs []error
	for _, l := range loops {
		if err := l.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// remove is called by release, once per loop. The goroutine may already
// have a replacement loop.
func (r *Registry) remove(l *Loop) {
	r.mu.Lock()
	if r.loops[l.registryKey] == l {
		delete(r.loops, l.registryKey)
	}
	r.mu.Unlock()

	if r.opts.onDestroy != nil {
		r.opts.onDestroy(l)
	}
}
