package greenloop

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

var loopIDCounter atomic.Uint64

// Loop is a single-goroutine scheduler of callbacks, timers, signal handlers,
// fd watchers and cooperative tasks.
//
// The goroutine inside Run or RunForever owns the loop: every callback runs
// there (or, for tasks, on a goroutine the owner hands control to and waits
// for), so no two callbacks of a loop ever run concurrently. CallFromThread,
// Stop, Destroy and Handle.Cancel may be called from any goroutine. The other
// scheduling methods must be called from the owner, i.e. from within
// callbacks and tasks, or while the loop is not running.
type Loop struct { // betteralign:ignore
	_ [sizeOfCacheLine]byte //nolint:unused

	// Owner-confined.
	ready    []*Handle
	timers   timerHeap
	timerSeq uint64
	signals  signalTable
	watchers map[int]*fdWatcher
	tasks    map[*Task]struct{}
	pollPass uint64

	logger           *logiface.Logger[logiface.Event]
	exceptionHandler func(*Handle, error)
	faultLimiter     *catrate.Limiter
	registry         *Registry

	// Set by SetDefaultExecutor, or lazily by WorkerPool.
	executor Executor
	pool     *WorkerPool

	inbox inbox

	poller poller

	state fastState

	wakeFd      int
	wakeFdWrite int
	wakeBuf     [8]byte
	wakeMu      sync.RWMutex // guards the wake fds against release
	wakeClosed  bool

	registryKey    uint64
	id             uint64
	workers        int
	maxPollTimeout time.Duration

	execMu           sync.Mutex
	handleIDs        atomic.Uint64
	ownerGoroutine   atomic.Uint64
	suppressedFaults atomic.Uint64
	liveTimers       atomic.Int64
	liveTasks        atomic.Int64
	wakePending      atomic.Uint32
	destroyed        atomic.Bool
	poolClosed       bool
}

// New creates a new, idle event loop. Its wake fd and poller are allocated
// immediately, and released by Destroy.
func New(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	wakeFd, wakeFdWrite, err := createWakeFd()
	if err != nil {
		return nil, err
	}

	l := &Loop{
		watchers:         make(map[int]*fdWatcher),
		tasks:            make(map[*Task]struct{}),
		logger:           cfg.logger,
		exceptionHandler: cfg.exceptionHandler,
		faultLimiter:     cfg.faultLimiter,
		wakeFd:           wakeFd,
		wakeFdWrite:      wakeFdWrite,
		id:               loopIDCounter.Add(1),
		workers:          cfg.workers,
		maxPollTimeout:   cfg.maxPollTimeout,
	}

	if err := l.poller.Init(); err != nil {
		l.closeWakeFds()
		return nil, err
	}
	if err := l.poller.RegisterFD(wakeFd, EventRead, func(IOEvents) {
		l.drainWakeFd()
	}); err != nil {
		_ = l.poller.Close()
		l.closeWakeFds()
		return nil, err
	}

	return l, nil
}

// ID returns a process-unique identifier of the loop.
func (l *Loop) ID() uint64 {
	return l.id
}

// State returns the current state of the loop.
func (l *Loop) State() LoopState {
	return l.state.Load()
}

// IsRunning reports whether Run or RunForever is active, including while a
// stop is pending.
func (l *Loop) IsRunning() bool {
	return l.state.IsRunning()
}

// Len returns the number of callbacks in the ready queue. Owner-confined.
func (l *Loop) Len() int {
	return len(l.ready)
}

// PendingTimers returns the number of live (uncancelled, unfired) timers.
func (l *Loop) PendingTimers() int {
	return int(l.liveTimers.Load())
}

// Run processes events until the loop is quiescent: no ready callbacks, no
// pending timers, no cross-goroutine submissions, no live tasks and no fd
// watchers remain. Signal handlers alone do not keep it running.
//
// Stop, Destroy, or cancellation of ctx end Run after the current iteration.
// On ctx cancellation Run returns ctx.Err(). Run locks the calling goroutine
// to its OS thread until it returns.
func (l *Loop) Run(ctx context.Context) error {
	return l.run(ctx, false)
}

// RunForever processes events until Stop, Destroy, or ctx cancellation.
func (l *Loop) RunForever(ctx context.Context) error {
	return l.run(ctx, true)
}

func (l *Loop) run(ctx context.Context, forever bool) (err error) {
	if !l.state.TryTransition(StateIdle, StateRunning) {
		if l.state.Load() == StateDestroyed {
			return ErrLoopDestroyed
		}
		return ErrLoopRunning
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.ownerGoroutine.Store(getGoroutineID())
	l.logDebug("loop started")

	var ctxStopped atomic.Bool
	watcherDone := make(chan struct{})
	stopWatch := context.AfterFunc(ctx, func() {
		defer close(watcherDone)
		if l.state.TryTransition(StateRunning, StateStopping) {
			ctxStopped.Store(true)
			l.wakeup()
		}
	})

	defer func() {
		if !stopWatch() {
			// the watcher may still be racing to stop this run
			<-watcherDone
		}
		l.ownerGoroutine.Store(0)
		l.state.Store(StateIdle)
		l.logDebug("loop stopped")
		if l.destroyed.Load() && l.state.TryTransition(StateIdle, StateDestroyed) {
			err = errors.Join(err, l.release())
		}
		if err == nil && ctxStopped.Load() {
			err = ctx.Err()
		}
	}()

	for l.state.Load() == StateRunning {
		l.tick()

		if l.state.Load() != StateRunning {
			break
		}
		if !forever && l.quiescent() {
			break
		}

		l.wait()
	}

	return nil
}

// tick runs one iteration: move cross-goroutine submissions, pending
// signals and due timers onto the ready queue, then run exactly the
// callbacks that are ready at the start of the pass.
func (l *Loop) tick() {
	l.ready = l.inbox.drainInto(l.ready)
	l.dispatchSignals()
	l.promoteTimers(time.Now())
	l.runReady()
}

// runReady dispatches the callbacks queued before the pass began, in FIFO
// order. Callbacks they enqueue run on the next pass.
func (l *Loop) runReady() {
	n := len(l.ready)
	for i := 0; i < n; i++ {
		h := l.ready[i]
		l.ready[i] = nil
		l.dispatch(h)
	}
	rest := copy(l.ready, l.ready[n:])
	clear(l.ready[rest:])
	l.ready = l.ready[:rest]
}

// dispatch re-checks the cancellation state of h immediately before
// running it.
func (l *Loop) dispatch(h *Handle) {
	switch h.kind {
	case KindRepeating:
		if !h.fire() {
			return
		}
		now := time.Now()
		l.execute(h)
		if h.rearm() {
			l.pushTimer(h, now.Add(h.interval))
		}

	case KindSignal, KindIO:
		if h.Cancelled() {
			return
		}
		l.execute(h)

	default:
		if !h.fire() {
			return
		}
		if h.kind == KindDelayed {
			l.liveTimers.Add(-1)
		}
		l.execute(h)
	}
}

// execute runs the callback of h, recovering and reporting any panic.
func (l *Loop) execute(h *Handle) {
	defer func() {
		if r := recover(); r != nil {
			l.reportFault(h, &PanicError{Value: r, Stack: debug.Stack()})
		}
	}()
	h.callback()
}

func (l *Loop) quiescent() bool {
	return len(l.ready) == 0 &&
		l.liveTimers.Load() <= 0 &&
		l.inbox.Len() == 0 &&
		l.liveTasks.Load() <= 0 &&
		len(l.watchers) == 0
}

// wait blocks until the next timer is due, a wake-up, or fd readiness.
func (l *Loop) wait() {
	l.pollPass++
	if _, err := l.poller.PollIO(l.calculateTimeout()); err != nil {
		l.logCritical("poll failed", err)
		l.state.TryTransition(StateRunning, StateStopping)
	}
}

// calculateTimeout determines how long to block in poll, in milliseconds.
func (l *Loop) calculateTimeout() int {
	if len(l.ready) > 0 || l.inbox.Len() > 0 {
		return 0
	}

	maxDelay := l.maxPollTimeout

	l.trimCancelledTimers()
	if len(l.timers) > 0 {
		delay := time.Until(l.timers[0].when)
		if delay < 0 {
			delay = 0
		}
		if delay < maxDelay {
			maxDelay = delay
		}
	}

	// Ceiling rounding: if 0 < delta < 1ms, round up to 1ms
	if maxDelay > 0 && maxDelay < time.Millisecond {
		return 1
	}
	ms := maxDelay.Milliseconds()
	if time.Duration(ms)*time.Millisecond < maxDelay {
		ms++
	}
	return int(ms)
}

// Stop requests the running loop to return once its current iteration
// completes. It fails with ErrLoopNotRunning if there is nothing to stop.
// Safe to call from any goroutine, including from within a callback.
func (l *Loop) Stop() error {
	for {
		switch l.state.Load() {
		case StateRunning:
			if l.state.TryTransition(StateRunning, StateStopping) {
				l.wakeup()
				return nil
			}
		case StateStopping:
			return nil
		default:
			return ErrLoopNotRunning
		}
	}
}

// Destroy releases every resource of the loop: the wake fd and poller,
// signal registrations, fd watchers, the owned worker pool, and its
// registry entry. Suspended tasks are resumed with ErrLoopDestroyed.
//
// If the loop is running, Destroy stops it, and the release happens when
// Run returns. Destroy is idempotent. Safe to call from any goroutine.
func (l *Loop) Destroy() error {
	if !l.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	for {
		switch l.state.Load() {
		case StateIdle:
			if l.state.TryTransition(StateIdle, StateDestroyed) {
				return l.release()
			}
		case StateRunning:
			if l.state.TryTransition(StateRunning, StateStopping) {
				l.wakeup()
				return nil
			}
		case StateStopping:
			l.wakeup()
			return nil
		default:
			return nil
		}
	}
}

// release frees everything, once the loop has reached StateDestroyed.
func (l *Loop) release() error {
	l.logDebug("destroying loop")

	l.closeSignals()
	l.closeWatchers()
	l.failTasks(ErrLoopDestroyed)

	l.execMu.Lock()
	pool := l.pool
	l.executor = nil
	l.poolClosed = true
	l.execMu.Unlock()
	if pool != nil {
		pool.Close()
	}

	if l.registry != nil {
		l.registry.remove(l)
	}

	l.wakeMu.Lock()
	l.wakeClosed = true
	errs := []error{l.poller.Close()}
	errs = append(errs, l.closeWakeFds()...)
	l.wakeMu.Unlock()

	for _, h := range l.ready {
		h.discard()
	}
	clear(l.ready)
	l.ready = nil
	for _, t := range l.timers {
		t.h.discard()
	}
	l.timers = nil
	l.liveTimers.Store(0)
	for _, h := range l.inbox.drainInto(nil) {
		h.discard()
	}

	return errors.Join(errs...)
}

func (l *Loop) closeWakeFds() []error {
	var errs []error
	if err := unix.Close(l.wakeFd); err != nil {
		errs = append(errs, err)
	}
	if l.wakeFdWrite != l.wakeFd {
		if err := unix.Close(l.wakeFdWrite); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// CallSoon schedules fn to run on the next pass of the loop, after every
// callback already queued. Owner-confined.
func (l *Loop) CallSoon(fn func()) (*Handle, error) {
	if fn == nil {
		return nil, nilCallbackError("CallSoon")
	}
	if l.state.Load() == StateDestroyed {
		return nil, ErrLoopDestroyed
	}
	h := l.newHandle(KindImmediate, fn)
	l.ready = append(l.ready, h)
	return h, nil
}

// CallLater schedules fn to run once, no earlier than d from now.
// Callbacks due at the same instant run in the order they were scheduled.
// Owner-confined.
func (l *Loop) CallLater(d time.Duration, fn func()) (*Handle, error) {
	if d < 0 {
		return nil, &RangeError{Cause: ErrNegativeDelay, Message: fmt.Sprintf("greenloop: CallLater: delay must not be negative, got %s", d)}
	}
	if fn == nil {
		return nil, nilCallbackError("CallLater")
	}
	if l.state.Load() == StateDestroyed {
		return nil, ErrLoopDestroyed
	}
	h := l.newHandle(KindDelayed, fn)
	l.liveTimers.Add(1)
	l.pushTimer(h, time.Now().Add(d))
	return h, nil
}

// CallRepeatedly schedules fn to run every interval, until the returned
// handle is cancelled. Each firing is rescheduled relative to the time it
// was dispatched. Owner-confined.
func (l *Loop) CallRepeatedly(interval time.Duration, fn func()) (*Handle, error) {
	if interval <= 0 {
		return nil, &RangeError{Cause: ErrNonPositiveInterval, Message: fmt.Sprintf("greenloop: CallRepeatedly: interval must be positive, got %s", interval)}
	}
	if fn == nil {
		return nil, nilCallbackError("CallRepeatedly")
	}
	if l.state.Load() == StateDestroyed {
		return nil, ErrLoopDestroyed
	}
	h := l.newHandle(KindRepeating, fn)
	h.interval = interval
	l.liveTimers.Add(1)
	l.pushTimer(h, time.Now().Add(interval))
	return h, nil
}

// CallFromThread schedules fn to run on the loop, waking it if it is
// blocked. Safe to call from any goroutine, including the owner.
func (l *Loop) CallFromThread(fn func()) (*Handle, error) {
	if fn == nil {
		return nil, nilCallbackError("CallFromThread")
	}
	if l.state.Load() == StateDestroyed {
		return nil, ErrLoopDestroyed
	}
	h := l.newHandle(KindImmediate, fn)
	l.inbox.push(h)
	if !l.isLoopGoroutine() {
		l.wakeup()
	}
	return h, nil
}

// post schedules internal work from any goroutine. Dropped once the loop
// is destroyed.
func (l *Loop) post(fn func()) {
	if l.state.Load() == StateDestroyed {
		return
	}
	l.inbox.push(l.newHandle(KindImmediate, fn))
	l.wakeup()
}

func (l *Loop) newHandle(kind HandleKind, fn func()) *Handle {
	return &Handle{
		loop:     l,
		callback: fn,
		id:       l.handleIDs.Add(1),
		kind:     kind,
	}
}

// handleCancelled is called once per handle, by the goroutine whose Cancel
// took effect.
func (l *Loop) handleCancelled(h *Handle) {
	switch h.kind {
	case KindDelayed, KindRepeating:
		l.liveTimers.Add(-1)
		// lets a blocked Run re-check quiescence
		l.wakeup()
	case KindSignal:
		sig := h.target
		l.post(func() { l.pruneSignal(sig) })
	case KindIO:
		fd := h.target
		l.post(func() { l.pruneWatcher(fd) })
	}
}

// wakeup interrupts a blocked wait. Deduplicated until the loop drains the
// wake fd. Safe to call from any goroutine.
func (l *Loop) wakeup() {
	if !l.wakePending.CompareAndSwap(0, 1) {
		return
	}

	l.wakeMu.RLock()
	defer l.wakeMu.RUnlock()
	if l.wakeClosed {
		return
	}

	// Native endianness: an eventfd reads the 8 bytes as one counter
	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]
	if _, err := unix.Write(l.wakeFdWrite, buf); err != nil && err != unix.EAGAIN {
		l.wakePending.Store(0)
	}
}

// drainWakeFd drains the wake fd, re-enabling wakeup.
func (l *Loop) drainWakeFd() {
	for {
		if _, err := unix.Read(l.wakeFd, l.wakeBuf[:]); err != nil {
			break
		}
	}
	l.wakePending.Store(0)
}

// isLoopGoroutine reports whether the caller is the goroutine inside Run.
func (l *Loop) isLoopGoroutine() bool {
	id := l.ownerGoroutine.Load()
	return id != 0 && id == getGoroutineID()
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
