// Package greenloop provides an embeddable event loop: a single-goroutine
// scheduler of immediate, delayed and repeating callbacks, POSIX signal
// handlers, fd readiness watchers, and cooperative tasks that offload
// blocking work to a worker pool.
//
// # Architecture
//
// A [Loop] owns a ready queue (FIFO), a timer heap ordered by deadline then
// insertion order, a cross-goroutine inbox, and a signal dispatch table.
// Each iteration of [Loop.Run] moves inbox submissions, delivered signals and
// due timers onto the ready queue, then runs exactly the callbacks ready at
// the start of the pass; callbacks they schedule run on the next pass. When
// nothing is ready, the loop blocks in a single poll (epoll on Linux, kqueue
// on macOS) on its wake fd and any watched fds, bounded by the earliest
// timer deadline.
//
// Every scheduling call returns a [Handle]. [Handle.Cancel] is idempotent,
// safe from any goroutine, and is checked immediately before each dispatch,
// so a callback can cancel a sibling due at the same instant.
//
// # Thread Safety
//
// The goroutine inside [Loop.Run] or [Loop.RunForever] owns the loop:
//   - [Loop.CallFromThread], [Loop.Stop], [Loop.Destroy] and [Handle.Cancel]
//     are safe to call from any goroutine
//   - every other scheduling method must be called from the owner, i.e. from
//     callbacks and tasks, or while the loop is not running
//
// Signals are delivered by the Go runtime to a watcher goroutine, which only
// records the signal as pending and wakes the loop. Handlers run on the loop.
//
// # Tasks
//
// [Loop.Spawn] starts a [Task]: a function that may suspend at
// [Task.Sleep], [Task.Yield], [Future.Wait] and [WaitFutures], while the loop
// keeps dispatching other work. A task only runs while the loop waits for
// it, so tasks and callbacks never run concurrently.
//
// # Usage
//
//	loop, err := greenloop.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer loop.Destroy()
//
//	loop.CallLater(100*time.Millisecond, func() {
//	    fmt.Println("later")
//	})
//	loop.CallSoon(func() {
//	    fmt.Println("soon")
//	})
//
//	// returns once no work remains
//	if err := loop.Run(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
// Loops are usually obtained per goroutine from a [Registry].
package greenloop
