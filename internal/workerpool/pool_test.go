package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew_PanicsOnNonPositive(t *testing.T) {
	for _, n := range []int{0, -1} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("expected New(%d) to panic", n)
				}
			}()
			New(n)
		}()
	}
}

func TestPool_RunsAll(t *testing.T) {
	p := New(4)
	if p.Workers() != 4 {
		t.Fatalf("expected 4 workers, got %d", p.Workers())
	}

	var count atomic.Int64
	for i := 0; i < 100; i++ {
		if err := p.Go(func() { count.Add(1) }, func(error) { t.Error("unexpected abort") }); err != nil {
			t.Fatal(err)
		}
	}
	p.Close()
	if err := p.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := count.Load(); n != 100 {
		t.Fatalf("expected 100 tasks to run, got %d", n)
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	const workers = 3
	p := New(workers)

	var (
		active, peak atomic.Int64
		wg           sync.WaitGroup
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		if err := p.Go(func() {
			defer wg.Done()
			n := active.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}, func(error) { wg.Done() }); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
	p.Close()

	if n := peak.Load(); n > workers {
		t.Fatalf("expected at most %d concurrent tasks, got %d", workers, n)
	}
}

func TestPool_CloseAbortsWaiting(t *testing.T) {
	p := New(1)

	release := make(chan struct{})
	started := make(chan struct{})
	if err := p.Go(func() {
		close(started)
		<-release
	}, func(error) { t.Error("running task aborted") }); err != nil {
		t.Fatal(err)
	}
	<-started

	aborted := make(chan error, 1)
	if err := p.Go(func() { t.Error("waiting task ran") }, func(err error) { aborted <- err }); err != nil {
		t.Fatal(err)
	}

	p.Close()
	if !p.Closed() {
		t.Fatal("expected pool to be closed")
	}
	select {
	case err := <-aborted:
		if err != ErrClosed {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiting task was not aborted")
	}

	if err := p.Go(func() {}, func(error) {}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected Wait to time out on the running task, got %v", err)
	}

	close(release)
	if err := p.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
}
