package greenloop

import (
	"container/heap"
	"math/rand/v2"
	"testing"
	"time"
)

func TestTimerHeap_OrderByDeadlineThenSequence(t *testing.T) {
	var l Loop
	base := time.Now()

	var handles []*Handle
	for i := 0; i < 200; i++ {
		h := &Handle{kind: KindDelayed, id: uint64(i)}
		handles = append(handles, h)
		// few distinct deadlines, so many ties
		l.pushTimer(h, base.Add(time.Duration(rand.IntN(5))*time.Millisecond))
	}

	var prev timerEntry
	for i := 0; l.timers.Len() > 0; i++ {
		e := heap.Pop(&l.timers).(timerEntry)
		if i > 0 {
			if e.when.Before(prev.when) {
				t.Fatalf("entry %d: deadline %v before previous %v", i, e.when, prev.when)
			}
			if e.when.Equal(prev.when) && e.seq < prev.seq {
				t.Fatalf("entry %d: tie broken out of insertion order (%d after %d)", i, e.seq, prev.seq)
			}
		}
		prev = e
	}
}

func TestTimerHeap_PopClearsSlot(t *testing.T) {
	var l Loop
	l.pushTimer(&Handle{kind: KindDelayed}, time.Now())
	backing := l.timers[:1]
	heap.Pop(&l.timers)
	if backing[0].h != nil {
		t.Error("popped slot still references its handle")
	}
}

func TestPromoteTimers_SkipsCancelled(t *testing.T) {
	var l Loop
	now := time.Now()

	live := &Handle{kind: KindDelayed}
	cancelled := &Handle{kind: KindDelayed}
	cancelled.discard()
	future := &Handle{kind: KindDelayed}

	l.pushTimer(cancelled, now.Add(-time.Millisecond))
	l.pushTimer(live, now)
	l.pushTimer(future, now.Add(time.Hour))

	l.promoteTimers(now)

	if len(l.ready) != 1 || l.ready[0] != live {
		t.Fatalf("expected only the live due timer to be promoted, got %v", l.ready)
	}
	if l.timers.Len() != 1 || l.timers[0].h != future {
		t.Fatalf("expected the future timer to remain")
	}
}

func TestTrimCancelledTimers(t *testing.T) {
	var l Loop
	now := time.Now()

	a := &Handle{kind: KindDelayed}
	b := &Handle{kind: KindDelayed}
	l.pushTimer(a, now.Add(time.Millisecond))
	l.pushTimer(b, now.Add(time.Hour))
	l.liveTimers.Store(1)
	a.discard()

	l.trimCancelledTimers()
	if l.timers.Len() != 1 || l.timers[0].h != b {
		t.Fatalf("expected the cancelled top to be discarded")
	}

	b.discard()
	l.liveTimers.Store(0)
	l.trimCancelledTimers()
	if l.timers.Len() != 0 {
		t.Fatalf("expected the heap to be cleared, got %d entries", l.timers.Len())
	}
}
