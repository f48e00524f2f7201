package greenloop

import (
	"container/heap"
	"time"
)

// timerEntry is one scheduled firing of a KindDelayed or KindRepeating handle.
type timerEntry struct {
	when time.Time
	h    *Handle
	seq  uint64
}

// timerHeap is a min-heap of timers, ordered by deadline, then insertion
// sequence.
//
// Cancelled handles are not removed: promotion discards them instead.
type timerHeap []timerEntry

// Implement heap.Interface for timerHeap
func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(timerEntry))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = timerEntry{}
	*h = old[:n-1]
	return x
}

// pushTimer inserts a heap entry for h at when.
func (l *Loop) pushTimer(h *Handle, when time.Time) {
	l.timerSeq++
	h.when = when
	heap.Push(&l.timers, timerEntry{when: when, seq: l.timerSeq, h: h})
}

// promoteTimers moves every due timer onto the ready queue, silently
// dropping cancelled entries.
func (l *Loop) promoteTimers(now time.Time) {
	for len(l.timers) > 0 {
		if l.timers[0].when.After(now) {
			break
		}
		t := heap.Pop(&l.timers).(timerEntry)
		if t.h.Cancelled() {
			continue
		}
		l.ready = append(l.ready, t.h)
	}
}

// trimCancelledTimers pops cancelled entries off the top of the heap, so the
// next deadline reflects live work. Clears the heap if no timer is live.
func (l *Loop) trimCancelledTimers() {
	if l.liveTimers.Load() <= 0 {
		clear(l.timers)
		l.timers = l.timers[:0]
		return
	}
	for len(l.timers) > 0 && l.timers[0].h.Cancelled() {
		heap.Pop(&l.timers)
	}
}
