package evloop

import (
	"container/heap"
	"math"
	"time"
)

// backoffInitialDelay and backoffMaxDelay bound connector/listener retry
// scheduling: the first retry is fast, later ones fall back to every
// backoffMaxDelay until the peer starts answering again.
const (
	backoffInitialDelay = 250 * time.Millisecond
	backoffMaxDelay     = 5 * time.Minute
)

// RetryDelay returns the exponential backoff delay for the given zero-based
// retry attempt, capped at backoffMaxDelay.
func RetryDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return backoffInitialDelay
	}
	delay := time.Duration(float64(backoffInitialDelay) * math.Pow(2, float64(attempt)))
	if delay > backoffMaxDelay {
		delay = backoffMaxDelay
	}
	return delay
}

type wakeupEntry struct {
	due  time.Time
	peer Peer
	seq  uint64
	idx  int
}

type wakeupHeap []*wakeupEntry

func (h wakeupHeap) Len() int            { return len(h) }
func (h wakeupHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h wakeupHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].idx, h[j].idx = i, j }
func (h *wakeupHeap) Push(x interface{}) { e := x.(*wakeupEntry); e.idx = len(*h); *h = append(*h, e) }
func (h *wakeupHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Wheel is the loop's timer wheel: a min-heap of pending one-shot
// wakeups, ordered by due time. The loop consults Delay() to size its
// epoll_wait timeout and calls Dispatch() after every return from it.
type Wheel struct {
	entries wakeupHeap
	seq     uint64
	now     func() time.Time
}

// NewWheel returns an empty timer wheel.
func NewWheel() *Wheel {
	return &Wheel{now: time.Now}
}

// Add schedules peer to receive HandleEvent(0) no earlier than delay from
// now. A peer may have more than one wakeup pending at a time.
func (w *Wheel) Add(peer Peer, delay time.Duration) {
	w.seq++
	heap.Push(&w.entries, &wakeupEntry{due: w.now().Add(delay), peer: peer, seq: w.seq})
}

// Delay reports how many milliseconds epoll_wait should block for, or -1
// to block indefinitely because no wakeup is scheduled.
func (w *Wheel) Delay() int {
	if len(w.entries) == 0 {
		return -1
	}
	remaining := w.entries[0].due.Sub(w.now())
	if remaining <= 0 {
		return 0
	}
	ms := remaining.Milliseconds()
	if ms > math.MaxInt32 {
		ms = math.MaxInt32
	}
	return int(ms)
}

// Dispatch fires every wakeup whose due time has passed.
func (w *Wheel) Dispatch() {
	now := w.now()
	for len(w.entries) > 0 && !w.entries[0].due.After(now) {
		e := heap.Pop(&w.entries).(*wakeupEntry)
		e.peer.HandleEvent(0)
	}
}
