package evloop

import (
	"testing"
	"time"
)

type countingPeer struct {
	fired int
}

func (p *countingPeer) FD() int               { return -1 }
func (p *countingPeer) HandleEvent(uint32) { p.fired++ }

func TestWheelDelayWithNoEntries(t *testing.T) {
	w := NewWheel()
	if got := w.Delay(); got != -1 {
		t.Errorf("Delay() on empty wheel = %d, want -1", got)
	}
}

func TestWheelFiresAllDueEntries(t *testing.T) {
	w := NewWheel()
	base := time.Unix(1_700_000_000, 0)
	cur := base
	w.now = func() time.Time { return cur }

	a, b := &countingPeer{}, &countingPeer{}

	w.Add(a, 10*time.Millisecond)
	w.Add(b, 5*time.Millisecond)

	cur = base.Add(20 * time.Millisecond)
	w.Dispatch()

	if a.fired != 1 || b.fired != 1 {
		t.Fatalf("expected both peers fired once, got a=%d b=%d", a.fired, b.fired)
	}
}

func TestWheelDoesNotFireEarly(t *testing.T) {
	w := NewWheel()
	base := time.Unix(1_700_000_000, 0)
	cur := base
	w.now = func() time.Time { return cur }

	p := &countingPeer{}
	w.Add(p, time.Second)

	cur = base.Add(100 * time.Millisecond)
	w.Dispatch()
	if p.fired != 0 {
		t.Fatalf("expected no fire before due time, got %d", p.fired)
	}

	if delay := w.Delay(); delay <= 0 || delay > 1000 {
		t.Errorf("Delay() = %d, want a positive value under 1000ms", delay)
	}
}

func TestRetryDelayGrowsAndCaps(t *testing.T) {
	d0 := RetryDelay(0)
	d1 := RetryDelay(1)
	d2 := RetryDelay(2)
	if !(d0 <= d1 && d1 <= d2) {
		t.Fatalf("expected non-decreasing backoff, got %v, %v, %v", d0, d1, d2)
	}
	dFar := RetryDelay(100)
	if dFar != backoffMaxDelay {
		t.Errorf("expected far-out attempt to cap at %v, got %v", backoffMaxDelay, dFar)
	}
}
