package packet

import "testing"

func TestPayloadLen(t *testing.T) {
	cases := []struct {
		typ  Type
		want int
	}{
		{TypeNone, 0},
		{TypeModeAC, 2},
		{TypeModeSShort, 7},
		{TypeModeSLong, 14},
	}
	for _, c := range cases {
		if got := PayloadLen(c.typ); got != c.want {
			t.Errorf("PayloadLen(%v) = %d, want %d", c.typ, got, c.want)
		}
	}
}

func TestWireNameRoundTrip(t *testing.T) {
	for _, typ := range []Type{TypeModeAC, TypeModeSShort, TypeModeSLong} {
		name := typ.WireName()
		got, ok := ParseWireName(name)
		if !ok || got != typ {
			t.Errorf("round trip of %v through %q failed: got %v, ok=%v", typ, name, got, ok)
		}
	}
}

func TestSourceIDValid(t *testing.T) {
	ok := SourceID("abcdefghijklmnopqrstuvwxyz01")
	if len(ok) != SourceIDLen {
		t.Fatalf("test fixture has wrong length: %d", len(ok))
	}
	if !ok.Valid() {
		t.Errorf("expected valid source id to pass")
	}
	if SourceID("short").Valid() {
		t.Errorf("expected short source id to fail")
	}
}

func TestMLATMonotonicAcrossWraps(t *testing.T) {
	r := NewRescaler(12, 0xFFFF) // small 16-bit counter at 12MHz, so identity-ish scale
	raws := []uint64{100, 200, 300, 0xFFF0, 10, 20, 30, 5, 6}
	var last uint64
	for i, raw := range raws {
		got := r.ScaleIn(raw)
		if i > 0 && got < last {
			t.Fatalf("MLAT sequence not monotonic at index %d: %d < %d", i, got, last)
		}
		last = got
	}
}

func TestMLATScaleIdentity(t *testing.T) {
	// At 12MHz with no wraps, scaling should be the identity function.
	r := NewRescaler(12, ^uint64(0))
	if got := r.ScaleIn(12345); got != 12345 {
		t.Errorf("got %d, want 12345", got)
	}
}

func TestRSSIScaleInRange(t *testing.T) {
	if got := ScaleRSSIIn(0, 255); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
	if got := ScaleRSSIIn(255, 255); got != ^uint32(0) {
		t.Errorf("got %d, want max uint32", got)
	}
	mid := ScaleRSSIIn(128, 255)
	if mid == 0 || mid == ^uint32(0) {
		t.Errorf("expected a mid-range value, got %d", mid)
	}
}

func TestRSSIScaleClamps(t *testing.T) {
	if got := ScaleRSSIIn(300, 255); got != ^uint32(0) {
		t.Errorf("expected clamp to max, got %d", got)
	}
}
