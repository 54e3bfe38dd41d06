package packet

import "math/big"

// MaxMLATMHz is the largest clock rate a source may declare.
const MaxMLATMHz = 65535

// canonicalMHz is the tick rate, in MHz, of the bus's canonical MLAT
// timestamp space.
const canonicalMHz = 12

// Rescaler promotes one source's raw, arbitrary-width MLAT counter into the
// bus's canonical 12 MHz tick space, preserving ordering across counter
// wraps. One Rescaler is owned per receive stream.
type Rescaler struct {
	mhz uint16
	max uint64

	haveLast bool
	lastRaw  uint64
	wraps    uint64
}

// NewRescaler builds a Rescaler for a source whose counter runs at mhz MHz
// and wraps after max (inclusive, i.e. the counter's range is [0, max]).
func NewRescaler(mhz uint16, max uint64) *Rescaler {
	return &Rescaler{mhz: mhz, max: max}
}

// ScaleIn maps one raw counter reading into the canonical tick space. A
// reading lower than the previous one is treated as a wrap of the source
// counter, not as disorder, and bumps the internal wrap counter so the
// extended (un-wrapped) value keeps climbing.
func (r *Rescaler) ScaleIn(raw uint64) uint64 {
	if r.haveLast && raw < r.lastRaw {
		r.wraps++
	}
	r.haveLast = true
	r.lastRaw = raw

	extended := r.wraps*(r.max+1) + raw
	return scaleToCanonical(extended, r.mhz)
}

// scaleToCanonical converts a count of raw ticks (already wrap-extended)
// into an equivalent count of canonical 12 MHz ticks, using exact rational
// arithmetic so no precision is lost regardless of mhz or extended's
// magnitude.
func scaleToCanonical(extended uint64, mhz uint16) uint64 {
	if mhz == 0 {
		return extended
	}
	num := new(big.Int).Mul(new(big.Int).SetUint64(extended), big.NewInt(canonicalMHz))
	num.Div(num, big.NewInt(int64(mhz)))
	if !num.IsUint64() {
		return ^uint64(0)
	}
	return num.Uint64()
}

// ScaleRSSIIn linearly maps a raw RSSI reading in [0, max] into the
// canonical [0, 2^32-1] scale. Values above max are clamped.
func ScaleRSSIIn(raw uint32, max uint32) uint32 {
	if max == 0 {
		return 0
	}
	if raw > max {
		raw = max
	}
	num := uint64(raw) * uint64(^uint32(0))
	return uint32(num / uint64(max))
}
