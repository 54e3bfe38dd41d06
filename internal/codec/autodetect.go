package codec

import (
	"errors"

	"adsbus/internal/buffer"
	"adsbus/internal/buserr"
	"adsbus/internal/packet"
)

// autodetectCandidates returns the fixed order candidates are tried in: binary
// formats with a distinctive leading byte first (beast), then the ASCII
// formats, with JSON before proto since proto's 4-byte length prefix can
// occasionally collide with printable bytes that a stricter check would
// reject faster anyway.
func autodetectCandidates(localServerID packet.SourceID) []Decoder {
	return []Decoder{
		NewBeastDecoder(),
		NewRawDecoder(),
		NewAirspyADSBDecoder(),
		NewJSONDecoder(localServerID),
		NewProtoDecoder(localServerID),
	}
}

// AutoDetect is the Decoder used for a receive flow configured with format
// "auto". It probes every candidate format against the same bytes; the
// first one that makes progress is latched for the remaining lifetime of
// the stream, and every other candidate is discarded. If every candidate
// rules itself out before any of them succeeds, the stream is unrecoverable
// and AutoDetect reports a protocol error.
type AutoDetect struct {
	candidates []Decoder
	latched    Decoder
}

// NewAutoDetect returns a fresh dispatcher for one new receive stream.
func NewAutoDetect(localServerID packet.SourceID) *AutoDetect {
	return &AutoDetect{candidates: autodetectCandidates(localServerID)}
}

func (a *AutoDetect) Name() string {
	if named, ok := a.latched.(interface{ Name() string }); ok {
		return named.Name()
	}
	return "auto"
}

func (a *AutoDetect) Decode(buf *buffer.Buffer) (*packet.Packet, int, error) {
	if a.latched != nil {
		return a.latched.Decode(buf)
	}

	survivors := a.candidates[:0:0]
	needMore := false
	for _, c := range a.candidates {
		pkt, n, err := c.Decode(buf)
		switch {
		case err == nil:
			a.latched = c
			a.candidates = nil
			return pkt, n, nil
		case errors.Is(err, ErrNeedMoreData):
			survivors = append(survivors, c)
			needMore = true
		case errors.Is(err, ErrUnrecognised):
			// This format can never match this stream; drop it.
		default:
			// The candidate recognised its own framing well enough to
			// detect a genuine protocol violation (e.g. a JSON/proto
			// header with a bad magic/server id). Latch onto it so the
			// error is reported in its terms rather than masked by a
			// generic "unrecognised" from the remaining candidates.
			a.latched = c
			a.candidates = nil
			return pkt, n, err
		}
	}
	a.candidates = survivors

	if len(a.candidates) == 0 {
		return nil, 0, buserr.NewProtocolError("protocol unrecognised", nil)
	}
	if needMore {
		return nil, 0, ErrNeedMoreData
	}
	return nil, 0, ErrNeedMoreData
}
