// Package codec implements the bus's six serializers and five parsers:
// raw, beast, airspy_adsb, JSON, and proto (both directions), plus
// stats (send-only), and the autodetecting dispatcher used on ingest when
// the configured format is "auto".
package codec

import (
	"errors"

	"adsbus/internal/buffer"
	"adsbus/internal/packet"
)

// ErrNeedMoreData is returned by Decode when the buffer does not yet
// contain a complete message. The buffer must not be mutated when this is
// returned, so the caller can safely retry once more bytes arrive.
var ErrNeedMoreData = errors.New("codec: need more data")

// ErrUnrecognised is returned by Decode when the bytes at the head of the
// buffer are structurally incompatible with this decoder (wrong leading
// byte, bad magic, etc). Used by the autodetect dispatcher to move on to
// the next candidate; once a decoder is latched for a stream, AutoDetect
// passes this error through like any other and the flow treats it as a
// protocol error.
var ErrUnrecognised = errors.New("codec: unrecognised protocol")

// ErrLoopDetected is returned by the JSON and proto decoders when a header
// announces the local server's own id.
var ErrLoopDetected = errors.New("codec: loop detected (own server id)")

// Decoder turns bytes at the head of a buffer into packets. Implementations
// keep per-stream parser state (MLAT/RSSI rescalers, "have I seen a header
// yet" flags); one Decoder instance belongs to exactly one receive stream.
type Decoder interface {
	// Decode inspects buf without mutating it unless a message is fully
	// decoded. On success it returns the number of bytes to consume and,
	// unless the message was header-only bookkeeping, a packet. Returning
	// (nil, n, nil) with n > 0 means "progress was made, nothing to
	// broadcast" (e.g. a JSON/proto header).
	Decode(buf *buffer.Buffer) (pkt *packet.Packet, consumed int, err error)
}

// Encoder serialises packets for one wire format. Encode may append zero
// bytes to buf (e.g. the stats encoder below its emission threshold); that
// is a legal no-op, not an error.
type Encoder interface {
	Name() string
	Encode(pkt *packet.Packet, buf *buffer.Buffer)
}

// HelloGreeter is implemented by encoders that emit a greeting before any
// data byte (JSON, proto). The flow calls Hello once, before the first
// Encode call, when a send-side connection is established.
type HelloGreeter interface {
	Hello(buf *buffer.Buffer)
}

// DecoderFactory is the signature of a constructor that builds a fresh,
// independent Decoder instance for one new stream. No factories are
// registered by name; NewDecoder in registry.go picks a constructor with a
// switch on the format name.
type DecoderFactory func() Decoder

// EncoderFactory is the signature of a constructor that builds a fresh
// Encoder instance. Most encoders are stateless per packet and could be
// shared, but stats carries mutable counters; flow.NewBus builds one
// encoder per format through NewEncoder at startup and keeps it for the
// process lifetime.
type EncoderFactory func() Encoder
