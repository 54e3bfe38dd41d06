package codec

import (
	"encoding/hex"

	"adsbus/internal/buffer"
	"adsbus/internal/packet"
)

// raw is the plain ASCII line format: '*' for a Mode-S message (short or
// long, told apart by hex length), '@' for a Mode-AC message, hex-encoded
// payload, terminated by ';'. It carries no MLAT, RSSI, hops or source id,
// so those fields are always zero on decode.
type raw struct{}

// NewRawDecoder returns a fresh raw line parser.
func NewRawDecoder() Decoder { return &raw{} }

// NewRawEncoder returns a fresh raw line serializer.
func NewRawEncoder() Encoder { return &raw{} }

func (*raw) Name() string { return "raw" }

func (*raw) Decode(buf *buffer.Buffer) (*packet.Packet, int, error) {
	data := buf.Bytes()
	if len(data) == 0 {
		return nil, 0, ErrNeedMoreData
	}
	lead := data[0]
	if lead != '@' && lead != '*' {
		return nil, 0, ErrUnrecognised
	}
	end := -1
	for i := 1; i < len(data); i++ {
		if data[i] == ';' {
			end = i
			break
		}
	}
	if end == -1 {
		if buf.Full() {
			return nil, 0, ErrUnrecognised
		}
		return nil, 0, ErrNeedMoreData
	}
	hexPart := data[1:end]
	raw := make([]byte, hex.DecodedLen(len(hexPart)))
	n, err := hex.Decode(raw, hexPart)
	if err != nil {
		return nil, 0, ErrUnrecognised
	}
	raw = raw[:n]

	var typ packet.Type
	switch {
	case lead == '@' && len(raw) == packet.PayloadLen(packet.TypeModeAC):
		typ = packet.TypeModeAC
	case lead == '*' && len(raw) == packet.PayloadLen(packet.TypeModeSShort):
		typ = packet.TypeModeSShort
	case lead == '*' && len(raw) == packet.PayloadLen(packet.TypeModeSLong):
		typ = packet.TypeModeSLong
	default:
		return nil, 0, ErrUnrecognised
	}

	p := &packet.Packet{Type: typ, Payload: raw}
	return p, end + 1, nil
}

func (*raw) Encode(pkt *packet.Packet, buf *buffer.Buffer) {
	lead := byte('*')
	if pkt.Type == packet.TypeModeAC {
		lead = '@'
	}
	line := make([]byte, 0, 2+len(pkt.Payload)*2+1)
	line = append(line, lead)
	line = appendHex(line, pkt.Payload)
	line = append(line, ';')
	appendBytes(buf, line)
}

func appendHex(dst []byte, src []byte) []byte {
	const hextab = "0123456789ABCDEF"
	for _, b := range src {
		dst = append(dst, hextab[b>>4], hextab[b&0x0f])
	}
	return dst
}

// appendBytes appends raw bytes to buf via its callback append path,
// silently dropping whatever does not fit: a serializer racing a full send
// buffer loses data to backpressure, not to a codec panic.
func appendBytes(buf *buffer.Buffer, data []byte) {
	remaining := data
	for len(remaining) > 0 && !buf.Full() {
		n, _ := buf.AppendFromCallback(func(dst []byte) (int, error) {
			n := copy(dst, remaining)
			return n, nil
		})
		if n == 0 {
			break
		}
		remaining = remaining[n:]
	}
}
