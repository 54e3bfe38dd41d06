package codec

import (
	"encoding/binary"

	"adsbus/internal/buffer"
	"adsbus/internal/packet"
)

// beastMLATMHz and beastMLATMax describe the fixed 48-bit, 12MHz counter
// every beast-format source is assumed to run, matching real beast
// hardware; beast carries no header to declare otherwise.
const (
	beastMLATMHz uint16 = 12
	beastMLATMax uint64 = 1<<48 - 1
	beastRSSIMax uint32 = 255
)

const beastEscape = 0x1A

func beastTypeByte(t packet.Type) (byte, bool) {
	switch t {
	case packet.TypeModeAC:
		return '1', true
	case packet.TypeModeSShort:
		return '2', true
	case packet.TypeModeSLong:
		return '3', true
	default:
		return 0, false
	}
}

func beastTypeFromByte(b byte) (packet.Type, bool) {
	switch b {
	case '1':
		return packet.TypeModeAC, true
	case '2':
		return packet.TypeModeSShort, true
	case '3':
		return packet.TypeModeSLong, true
	default:
		return packet.TypeNone, false
	}
}

// beast implements the binary beast framing: 0x1A, a type byte, a 6-byte
// big-endian MLAT counter, a 1-byte signal level, and the payload, with
// every 0x1A byte in the MLAT/signal/payload region doubled on the wire.
type beast struct {
	mlat *packet.Rescaler
}

// NewBeastDecoder returns a fresh beast frame parser.
func NewBeastDecoder() Decoder {
	return &beast{mlat: packet.NewRescaler(beastMLATMHz, beastMLATMax)}
}

// NewBeastEncoder returns a fresh beast frame serializer.
func NewBeastEncoder() Encoder { return &beast{} }

func (*beast) Name() string { return "beast" }

func (b *beast) Decode(buf *buffer.Buffer) (*packet.Packet, int, error) {
	data := buf.Bytes()
	if len(data) < 2 {
		if len(data) == 1 && data[0] != beastEscape {
			return nil, 0, ErrUnrecognised
		}
		return nil, 0, ErrNeedMoreData
	}
	if data[0] != beastEscape {
		return nil, 0, ErrUnrecognised
	}
	typ, ok := beastTypeFromByte(data[1])
	if !ok {
		return nil, 0, ErrUnrecognised
	}
	rawLen := 6 + 1 + packet.PayloadLen(typ)

	unescaped := make([]byte, 0, rawLen)
	i := 2
	for len(unescaped) < rawLen {
		if i >= len(data) {
			if buf.Full() {
				return nil, 0, ErrUnrecognised
			}
			return nil, 0, ErrNeedMoreData
		}
		c := data[i]
		if c == beastEscape {
			if i+1 >= len(data) {
				if buf.Full() {
					return nil, 0, ErrUnrecognised
				}
				return nil, 0, ErrNeedMoreData
			}
			if data[i+1] != beastEscape {
				return nil, 0, ErrUnrecognised
			}
			unescaped = append(unescaped, beastEscape)
			i += 2
			continue
		}
		unescaped = append(unescaped, c)
		i++
	}

	rawMLAT := binary.BigEndian.Uint64(append([]byte{0, 0}, unescaped[0:6]...))
	signal := unescaped[6]
	payload := append([]byte(nil), unescaped[7:7+packet.PayloadLen(typ)]...)

	p := &packet.Packet{
		Type:          typ,
		Payload:       payload,
		MLATTimestamp: b.mlat.ScaleIn(rawMLAT),
		RSSI:          packet.ScaleRSSIIn(uint32(signal), beastRSSIMax),
	}
	return p, i, nil
}

func (*beast) Encode(pkt *packet.Packet, buf *buffer.Buffer) {
	typByte, ok := beastTypeByte(pkt.Type)
	if !ok {
		return
	}
	var mlatBytes [6]byte
	mlat := pkt.MLATTimestamp
	if mlat > beastMLATMax {
		mlat = beastMLATMax
	}
	full := make([]byte, 8)
	binary.BigEndian.PutUint64(full, mlat)
	copy(mlatBytes[:], full[2:])

	signal := byte(uint64(pkt.RSSI) * uint64(beastRSSIMax) / uint64(^uint32(0)))

	raw := make([]byte, 0, 7+len(pkt.Payload))
	raw = append(raw, mlatBytes[:]...)
	raw = append(raw, signal)
	raw = append(raw, pkt.Payload...)

	out := make([]byte, 0, 2+len(raw)*2)
	out = append(out, beastEscape, typByte)
	for _, b := range raw {
		out = append(out, b)
		if b == beastEscape {
			out = append(out, beastEscape)
		}
	}
	appendBytes(buf, out)
}
