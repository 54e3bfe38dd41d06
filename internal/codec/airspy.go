package codec

import (
	"bytes"
	"encoding/hex"
	"strconv"

	"adsbus/internal/buffer"
	"adsbus/internal/packet"
)

// airspy_adsb carries one message per newline-terminated text line:
//
//	<type-token>,<hex-payload>[,key=value]*\n
//
// where type-token is the packet's WireName with spaces replaced by dashes
// (commas are the field separator), and the only recognised annotation
// keys are mlat (hex, raw 12MHz ticks, fixed-width counter matching beast)
// and rssi (decimal, 0-255). Both annotations are optional.
const airspyMLATMHz uint16 = 12

const airspyMLATMax uint64 = 1<<48 - 1

const airspyRSSIMax uint32 = 255

type airspy struct {
	mlat *packet.Rescaler
}

// NewAirspyADSBDecoder returns a fresh airspy_adsb line parser.
func NewAirspyADSBDecoder() Decoder {
	return &airspy{mlat: packet.NewRescaler(airspyMLATMHz, airspyMLATMax)}
}

// NewAirspyADSBEncoder returns a fresh airspy_adsb line serializer.
func NewAirspyADSBEncoder() Encoder { return &airspy{} }

func (*airspy) Name() string { return "airspy_adsb" }

func typeToken(t packet.Type) string {
	switch t {
	case packet.TypeModeAC:
		return "Mode-AC"
	case packet.TypeModeSShort:
		return "Mode-S-short"
	case packet.TypeModeSLong:
		return "Mode-S-long"
	default:
		return ""
	}
}

func typeFromToken(s string) (packet.Type, bool) {
	switch s {
	case "Mode-AC":
		return packet.TypeModeAC, true
	case "Mode-S-short":
		return packet.TypeModeSShort, true
	case "Mode-S-long":
		return packet.TypeModeSLong, true
	default:
		return packet.TypeNone, false
	}
}

func (a *airspy) Decode(buf *buffer.Buffer) (*packet.Packet, int, error) {
	data := buf.Bytes()
	nl := bytes.IndexByte(data, '\n')
	if nl == -1 {
		if buf.Full() {
			return nil, 0, ErrUnrecognised
		}
		return nil, 0, ErrNeedMoreData
	}
	line := data[:nl]
	fields := bytes.Split(line, []byte(","))
	if len(fields) < 2 {
		return nil, 0, ErrUnrecognised
	}
	typ, ok := typeFromToken(string(fields[0]))
	if !ok {
		return nil, 0, ErrUnrecognised
	}
	payload := make([]byte, hex.DecodedLen(len(fields[1])))
	n, err := hex.Decode(payload, fields[1])
	if err != nil || n != packet.PayloadLen(typ) {
		return nil, 0, ErrUnrecognised
	}
	payload = payload[:n]

	p := &packet.Packet{Type: typ, Payload: payload}
	for _, kv := range fields[2:] {
		eq := bytes.IndexByte(kv, '=')
		if eq == -1 {
			continue
		}
		key, val := string(kv[:eq]), kv[eq+1:]
		switch key {
		case "mlat":
			raw, err := strconv.ParseUint(string(val), 16, 64)
			if err == nil {
				p.MLATTimestamp = a.mlat.ScaleIn(raw)
			}
		case "rssi":
			raw, err := strconv.ParseUint(string(val), 10, 32)
			if err == nil {
				p.RSSI = packet.ScaleRSSIIn(uint32(raw), airspyRSSIMax)
			}
		}
	}
	return p, nl + 1, nil
}

func (*airspy) Encode(pkt *packet.Packet, buf *buffer.Buffer) {
	token := typeToken(pkt.Type)
	if token == "" {
		return
	}
	line := make([]byte, 0, 64+len(pkt.Payload)*2)
	line = append(line, token...)
	line = append(line, ',')
	line = appendHex(line, pkt.Payload)
	if pkt.MLATTimestamp != 0 {
		line = append(line, ",mlat="...)
		line = append(line, strconv.FormatUint(mlatToRaw(pkt.MLATTimestamp), 16)...)
	}
	if pkt.RSSI != 0 {
		line = append(line, ",rssi="...)
		raw := uint64(pkt.RSSI) * uint64(airspyRSSIMax) / uint64(^uint32(0))
		line = append(line, strconv.FormatUint(raw, 10)...)
	}
	line = append(line, '\n')
	appendBytes(buf, line)
}

// mlatToRaw reverses the canonical-12MHz scale back into a 48-bit raw tick
// count for re-emission. Since airspy_adsb's declared rate equals the
// canonical rate, this is the identity modulo truncation to 48 bits.
func mlatToRaw(canonical uint64) uint64 {
	return canonical & airspyMLATMax
}
