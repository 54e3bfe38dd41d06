package codec

import (
	"encoding/binary"

	"adsbus/internal/buffer"
	"adsbus/internal/buserr"
	"adsbus/internal/packet"
)

// proto is a length-delimited binary encoding of the same fields the JSON
// format carries: a 4-byte big-endian frame length, followed by a 1-byte
// frame kind (0 = header, else a packet.Type value), followed by the
// frame body.
//
// Header body: 28-byte server id, 2-byte mhz, 8-byte max, 4-byte rssi_max.
// Record body: 28-byte source id, 2-byte hops, 1-byte presence flags
// (bit0 mlat, bit1 rssi), 8-byte mlat, 4-byte rssi, payload.
const (
	protoFrameKindHeader = 0

	protoFlagMLAT = 1 << 0
	protoFlagRSSI = 1 << 1
)

const protoLenPrefix = 4

type protoCodec struct {
	localServerID packet.SourceID

	mhz     uint16
	max     uint64
	rssiMax uint32

	haveHeader  bool
	mlat        *packet.Rescaler
	peerRSSIMax uint32
}

// NewProtoDecoder returns a fresh proto stream parser.
func NewProtoDecoder(localServerID packet.SourceID) Decoder {
	return &protoCodec{localServerID: localServerID}
}

// NewProtoEncoder returns a fresh proto stream serializer.
func NewProtoEncoder(localServerID packet.SourceID, mhz uint16, max uint64, rssiMax uint32) Encoder {
	return &protoCodec{localServerID: localServerID, mhz: mhz, max: max, rssiMax: rssiMax}
}

func (*protoCodec) Name() string { return "proto" }

func (p *protoCodec) Decode(buf *buffer.Buffer) (*packet.Packet, int, error) {
	data := buf.Bytes()
	if len(data) < protoLenPrefix {
		return nil, 0, ErrNeedMoreData
	}
	frameLen := binary.BigEndian.Uint32(data[:protoLenPrefix])
	if frameLen == 0 || frameLen > buffer.MaxLen {
		return nil, 0, ErrUnrecognised
	}
	total := protoLenPrefix + int(frameLen)
	if len(data) < total {
		if total > buffer.MaxLen {
			return nil, 0, ErrUnrecognised
		}
		return nil, 0, ErrNeedMoreData
	}
	body := data[protoLenPrefix:total]
	if len(body) < 1 {
		return nil, 0, ErrUnrecognised
	}
	kind := body[0]
	body = body[1:]

	if kind == protoFrameKindHeader {
		if len(body) != packet.SourceIDLen+2+8+4 {
			return nil, 0, buserr.NewProtocolError("malformed proto header", nil)
		}
		id := packet.SourceID(body[:packet.SourceIDLen])
		if !id.Valid() {
			return nil, 0, buserr.NewProtocolError("proto header has invalid server id", nil)
		}
		if id == p.localServerID {
			return nil, 0, ErrLoopDetected
		}
		off := packet.SourceIDLen
		mhz := binary.BigEndian.Uint16(body[off:])
		off += 2
		max := binary.BigEndian.Uint64(body[off:])
		off += 8
		rssiMax := binary.BigEndian.Uint32(body[off:])

		p.haveHeader = true
		p.mlat = packet.NewRescaler(mhz, max)
		p.peerRSSIMax = rssiMax
		return nil, total, nil
	}

	typ := packet.Type(kind)
	if packet.PayloadLen(typ) == 0 && typ != packet.TypeNone {
		return nil, 0, buserr.NewProtocolError("proto record has unknown type", nil)
	}
	if !p.haveHeader {
		return nil, 0, buserr.NewProtocolError("proto record received before header", nil)
	}
	want := packet.SourceIDLen + 2 + 1 + 8 + 4 + packet.PayloadLen(typ)
	if len(body) != want {
		return nil, 0, buserr.NewProtocolError("malformed proto record", nil)
	}

	off := 0
	sourceID := packet.SourceID(body[off : off+packet.SourceIDLen])
	off += packet.SourceIDLen
	hops := binary.BigEndian.Uint16(body[off:])
	off += 2
	flags := body[off]
	off++
	rawMLAT := binary.BigEndian.Uint64(body[off:])
	off += 8
	rawRSSI := binary.BigEndian.Uint32(body[off:])
	off += 4
	payload := append([]byte(nil), body[off:]...)

	pkt := &packet.Packet{Type: typ, Payload: payload, Hops: hops}
	if sourceID.Valid() {
		pkt.SourceID = sourceID
	}
	if flags&protoFlagMLAT != 0 {
		pkt.MLATTimestamp = p.mlat.ScaleIn(rawMLAT)
	}
	if flags&protoFlagRSSI != 0 {
		pkt.RSSI = packet.ScaleRSSIIn(rawRSSI, p.peerRSSIMax)
	}
	return pkt, total, nil
}

func (p *protoCodec) Hello(buf *buffer.Buffer) {
	body := make([]byte, 0, 1+packet.SourceIDLen+2+8+4)
	body = append(body, protoFrameKindHeader)
	body = append(body, []byte(p.localServerID)...)
	var tmp2 [2]byte
	binary.BigEndian.PutUint16(tmp2[:], p.mhz)
	body = append(body, tmp2[:]...)
	var tmp8 [8]byte
	binary.BigEndian.PutUint64(tmp8[:], p.max)
	body = append(body, tmp8[:]...)
	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], p.rssiMax)
	body = append(body, tmp4[:]...)
	writeProtoFrame(buf, body)
}

func (*protoCodec) Encode(pkt *packet.Packet, buf *buffer.Buffer) {
	body := make([]byte, 0, 1+packet.SourceIDLen+2+1+8+4+len(pkt.Payload))
	body = append(body, byte(pkt.Type))

	sourceID := pkt.SourceID
	if len(sourceID) != packet.SourceIDLen {
		sourceID = packet.SourceID(make([]byte, packet.SourceIDLen))
	}
	body = append(body, []byte(sourceID)...)

	var tmp2 [2]byte
	binary.BigEndian.PutUint16(tmp2[:], pkt.Hops)
	body = append(body, tmp2[:]...)

	var flags byte
	if pkt.MLATTimestamp != 0 {
		flags |= protoFlagMLAT
	}
	if pkt.RSSI != 0 {
		flags |= protoFlagRSSI
	}
	body = append(body, flags)

	var tmp8 [8]byte
	binary.BigEndian.PutUint64(tmp8[:], pkt.MLATTimestamp)
	body = append(body, tmp8[:]...)

	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], pkt.RSSI)
	body = append(body, tmp4[:]...)

	body = append(body, pkt.Payload...)
	writeProtoFrame(buf, body)
}

func writeProtoFrame(buf *buffer.Buffer, body []byte) {
	out := make([]byte, protoLenPrefix+len(body))
	binary.BigEndian.PutUint32(out[:protoLenPrefix], uint32(len(body)))
	copy(out[protoLenPrefix:], body)
	appendBytes(buf, out)
}
