package codec

import (
	"bytes"
	"encoding/hex"
	"encoding/json"

	"adsbus/internal/buffer"
	"adsbus/internal/buserr"
	"adsbus/internal/packet"
)

// jsonMagic identifies the header line of a JSON-format stream. Any other
// leading token on the first line means this is not our format at all, so
// autodetect can move on without spending a protocol error on it.
const jsonMagic = "aDsB"

// ServerVersion is reported in every JSON and proto hello header.
const ServerVersion = "adsbus/1.0"

type jsonHeader struct {
	Magic            string `json:"magic"`
	ServerID         string `json:"server_id"`
	ServerVersion    string `json:"server_version"`
	MLATTimestampMHz uint16 `json:"mlat_timestamp_mhz"`
	MLATTimestampMax uint64 `json:"mlat_timestamp_max"`
	RSSIMax          uint32 `json:"rssi_max"`
}

type jsonRecord struct {
	Type          string  `json:"type"`
	Payload       string  `json:"payload"`
	SourceID      string  `json:"source_id,omitempty"`
	Hops          uint16  `json:"hops,omitempty"`
	MLATTimestamp *uint64 `json:"mlat_timestamp,omitempty"`
	RSSI          *uint32 `json:"rssi,omitempty"`
}

// jsonCodec implements both the JSON decoder and encoder: one newline-
// delimited JSON value per message, a header object first, then zero or
// more record objects.
type jsonCodec struct {
	localServerID packet.SourceID

	// encode-side hello parameters
	mhz     uint16
	max     uint64
	rssiMax uint32

	// decode-side state
	haveHeader  bool
	mlat        *packet.Rescaler
	peerRSSIMax uint32
}

// NewJSONDecoder returns a fresh JSON stream parser. localServerID is
// compared against every header's announced server_id to detect routing
// loops.
func NewJSONDecoder(localServerID packet.SourceID) Decoder {
	return &jsonCodec{localServerID: localServerID}
}

// NewJSONEncoder returns a fresh JSON stream serializer that announces the
// given canonical MLAT/RSSI parameters in its hello header.
func NewJSONEncoder(localServerID packet.SourceID, mhz uint16, max uint64, rssiMax uint32) Encoder {
	return &jsonCodec{localServerID: localServerID, mhz: mhz, max: max, rssiMax: rssiMax}
}

func (*jsonCodec) Name() string { return "json" }

func (j *jsonCodec) Decode(buf *buffer.Buffer) (*packet.Packet, int, error) {
	data := buf.Bytes()
	nl := bytes.IndexByte(data, '\n')
	if nl == -1 {
		if buf.Full() {
			return nil, 0, ErrUnrecognised
		}
		return nil, 0, ErrNeedMoreData
	}
	line := bytes.TrimSpace(data[:nl])
	if len(line) == 0 || line[0] != '{' {
		return nil, 0, ErrUnrecognised
	}

	var probe struct {
		Magic string `json:"magic"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, 0, ErrUnrecognised
	}

	if probe.Magic != "" {
		if probe.Magic != jsonMagic {
			return nil, 0, ErrUnrecognised
		}
		var hdr jsonHeader
		if err := json.Unmarshal(line, &hdr); err != nil {
			return nil, 0, buserr.NewProtocolError("malformed json header", err)
		}
		id := packet.SourceID(hdr.ServerID)
		if !id.Valid() {
			return nil, 0, buserr.NewProtocolError("json header has invalid server_id", nil)
		}
		if id == j.localServerID {
			return nil, 0, ErrLoopDetected
		}
		j.haveHeader = true
		j.mlat = packet.NewRescaler(hdr.MLATTimestampMHz, hdr.MLATTimestampMax)
		j.peerRSSIMax = hdr.RSSIMax
		return nil, nl + 1, nil
	}

	if !j.haveHeader {
		return nil, 0, buserr.NewProtocolError("json record received before header", nil)
	}

	var rec jsonRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, 0, buserr.NewProtocolError("malformed json record", err)
	}
	typ, ok := packet.ParseWireName(rec.Type)
	if !ok {
		return nil, 0, buserr.NewProtocolError("json record has unknown type "+rec.Type, nil)
	}
	payload := make([]byte, hex.DecodedLen(len(rec.Payload)))
	n, err := hex.Decode(payload, []byte(rec.Payload))
	if err != nil || n != packet.PayloadLen(typ) {
		return nil, 0, buserr.NewProtocolError("json record has malformed payload", err)
	}
	p := &packet.Packet{Type: typ, Payload: payload[:n], Hops: rec.Hops}
	if rec.SourceID != "" {
		p.SourceID = packet.SourceID(rec.SourceID)
	}
	if rec.MLATTimestamp != nil {
		p.MLATTimestamp = j.mlat.ScaleIn(*rec.MLATTimestamp)
	}
	if rec.RSSI != nil {
		p.RSSI = packet.ScaleRSSIIn(*rec.RSSI, j.peerRSSIMax)
	}
	return p, nl + 1, nil
}

func (j *jsonCodec) Hello(buf *buffer.Buffer) {
	hdr := jsonHeader{
		Magic:            jsonMagic,
		ServerID:         string(j.localServerID),
		ServerVersion:    ServerVersion,
		MLATTimestampMHz: j.mhz,
		MLATTimestampMax: j.max,
		RSSIMax:          j.rssiMax,
	}
	line, err := json.Marshal(hdr)
	if err != nil {
		return
	}
	line = append(line, '\n')
	appendBytes(buf, line)
}

func (*jsonCodec) Encode(pkt *packet.Packet, buf *buffer.Buffer) {
	rec := jsonRecord{
		Type:     pkt.Type.WireName(),
		Payload:  hex.EncodeToString(pkt.Payload),
		SourceID: string(pkt.SourceID),
		Hops:     pkt.Hops,
	}
	if pkt.MLATTimestamp != 0 {
		v := pkt.MLATTimestamp
		rec.MLATTimestamp = &v
	}
	if pkt.RSSI != 0 {
		v := pkt.RSSI
		rec.RSSI = &v
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return
	}
	line = append(line, '\n')
	appendBytes(buf, line)
}
