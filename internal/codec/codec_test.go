package codec

import (
	"strings"
	"testing"

	"adsbus/internal/buffer"
	"adsbus/internal/packet"
)

func decodeAll(t *testing.T, dec Decoder, buf *buffer.Buffer) []*packet.Packet {
	t.Helper()
	var got []*packet.Packet
	for {
		pkt, n, err := dec.Decode(buf)
		if err == ErrNeedMoreData {
			return got
		}
		if err != nil {
			t.Fatalf("unexpected decode error: %v", err)
		}
		buf.Consume(n)
		if pkt != nil {
			got = append(got, pkt)
		}
	}
}

func TestRawRoundTrip(t *testing.T) {
	payload := []byte{0x8D, 0x48, 0x40, 0xD6, 0x20, 0x2C, 0xC3, 0x71, 0xC3, 0x2C, 0xE0, 0x57, 0x60, 0x98}
	enc := NewRawEncoder()
	buf := buffer.New()
	enc.Encode(&packet.Packet{Type: packet.TypeModeSLong, Payload: payload}, buf)

	dec := NewRawDecoder()
	got := decodeAll(t, dec, buf)
	if len(got) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(got))
	}
	if got[0].Type != packet.TypeModeSLong {
		t.Errorf("type = %v, want Mode-S long", got[0].Type)
	}
	if string(got[0].Payload) != string(payload) {
		t.Errorf("payload mismatch: %x != %x", got[0].Payload, payload)
	}
}

func TestRawLineFromSpecExample(t *testing.T) {
	line := "*8D4840D6202CC371C32CE0576098;"
	buf := buffer.New()
	buf.AppendFromReader(strings.NewReader(line))
	dec := NewRawDecoder()
	got := decodeAll(t, dec, buf)
	if len(got) != 1 || got[0].Type != packet.TypeModeSLong {
		t.Fatalf("expected one long Mode-S packet, got %+v", got)
	}
}

func TestBeastRoundTrip(t *testing.T) {
	payload := make([]byte, 7)
	for i := range payload {
		payload[i] = byte(0x1A + i) // deliberately include the escape byte
	}
	enc := NewBeastEncoder()
	buf := buffer.New()
	pkt := &packet.Packet{Type: packet.TypeModeSShort, Payload: payload, MLATTimestamp: 123456, RSSI: 1 << 31}
	enc.Encode(pkt, buf)

	dec := NewBeastDecoder()
	got := decodeAll(t, dec, buf)
	if len(got) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(got))
	}
	if string(got[0].Payload) != string(payload) {
		t.Errorf("payload mismatch after escape round trip: %x != %x", got[0].Payload, payload)
	}
}

func TestAirspyADSBRoundTrip(t *testing.T) {
	payload := []byte{0x8D, 0x48, 0x40, 0xD6, 0x20, 0x2C, 0xC3}
	enc := NewAirspyADSBEncoder()
	buf := buffer.New()
	enc.Encode(&packet.Packet{Type: packet.TypeModeSShort, Payload: payload, RSSI: 1 << 30}, buf)

	dec := NewAirspyADSBDecoder()
	got := decodeAll(t, dec, buf)
	if len(got) != 1 || got[0].Type != packet.TypeModeSShort {
		t.Fatalf("expected 1 short Mode-S packet, got %+v", got)
	}
}

func TestJSONHelloThenRecordRoundTrip(t *testing.T) {
	local := packet.SourceID(strings.Repeat("a", packet.SourceIDLen))
	remote := packet.SourceID(strings.Repeat("b", packet.SourceIDLen))

	enc := NewJSONEncoder(remote, 12, ^uint64(0), 255).(HelloGreeter)
	buf := buffer.New()
	enc.Hello(buf)
	encoder := NewJSONEncoder(remote, 12, ^uint64(0), 255)
	encoder.Encode(&packet.Packet{Type: packet.TypeModeAC, Payload: []byte{0x01, 0x02}, RSSI: 1 << 20}, buf)

	dec := NewJSONDecoder(local)
	got := decodeAll(t, dec, buf)
	if len(got) != 1 {
		t.Fatalf("expected 1 packet after header, got %d", len(got))
	}
	if got[0].Type != packet.TypeModeAC {
		t.Errorf("type = %v, want Mode-AC", got[0].Type)
	}
}

func TestJSONLoopDetection(t *testing.T) {
	selfID := packet.SourceID(strings.Repeat("c", packet.SourceIDLen))
	enc := NewJSONEncoder(selfID, 12, ^uint64(0), 255).(HelloGreeter)
	buf := buffer.New()
	enc.Hello(buf)

	dec := NewJSONDecoder(selfID)
	_, _, err := dec.Decode(buf)
	if err != ErrLoopDetected {
		t.Fatalf("expected ErrLoopDetected, got %v", err)
	}
}

func TestProtoRoundTrip(t *testing.T) {
	local := packet.SourceID(strings.Repeat("d", packet.SourceIDLen))
	remote := packet.SourceID(strings.Repeat("e", packet.SourceIDLen))

	enc := NewProtoEncoder(remote, 12, ^uint64(0), 255)
	buf := buffer.New()
	enc.(HelloGreeter).Hello(buf)
	enc.Encode(&packet.Packet{Type: packet.TypeModeSLong, Payload: make([]byte, 14), Hops: 3}, buf)

	dec := NewProtoDecoder(local)
	got := decodeAll(t, dec, buf)
	if len(got) != 1 || got[0].Hops != 3 {
		t.Fatalf("expected one packet with hops=3, got %+v", got)
	}
}

func TestAutoDetectLatchesRaw(t *testing.T) {
	local := packet.SourceID(strings.Repeat("f", packet.SourceIDLen))
	buf := buffer.New()
	buf.AppendFromReader(strings.NewReader("*8D4840D6202CC371C32CE0576098;*8D4840D6202CC371C32CE0576098;"))

	auto := NewAutoDetect(local)
	got := decodeAll(t, auto, buf)
	if len(got) != 2 {
		t.Fatalf("expected 2 packets once latched, got %d", len(got))
	}
	if auto.Name() != "raw" {
		t.Errorf("expected autodetect to latch onto raw, got %q", auto.Name())
	}
}

func TestAutoDetectRejectsGarbage(t *testing.T) {
	local := packet.SourceID(strings.Repeat("g", packet.SourceIDLen))
	buf := buffer.New()
	buf.AppendFromReader(strings.NewReader("not a known framing at all\n"))

	auto := NewAutoDetect(local)
	_, _, err := auto.Decode(buf)
	if err == nil {
		t.Fatal("expected a protocol error for unrecognisable input")
	}
}

func TestStatsEmitsEveryThousand(t *testing.T) {
	enc := NewStatsEncoder()
	buf := buffer.New()
	for i := 0; i < 999; i++ {
		enc.Encode(&packet.Packet{Type: packet.TypeModeSShort}, buf)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no output before the 1000th packet, got %d bytes", buf.Len())
	}
	enc.Encode(&packet.Packet{Type: packet.TypeModeSShort}, buf)
	if buf.Len() == 0 {
		t.Fatal("expected a stats snapshot on the 1000th packet")
	}
}
