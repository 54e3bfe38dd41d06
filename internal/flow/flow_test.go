package flow

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"adsbus/internal/codec"
	"adsbus/internal/evloop"
	"adsbus/internal/packet"
	"adsbus/internal/transport"

	"golang.org/x/sys/unix"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func socketpairConns(t *testing.T) (*transport.Conn, *transport.Conn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	return transport.New(fds[0], "test"), transport.New(fds[1], "test")
}

func newLoop(t *testing.T) *evloop.Loop {
	t.Helper()
	loop, err := evloop.New(discardLogger())
	if err != nil {
		t.Fatalf("evloop.New: %v", err)
	}
	return loop
}

func TestReceiveDecodesRawLine(t *testing.T) {
	loop := newLoop(t)
	ours, theirs := socketpairConns(t)
	defer theirs.Close()

	var got []*packet.Packet
	id := packet.SourceID(strings.Repeat("r", packet.SourceIDLen))
	rf, err := NewReceive(loop, ours, codec.NewRawDecoder(), id, discardLogger(), func(p *packet.Packet) {
		got = append(got, p)
	}, nil)
	if err != nil {
		t.Fatalf("NewReceive: %v", err)
	}
	defer rf.Close()

	if _, err := theirs.Write([]byte("*8D4840D6202CC371C32CE0576098;")); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	rf.HandleEvent(unix.EPOLLIN)

	if len(got) != 1 {
		t.Fatalf("expected 1 decoded packet, got %d", len(got))
	}
	if got[0].SourceID != id {
		t.Errorf("expected fresh packet stamped with flow id %q, got %q", id, got[0].SourceID)
	}
}

func TestBusBroadcastsToMatchingFormatOnly(t *testing.T) {
	loop := newLoop(t)
	localID := packet.SourceID(strings.Repeat("b", packet.SourceIDLen))
	bus := NewBus(loop, discardLogger(), localID, 12, ^uint64(0), 255)

	rawOurs, rawTheirs := socketpairConns(t)
	defer rawTheirs.Close()
	jsonOurs, jsonTheirs := socketpairConns(t)
	defer jsonTheirs.Close()

	subID1 := packet.SourceID(strings.Repeat("1", packet.SourceIDLen))
	subID2 := packet.SourceID(strings.Repeat("2", packet.SourceIDLen))

	if _, err := bus.Subscribe(rawOurs, "raw", subID1, false, bus.Unsubscribe); err != nil {
		t.Fatalf("Subscribe raw: %v", err)
	}
	if _, err := bus.Subscribe(jsonOurs, "json", subID2, false, bus.Unsubscribe); err != nil {
		t.Fatalf("Subscribe json: %v", err)
	}

	// The json subscriber should already have its hello header waiting.
	helloBuf := make([]byte, 4096)
	n, err := jsonTheirs.Read(helloBuf)
	if err != nil || n == 0 {
		t.Fatalf("expected a json hello header, got n=%d err=%v", n, err)
	}
	if !strings.Contains(string(helloBuf[:n]), "aDsB") {
		t.Errorf("hello header missing magic: %q", helloBuf[:n])
	}

	bus.Broadcast(&packet.Packet{Type: packet.TypeModeAC, Payload: []byte{0x01, 0x02}})

	rawBuf := make([]byte, 4096)
	n, err = rawTheirs.Read(rawBuf)
	if err != nil || n == 0 {
		t.Fatalf("expected raw subscriber to receive a line, got n=%d err=%v", n, err)
	}
	if rawBuf[0] != '@' {
		t.Errorf("expected a Mode-AC raw line starting with '@', got %q", rawBuf[:n])
	}
}

func TestBusSharesStatsCounterAcrossSubscribers(t *testing.T) {
	loop := newLoop(t)
	localID := packet.SourceID(strings.Repeat("s", packet.SourceIDLen))
	bus := NewBus(loop, discardLogger(), localID, 12, ^uint64(0), 255)

	ours1, theirs1 := socketpairConns(t)
	defer theirs1.Close()
	ours2, theirs2 := socketpairConns(t)
	defer theirs2.Close()

	id1 := packet.SourceID(strings.Repeat("1", packet.SourceIDLen))
	id2 := packet.SourceID(strings.Repeat("2", packet.SourceIDLen))
	if _, err := bus.Subscribe(ours1, "stats", id1, false, bus.Unsubscribe); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := bus.Subscribe(ours2, "stats", id2, false, bus.Unsubscribe); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for i := 0; i < 999; i++ {
		bus.Broadcast(&packet.Packet{Type: packet.TypeModeSShort, Payload: make([]byte, 7)})
	}
	buf := make([]byte, 16)
	if _, err := theirs1.Read(buf); !transport.WouldBlock(err) {
		t.Fatalf("expected no stats output before the 1000th packet, got err=%v", err)
	}

	bus.Broadcast(&packet.Packet{Type: packet.TypeModeSShort, Payload: make([]byte, 7)})

	n, err := theirs1.Read(buf)
	if err != nil || n == 0 {
		t.Fatalf("expected a stats snapshot on subscriber 1 at the 1000th packet, got n=%d err=%v", n, err)
	}
	n, err = theirs2.Read(buf)
	if err != nil || n == 0 {
		t.Fatalf("expected the same snapshot fanned out to subscriber 2, got n=%d err=%v", n, err)
	}
}
