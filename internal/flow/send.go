package flow

import (
	"fmt"
	"log/slog"

	"adsbus/internal/buffer"
	"adsbus/internal/codec"
	"adsbus/internal/evloop"
	"adsbus/internal/packet"
	"adsbus/internal/sockopt"
	"adsbus/internal/transport"

	"golang.org/x/sys/unix"
)

// Send is one subscriber of one wire format: a connected transport plus
// the format it wants every broadcast packet serialized into.
type Send struct {
	loop    *evloop.Loop
	conn    *transport.Conn
	format  string
	id      packet.SourceID
	log     *slog.Logger
	onClose func(*Send)
	closed  bool
}

func (s *Send) FD() int { return s.conn.FD() }

// HandleEvent fires when the peer becomes readable, which on a pure send
// connection only ever means it sent data we don't expect, or it closed.
// Unexpected data is read and discarded and the subscription continues;
// end of stream or a read error ends the subscription.
func (s *Send) HandleEvent(mask uint32) {
	var discard [64]byte
	n, err := s.conn.Read(discard[:])
	if n > 0 && err == nil {
		return
	}
	s.Close()
}

// Close tears the subscription down idempotently.
func (s *Send) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.loop.Remove(s)
	s.conn.Close()
	if s.onClose != nil {
		s.onClose(s)
	}
}

// Bus is the send-side registry: one persistent encoder per registered
// format, and a fixed-order list of subscribers per format. Broadcast
// encodes a packet once per format that has at least one subscriber and
// fans that single buffer out to every subscriber of that format,
// mirroring the original bus's "one serialize() call feeds every matching
// socket" design so stats counters advance once per packet, not once per
// subscriber.
type Bus struct {
	loop *evloop.Loop
	log  *slog.Logger

	localServerID packet.SourceID
	mhz           uint16
	max           uint64
	rssiMax       uint32

	encoders map[string]codec.Encoder
	subs     map[string][]*Send
}

// NewBus builds one encoder instance per format in codec.Names with a send
// side (every format except "auto", which is receive-only).
func NewBus(loop *evloop.Loop, log *slog.Logger, localServerID packet.SourceID, mhz uint16, max uint64, rssiMax uint32) *Bus {
	b := &Bus{
		loop:          loop,
		log:           log,
		localServerID: localServerID,
		mhz:           mhz,
		max:           max,
		rssiMax:       rssiMax,
		encoders:      make(map[string]codec.Encoder),
		subs:          make(map[string][]*Send),
	}
	for _, name := range codec.Names {
		if enc, ok := codec.NewEncoder(name, localServerID, mhz, max, rssiMax); ok {
			b.encoders[name] = enc
		}
	}
	return b
}

// HasEncoder reports whether format has a send-side encoder registered
// (every format except "auto", which is receive-only).
func (b *Bus) HasEncoder(format string) bool {
	_, ok := b.encoders[format]
	return ok
}

// Hello returns format's hello greeting bytes, or nil if format has no
// send-side encoder or that encoder defines no greeting. Callers that must
// transmit the greeting themselves before handing a connection to
// Subscribe (the outgoing connector's TCP Fast Open payload, the incoming
// listener's synchronous post-accept write) use this instead of
// duplicating the bus's per-format encoder lookup.
func (b *Bus) Hello(format string) []byte {
	enc, ok := b.encoders[format]
	if !ok {
		return nil
	}
	greeter, ok := enc.(codec.HelloGreeter)
	if !ok {
		return nil
	}
	buf := buffer.New()
	greeter.Hello(buf)
	if buf.Len() == 0 {
		return nil
	}
	return append([]byte(nil), buf.Bytes()...)
}

// Subscribe adds conn as a subscriber of format, sending its hello
// greeting (if the format has one) before returning. onClose is called
// once the subscription ends for any reason. helloSent should be true when
// the caller already transmitted the format's hello greeting itself (the
// outgoing connector folds it into the TCP Fast Open SYN payload, and the
// incoming listener writes it synchronously right after accept); Subscribe
// writes it here otherwise, so every subscriber sees the greeting exactly
// once regardless of which path established its connection.
func (b *Bus) Subscribe(conn *transport.Conn, format string, id packet.SourceID, helloSent bool, onClose func(*Send)) (*Send, error) {
	enc, ok := b.encoders[format]
	if !ok {
		return nil, fmt.Errorf("flow: format %q has no send-side encoder", format)
	}

	if !helloSent {
		if greeter, ok := enc.(codec.HelloGreeter); ok {
			buf := buffer.New()
			greeter.Hello(buf)
			if buf.Len() > 0 {
				if err := writeAll(conn, buf.Bytes()); err != nil {
					conn.Close()
					return nil, fmt.Errorf("flow: writing hello to new %s subscriber: %w", format, err)
				}
			}
		}
	}

	s := &Send{loop: b.loop, conn: conn, format: format, id: id, log: b.log, onClose: onClose}

	// A write-only regular file is never meaningfully "readable": unlike a
	// socket or pipe, where EPOLLIN signals the peer sent something
	// unexpected or hung up, epoll_ctl(2) refuses a regular file outright
	// (EPERM) and the reactor's always-trigger fallback would call
	// HandleEvent on every single iteration, where a doomed read(2) on a
	// write-only fd would tear the subscription down immediately. A file
	// sink has no peer to hang up, so it skips event-loop registration
	// entirely and just sits in the bus's subscriber list until the
	// process exits.
	if conn.Kind() != "file" {
		sockopt.ReadyForSendOnly(conn.FD())
		if err := b.loop.Add(s, unix.EPOLLIN); err != nil {
			conn.Close()
			return nil, err
		}
	}
	b.subs[format] = append(b.subs[format], s)
	b.log.Info("new send connection", "source", string(id), "format", format)
	return s, nil
}

// AddPassiveSubscriber registers conn as a subscriber of format without
// registering it with the event loop or taking ownership of its lifecycle:
// it's for a caller (Duplex) that already owns a single epoll registration
// for conn and must not create a second, conflicting one. The returned
// *Send is a bookkeeping handle for Broadcast's subscriber list only; the
// caller is responsible for eventually calling Unsubscribe and for closing
// conn itself.
func (b *Bus) AddPassiveSubscriber(conn *transport.Conn, format string, id packet.SourceID, helloSent bool) (*Send, error) {
	enc, ok := b.encoders[format]
	if !ok {
		return nil, fmt.Errorf("flow: format %q has no send-side encoder", format)
	}

	if !helloSent {
		if greeter, ok := enc.(codec.HelloGreeter); ok {
			buf := buffer.New()
			greeter.Hello(buf)
			if buf.Len() > 0 {
				if err := writeAll(conn, buf.Bytes()); err != nil {
					return nil, fmt.Errorf("flow: writing hello to new %s subscriber: %w", format, err)
				}
			}
		}
	}

	s := &Send{loop: b.loop, conn: conn, format: format, id: id, log: b.log}
	b.subs[format] = append(b.subs[format], s)
	b.log.Info("new send connection", "source", string(id), "format", format)
	return s, nil
}

// unsubscribe removes s from its format's subscriber list. Called by
// runtime wiring from the Send's onClose callback.
func (b *Bus) Unsubscribe(s *Send) {
	list := b.subs[s.format]
	for i, cand := range list {
		if cand == s {
			b.subs[s.format] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Broadcast encodes pkt once per format with at least one live subscriber
// and writes that buffer to every subscriber of that format. A subscriber
// whose write doesn't complete in full is shut down in both directions;
// the reactor will observe that as readiness and tear it down on the next
// iteration, exactly like a peer-initiated close.
func (b *Bus) Broadcast(pkt *packet.Packet) {
	for _, name := range codec.Names {
		list := b.subs[name]
		if len(list) == 0 {
			continue
		}
		enc := b.encoders[name]
		buf := buffer.New()
		enc.Encode(pkt, buf)
		if buf.Len() == 0 {
			continue
		}
		data := buf.Bytes()
		for _, s := range list {
			if s.closed {
				continue
			}
			if s.id == pkt.SourceID {
				// Never echo a packet back down the same connection it
				// arrived on; that connection's Duplex receive side
				// already has it.
				continue
			}
			if err := writeAll(s.conn, data); err != nil {
				sockopt.ShutdownSendSide(s.conn.FD())
				sockopt.ShutdownReceiveSide(s.conn.FD())
			}
		}
	}
}

// writeAll requires the whole buffer to land in one write(2); a subscriber
// slow enough to block the non-blocking socket (EAGAIN) or to only accept
// part of the buffer is backpressuring the bus and gets disconnected
// rather than queued or retried, matching the bus's "disconnect slow
// consumers" policy.
func writeAll(conn *transport.Conn, data []byte) error {
	n, err := conn.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	return nil
}
