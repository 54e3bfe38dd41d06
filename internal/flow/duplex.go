package flow

import (
	"errors"
	"io"
	"log/slog"

	"adsbus/internal/buffer"
	"adsbus/internal/buserr"
	"adsbus/internal/codec"
	"adsbus/internal/evloop"
	"adsbus/internal/packet"
	"adsbus/internal/transport"

	"golang.org/x/sys/unix"
)

// Duplex is a single connected fd that is both a Receive and a Send for
// the same format: exactly what an outgoing connector or incoming
// listener endpoint needs, since the underlying socket can only ever hold
// one epoll registration. Decoded packets are broadcast to the rest of
// the bus; packets the bus broadcasts are in turn written back out to
// this connection through its own Bus.AddPassiveSubscriber entry, except
// the one packet that just arrived on it (Broadcast's own echo guard).
type Duplex struct {
	loop    *evloop.Loop
	bus     *Bus
	conn    *transport.Conn
	decoder codec.Decoder // nil if format has no receive-side parser
	send    *Send         // nil if format has no send-side encoder
	buf     *buffer.Buffer

	format  string
	id      packet.SourceID
	log     *slog.Logger
	onClose func(*Duplex)
	closed  bool
}

// NewDuplex registers conn with loop once and wires it as both directions
// of format. decoder may be nil (format is send-only, e.g. "stats");
// bus.HasEncoder(format) determines whether a send-side subscription is
// also created. helloSent mirrors Bus.Subscribe's parameter: true when the
// caller already transmitted the hello itself (TCP Fast Open, or a
// listener's synchronous post-accept write).
func NewDuplex(loop *evloop.Loop, bus *Bus, conn *transport.Conn, format string, decoder codec.Decoder, id packet.SourceID, helloSent bool, log *slog.Logger, onClose func(*Duplex)) (*Duplex, error) {
	d := &Duplex{
		loop:    loop,
		bus:     bus,
		conn:    conn,
		decoder: decoder,
		format:  format,
		id:      id,
		log:     log,
		onClose: onClose,
	}
	if decoder != nil {
		d.buf = buffer.New()
	}
	if bus.HasEncoder(format) {
		s, err := bus.AddPassiveSubscriber(conn, format, id, helloSent)
		if err != nil {
			return nil, err
		}
		d.send = s
	}
	if err := loop.Add(d, unix.EPOLLIN); err != nil {
		if d.send != nil {
			bus.Unsubscribe(d.send)
		}
		return nil, err
	}
	return d, nil
}

func (d *Duplex) FD() int { return d.conn.FD() }

// HandleEvent drains and decodes available bytes, exactly like Receive,
// when this format has a decoder; for a send-only format (no decoder) it
// falls back to Send's policy: unexpected input is discarded, and end of
// stream or a read error closes the connection.
func (d *Duplex) HandleEvent(mask uint32) {
	if d.closed {
		return
	}
	if d.decoder == nil {
		var discard [64]byte
		n, err := d.conn.Read(discard[:])
		if n > 0 && err == nil {
			return
		}
		d.Close()
		return
	}

	for {
		n, err := d.buf.AppendFromReader(d.conn)
		if n > 0 {
			d.drain()
			if d.closed {
				return
			}
		}
		if err == nil {
			continue
		}
		if err == buffer.ErrFull {
			return
		}
		if transport.WouldBlock(err) {
			return
		}
		if err == io.EOF {
			d.log.Info("connection closed", "source", string(d.id))
		} else {
			d.log.Warn("read failed", "source", string(d.id), "error", err)
		}
		d.Close()
		return
	}
}

func (d *Duplex) drain() {
	for {
		pkt, n, err := d.decoder.Decode(d.buf)
		if err == nil {
			d.buf.Consume(n)
			if pkt != nil {
				if pkt.SourceID == "" {
					pkt.SourceID = d.id
				} else {
					pkt.Hops++
				}
				d.bus.Broadcast(pkt)
			}
			continue
		}
		if errors.Is(err, codec.ErrNeedMoreData) {
			return
		}
		if errors.Is(err, codec.ErrLoopDetected) {
			d.log.Info("loop detected, closing", "source", string(d.id))
			d.Close()
			return
		}
		var protoErr *buserr.ProtocolError
		if errors.As(err, &protoErr) {
			d.log.Warn("protocol error", "source", string(d.id), "error", err)
		} else {
			d.log.Warn("decode failed", "source", string(d.id), "error", err)
		}
		d.Close()
		return
	}
}

// Close tears the connection down idempotently: removes the single epoll
// registration, drops the send-side bookkeeping entry (if any), closes
// the fd, and notifies the caller.
func (d *Duplex) Close() {
	if d.closed {
		return
	}
	d.closed = true
	d.loop.Remove(d)
	if d.send != nil {
		d.bus.Unsubscribe(d.send)
	}
	d.conn.Close()
	if d.onClose != nil {
		d.onClose(d)
	}
}

// ID returns the source id this duplex stamps onto freshly-decoded
// packets and uses for its own send-side bookkeeping entry.
func (d *Duplex) ID() packet.SourceID { return d.id }
