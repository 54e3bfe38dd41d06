// Package flow implements the two packet registries the bus's reactor
// drives every ingested and emitted message through: Receive (one per
// ingest transport, decoding bytes into packets and handing them to a
// callback) and Send (grouped by wire format, broadcasting one encoded
// buffer per format per packet to every subscriber of that format).
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

// Receive decodes one ingest transport's byte stream into packets.
type Receive struct {
	loop    *evloop.Loop
	conn    *transport.Conn
	decoder codec.Decoder
	buf     *buffer.Buffer

	id      packet.SourceID
	log     *slog.Logger
	onPkt   func(*packet.Packet)
	onClose func(*Receive)

	closed bool
}

// NewReceive registers conn with loop and begins decoding with decoder.
// id is stamped onto every packet that doesn't already carry an upstream
// source id (i.e. one decoded fresh here, as opposed to one forwarded from
// a multi-hop JSON/proto peer). onPkt is called for each decoded packet;
// onClose once, when the flow tears down for any reason.
func NewReceive(loop *evloop.Loop, conn *transport.Conn, decoder codec.Decoder, id packet.SourceID, log *slog.Logger, onPkt func(*packet.Packet), onClose func(*Receive)) (*Receive, error) {
	r := &Receive{
		loop:    loop,
		conn:    conn,
		decoder: decoder,
		buf:     buffer.New(),
		id:      id,
		log:     log,
		onPkt:   onPkt,
		onClose: onClose,
	}
	if err := loop.Add(r, unix.EPOLLIN); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Receive) FD() int { return r.conn.FD() }

func (r *Receive) HandleEvent(mask uint32) {
	if r.closed {
		return
	}
	for {
		n, err := r.buf.AppendFromReader(r.conn)
		if n > 0 {
			r.drain()
			if r.closed {
				return
			}
		}
		if err == nil {
			continue
		}
		if err == buffer.ErrFull {
			// The decoder itself is responsible for rejecting a stream
			// that never produces a complete message; see drain().
			return
		}
		if transport.WouldBlock(err) {
			return
		}
		if err == io.EOF {
			r.log.Info("connection closed", "source", string(r.id))
		} else {
			r.log.Warn("read failed", "source", string(r.id), "error", err)
		}
		r.Close()
		return
	}
}

// drain decodes every complete message currently buffered.
func (r *Receive) drain() {
	for {
		pkt, n, err := r.decoder.Decode(r.buf)
		if err == nil {
			r.buf.Consume(n)
			if pkt != nil {
				if pkt.SourceID == "" {
					pkt.SourceID = r.id
				} else {
					pkt.Hops++
				}
				r.onPkt(pkt)
			}
			continue
		}
		if errors.Is(err, codec.ErrNeedMoreData) {
			return
		}
		if errors.Is(err, codec.ErrLoopDetected) {
			r.log.Info("loop detected, closing", "source", string(r.id))
			r.Close()
			return
		}
		var protoErr *buserr.ProtocolError
		if errors.As(err, &protoErr) {
			r.log.Warn("protocol error", "source", string(r.id), "error", err)
		} else {
			r.log.Warn("decode failed", "source", string(r.id), "error", err)
		}
		r.Close()
		return
	}
}

// Close tears the flow down idempotently.
func (r *Receive) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.loop.Remove(r)
	r.conn.Close()
	if r.onClose != nil {
		r.onClose(r)
	}
}

// ID returns the source id this flow stamps onto freshly-decoded packets.
func (r *Receive) ID() packet.SourceID { return r.id }
