// Package connector implements the bus's outgoing half: given a node/service
// to reach, it resolves the name, walks the resulting address list trying a
// non-blocking connect to each in turn, and on success hands the established
// connection off to the caller. A connection that fails to establish, or
// that later disconnects, is retried forever with exponential backoff.
package connector

import (
	"fmt"
	"log/slog"
	"net"

	"adsbus/internal/evloop"
	"adsbus/internal/packet"
	"adsbus/internal/sockopt"
	"adsbus/internal/transport"

	"golang.org/x/sys/unix"
)

// Attach is called once a TCP connection has been established. It owns conn
// from that point on (normally by wiring it into a flow.Receive and/or
// flow.Bus.Subscribe) and must arrange for onDisconnect to be invoked
// exactly once, whenever that ownership ends, so the connector can schedule
// a reconnect.
type Attach func(conn *transport.Conn, id packet.SourceID, onDisconnect func())

// Connector drives one configured outgoing endpoint's connect/retry state
// machine for as long as the process runs.
type Connector struct {
	loop     *evloop.Loop
	resolver *evloop.Resolver
	log      *slog.Logger

	id      packet.SourceID
	node    string
	service string
	attempt int

	hello  func() []byte
	attach Attach

	token *bool

	addrs   []*net.TCPAddr
	addrIdx int
	fd      int

	onEvent func(mask uint32)
}

// New creates a connector for node/service and immediately begins
// resolving it. hello, if non-nil, is called fresh for every connection
// attempt and its result (if any) is combined with the connect using
// TCP_FASTOPEN; pass nil for a connector that only ever receives.
func New(loop *evloop.Loop, resolver *evloop.Resolver, log *slog.Logger, id packet.SourceID, node, service string, hello func() []byte, attach Attach) *Connector {
	c := &Connector{
		loop:     loop,
		resolver: resolver,
		log:      log,
		id:       id,
		node:     node,
		service:  service,
		hello:    hello,
		attach:   attach,
		token:    evloop.NewCancelToken(),
		fd:       -1,
	}
	c.resolve()
	return c
}

// FD satisfies evloop.Peer. It is only meaningful while a connect attempt is
// in flight and registered for EPOLLOUT; wakeups dispatch by direct call and
// never consult it.
func (c *Connector) FD() int { return c.fd }

func (c *Connector) HandleEvent(mask uint32) {
	if c.onEvent != nil {
		c.onEvent(mask)
	}
}

func (c *Connector) logID() string { return fmt.Sprintf("%s/%s", c.node, c.service) }

func (c *Connector) retry() {
	delay := evloop.RetryDelay(c.attempt)
	c.attempt++
	c.log.Info("will retry", "target", c.logID(), "id", string(c.id), "delay", delay)
	c.onEvent = func(uint32) { c.resolve() }
	c.loop.Wheel().Add(c, delay)
}

func (c *Connector) resolve() {
	c.log.Info("resolving", "target", c.logID(), "id", string(c.id))
	c.onEvent = nil
	c.resolver.Resolve(c.node, c.service, false, c.token, func(result evloop.LookupResult) {
		if result.Err != nil {
			c.log.Warn("resolve failed", "target", c.logID(), "id", string(c.id), "error", result.Err)
			c.retry()
			return
		}
		c.addrs = result.Addrs
		c.addrIdx = 0
		c.connectNext()
	})
}

func (c *Connector) connectNext() {
	if c.addrIdx >= len(c.addrs) {
		c.log.Warn("can't connect to any address", "target", c.logID(), "id", string(c.id))
		c.retry()
		return
	}
	addr := c.addrs[c.addrIdx]

	sa, family, err := transport.SockaddrFromTCPAddr(addr)
	if err != nil {
		c.log.Warn("unusable address", "target", c.logID(), "id", string(c.id), "addr", addr, "error", err)
		c.addrIdx++
		c.connectNext()
		return
	}

	c.log.Info("connecting", "target", c.logID(), "id", string(c.id), "addr", addr)

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		c.log.Warn("socket failed", "target", c.logID(), "id", string(c.id), "error", err)
		c.addrIdx++
		c.connectNext()
		return
	}
	c.fd = fd

	var hello []byte
	if c.hello != nil {
		hello = c.hello()
	}

	var connectErr error
	if len(hello) > 0 {
		// Combine the connect with sending our hello greeting in the SYN via
		// TCP Fast Open. Whether or not the kernel manages to queue it
		// synchronously, the handshake itself still needs to complete, so a
		// fully-queued send is treated the same as EINPROGRESS below.
		connectErr = unix.Sendto(fd, hello, unix.MSG_FASTOPEN, sa)
		if connectErr == nil {
			connectErr = unix.EINPROGRESS
		}
	} else {
		connectErr = unix.Connect(fd, sa)
	}
	c.connectResult(connectErr, addr)
}

func (c *Connector) connectResult(err error, addr *net.TCPAddr) {
	switch err {
	case nil:
		c.log.Info("connected", "target", c.logID(), "id", string(c.id), "addr", addr)
		c.finish()
	case unix.EINPROGRESS, unix.EAGAIN, unix.EALREADY:
		c.onEvent = c.onConnectWritable
		if err := c.loop.Add(c, unix.EPOLLOUT); err != nil {
			c.log.Warn("epoll add failed", "target", c.logID(), "id", string(c.id), "error", err)
			unix.Close(c.fd)
			c.fd = -1
			c.addrIdx++
			c.connectNext()
		}
	default:
		c.log.Warn("connect failed", "target", c.logID(), "id", string(c.id), "addr", addr, "error", err)
		unix.Close(c.fd)
		c.fd = -1
		c.addrIdx++
		c.connectNext()
	}
}

func (c *Connector) onConnectWritable(mask uint32) {
	c.loop.Remove(c)
	errno, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		errno = int(unix.EIO)
	}
	var addr *net.TCPAddr
	if c.addrIdx < len(c.addrs) {
		addr = c.addrs[c.addrIdx]
	}
	if errno == 0 {
		c.connectResult(nil, addr)
		return
	}
	c.connectResult(unix.Errno(errno), addr)
}

// finish hands the established connection to attach and resets the
// connector to watch for a future disconnect-triggered reconnect.
func (c *Connector) finish() {
	fd := c.fd
	c.fd = -1
	c.attempt = 0

	if err := sockopt.PostConnect(fd); err != nil {
		c.log.Warn("post-connect hygiene failed", "target", c.logID(), "id", string(c.id), "error", err)
	}

	conn := transport.New(fd, "tcp")
	c.attach(conn, c.id, func() {
		c.log.Info("peer disconnected, reconnecting", "target", c.logID(), "id", string(c.id))
		c.retry()
	})
}
