// Package listener implements the bus's incoming half: given a node/service
// to bind, it resolves the (usually wildcard) address, binds and listens on
// the first resolved address that binds, and accepts connections for as
// long as the process runs. A listener that can't bind any address retries
// with exponential backoff, exactly like a connector that can't connect.
package listener

import (
	"fmt"
	"log/slog"
	"net"

	"adsbus/internal/evloop"
	"adsbus/internal/identity"
	"adsbus/internal/packet"
	"adsbus/internal/sockopt"
	"adsbus/internal/transport"

	"golang.org/x/sys/unix"
)

// Accept is called once for every accepted connection, with a freshly
// minted source id for that connection. It owns conn from that point on,
// normally by wiring it into a flow.Receive and/or flow.Bus.Subscribe.
type Accept func(conn *transport.Conn, id packet.SourceID)

// Listener drives one configured incoming endpoint's bind/accept/retry
// state machine for as long as the process runs. node may be empty to bind
// the wildcard address.
type Listener struct {
	loop     *evloop.Loop
	resolver *evloop.Resolver
	log      *slog.Logger

	node    string
	service string
	attempt int

	accept Accept

	token *bool

	fd      int
	onEvent func(mask uint32)
}

// New creates a listener for node/service and immediately begins
// resolving and binding it.
func New(loop *evloop.Loop, resolver *evloop.Resolver, log *slog.Logger, node, service string, accept Accept) *Listener {
	l := &Listener{
		loop:     loop,
		resolver: resolver,
		log:      log,
		node:     node,
		service:  service,
		accept:   accept,
		token:    evloop.NewCancelToken(),
		fd:       -1,
	}
	l.resolve()
	return l
}

func (l *Listener) FD() int { return l.fd }

func (l *Listener) HandleEvent(mask uint32) {
	if l.onEvent != nil {
		l.onEvent(mask)
	}
}

func (l *Listener) logID() string { return fmt.Sprintf("%s/%s", l.node, l.service) }

func (l *Listener) retry() {
	delay := evloop.RetryDelay(l.attempt)
	l.attempt++
	l.log.Info("will retry", "target", l.logID(), "delay", delay)
	l.onEvent = func(uint32) { l.resolve() }
	l.loop.Wheel().Add(l, delay)
}

func (l *Listener) resolve() {
	l.log.Info("resolving", "target", l.logID())
	l.onEvent = nil
	l.resolver.Resolve(l.node, l.service, true, l.token, func(result evloop.LookupResult) {
		if result.Err != nil {
			l.log.Warn("resolve failed", "target", l.logID(), "error", result.Err)
			l.retry()
			return
		}
		l.bindAny(result.Addrs)
	})
}

// bindAny tries every resolved address in turn, stopping at the first one
// it can bind and listen on (matching the original's break-on-first-success
// loop; in practice one wildcard resolution yields exactly one address per
// family, and binding either is sufficient).
func (l *Listener) bindAny(addrs []*net.TCPAddr) {
	for _, addr := range addrs {
		sa, family, err := transport.SockaddrFromTCPAddr(addr)
		if err != nil {
			continue
		}

		fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
		if err != nil {
			l.log.Warn("socket failed", "target", l.logID(), "error", err)
			continue
		}

		if err := sockopt.PreBind(fd); err != nil {
			l.log.Warn("pre-bind hygiene failed", "target", l.logID(), "error", err)
		}

		if err := unix.Bind(fd, sa); err != nil {
			l.log.Warn("bind failed", "target", l.logID(), "addr", addr, "error", err)
			unix.Close(fd)
			continue
		}

		if err := sockopt.PreListen(fd); err != nil {
			l.log.Warn("pre-listen hygiene failed", "target", l.logID(), "error", err)
		}
		if err := unix.Listen(fd, 255); err != nil {
			l.log.Warn("listen failed", "target", l.logID(), "addr", addr, "error", err)
			unix.Close(fd)
			continue
		}

		l.log.Info("listening", "target", l.logID(), "addr", addr)
		l.fd = fd
		l.attempt = 0
		l.onEvent = l.onAcceptable
		if err := l.loop.Add(l, unix.EPOLLIN); err != nil {
			l.log.Warn("epoll add failed", "target", l.logID(), "error", err)
			unix.Close(fd)
			l.fd = -1
			continue
		}
		return
	}

	l.log.Warn("failed to bind any address", "target", l.logID())
	l.retry()
}

func (l *Listener) onAcceptable(mask uint32) {
	for {
		fd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
				l.log.Warn("accept failed", "target", l.logID(), "error", err)
			}
			return
		}

		id := identity.New()
		l.log.Info("new incoming connection", "target", l.logID(), "id", string(id))

		if err := sockopt.PostConnect(fd); err != nil {
			l.log.Warn("post-accept hygiene failed", "target", l.logID(), "id", string(id), "error", err)
		}

		l.accept(transport.New(fd, "tcp"), id)
	}
}
