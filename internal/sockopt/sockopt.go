// Package sockopt centralises the bus's socket hygiene: the handful of
// setsockopt calls every listener, connector and established connection
// needs, tolerant of ENOTSOCK so the same call sites work uniformly for
// non-socket transports (exec pipes, files, stdio) that route through the
// reactor on a raw file descriptor.
package sockopt

import (
	"errors"

	"golang.org/x/sys/unix"
)

const (
	keepaliveIdleSeconds     = 30
	keepaliveIntervalSeconds = 10
	keepaliveCount           = 3
	userTimeoutMillis        = 60000
	fastOpenQueueLen         = 5
	minBufferSize            = 128
)

// tolerant runs fn(fd), swallowing ENOTSOCK: every call site here is
// reachable from transports that are not sockets at all, and for those
// the hygiene call is simply a no-op rather than a failure.
func tolerant(fd int, fn func(fd int) error) error {
	err := fn(fd)
	if errors.Is(err, unix.ENOTSOCK) {
		return nil
	}
	return err
}

// PreBind sets SO_REUSEPORT on a listening socket before bind(2), so
// multiple listener addresses can share a port across bind attempts and
// concurrent bus instances can load-balance incoming connections.
func PreBind(fd int) error {
	return tolerant(fd, func(fd int) error {
		return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
}

// PreListen enables TCP Fast Open on a listening socket before listen(2).
func PreListen(fd int) error {
	return tolerant(fd, func(fd int) error {
		return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_FASTOPEN, fastOpenQueueLen)
	})
}

// PostConnect applies keepalive and TCP_USER_TIMEOUT to a freshly
// established connection, so a peer that stops acknowledging is detected
// and torn down instead of leaking a half-open flow forever.
func PostConnect(fd int) error {
	return tolerant(fd, func(fd int) error {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
			return err
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, keepaliveIdleSeconds); err != nil {
			return err
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, keepaliveIntervalSeconds); err != nil {
			return err
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, keepaliveCount); err != nil {
			return err
		}
		return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, userTimeoutMillis)
	})
}

// ReadyForSendOnly shrinks the receive window to the kernel minimum on a
// connection this side only ever sends on: it never expects meaningful
// inbound data, and a normal-sized receive buffer on a one-way socket is
// wasted memory per subscriber.
func ReadyForSendOnly(fd int) error {
	return tolerant(fd, func(fd int) error {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, minBufferSize); err != nil {
			return err
		}
		return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_WINDOW_CLAMP, minBufferSize)
	})
}

// ShutdownSendSide shuts down the read half of a connection, so the kernel
// stops delivering any further input from that peer; the write half is left
// open. Bus.Broadcast calls it, together with ShutdownReceiveSide, on a
// subscriber whose write fell short.
func ShutdownSendSide(fd int) error {
	return tolerant(fd, func(fd int) error {
		return unix.Shutdown(fd, unix.SHUT_RD)
	})
}

// ShutdownReceiveSide shuts down the write half of a connection and leaves
// the read half open. Bus.Broadcast calls it, together with
// ShutdownSendSide, on a subscriber whose write fell short.
func ShutdownReceiveSide(fd int) error {
	return tolerant(fd, func(fd int) error {
		return unix.Shutdown(fd, unix.SHUT_WR)
	})
}
