// Package transport wraps raw, non-blocking file descriptors (TCP
// sockets, subprocess pipes, plain files, the process's own stdio) behind
// one small type so the reactor, flow registries and codecs never need to
// know which kind of descriptor they are pushing bytes through.
package transport

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Conn is a non-blocking file descriptor registered with the event loop.
// Read/Write map directly onto the read(2)/write(2) semantics the reactor
// expects, except that a zero-length read (the peer is gone) is reported
// as io.EOF.
type Conn struct {
	fd   int
	kind string
}

// New wraps an already-open, already-non-blocking fd. kind is a short,
// human-readable label ("tcp", "exec", "file", "stdin", "stdout"); besides
// log lines, flow.Bus.Subscribe checks it for "file" to skip event-loop
// registration.
func New(fd int, kind string) *Conn {
	return &Conn{fd: fd, kind: kind}
}

// FD returns the underlying file descriptor.
func (c *Conn) FD() int { return c.fd }

// Kind reports the transport's label.
func (c *Conn) Kind() string { return c.kind }

// Read performs one non-blocking read(2). When read(2) returns zero bytes
// (the peer closed the connection), Read returns (0, io.EOF).
func (c *Conn) Read(p []byte) (int, error) {
	n, err := unix.Read(c.fd, p)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write performs one non-blocking write(2).
func (c *Conn) Write(p []byte) (int, error) {
	return unix.Write(c.fd, p)
}

// Close closes the underlying descriptor.
func (c *Conn) Close() error {
	return unix.Close(c.fd)
}

// WouldBlock reports whether err is the non-blocking "try again" signal
// rather than a real I/O failure.
func WouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

// SetNonblock marks fd non-blocking and close-on-exec, as every fd handed
// to the reactor must be.
func SetNonblock(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}
	_, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC)
	return err
}

// DupDetached duplicates f's descriptor and closes f, handing back a bare
// fd under our own control instead of the Go runtime's integrated poller.
// *os.File values (os.Pipe, os.Open) are registered with the runtime's own
// netpoller; mixing that with our raw epoll reactor on the same fd would
// race two pollers against one descriptor, so every file-backed transport
// detaches this way before the fd is wrapped in a Conn.
func DupDetached(f *os.File) (int, error) {
	dup, err := unix.Dup(int(f.Fd()))
	f.Close()
	if err != nil {
		return -1, err
	}
	if err := SetNonblock(dup); err != nil {
		unix.Close(dup)
		return -1, err
	}
	return dup, nil
}
