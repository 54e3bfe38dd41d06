// Package buffer implements the fixed-capacity append/consume byte buffer
// shared by every parser and serializer in the bus.
package buffer

import (
	"errors"
	"io"
)

// MaxLen is the largest buffer any wire format in this bus needs; 2 KiB
// comfortably covers one JSON header line, one beast frame, or one raw line.
const MaxLen = 2048

// ErrFull is returned by the append operations when the buffer has no
// remaining capacity at the tail.
var ErrFull = errors.New("buffer: full")

// Buffer is a fixed-capacity byte buffer that grows only at the tail and
// shrinks only from the head. Parsers are expected to be restartable: they
// look at Bytes(), and either decode one message and call Consume with its
// length, or return without mutating anything to signal "need more data".
type Buffer struct {
	data   [MaxLen]byte
	length int
}

// New returns an empty buffer.
func New() *Buffer {
	return &Buffer{}
}

// Len reports how many bytes are currently buffered.
func (b *Buffer) Len() int {
	return b.length
}

// Full reports whether the buffer has no space left to append to.
func (b *Buffer) Full() bool {
	return b.length >= len(b.data)
}

// Bytes returns the currently buffered bytes. The slice is only valid until
// the next call to Append* or Consume.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.length]
}

// AppendFromReader performs one non-blocking read into the tail of the
// buffer. It returns ErrFull without reading if there is no space left.
func (b *Buffer) AppendFromReader(r io.Reader) (int, error) {
	if b.Full() {
		return 0, ErrFull
	}
	n, err := r.Read(b.data[b.length:])
	b.length += n
	return n, err
}

// AppendFromCallback lets a parser-less transport (e.g. a subprocess pipe
// wrapper) fill the tail directly. fn must not write past len(dst).
func (b *Buffer) AppendFromCallback(fn func(dst []byte) (int, error)) (int, error) {
	if b.Full() {
		return 0, ErrFull
	}
	n, err := fn(b.data[b.length:])
	b.length += n
	return n, err
}

// Consume drops n bytes from the head of the buffer, compacting the
// remainder forward. It panics if n is out of range — that is a caller
// invariant violation, not a recoverable condition.
func (b *Buffer) Consume(n int) {
	if n < 0 || n > b.length {
		panic("buffer: consume out of range")
	}
	if n == 0 {
		return
	}
	copy(b.data[:], b.data[n:b.length])
	b.length -= n
}

// Reset discards all buffered bytes.
func (b *Buffer) Reset() {
	b.length = 0
}
