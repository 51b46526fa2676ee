// Package encoding provides bounds-checked little-endian buffer primitives
// for the device wire formats.
package encoding

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer is reported by Reader.Err when a read ran past the end of
// the underlying buffer.
var ErrShortBuffer = errors.New("encoding: read past end of buffer")

// Reader decodes little-endian fields from a byte slice. The first read past
// the end of the buffer latches ErrShortBuffer; subsequent reads return zero
// values, so callers can run a whole decode pass and check Err once.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader returns a Reader over buf. The Reader does not copy buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = ErrShortBuffer
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

// Uint8 reads a single byte.
func (r *Reader) Uint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Uint16 reads a little-endian 16-bit value.
func (r *Reader) Uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// Uint32 reads a little-endian 32-bit value.
func (r *Reader) Uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// Bytes reads n raw bytes. The returned slice aliases the underlying buffer.
func (r *Reader) Bytes(n int) []byte {
	return r.take(n)
}

// Skip discards n bytes.
func (r *Reader) Skip(n int) {
	r.take(n)
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int { return r.off }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Err returns ErrShortBuffer if any read ran past the end of the buffer.
func (r *Reader) Err() error { return r.err }
