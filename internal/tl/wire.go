// Package tl implements the small slice of the TL (Type Language) binary
// encoding that the MTProto core itself needs: the envelope objects
// (msg_container, rpc_result, rpc_error, gzip_packed, the various
// bad_*/msgs_ack/ping control messages) and a couple of concrete RPCs
// used by the end-to-end scenarios in spec.md §8. The TL schema compiler
// that generates codecs for the full, ever-growing set of API
// constructors is out of scope (§1); this package is what such a
// generator would emit for the handful of constructors the core itself
// must speak.
package tl

import (
	"encoding/binary"
	"errors"
)

// ErrTruncated is returned when a Reader runs out of bytes mid-value.
var ErrTruncated = errors.New("tl: truncated value")

// Writer builds a TL byte stream incrementally.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated wire bytes.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Raw appends b verbatim, with no length framing.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// Int32 appends a little-endian int32.
func (w *Writer) Int32(v int32) { w.Uint32(uint32(v)) }

// Uint32 appends a little-endian uint32.
func (w *Writer) Uint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Int64 appends a little-endian int64.
func (w *Writer) Int64(v int64) { w.Uint64(uint64(v)) }

// Uint64 appends a little-endian uint64.
func (w *Writer) Uint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// Double appends a little-endian IEEE754 double.
func (w *Writer) Double(bits uint64) { w.Uint64(bits) }

// BytesField appends b as a TL "bytes" value: a length prefix (1 byte for
// lengths < 254, else 0xfe plus a 3-byte little-endian length) followed
// by the data and zero padding out to a multiple of 4 bytes.
func (w *Writer) BytesField(b []byte) {
	n := len(b)
	if n < 254 {
		w.buf = append(w.buf, byte(n))
	} else {
		w.buf = append(w.buf, 0xfe, byte(n), byte(n>>8), byte(n>>16))
	}
	w.buf = append(w.buf, b...)
	if pad := (4 - (len(w.buf) % 4)) % 4; pad != 0 {
		w.buf = append(w.buf, make([]byte, pad)...)
	}
}

// String appends s using the same framing as BytesField.
func (w *Writer) String(s string) { w.BytesField([]byte(s)) }

// Reader parses a TL byte stream sequentially.
type Reader struct {
	data []byte
	pos  int
}

// NewReader wraps data for sequential TL decoding.
func NewReader(data []byte) *Reader { return &Reader{data: data} }

// Remaining returns the unread tail of the stream.
func (r *Reader) Remaining() []byte { return r.data[r.pos:] }

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.data) - r.pos }

func (r *Reader) need(n int) error {
	if r.pos+n > len(r.data) {
		return ErrTruncated
	}
	return nil
}

// Raw reads exactly n raw bytes.
func (r *Reader) Raw(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Int32 reads a little-endian int32.
func (r *Reader) Int32() (int32, error) {
	v, err := r.Uint32()
	return int32(v), err
}

// Uint32 reads a little-endian uint32.
func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

// Int64 reads a little-endian int64.
func (r *Reader) Int64() (int64, error) {
	v, err := r.Uint64()
	return int64(v), err
}

// Uint64 reads a little-endian uint64.
func (r *Reader) Uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

// BytesField reads a TL "bytes" value, including its padding.
func (r *Reader) BytesField() ([]byte, error) {
	if err := r.need(1); err != nil {
		return nil, err
	}
	var n int
	if r.data[r.pos] == 0xfe {
		if err := r.need(4); err != nil {
			return nil, err
		}
		n = int(r.data[r.pos+1]) | int(r.data[r.pos+2])<<8 | int(r.data[r.pos+3])<<16
		r.pos += 4
	} else {
		n = int(r.data[r.pos])
		r.pos++
	}
	b, err := r.Raw(n)
	if err != nil {
		return nil, err
	}
	headerLen := 1
	if n >= 254 {
		headerLen = 4
	}
	if pad := (4 - ((n + headerLen) % 4)) % 4; pad != 0 {
		if _, err := r.Raw(pad); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// String reads a TL string using the same framing as BytesField.
func (r *Reader) String() (string, error) {
	b, err := r.BytesField()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
