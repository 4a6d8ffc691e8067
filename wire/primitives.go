/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MaxDatagramSize is the largest UDP datagram either protocol family
// will send, chosen to stay below typical MTU.
const MaxDatagramSize = 1200

// FourCC packs a 4-character tag into a big-endian uint32 key, the way
// TLV entry keys ('tmln', 'sess', ...) are declared in the spec.
func FourCC(tag string) uint32 {
	var b [4]byte
	copy(b[:], tag)
	return binary.BigEndian.Uint32(b[:])
}

// Writer accumulates big-endian encoded values. The zero value is
// ready to use.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns a ready-to-use Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// Uint8 appends a single byte.
func (w *Writer) Uint8(v uint8) { w.buf.WriteByte(v) }

// Uint16 appends a big-endian uint16.
func (w *Writer) Uint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

// Uint32 appends a big-endian uint32.
func (w *Writer) Uint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

// Uint64 appends a big-endian uint64.
func (w *Writer) Uint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

// Int64 appends a big-endian int64 (used for micros-denominated
// fields and for Duration, which the wire format defines as an i64
// count of microseconds).
func (w *Writer) Int64(v int64) { w.Uint64(uint64(v)) }

// RawBytes appends raw bytes verbatim (used for fixed-size arrays such
// as NodeID, whose length is implicit from the field's type).
func (w *Writer) RawBytes(b []byte) { w.buf.Write(b) }

// VarBytes appends a u32 length prefix followed by the bytes.
func (w *Writer) VarBytes(b []byte) {
	w.Uint32(uint32(len(b)))
	w.buf.Write(b)
}

// String appends a u32 length prefix followed by the UTF-8 bytes.
func (w *Writer) String(s string) { w.VarBytes([]byte(s)) }

// Reader consumes big-endian encoded values from a fixed buffer,
// tracking position and refusing to read past the end.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps b for sequential big-endian decoding.
func NewReader(b []byte) *Reader { return &Reader{buf: b} }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return fmt.Errorf("wire: need %d bytes, have %d", n, r.Remaining())
	}
	return nil
}

// Uint8 reads a single byte.
func (r *Reader) Uint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

// Uint16 reads a big-endian uint16.
func (r *Reader) Uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// Uint32 reads a big-endian uint32.
func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// Uint64 reads a big-endian uint64.
func (r *Reader) Uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// Int64 reads a big-endian int64.
func (r *Reader) Int64() (int64, error) {
	v, err := r.Uint64()
	return int64(v), err
}

// RawBytes reads exactly n raw bytes.
func (r *Reader) RawBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// VarBytes reads a u32 length prefix followed by that many bytes.
func (r *Reader) VarBytes() ([]byte, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	return r.RawBytes(int(n))
}

// String reads a u32 length prefix followed by UTF-8 bytes.
func (r *Reader) String() (string, error) {
	b, err := r.VarBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
