// Copyright 2022 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stream implements the ordered primitives saved state is written
// with and read back from: little-endian integers, guest-physical addresses,
// raw memory blocks and zero-terminated strings.
//
// Both Writer and Reader latch the first error they encounter. Once an
// operation fails, every later one fails with the same error, so a caller
// can either check each call or only the final Flush/Err.
package stream

import (
	"bufio"
	"encoding/binary"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// GCPhys is a guest-physical address.
type GCPhys uint64

const (
	// NilGCPhys is the invalid guest-physical address.
	NilGCPhys GCPhys = ^GCPhys(0)
	// MaxStrZ is the longest zero-terminated string accepted, terminator included.
	MaxStrZ = 256
)

var (
	// ErrStringTooLong is returned for strings not fitting into MaxStrZ bytes,
	// or strings with embedded zero bytes.
	ErrStringTooLong = errors.New("stream: string too long")
)

// Writer writes primitives to an underlying io.Writer.
type Writer struct {
	w   *bufio.Writer
	buf [8]byte
	n   int64
	err error
}

// NewWriter creates a Writer for w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

func (w *Writer) write(p []byte) error {
	if w.err != nil {
		return w.err
	}
	n, err := w.w.Write(p)
	w.n += int64(n)
	if err != nil {
		w.err = errors.Wrap(err, "stream: write failed")
	}
	return w.err
}

// PutU8 writes a byte.
func (w *Writer) PutU8(v uint8) error {
	w.buf[0] = v
	return w.write(w.buf[:1])
}

// PutU32 writes a 32-bit integer.
func (w *Writer) PutU32(v uint32) error {
	binary.LittleEndian.PutUint32(w.buf[:4], v)
	return w.write(w.buf[:4])
}

// PutU64 writes a 64-bit integer.
func (w *Writer) PutU64(v uint64) error {
	binary.LittleEndian.PutUint64(w.buf[:8], v)
	return w.write(w.buf[:8])
}

// PutGCPhys writes a guest-physical address.
func (w *Writer) PutGCPhys(v GCPhys) error {
	return w.PutU64(uint64(v))
}

// PutMem writes a raw memory block.
func (w *Writer) PutMem(p []byte) error {
	return w.write(p)
}

// PutStrZ writes a zero-terminated string.
func (w *Writer) PutStrZ(s string) error {
	if len(s)+1 > MaxStrZ || strings.IndexByte(s, 0) >= 0 {
		if w.err == nil {
			w.err = errors.Wrapf(ErrStringTooLong, "invalid string %q", s)
		}
		return w.err
	}
	if err := w.write([]byte(s)); err != nil {
		return err
	}
	return w.PutU8(0)
}

// Flush writes any buffered data to the underlying io.Writer.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if err := w.w.Flush(); err != nil {
		w.err = errors.Wrap(err, "stream: flush failed")
	}
	return w.err
}

// Err returns the first error encountered, if any.
func (w *Writer) Err() error {
	return w.err
}

// Offset returns the number of bytes written so far.
func (w *Writer) Offset() int64 {
	return w.n
}

// Reader reads primitives from an underlying io.Reader.
type Reader struct {
	r   *bufio.Reader
	buf [8]byte
	n   int64
	err error
}

// NewReader creates a Reader for r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

func (r *Reader) read(p []byte) error {
	if r.err != nil {
		return r.err
	}
	n, err := io.ReadFull(r.r, p)
	r.n += int64(n)
	if err != nil {
		r.err = errors.Wrapf(err, "stream: read failed at offset %d", r.n)
	}
	return r.err
}

// GetU8 reads a byte.
func (r *Reader) GetU8() (uint8, error) {
	if err := r.read(r.buf[:1]); err != nil {
		return 0, err
	}
	return r.buf[0], nil
}

// GetU32 reads a 32-bit integer.
func (r *Reader) GetU32() (uint32, error) {
	if err := r.read(r.buf[:4]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(r.buf[:4]), nil
}

// GetU64 reads a 64-bit integer.
func (r *Reader) GetU64() (uint64, error) {
	if err := r.read(r.buf[:8]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(r.buf[:8]), nil
}

// GetGCPhys reads a guest-physical address.
func (r *Reader) GetGCPhys() (GCPhys, error) {
	v, err := r.GetU64()
	return GCPhys(v), err
}

// GetMem reads len(p) bytes of raw memory into p.
func (r *Reader) GetMem(p []byte) error {
	return r.read(p)
}

// GetStrZ reads a zero-terminated string of at most max bytes, terminator included.
func (r *Reader) GetStrZ(max int) (string, error) {
	if max <= 0 || max > MaxStrZ {
		max = MaxStrZ
	}
	var s []byte
	for {
		b, err := r.GetU8()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(s), nil
		}
		s = append(s, b)
		if len(s)+1 > max {
			r.err = errors.Wrapf(ErrStringTooLong, "at offset %d", r.n)
			return "", r.err
		}
	}
}

// Err returns the first error encountered, if any.
func (r *Reader) Err() error {
	return r.err
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int64 {
	return r.n
}
