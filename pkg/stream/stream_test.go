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

package stream

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestPrimitives(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWriter(buf)

	require.NoError(t, w.PutU8(0xab))
	require.NoError(t, w.PutU32(0x01020304))
	require.NoError(t, w.PutU64(0x1122334455667788))
	require.NoError(t, w.PutGCPhys(0x7ffff000))
	require.NoError(t, w.PutMem([]byte{1, 2, 3}))
	require.NoError(t, w.PutStrZ("vga"))
	require.NoError(t, w.PutStrZ(""))
	require.NoError(t, w.Flush())
	require.Equal(t, int64(1+4+8+8+3+4+1), w.Offset())

	require.Equal(t, []byte{0xab, 0x04, 0x03, 0x02, 0x01}, buf.Bytes()[:5])

	r := NewReader(bytes.NewReader(buf.Bytes()))
	u8, err := r.GetU8()
	require.NoError(t, err)
	require.Equal(t, uint8(0xab), u8)
	u32, err := r.GetU32()
	require.NoError(t, err)
	require.Equal(t, uint32(0x01020304), u32)
	u64, err := r.GetU64()
	require.NoError(t, err)
	require.Equal(t, uint64(0x1122334455667788), u64)
	gcphys, err := r.GetGCPhys()
	require.NoError(t, err)
	require.Equal(t, GCPhys(0x7ffff000), gcphys)
	mem := make([]byte, 3)
	require.NoError(t, r.GetMem(mem))
	require.Equal(t, []byte{1, 2, 3}, mem)
	str, err := r.GetStrZ(0)
	require.NoError(t, err)
	require.Equal(t, "vga", str)
	str, err = r.GetStrZ(0)
	require.NoError(t, err)
	require.Equal(t, "", str)

	_, err = r.GetU8()
	require.Error(t, err)
	require.True(t, errors.Is(err, io.EOF))
}

func TestStrZLimits(t *testing.T) {
	w := NewWriter(&bytes.Buffer{})
	require.True(t, errors.Is(w.PutStrZ(strings.Repeat("x", MaxStrZ)), ErrStringTooLong))
	require.Error(t, w.PutU8(1), "writer errors must be sticky")

	w = NewWriter(&bytes.Buffer{})
	require.Error(t, w.PutStrZ("a\x00b"))

	r := NewReader(strings.NewReader("abcdef\x00"))
	_, err := r.GetStrZ(4)
	require.True(t, errors.Is(err, ErrStringTooLong))
}

type failingWriter struct {
	budget int
}

func (f *failingWriter) Write(p []byte) (int, error) {
	if len(p) > f.budget {
		n := f.budget
		f.budget = 0
		return n, errors.New("device full")
	}
	f.budget -= len(p)
	return len(p), nil
}

func TestWriteFailure(t *testing.T) {
	w := NewWriter(&failingWriter{budget: 2})
	// buffered, the failure surfaces on flush
	require.NoError(t, w.PutU32(1))
	err := w.Flush()
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "device full"))
	require.Equal(t, err, w.PutU8(1))
	require.Equal(t, err, w.Err())
}
