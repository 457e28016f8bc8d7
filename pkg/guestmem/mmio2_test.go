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

package guestmem

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestMmio2(t *testing.T) {
	m := NewManager()
	defer m.Close()

	r, err := m.AddMmio2Range("vga", 0, 0, "VRAM", 8*PageSize)
	require.NoError(t, err)
	require.Equal(t, 8, r.PageCount())

	_, err = m.AddMmio2Range("vga", 0, 0, "again", PageSize)
	require.True(t, errors.Is(err, ErrInvalidRange))
	_, err = m.AddMmio2Range("vga", 1, 0, "unaligned", PageSize+1)
	require.True(t, errors.Is(err, ErrInvalidRange))

	require.NoError(t, m.WriteMmio2(r, PageSize+1, []byte{7, 8}))
	require.Error(t, m.WriteMmio2(r, 8*PageSize-1, []byte{7, 8}))

	buf := make([]byte, 2)
	require.NoError(t, m.ReadMmio2(r, PageSize+1, buf))
	require.Equal(t, []byte{7, 8}, buf)

	m.Lock()
	page := r.PageLocked(1)
	m.Unlock()
	require.Equal(t, PageSize, len(page))
	require.Equal(t, byte(7), page[1])
	require.True(t, IsZeroBytes(r.PageLocked(0)))
}
