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
	"github.com/pkg/errors"
)

const (
	// defaultChunkPages is the number of pages mapped from the host at once.
	defaultChunkPages = 256
)

// arena hands out zeroed, page-sized blocks of host memory.
type arena struct {
	chunkPages int
	limit      int
	chunks     [][]byte
	free       [][]byte
	inUse      int
}

func newArena(limit int) *arena {
	return &arena{
		chunkPages: defaultChunkPages,
		limit:      limit,
	}
}

// alloc returns a zeroed page of host memory.
func (a *arena) alloc() ([]byte, error) {
	if a.limit > 0 && a.inUse >= a.limit {
		return nil, errors.Wrapf(ErrNoMemory, "page limit %d reached", a.limit)
	}
	if len(a.free) == 0 {
		chunk, err := mapChunk(a.chunkPages * PageSize)
		if err != nil {
			return nil, errors.Wrap(ErrNoMemory, err.Error())
		}
		a.chunks = append(a.chunks, chunk)
		for off := 0; off < len(chunk); off += PageSize {
			a.free = append(a.free, chunk[off:off+PageSize:off+PageSize])
		}
	}

	page := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	a.inUse++

	return page, nil
}

// release returns a page to the arena, discarding its content.
func (a *arena) release(page []byte) {
	if page == nil {
		return
	}
	discardPage(page)
	a.free = append(a.free, page)
	a.inUse--
}

// close unmaps all host memory. No page may be in use afterwards.
func (a *arena) close() error {
	var err error
	for _, chunk := range a.chunks {
		if e := unmapChunk(chunk); e != nil && err == nil {
			err = errors.Wrap(e, "failed to unmap guest memory")
		}
	}
	*a = arena{chunkPages: a.chunkPages, limit: a.limit}
	return err
}
