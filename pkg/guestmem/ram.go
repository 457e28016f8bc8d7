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
	// DefaultFreeBatchSize is the default number of pages freed at once.
	DefaultFreeBatchSize = 128
)

// RamRange is a contiguous range of guest RAM.
type RamRange struct {
	base  GCPhys
	last  GCPhys
	desc  string
	pages []Page
}

// Base returns the first address of the range.
func (r *RamRange) Base() GCPhys { return r.base }

// Last returns the last address of the range.
func (r *RamRange) Last() GCPhys { return r.last }

// Size returns the size of the range in bytes.
func (r *RamRange) Size() uint64 { return uint64(r.last-r.base) + 1 }

// Desc returns the description of the range.
func (r *RamRange) Desc() string { return r.desc }

// PageCount returns the number of pages in the range.
func (r *RamRange) PageCount() int { return len(r.pages) }

// Page returns the descriptor of the page with the given index.
func (r *RamRange) Page(idx int) *Page { return &r.pages[idx] }

// GCPhysOf returns the address of the page with the given index.
func (r *RamRange) GCPhysOf(idx int) GCPhys {
	return r.base + GCPhys(idx)<<PageShift
}

// Write writes guest memory the way a vCPU or device would.
func (m *Manager) Write(addr GCPhys, data []byte) error {
	m.Lock()
	defer m.Unlock()

	for len(data) > 0 {
		off := int(addr & PageOffsetMask)
		n := PageSize - off
		if n > len(data) {
			n = len(data)
		}
		if err := m.writePageLocked(addr, off, data[:n]); err != nil {
			return err
		}
		addr += GCPhys(n)
		data = data[n:]
	}

	return nil
}

// Read reads guest memory the way a vCPU or device would.
func (m *Manager) Read(addr GCPhys, buf []byte) error {
	m.Lock()
	defer m.Unlock()

	for len(buf) > 0 {
		off := int(addr & PageOffsetMask)
		n := PageSize - off
		if n > len(buf) {
			n = len(buf)
		}

		var page []byte
		if r, idx := m.romLookupLocked(addr); r != nil {
			page = r.pages[idx].Active().BytesLocked()
		} else {
			p, err := m.PageLocked(addr)
			if err != nil {
				return err
			}
			page = p.BytesLocked()
		}
		copy(buf[:n], page[off:])

		addr += GCPhys(n)
		buf = buf[n:]
	}

	return nil
}

func (m *Manager) writePageLocked(addr GCPhys, off int, data []byte) error {
	if r, idx := m.romLookupLocked(addr); r != nil {
		return m.writeRomLocked(r, idx, off, data)
	}

	p, err := m.PageLocked(addr)
	if err != nil {
		return err
	}
	if p.typ != PageTypeRAM && p.typ != PageTypeMMIO2 {
		log.Debug("ignoring write to %s page at %s", p.typ, addr)
		return nil
	}

	page, err := m.MakeWritableLocked(p)
	if err != nil {
		return err
	}
	copy(page[off:], data)

	return nil
}

// SetPageType changes the type of a RAM range page.
func (m *Manager) SetPageType(addr GCPhys, typ PageType) error {
	m.Lock()
	defer m.Unlock()

	p, err := m.PageLocked(addr)
	if err != nil {
		return err
	}
	m.setPageTypeLocked(p, typ)
	return nil
}

func (m *Manager) setPageTypeLocked(p *Page, typ PageType) {
	if typ != PageTypeRAM && p.state == PageStateWriteMonitored {
		p.state = PageStateAllocated
		m.monitored = decrement(m.monitored)
	}
	p.typ = typ
}

// MakeLarge marks a run of pages as backed by a large host page.
func (m *Manager) MakeLarge(addr GCPhys, pages int) error {
	m.Lock()
	defer m.Unlock()

	for i := 0; i < pages; i++ {
		p, err := m.PageLocked(addr + GCPhys(i)<<PageShift)
		if err != nil {
			return err
		}
		p.large = true
	}
	return nil
}

// Balloon reclaims a run of guest pages, making them read as zero.
func (m *Manager) Balloon(addr GCPhys, pages int) error {
	m.Lock()
	defer m.Unlock()

	for i := 0; i < pages; i++ {
		p, err := m.PageLocked(addr + GCPhys(i)<<PageShift)
		if err != nil {
			return err
		}
		if p.typ != PageTypeRAM || p.writeLocks > 0 {
			return errors.Wrapf(ErrPageState, "cannot balloon page %s", p)
		}
		if p.state == PageStateWriteMonitored {
			m.monitored = decrement(m.monitored)
		}
		if p.writtenTo {
			p.writtenTo = false
			m.writtenTo = decrement(m.writtenTo)
		}
		m.dropPageLocked(p)
		p.state = PageStateBallooned
		p.large = false
	}
	return nil
}

// Share turns an allocated page into a read-only, shared one.
func (m *Manager) Share(addr GCPhys) error {
	m.Lock()
	defer m.Unlock()

	p, err := m.PageLocked(addr)
	if err != nil {
		return err
	}
	switch {
	case p.state == PageStateShared:
		return nil
	case !p.IsAllocated() || p.writeLocks > 0:
		return errors.Wrapf(ErrPageState, "cannot share page %s", p)
	}
	if p.state == PageStateWriteMonitored {
		m.monitored = decrement(m.monitored)
	}
	p.state = PageStateShared

	return nil
}

// PageMapping is a writable mapping of a guest page. Writes through the
// mapping bypass write monitoring until the mapping is released.
type PageMapping struct {
	m *Manager
	p *Page
}

// AcquireWriteLock maps a guest page for direct writing.
func (m *Manager) AcquireWriteLock(addr GCPhys) (*PageMapping, error) {
	m.Lock()
	defer m.Unlock()

	p, err := m.PageLocked(addr)
	if err != nil {
		return nil, err
	}
	if p.typ != PageTypeRAM {
		return nil, errors.Wrapf(ErrPageState, "cannot map %s page at %s", p.typ, addr)
	}
	if _, err := m.MakeWritableLocked(p); err != nil {
		return nil, err
	}
	p.writeLocks++

	return &PageMapping{m: m, p: p}, nil
}

// Write writes to the mapped page at the given offset.
func (pm *PageMapping) Write(off int, data []byte) {
	pm.m.Lock()
	defer pm.m.Unlock()
	copy(pm.p.data[off:], data)
}

// Release releases the mapping.
func (pm *PageMapping) Release() {
	if pm.p == nil {
		return
	}
	pm.m.Lock()
	defer pm.m.Unlock()
	pm.p.writeLocks--
	pm.p = nil
}

// FreeBatch collects pages to free, releasing their backing in batches.
type FreeBatch struct {
	m       *Manager
	size    int
	pending [][]byte
}

// NewFreeBatch creates a batch for freeing pages.
func (m *Manager) NewFreeBatch(size int) *FreeBatch {
	if size <= 0 {
		size = DefaultFreeBatchSize
	}
	return &FreeBatch{
		m:       m,
		size:    size,
		pending: make([][]byte, 0, size),
	}
}

// AddLocked turns a page into a zero page, queuing its backing for release.
func (b *FreeBatch) AddLocked(p *Page) error {
	if p.writeLocks > 0 {
		return errors.Wrapf(ErrPageState, "cannot free locked page %s", p)
	}
	if p.state == PageStateWriteMonitored {
		b.m.monitored = decrement(b.m.monitored)
	}
	if p.data != nil {
		b.pending = append(b.pending, p.data)
	}
	p.data = nil
	p.state = PageStateZero

	if len(b.pending) >= b.size {
		b.FlushLocked()
	}
	return nil
}

// Pending returns the number of pages waiting for release.
func (b *FreeBatch) Pending() int {
	return len(b.pending)
}

// FlushLocked releases the backing of all queued pages.
func (b *FreeBatch) FlushLocked() {
	if len(b.pending) == 0 {
		return
	}
	log.Debug("releasing %d freed pages", len(b.pending))
	for _, data := range b.pending {
		b.m.arena.release(data)
	}
	b.pending = b.pending[:0]
}
