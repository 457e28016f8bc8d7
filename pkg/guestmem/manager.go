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
	"runtime"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Manager manages the guest-physical memory of a single virtual machine.
type Manager struct {
	lock       sync.Mutex
	generation uint64
	ram        []*RamRange
	rom        []*RomRange
	mmio2      []*Mmio2Range
	arena      *arena
	holeSize   uint32
	ramSize    uint64
	monitor    *WriteMonitor
	monitored  uint32 // pages in PageStateWriteMonitored
	writtenTo  uint32 // pages with a trapped write
	onYield    func()
}

// Option is an option for NewManager.
type Option func(*Manager)

// WithRamConfig sets the configured RAM hole and RAM sizes.
func WithRamConfig(holeSize uint32, ramSize uint64) Option {
	return func(m *Manager) {
		m.holeSize = holeSize
		m.ramSize = ramSize
	}
}

// WithPageLimit limits the number of host pages backing guest memory.
func WithPageLimit(pages int) Option {
	return func(m *Manager) {
		m.arena.limit = pages
	}
}

// WithYieldHook sets a function to run while Yield has the lock released.
func WithYieldHook(fn func()) Option {
	return func(m *Manager) {
		m.onYield = fn
	}
}

// Stats is a snapshot of page statistics.
type Stats struct {
	// AllPages is the number of pages in all RAM ranges.
	AllPages uint32
	// ZeroPages is the number of zero or ballooned RAM range pages.
	ZeroPages uint32
	// MonitoredPages is the number of write-monitored pages.
	MonitoredPages uint32
	// WrittenToPages is the number of pages with a write trapped.
	WrittenToPages uint32
}

// NewManager creates a new guest memory manager.
func NewManager(options ...Option) *Manager {
	m := &Manager{
		arena: newArena(0),
	}
	for _, o := range options {
		o(m)
	}
	return m
}

// Lock acquires the memory manager lock.
func (m *Manager) Lock() {
	m.lock.Lock()
}

// Unlock releases the memory manager lock.
func (m *Manager) Unlock() {
	m.lock.Unlock()
}

// Yield temporarily releases the lock of a lock holder, letting others in.
func (m *Manager) Yield() {
	m.lock.Unlock()
	if m.onYield != nil {
		m.onYield()
	}
	runtime.Gosched()
	m.lock.Lock()
}

// GenerationLocked returns the current RAM range list generation.
func (m *Manager) GenerationLocked() uint64 {
	return m.generation
}

// RamRangesLocked returns the RAM ranges in ascending address order.
func (m *Manager) RamRangesLocked() []*RamRange {
	return m.ram
}

// RomRangesLocked returns the ROM ranges in registration order.
func (m *Manager) RomRangesLocked() []*RomRange {
	return m.rom
}

// Mmio2RangesLocked returns the MMIO2 ranges in registration order.
func (m *Manager) Mmio2RangesLocked() []*Mmio2Range {
	return m.mmio2
}

// RamConfig returns the configured RAM hole and RAM sizes.
func (m *Manager) RamConfig() (uint32, uint64) {
	return m.holeSize, m.ramSize
}

// Stats returns current page statistics.
func (m *Manager) Stats() Stats {
	m.Lock()
	defer m.Unlock()
	return m.StatsLocked()
}

// StatsLocked returns current page statistics.
func (m *Manager) StatsLocked() Stats {
	s := Stats{
		MonitoredPages: m.monitored,
		WrittenToPages: m.writtenTo,
	}
	for _, r := range m.ram {
		for i := range r.pages {
			s.AllPages++
			if p := &r.pages[i]; p.IsZero() || p.IsBallooned() {
				s.ZeroPages++
			}
		}
	}
	return s
}

// Close releases all host memory backing the guest.
func (m *Manager) Close() error {
	m.Lock()
	defer m.Unlock()

	for _, r := range m.ram {
		for i := range r.pages {
			m.dropPageLocked(&r.pages[i])
		}
	}
	for _, r := range m.rom {
		for i := range r.pages {
			m.dropPageLocked(&r.pages[i].virgin)
			m.dropPageLocked(&r.pages[i].shadow)
		}
	}
	m.ram, m.rom, m.mmio2 = nil, nil, nil
	m.monitored, m.writtenTo = 0, 0
	m.generation++

	return m.arena.close()
}

// AddRamRange adds a RAM range of zero pages at the given address.
func (m *Manager) AddRamRange(base GCPhys, size uint64, desc string) (*RamRange, error) {
	if base&PageOffsetMask != 0 || size == 0 || size&PageOffsetMask != 0 || uint64(base)+size < uint64(base) {
		return nil, errors.Wrapf(ErrInvalidRange, "RAM range %q %s/%#x", desc, base, size)
	}

	r := &RamRange{
		base:  base,
		last:  base + GCPhys(size) - 1,
		desc:  desc,
		pages: make([]Page, size>>PageShift),
	}
	for i := range r.pages {
		r.pages[i].typ = PageTypeRAM
	}

	m.Lock()
	defer m.Unlock()

	for _, o := range m.ram {
		if r.base <= o.last && o.base <= r.last {
			return nil, errors.Wrapf(ErrInvalidRange, "RAM range %q overlaps %q", desc, o.desc)
		}
	}
	m.ram = append(m.ram, r)
	sort.Slice(m.ram, func(i, j int) bool { return m.ram[i].base < m.ram[j].base })
	m.generation++

	log.Debug("added RAM range %q %s-%s", desc, r.base, r.last)

	return r, nil
}

// RemoveRamRange removes the RAM range starting at the given address.
func (m *Manager) RemoveRamRange(base GCPhys) error {
	m.Lock()
	defer m.Unlock()

	for i, r := range m.ram {
		if r.base != base {
			continue
		}
		for j := range r.pages {
			p := &r.pages[j]
			if p.state == PageStateWriteMonitored {
				m.monitored = decrement(m.monitored)
			}
			if p.writtenTo {
				m.writtenTo = decrement(m.writtenTo)
			}
		}
		for j := range r.pages {
			m.dropPageLocked(&r.pages[j])
		}
		m.ram = append(m.ram[:i], m.ram[i+1:]...)
		m.generation++
		log.Debug("removed RAM range %q", r.desc)
		return nil
	}

	return errors.Wrapf(ErrInvalidAddress, "no RAM range at %s", base)
}

// dropPageLocked releases the host backing of a page, turning it into a zero page.
func (m *Manager) dropPageLocked(p *Page) {
	m.arena.release(p.data)
	p.data = nil
	p.state = PageStateZero
}

// lookupLocked resolves an address to a RAM range page.
func (m *Manager) lookupLocked(addr GCPhys) (*RamRange, *Page, error) {
	idx := sort.Search(len(m.ram), func(i int) bool { return m.ram[i].last >= addr })
	if idx < len(m.ram) && m.ram[idx].base <= addr {
		r := m.ram[idx]
		return r, &r.pages[(addr-r.base)>>PageShift], nil
	}
	return nil, nil, errors.Wrapf(ErrInvalidAddress, "%s", addr)
}

// PageLocked returns the RAM range page at the given address.
func (m *Manager) PageLocked(addr GCPhys) (*Page, error) {
	_, p, err := m.lookupLocked(addr)
	return p, err
}

// MakeWritableLocked gives a page private, writable backing and returns it.
// A write-monitored page traps as if the guest wrote to it.
func (m *Manager) MakeWritableLocked(p *Page) ([]byte, error) {
	switch p.state {
	case PageStateAllocated:
	case PageStateWriteMonitored:
		p.state = PageStateAllocated
		m.monitored = decrement(m.monitored)
		if !p.writtenTo {
			p.writtenTo = true
			m.writtenTo++
		}
	case PageStateZero, PageStateBallooned:
		data, err := m.arena.alloc()
		if err != nil {
			return nil, err
		}
		p.data = data
		p.state = PageStateAllocated
	case PageStateShared:
		data, err := m.arena.alloc()
		if err != nil {
			return nil, err
		}
		copy(data, p.data)
		m.arena.release(p.data)
		p.data = data
		p.state = PageStateAllocated
	default:
		return nil, errors.Wrapf(ErrPageState, "page %s", p)
	}
	return p.data, nil
}

// ZeroPageLocked clears the content of a page while keeping its backing.
func (m *Manager) ZeroPageLocked(p *Page) error {
	if p.IsZero() || p.IsBallooned() {
		return nil
	}
	data, err := m.MakeWritableLocked(p)
	if err != nil {
		return err
	}
	for i := range data {
		data[i] = 0
	}
	return nil
}

// SetBalloonedLocked marks a zero page as ballooned.
func (m *Manager) SetBalloonedLocked(p *Page) error {
	if p.state != PageStateZero && p.state != PageStateBallooned {
		return errors.Wrapf(ErrPageState, "cannot balloon page %s", p)
	}
	p.state = PageStateBallooned
	return nil
}

// UnballoonLocked turns a ballooned page into a zero page.
func (m *Manager) UnballoonLocked(p *Page) {
	if p.state == PageStateBallooned {
		p.state = PageStateZero
	}
}

// decrement decrements a counter without wrapping around.
func decrement(v uint32) uint32 {
	if v == 0 {
		defects.Error("internal error: page counter underflow")
		return 0
	}
	return v - 1
}
