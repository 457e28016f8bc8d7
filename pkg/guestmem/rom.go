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

// RomRange is a range of ROM, optionally shadowed by RAM.
type RomRange struct {
	base     GCPhys
	last     GCPhys
	desc     string
	shadowed bool
	pages    []RomPage
}

// RomPage is a single page of ROM.
type RomPage struct {
	virgin Page
	shadow Page
	prot   RomProt
}

// Base returns the first address of the range.
func (r *RomRange) Base() GCPhys { return r.base }

// Last returns the last address of the range.
func (r *RomRange) Last() GCPhys { return r.last }

// Size returns the size of the range in bytes.
func (r *RomRange) Size() uint64 { return uint64(r.last-r.base) + 1 }

// Desc returns the description of the range.
func (r *RomRange) Desc() string { return r.desc }

// IsShadowed checks if the range has writable shadow pages.
func (r *RomRange) IsShadowed() bool { return r.shadowed }

// PageCount returns the number of pages in the range.
func (r *RomRange) PageCount() int { return len(r.pages) }

// Page returns the page with the given index.
func (r *RomRange) Page(idx int) *RomPage { return &r.pages[idx] }

// GCPhysOf returns the address of the page with the given index.
func (r *RomRange) GCPhysOf(idx int) GCPhys {
	return r.base + GCPhys(idx)<<PageShift
}

// Prot returns the current protection of the page.
func (rp *RomPage) Prot() RomProt { return rp.prot }

// Virgin returns the read-only ROM page.
func (rp *RomPage) Virgin() *Page { return &rp.virgin }

// Shadow returns the shadow RAM page.
func (rp *RomPage) Shadow() *Page { return &rp.shadow }

// Active returns the page the guest currently reads from.
func (rp *RomPage) Active() *Page {
	if rp.prot.IsROM() {
		return &rp.virgin
	}
	return &rp.shadow
}

// AddRomRange registers a ROM range with the given content. Any RAM pages
// underneath the range are retyped as ROM.
func (m *Manager) AddRomRange(base GCPhys, size uint64, desc string, shadowed bool, content []byte) (*RomRange, error) {
	if base&PageOffsetMask != 0 || size == 0 || size&PageOffsetMask != 0 || uint64(len(content)) > size {
		return nil, errors.Wrapf(ErrInvalidRange, "ROM range %q %s/%#x", desc, base, size)
	}

	m.Lock()
	defer m.Unlock()

	r := &RomRange{
		base:     base,
		last:     base + GCPhys(size) - 1,
		desc:     desc,
		shadowed: shadowed,
		pages:    make([]RomPage, size>>PageShift),
	}
	for _, o := range m.rom {
		if r.base <= o.last && o.base <= r.last {
			return nil, errors.Wrapf(ErrInvalidRange, "ROM range %q overlaps %q", desc, o.desc)
		}
	}

	for i := range r.pages {
		rp := &r.pages[i]
		rp.virgin.typ = PageTypeROM
		rp.shadow.typ = PageTypeROMShadow
		rp.prot = RomProtReadRomWriteIgnore

		off := i << PageShift
		if off >= len(content) {
			continue
		}
		chunk := content[off:]
		if len(chunk) > PageSize {
			chunk = chunk[:PageSize]
		}
		if IsZeroBytes(chunk) {
			continue
		}
		data, err := m.MakeWritableLocked(&rp.virgin)
		if err != nil {
			return nil, err
		}
		copy(data, chunk)
	}

	typ := PageTypeROM
	if shadowed {
		typ = PageTypeROMShadow
	}
	for addr := r.base; addr < r.last; addr += PageSize {
		if _, p, err := m.lookupLocked(addr); err == nil {
			m.setPageTypeLocked(p, typ)
		}
	}

	m.rom = append(m.rom, r)
	m.generation++

	log.Debug("added ROM range %q %s-%s (shadowed: %v)", desc, r.base, r.last, shadowed)

	return r, nil
}

// SetRomProtection changes the protection of shadowed ROM pages.
func (m *Manager) SetRomProtection(addr GCPhys, size uint64, prot RomProt) error {
	if !prot.IsValid() {
		return errors.Wrapf(ErrRomProt, "%d", prot)
	}

	m.Lock()
	defer m.Unlock()

	for end := addr + GCPhys(size); addr < end; addr += PageSize {
		r, idx := m.romLookupLocked(addr)
		if r == nil {
			return errors.Wrapf(ErrInvalidAddress, "no ROM at %s", addr)
		}
		if err := m.ProtectRomPageLocked(r, idx, prot); err != nil {
			return err
		}
	}

	return nil
}

// ProtectRomPageLocked changes the protection of a single ROM page.
func (m *Manager) ProtectRomPageLocked(r *RomRange, idx int, prot RomProt) error {
	if !prot.IsValid() {
		return errors.Wrapf(ErrRomProt, "%d", prot)
	}
	if !r.shadowed {
		return errors.Wrapf(ErrRomProt, "ROM range %q is not shadowed", r.desc)
	}
	r.pages[idx].prot = prot
	return nil
}

// ClearRomWrittenToLocked clears and returns the written-to state of a ROM page.
func (wm *WriteMonitor) ClearRomWrittenToLocked(rp *RomPage) bool {
	writtenTo := rp.shadow.writtenTo
	rp.shadow.writtenTo = false
	return writtenTo
}

func (m *Manager) romLookupLocked(addr GCPhys) (*RomRange, int) {
	for _, r := range m.rom {
		if r.base <= addr && addr <= r.last {
			return r, int((addr - r.base) >> PageShift)
		}
	}
	return nil, -1
}

func (m *Manager) writeRomLocked(r *RomRange, idx, off int, data []byte) error {
	rp := &r.pages[idx]
	if !rp.prot.WritesRAM() {
		return nil
	}

	page, err := m.MakeWritableLocked(&rp.shadow)
	if err != nil {
		return err
	}
	copy(page[off:], data)
	if m.monitor != nil {
		rp.shadow.writtenTo = true
	}

	return nil
}
