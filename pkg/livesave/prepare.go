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

package livesave

import (
	"github.com/pkg/errors"

	"github.com/intel/livesave/pkg/guestmem"
)

// prepRom sets up tracking of ROM pages, assigning range IDs.
func (h *Handle) prepRom() error {
	h.mem.Lock()
	defer h.mem.Unlock()

	ranges := h.mem.RomRangesLocked()
	if len(ranges) > maxRangeID {
		return errors.Wrapf(ErrTooManyRanges, "%d ROM ranges", len(ranges))
	}

	for idx, r := range ranges {
		t := &romTracker{
			r:     r,
			id:    uint8(idx + 1),
			pages: make([]RomPageTrack, r.PageCount()),
		}
		for i := range t.pages {
			lp := &t.pages[i]
			rp := r.Page(i)
			lp.Prot = guestmem.RomProtInvalid
			lp.Dirty = true
			lp.DirtiedRecently = true
			if r.IsShadowed() {
				h.wm.ClearRomWrittenToLocked(rp)
			} else {
				lp.WrittenTo = h.romPageInUseLocked(r, i)
			}
		}
		h.cnt.Rom.Dirty += uint32(len(t.pages))
		if r.IsShadowed() {
			h.cnt.Rom.Dirty += uint32(len(t.pages))
		}
		h.rom = append(h.rom, t)
	}

	return nil
}

// romPageInUseLocked checks if the page backing an unshadowed ROM page has
// content. With a RAM protection it is the RAM page mapped at the address.
func (h *Handle) romPageInUseLocked(r *guestmem.RomRange, idx int) bool {
	rp := r.Page(idx)
	p := rp.Shadow()
	if !rp.Prot().IsROM() {
		if ram, err := h.mem.PageLocked(r.GCPhysOf(idx)); err == nil {
			p = ram
		} else {
			log.Warn("no RAM page behind ROM page %s: %v", r.GCPhysOf(idx), err)
		}
	}
	return !p.IsZero() && !p.IsBallooned()
}

// prepMmio2 sets up tracking of MMIO2 pages, assigning range IDs.
func (h *Handle) prepMmio2() error {
	h.mem.Lock()
	defer h.mem.Unlock()

	ranges := h.mem.Mmio2RangesLocked()
	if len(ranges) > maxRangeID {
		return errors.Wrapf(ErrTooManyRanges, "%d MMIO2 ranges", len(ranges))
	}

	for idx, r := range ranges {
		t := &mmio2Tracker{
			r:     r,
			id:    uint8(idx + 1),
			pages: make([]Mmio2PageTrack, r.PageCount()),
		}
		for i := range t.pages {
			t.pages[i] = Mmio2PageTrack{
				Dirty:         true,
				Zero:          true,
				CrcFirstHalf:  crcZeroHalf,
				CrcSecondHalf: crcZeroHalf,
			}
		}
		h.cnt.Mmio2.Dirty += uint32(len(t.pages))
		h.mmio2 = append(h.mmio2, t)
	}

	return nil
}

// prepRam sets up tracking of RAM pages. Trackers are allocated without
// holding the lock, then attached if the RAM ranges did not change meanwhile.
func (h *Handle) prepRam() error {
	for {
		h.mem.Lock()
		gen := h.mem.GenerationLocked()
		ranges := append([]*guestmem.RamRange{}, h.mem.RamRangesLocked()...)
		h.mem.Unlock()

		total := uint64(0)
		for _, r := range ranges {
			total += uint64(r.PageCount())
		}
		if total > maxTrackedPages {
			return errors.Wrapf(ErrAlloc, "%d RAM pages exceed tracking limit %d", total, maxTrackedPages)
		}

		fresh := make([]*ramTracker, 0, len(ranges))
		for _, r := range ranges {
			fresh = append(fresh, newRamTracker(r))
		}

		h.mem.Lock()
		if h.mem.GenerationLocked() != gen {
			h.mem.Unlock()
			log.Debug("RAM ranges changed while allocating trackers, retrying")
			continue
		}
		for _, t := range fresh {
			h.ramByRange[t.r] = t
			h.initRamTrackerLocked(t)
		}
		h.ram = fresh
		h.gen = gen
		h.mem.Unlock()

		return nil
	}
}

// initRamTrackerLocked sets the initial tracking state of RAM range pages.
func (h *Handle) initRamTrackerLocked(t *ramTracker) {
	for i := range t.pages {
		lp := &t.pages[i]
		p := t.r.Page(i)
		*lp = RamPageTrack{Crc: crcInvalid}

		if p.Type() != guestmem.PageTypeRAM {
			lp.Ignore = true
			h.cnt.Ignored++
			continue
		}

		lp.Dirty = true
		switch {
		case p.IsZero() || p.IsBallooned():
			lp.Zero = true
			lp.Crc = crcZeroPage
		case p.State() == guestmem.PageStateShared:
			lp.Shared = true
		}
		h.cnt.Ram.Dirty++
	}
}

// dropRamTrackerLocked undoes the accounting of a tracker for a removed range.
func (h *Handle) dropRamTrackerLocked(t *ramTracker) {
	for i := range t.pages {
		lp := &t.pages[i]
		switch {
		case lp.Ignore:
			h.cnt.dec(&h.cnt.Ignored, "ignored RAM")
			continue
		case lp.Dirty:
			h.cnt.dec(&h.cnt.Ram.Dirty, "dirty RAM")
		default:
			h.cnt.dec(&h.cnt.Ram.Ready, "ready RAM")
			if lp.Zero {
				h.cnt.dec(&h.cnt.Ram.Zero, "zero RAM")
			}
		}
		if lp.WriteMonitored {
			h.cnt.dec(&h.cnt.Monitored, "monitored RAM")
		}
	}
	log.Debug("dropped tracking of removed RAM range %q", t.r.Desc())
}

// syncRamTrackersLocked brings RAM tracking in sync with the current RAM
// ranges, tracking new ranges and dropping removed ones.
func (h *Handle) syncRamTrackersLocked() {
	gen := h.mem.GenerationLocked()
	if gen == h.gen {
		return
	}

	ranges := h.mem.RamRangesLocked()
	byRange := make(map[*guestmem.RamRange]*ramTracker, len(ranges))
	list := make([]*ramTracker, 0, len(ranges))
	for _, r := range ranges {
		t, ok := h.ramByRange[r]
		if ok {
			delete(h.ramByRange, r)
		} else {
			t = newRamTracker(r)
			h.initRamTrackerLocked(t)
			log.Debug("tracking new RAM range %q", r.Desc())
		}
		byRange[r] = t
		list = append(list, t)
	}
	for _, t := range h.ramByRange {
		h.dropRamTrackerLocked(t)
	}

	h.ram, h.ramByRange, h.gen = list, byRange, gen
}
