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
	"github.com/intel/livesave/pkg/guestmem"
)

// isYieldPoint checks if the lock should be yielded before the given page.
func (h *Handle) isYieldPoint(idx int) bool {
	mask := h.cfg.YieldInterval - 1
	return idx&mask == 0x100&mask
}

// scanRomLocked picks up writes to shadowed ROM pages.
func (h *Handle) scanRomLocked() {
	for _, t := range h.rom {
		if !t.r.IsShadowed() {
			continue
		}
		for i := range t.pages {
			lp := &t.pages[i]
			h.pollRomWriteLocked(t, i)
			if lp.WrittenTo {
				lp.WrittenTo = false
				lp.markDirty(&h.cnt)
				lp.DirtiedRecently = true
			} else {
				lp.DirtiedRecently = false
			}
		}
	}
}

// pollRomWriteLocked collects a write notification for a shadowed ROM page.
func (h *Handle) pollRomWriteLocked(t *romTracker, idx int) {
	if h.wm.ClearRomWrittenToLocked(t.r.Page(idx)) {
		t.pages[idx].WrittenTo = true
	}
}

// mmio2ScanSkipped checks if MMIO2 scanning is throttled for the pass.
func mmio2ScanSkipped(pass uint32) bool {
	return pass&3 != 0 && pass > 10
}

// scanMmio2Locked checks MMIO2 pages for changes.
func (h *Handle) scanMmio2Locked(pass uint32) {
	if mmio2ScanSkipped(pass) {
		return
	}
	for _, t := range h.mmio2 {
		for i := range t.pages {
			h.scanMmio2PageLocked(&t.pages[i], t.r.PageLocked(i))
		}
	}
}

// scanMmio2PageLocked checks if an MMIO2 page changed since the last scan,
// comparing the CRC-32 of the two page halves. Once a change is seen the page
// stays dirty until saved, even if its content reverts.
func (h *Handle) scanMmio2PageLocked(lp *Mmio2PageTrack, page []byte) bool {
	half := len(page) / 2

	if lp.Zero {
		if guestmem.IsZeroBytes(page) {
			lp.unchanged()
			return false
		}
		lp.CrcFirstHalf = crcPage(page[:half])
		lp.markDirty(&h.cnt)
		lp.Zero = false
		return true
	}

	crc := crcPage(page[:half])
	if crc == lp.CrcFirstHalf {
		crc2 := crcPage(page[half:])
		if crc2 == lp.CrcSecondHalf {
			lp.unchanged()
			return false
		}
		lp.CrcSecondHalf = crc2
		lp.markDirty(&h.cnt)
		return true
	}

	lp.CrcFirstHalf = crc
	lp.markDirty(&h.cnt)
	if crc == crcZeroHalf && guestmem.IsZeroBytes(page) {
		lp.CrcSecondHalf = crcZeroHalf
		lp.Zero = true
	}
	return true
}

// scanRamLocked reclassifies RAM pages, arming write monitoring for pages
// written to. Outside the final pass the lock is yielded periodically and
// the scan restarts from the interrupted page if the RAM ranges changed.
func (h *Handle) scanRamLocked(final bool) {
	var cur guestmem.GCPhys
	for restart := true; restart; {
		restart = false
		h.syncRamTrackersLocked()
		gen := h.gen

		for _, t := range h.ram {
			if t.r.Last() <= cur {
				continue
			}
			i := 0
			if cur > t.r.Base() {
				i = int((cur - t.r.Base()) >> guestmem.PageShift)
			}
			for ; i < len(t.pages); i++ {
				if !final && h.isYieldPoint(i) {
					h.mem.Yield()
					if h.mem.GenerationLocked() != gen {
						cur = t.r.GCPhysOf(i)
						restart = true
						break
					}
				}
				h.scanRamPageLocked(t, i)
			}
			if restart {
				log.Debug("RAM ranges changed during scan, restarting at %s", cur)
				break
			}
			cur = t.r.Last()
		}
	}
}

func (h *Handle) scanRamPageLocked(t *ramTracker, idx int) {
	lp := &t.pages[idx]
	if lp.Ignore {
		return
	}

	p := t.r.Page(idx)
	if p.Type() != guestmem.PageTypeRAM {
		h.ignoreRamPageLocked(lp, p)
		return
	}

	switch p.State() {
	case guestmem.PageStateAllocated:
		h.wm.ClearWrittenToLocked(p)
		if !lp.WriteMonitored {
			h.cnt.Monitored++
		}
		if lp.markDirty(&h.cnt) {
			lp.dirtied()
		}
		h.wm.ArmLocked(p)
		lp.WriteMonitored = true
		lp.WriteMonitoredJustNow = true
		lp.Zero = false
		lp.Shared = false
		lp.Crc = crcInvalid

	case guestmem.PageStateWriteMonitored:
		if p.WriteLocks() == 0 {
			if h.cfg.VerifyDigests {
				if lp.WriteMonitoredJustNow {
					lp.Crc = crcPage(p.BytesLocked())
				} else {
					h.verifyDigestLocked(lp, t.r.GCPhysOf(idx), p.BytesLocked(), "scan")
				}
			}
			lp.WriteMonitoredJustNow = false
		} else {
			lp.WriteMonitoredJustNow = true
			lp.Crc = crcInvalid
			if lp.markDirty(&h.cnt) {
				lp.dirtied()
			}
		}

	case guestmem.PageStateZero, guestmem.PageStateBallooned:
		if !lp.Zero {
			h.unmonitoredLocked(lp)
			lp.markDirty(&h.cnt)
			lp.Zero = true
			lp.Shared = false
			lp.Crc = crcZeroPage
		}

	case guestmem.PageStateShared:
		if !lp.Shared {
			h.unmonitoredLocked(lp)
			lp.markDirty(&h.cnt)
			lp.Zero = false
			lp.Shared = true
			lp.Crc = crcInvalid
			if h.cfg.VerifyDigests {
				lp.Crc = crcPage(p.BytesLocked())
			}
		}
	}
}

// unmonitoredLocked accounts for a page which lost write monitoring.
func (h *Handle) unmonitoredLocked(lp *RamPageTrack) {
	if lp.WriteMonitored {
		lp.WriteMonitored = false
		h.cnt.dec(&h.cnt.Monitored, "monitored RAM")
	}
}

// ignoreRamPageLocked stops tracking a page which is no longer RAM.
func (h *Handle) ignoreRamPageLocked(lp *RamPageTrack, p *guestmem.Page) {
	lp.Ignore = true
	if lp.WriteMonitored {
		h.wm.DisarmLocked(p)
		h.wm.ClearWrittenToLocked(p)
		h.cnt.dec(&h.cnt.Monitored, "monitored RAM")
		lp.WriteMonitored = false
	}
	if lp.Dirty {
		h.cnt.dec(&h.cnt.Ram.Dirty, "dirty RAM")
	} else {
		h.cnt.dec(&h.cnt.Ram.Ready, "ready RAM")
		if lp.Zero {
			h.cnt.dec(&h.cnt.Ram.Zero, "zero RAM")
		}
	}
	h.cnt.Ignored++
}

// verifyDigestLocked checks page content against its recorded digest.
func (h *Handle) verifyDigestLocked(lp *RamPageTrack, addr guestmem.GCPhys, data []byte, where string) {
	if !h.cfg.VerifyDigests || lp.Crc == crcInvalid {
		return
	}
	if crc := crcPage(data); crc != lp.Crc {
		h.cnt.DigestMismatches++
		defects.Error("internal error: %s digest mismatch for page %s: %#08x, expected %#08x",
			where, addr, crc, lp.Crc)
	}
}
