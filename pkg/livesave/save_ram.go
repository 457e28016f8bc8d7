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
	"github.com/intel/livesave/pkg/stream"
)

// saveRamLocked saves RAM pages. Live passes save dirty pages which settled
// since the last scan, yielding the lock periodically. The final pass and a
// non-live save include everything dirty or not tracked, without yielding.
func (h *Handle) saveRamLocked(w *stream.Writer, live, final bool) error {
	var cur guestmem.GCPhys
	last := guestmem.NilGCPhys

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
				if live && !final && h.isYieldPoint(i) {
					h.mem.Yield()
					if h.mem.GenerationLocked() != gen {
						cur = t.r.GCPhysOf(i)
						restart = true
						break
					}
				}

				lp := &t.pages[i]
				p := t.r.Page(i)
				if !h.ramPageDueLocked(lp, p, live, final) {
					continue
				}

				addr := t.r.GCPhysOf(i)
				tag, data := h.ramRecordLocked(lp, p, addr, live)

				h.mem.Unlock()
				err := putRamRecord(w, tag, addr, last, data)
				h.mem.Lock()
				if err != nil {
					return err
				}
				last = addr

				if live {
					if !lp.Ignore {
						h.savedLocked(lp)
					} else {
						h.cnt.Saved++
					}
				}

				if h.mem.GenerationLocked() != gen {
					cur = addr + guestmem.PageSize
					restart = true
					break
				}
			}
			if restart {
				log.Debug("RAM ranges changed during save, restarting at %s", cur)
				break
			}
			cur = t.r.Last()
		}
	}

	return nil
}

// ramPageDueLocked checks if a RAM page should be saved now.
func (h *Handle) ramPageDueLocked(lp *RamPageTrack, p *guestmem.Page, live, final bool) bool {
	if p.Type() != guestmem.PageTypeRAM {
		return false
	}
	switch {
	case !live:
		return true
	case final:
		return lp.Dirty || lp.Ignore
	}
	return lp.Dirty && !lp.WriteMonitoredJustNow && !lp.Ignore &&
		lp.settled(p) && p.WriteLocks() == 0
}

// ramRecordLocked picks the record type for a RAM page, copying its content
// if it needs to be saved.
func (h *Handle) ramRecordLocked(lp *RamPageTrack, p *guestmem.Page, addr guestmem.GCPhys, live bool) (uint8, []byte) {
	check := live && !lp.Ignore
	switch {
	case p.IsBallooned():
		if check {
			h.verifyDigestLocked(lp, addr, zeroPage, "save")
		}
		return recRamBallooned, nil
	case p.IsZero():
		if check {
			h.verifyDigestLocked(lp, addr, zeroPage, "save")
		}
		return recRamZero, nil
	}

	data := h.copyPageLocked(p)
	if check {
		h.verifyDigestLocked(lp, addr, data, "save")
	}
	if guestmem.IsZeroBytes(data) {
		return recRamZero, nil
	}
	return recRamRaw, data
}
