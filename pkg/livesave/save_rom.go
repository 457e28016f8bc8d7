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

// zeroPage is the content of pages without backing.
var zeroPage = make([]byte, guestmem.PageSize)

// copyPageLocked copies page content to the handle buffer.
func (h *Handle) copyPageLocked(p *guestmem.Page) []byte {
	if p.IsZero() || p.IsBallooned() {
		copy(h.buf, zeroPage)
	} else {
		copy(h.buf, p.BytesLocked())
	}
	return h.buf
}

// saveRomVirginLocked saves the read-only content of all ROM pages. This
// only happens once, the content being immutable.
func (h *Handle) saveRomVirginLocked(w *stream.Writer, live bool) error {
	for _, t := range h.rom {
		for i := range t.pages {
			lp := &t.pages[i]
			rp := t.r.Page(i)
			prot := rp.Prot()
			data := h.copyPageLocked(rp.Virgin())

			if err := h.putRomRecordUnlocked(w, recRomVirgin, t.id, i, i > 0, prot, data); err != nil {
				return err
			}

			if live {
				lp.Prot = prot
				h.cnt.dec(&h.cnt.Rom.Dirty, "dirty ROM")
				h.cnt.Rom.Ready++
				h.cnt.Saved++
			}
		}
	}
	return nil
}

// saveRomShadowLocked saves the shadow pages of shadowed ROM ranges. Live
// passes only save pages which were not written to recently. The final
// pass saves all dirty pages and records protection changes of the rest.
func (h *Handle) saveRomShadowLocked(w *stream.Writer, live, final bool) error {
	for _, t := range h.rom {
		if !t.r.IsShadowed() {
			continue
		}
		prev := -1
		for i := range t.pages {
			lp := &t.pages[i]
			rp := t.r.Page(i)
			prot := rp.Prot()

			if live {
				h.pollRomWriteLocked(t, i)
			}

			if !live || (lp.Dirty && ((!lp.DirtiedRecently && !lp.WrittenTo) || final)) {
				sp := rp.Shadow()
				tag := recRomShwZero
				var data []byte
				if !sp.IsZero() && !sp.IsBallooned() {
					data = h.copyPageLocked(sp)
					if guestmem.IsZeroBytes(data) {
						data = nil
					} else {
						tag = recRomShwRaw
					}
				}

				if err := h.putRomRecordUnlocked(w, tag, t.id, i, i > 0 && i == prev+1, prot, data); err != nil {
					return err
				}
				prev = i

				if live {
					lp.WrittenTo = false
					lp.Prot = prot
					h.savedLocked(lp)
				}
				continue
			}

			if final && lp.Prot != prot {
				if err := h.putRomRecordUnlocked(w, recRomProt, t.id, i, i > 0 && i == prev+1, prot, nil); err != nil {
					return err
				}
				prev = i
				lp.Prot = prot
			}
		}
	}
	return nil
}

// putRomRecordUnlocked writes a ROM record with the lock temporarily released.
func (h *Handle) putRomRecordUnlocked(w *stream.Writer, tag, id uint8, idx int, implicit bool, prot guestmem.RomProt, data []byte) error {
	h.mem.Unlock()
	defer h.mem.Lock()

	putRangeRecord(w, tag, id, idx, implicit)
	w.PutU8(uint8(prot))
	if data != nil {
		w.PutMem(data)
	}
	return writeError(w.Err())
}
