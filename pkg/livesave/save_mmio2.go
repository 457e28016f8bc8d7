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
	"crypto/sha1"

	"github.com/intel/livesave/pkg/guestmem"
	"github.com/intel/livesave/pkg/stream"
)

// mmio2SaveSkipped checks if live MMIO2 saving is throttled for the pass.
func mmio2SaveSkipped(pass uint32) bool {
	return pass > 10 && pass&3 != 2
}

// saveMmio2LiveLocked saves dirty MMIO2 pages which stayed unchanged for
// enough scans.
func (h *Handle) saveMmio2LiveLocked(w *stream.Writer, pass uint32) error {
	if mmio2SaveSkipped(pass) {
		return nil
	}
	for _, t := range h.mmio2 {
		last := -1
		for i := range t.pages {
			lp := &t.pages[i]
			if !lp.Dirty || int(lp.UnchangedScans) < h.cfg.MinUnchangedScans {
				continue
			}
			if h.scanMmio2PageLocked(lp, t.r.PageLocked(i)) {
				continue
			}

			tag := recMmio2Zero
			var data []byte
			if !lp.Zero {
				tag = recMmio2Raw
				data = h.buf
				copy(data, t.r.PageLocked(i))
				lp.Sha1 = sha1.Sum(data)
			}

			if err := h.putMmio2RecordUnlocked(w, tag, t.id, i, i != 0 && i == last+1, data); err != nil {
				return err
			}
			last = i
			h.savedLocked(lp)
		}
	}
	return nil
}

// saveMmio2FinalLocked saves MMIO2 pages in the final pass or a non-live
// save. Live, only pages found dirty or changed since last saved are saved.
func (h *Handle) saveMmio2FinalLocked(w *stream.Writer, live bool) error {
	for _, t := range h.mmio2 {
		last := -1
		for i := range t.pages {
			lp := &t.pages[i]
			page := t.r.PageLocked(i)
			if live && !lp.Dirty && !h.scanMmio2PageLocked(lp, page) {
				if lp.Zero || sha1.Sum(page) == lp.Sha1 {
					continue
				}
				lp.markDirty(&h.cnt)
			}

			data := h.buf
			copy(data, page)
			tag := recMmio2Raw
			if guestmem.IsZeroBytes(data) {
				tag = recMmio2Zero
				data = nil
			}

			if err := h.putMmio2RecordUnlocked(w, tag, t.id, i, i != 0 && i == last+1, data); err != nil {
				return err
			}
			last = i
			if live {
				if data != nil {
					lp.Sha1 = sha1.Sum(data)
				}
				h.savedLocked(lp)
			}
		}
	}
	return nil
}

// putMmio2RecordUnlocked writes an MMIO2 record with the lock temporarily released.
func (h *Handle) putMmio2RecordUnlocked(w *stream.Writer, tag, id uint8, idx int, implicit bool, data []byte) error {
	h.mem.Unlock()
	defer h.mem.Lock()

	putRangeRecord(w, tag, id, idx, implicit)
	if data != nil {
		w.PutMem(data)
	}
	return writeError(w.Err())
}
