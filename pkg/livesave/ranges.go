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

// putRamConfig writes the RAM configuration the saved state is valid for.
func (h *Handle) putRamConfig(w *stream.Writer) error {
	hole, size := h.mem.RamConfig()
	w.PutU32(hole)
	w.PutU64(size)
	return writeError(w.Err())
}

// putRomTable writes the ID table of ROM ranges.
func (h *Handle) putRomTable(w *stream.Writer) error {
	for _, t := range h.rom {
		w.PutU8(t.id)
		w.PutStrZ("")
		w.PutU32(0)
		w.PutU8(0)
		w.PutStrZ(t.r.Desc())
		w.PutGCPhys(stream.GCPhys(t.r.Base()))
		w.PutU64(t.r.Size())
	}
	w.PutU8(rangeTableEnd)
	return writeError(w.Err())
}

// putMmio2Table writes the ID table of MMIO2 ranges.
func (h *Handle) putMmio2Table(w *stream.Writer) error {
	for _, t := range h.mmio2 {
		w.PutU8(t.id)
		w.PutStrZ(t.r.DevName())
		w.PutU32(t.r.Instance())
		w.PutU8(t.r.Region())
		w.PutStrZ(t.r.Desc())
		w.PutU64(t.r.Size())
	}
	w.PutU8(rangeTableEnd)
	return writeError(w.Err())
}

// getRamConfig reads and checks the saved RAM configuration.
func (l *Loader) getRamConfig(r *stream.Reader) error {
	hole, _ := r.GetU32()
	size, _ := r.GetU64()
	if err := r.Err(); err != nil {
		return readError(err)
	}
	localHole, localSize := l.mem.RamConfig()
	if hole != localHole || size != localSize {
		return formatError("RAM config mismatch: saved hole %#x, size %#x, local hole %#x, size %#x",
			hole, size, localHole, localSize)
	}
	return nil
}

// getRangeID reads a range ID, returning false at the end of the table.
func getRangeID(r *stream.Reader, seen map[uint8]bool, what string) (uint8, bool, error) {
	id, err := r.GetU8()
	if err != nil {
		return 0, false, readError(err)
	}
	if id == rangeTableEnd {
		return 0, false, nil
	}
	if id == 0 || seen[id] {
		return 0, false, formatError("invalid or duplicate %s range ID %d", what, id)
	}
	seen[id] = true
	return id, true, nil
}

// getRomTable reads the ROM ID table, matching saved ranges to local ones.
func (l *Loader) getRomTable(r *stream.Reader) error {
	seen := map[uint8]bool{}
	matched := map[*guestmem.RomRange]bool{}

	for {
		id, ok, err := getRangeID(r, seen, "ROM")
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		devName, _ := r.GetStrZ(stream.MaxStrZ)
		instance, _ := r.GetU32()
		region, _ := r.GetU8()
		desc, _ := r.GetStrZ(stream.MaxStrZ)
		base, _ := r.GetGCPhys()
		size, _ := r.GetU64()
		if err := r.Err(); err != nil {
			return readError(err)
		}

		if devName != "" || instance != 0 || region != 0 {
			return formatError("ROM range %d %q: unexpected device %q/%d/%d",
				id, desc, devName, instance, region)
		}
		gcBase := guestmem.GCPhys(base)
		if gcBase&guestmem.PageOffsetMask != 0 || size == 0 || size&guestmem.PageOffsetMask != 0 {
			return formatError("ROM range %d %q: misaligned %s/%#x", id, desc, gcBase, size)
		}

		var rr *guestmem.RomRange
		for _, c := range l.mem.RomRangesLocked() {
			if !matched[c] && c.Desc() == desc {
				rr = c
				break
			}
		}
		if rr == nil {
			return formatError("ROM range %d %q: no such range", id, desc)
		}
		if rr.Base() != gcBase || rr.Size() != size {
			return formatError("ROM range %d %q: saved %s/%#x, local %s/%#x",
				id, desc, gcBase, size, rr.Base(), rr.Size())
		}
		matched[rr] = true
		l.rom[id] = rr
	}

	for _, c := range l.mem.RomRangesLocked() {
		if !matched[c] {
			log.Warn("ROM range %q %s not in saved state", c.Desc(), c.Base())
		}
	}
	return nil
}

// getMmio2Table reads the MMIO2 ID table, matching saved ranges to local ones.
func (l *Loader) getMmio2Table(r *stream.Reader) error {
	seen := map[uint8]bool{}
	matched := map[*guestmem.Mmio2Range]bool{}

	for {
		id, ok, err := getRangeID(r, seen, "MMIO2")
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		devName, _ := r.GetStrZ(stream.MaxStrZ)
		instance, _ := r.GetU32()
		region, _ := r.GetU8()
		desc, _ := r.GetStrZ(stream.MaxStrZ)
		size, _ := r.GetU64()
		if err := r.Err(); err != nil {
			return readError(err)
		}

		var mr *guestmem.Mmio2Range
		for _, c := range l.mem.Mmio2RangesLocked() {
			if !matched[c] && c.Region() == region && c.Instance() == instance && c.DevName() == devName {
				mr = c
				break
			}
		}
		if mr == nil {
			return formatError("MMIO2 range %d %s/%d/%d (%q): no such range",
				id, devName, instance, region, desc)
		}
		if size > mr.Size() {
			return formatError("MMIO2 range %d %s/%d/%d: saved size %#x exceeds %#x",
				id, devName, instance, region, size, mr.Size())
		}
		if size < mr.Size() {
			log.Warn("MMIO2 range %s/%d/%d: saved size %#x smaller than %#x",
				devName, instance, region, size, mr.Size())
		}
		matched[mr] = true
		l.mmio2[id] = mmio2Target{r: mr, pages: int(size >> guestmem.PageShift)}
	}

	for _, c := range l.mem.Mmio2RangesLocked() {
		if !matched[c] {
			log.Warn("MMIO2 range %s/%d/%d not in saved state", c.DevName(), c.Instance(), c.Region())
		}
	}
	return nil
}
