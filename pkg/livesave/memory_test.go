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
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intel/livesave/pkg/guestmem"
	"github.com/intel/livesave/pkg/stream"
	"github.com/intel/livesave/pkg/testutils"
)

const (
	lowBase   = guestmem.GCPhys(0)
	lowPages  = 64
	highBase  = guestmem.GCPhys(0x100000)
	highPages = 16
	biosBase  = guestmem.GCPhys(0x20000)
	biosPages = 4
	optBase   = guestmem.GCPhys(0x200000)
	vgaPages  = 4

	testHoleSize = 0x20000000
	testRamSize  = 0x8000000
)

// testMemory is guest memory with two RAM ranges, a shadowed ROM inside
// the low one, an unshadowed ROM outside RAM and a video MMIO2 range.
type testMemory struct {
	*guestmem.Manager
	bios *guestmem.RomRange
	opt  *guestmem.RomRange
	vga  *guestmem.Mmio2Range
}

func newTestMemory(t *testing.T, options ...guestmem.Option) *testMemory {
	m := guestmem.NewManager(append([]guestmem.Option{
		guestmem.WithRamConfig(testHoleSize, testRamSize),
	}, options...)...)
	t.Cleanup(func() { m.Close() })

	_, err := m.AddRamRange(lowBase, lowPages*guestmem.PageSize, "low RAM")
	require.NoError(t, err)
	_, err = m.AddRamRange(highBase, highPages*guestmem.PageSize, "high RAM")
	require.NoError(t, err)

	tm := &testMemory{Manager: m}
	tm.bios, err = m.AddRomRange(biosBase, biosPages*guestmem.PageSize, "BIOS", true,
		testutils.PatternPage(biosPages*guestmem.PageSize, 1))
	require.NoError(t, err)
	tm.opt, err = m.AddRomRange(optBase, guestmem.PageSize, "option ROM", false,
		testutils.PatternPage(guestmem.PageSize, 2))
	require.NoError(t, err)
	tm.vga, err = m.AddMmio2Range("vga", 0, 0, "VRAM", vgaPages*guestmem.PageSize)
	require.NoError(t, err)

	return tm
}

func pageAt(base guestmem.GCPhys, idx int) guestmem.GCPhys {
	return base + guestmem.GCPhys(idx)<<guestmem.PageShift
}

// populate gives memory content of every kind and state.
func (tm *testMemory) populate(t *testing.T) {
	for i := 1; i <= 8; i++ {
		require.NoError(t, tm.Write(pageAt(lowBase, i), testutils.PatternPage(guestmem.PageSize, int64(100+i))))
	}
	require.NoError(t, tm.Write(pageAt(lowBase, 10), make([]byte, guestmem.PageSize)))
	require.NoError(t, tm.Write(pageAt(lowBase, 12)+100, []byte("partial page")))
	require.NoError(t, tm.Share(pageAt(lowBase, 5)))
	require.NoError(t, tm.Balloon(pageAt(lowBase, 48), 2))

	require.NoError(t, tm.MakeLarge(highBase, 4))
	require.NoError(t, tm.Write(pageAt(highBase, 1), testutils.FilledPage(guestmem.PageSize, 0x5a)))
	require.NoError(t, tm.Write(pageAt(highBase, 15), testutils.PatternPage(guestmem.PageSize, 200)))

	require.NoError(t, tm.SetRomProtection(biosBase, biosPages*guestmem.PageSize, guestmem.RomProtReadRomWriteRAM))
	require.NoError(t, tm.Write(pageAt(biosBase, 1), testutils.PatternPage(guestmem.PageSize, 300)))
	require.NoError(t, tm.SetRomProtection(pageAt(biosBase, 2), guestmem.PageSize, guestmem.RomProtReadRAMWriteRAM))
	require.NoError(t, tm.Write(pageAt(biosBase, 2)+8, []byte{1, 2, 3, 4}))

	require.NoError(t, tm.WriteMmio2(tm.vga, 0, testutils.PatternPage(guestmem.PageSize, 400)))
	require.NoError(t, tm.WriteMmio2(tm.vga, 2*guestmem.PageSize+17, []byte{0xff}))
}

// requireSameMemory checks that two memories have identical content.
func requireSameMemory(t *testing.T, src, dst *testMemory) {
	src.Lock()
	defer src.Unlock()
	dst.Lock()
	defer dst.Unlock()

	sr, dr := src.RamRangesLocked(), dst.RamRangesLocked()
	require.Equal(t, len(sr), len(dr))
	for i, r := range sr {
		for j := 0; j < r.PageCount(); j++ {
			sp, dp := r.Page(j), dr[i].Page(j)
			if sp.Type() != guestmem.PageTypeRAM {
				continue
			}
			require.Equal(t, sp.IsBallooned(), dp.IsBallooned(), "ballooning of page %s", r.GCPhysOf(j))
			require.Equal(t, sp.BytesLocked(), dp.BytesLocked(), "content of page %s", r.GCPhysOf(j))
		}
	}

	for i, r := range src.RomRangesLocked() {
		d := dst.RomRangesLocked()[i]
		for j := 0; j < r.PageCount(); j++ {
			sp, dp := r.Page(j), d.Page(j)
			require.Equal(t, sp.Prot(), dp.Prot(), "protection of ROM %q page %d", r.Desc(), j)
			require.Equal(t, sp.Virgin().BytesLocked(), dp.Virgin().BytesLocked(), "ROM %q page %d", r.Desc(), j)
			require.Equal(t, sp.Shadow().BytesLocked(), dp.Shadow().BytesLocked(), "shadow ROM %q page %d", r.Desc(), j)
		}
	}

	for i, r := range src.Mmio2RangesLocked() {
		d := dst.Mmio2RangesLocked()[i]
		for j := 0; j < r.PageCount(); j++ {
			require.Equal(t, r.PageLocked(j), d.PageLocked(j), "MMIO2 %q page %d", r.Desc(), j)
		}
	}
}

// requireConsistentCounters checks page counters against the trackers.
func requireConsistentCounters(t *testing.T, h *Handle) {
	h.mem.Lock()
	defer h.mem.Unlock()

	var ram PageCounters
	var ignored, monitored uint32
	for _, rt := range h.ram {
		for _, lp := range rt.pages {
			switch {
			case lp.Ignore:
				ignored++
				continue
			case lp.Dirty:
				ram.Dirty++
			default:
				ram.Ready++
				if lp.Zero {
					ram.Zero++
				}
			}
			if lp.WriteMonitored {
				monitored++
			}
		}
	}
	require.Equal(t, ram, h.cnt.Ram, "RAM page counters")
	require.Equal(t, ignored, h.cnt.Ignored, "ignored pages")
	require.Equal(t, monitored, h.cnt.Monitored, "monitored pages")

	var mmio2 PageCounters
	for _, mt := range h.mmio2 {
		for _, lp := range mt.pages {
			if lp.Dirty {
				mmio2.Dirty++
			} else {
				mmio2.Ready++
				if lp.Zero {
					mmio2.Zero++
				}
			}
		}
	}
	require.Equal(t, mmio2, h.cnt.Mmio2, "MMIO2 page counters")
	require.Equal(t, uint64(0), h.cnt.Defects, "accounting defects")
}

// testRecord is a decoded saved state record.
type testRecord struct {
	pass     uint32
	tag      uint8
	explicit bool
	addr     guestmem.GCPhys
	id       uint8
	idx      int
	prot     guestmem.RomProt
	page     []byte
}

// decodeStream decodes passes of saved state up to the final one.
func decodeStream(t *testing.T, data []byte) []testRecord {
	r := stream.NewReader(bytes.NewReader(data))
	recs := []testRecord{}

	for first := true; ; first = false {
		pass, err := r.GetU32()
		require.NoError(t, err)
		if first {
			r.GetU32()
			r.GetU64()
			skipRangeTable(t, r, true)
			skipRangeTable(t, r, false)
		}

		var addr guestmem.GCPhys
		cursors := [3]struct {
			id  uint8
			idx int
		}{}
		for {
			tag, err := r.GetU8()
			require.NoError(t, err)
			if tag == recEnd {
				break
			}
			rec := testRecord{pass: pass, tag: tag &^ recFlagAddr, explicit: tag&recFlagAddr != 0}
			switch rec.tag {
			case recRamZero, recRamRaw, recRamBallooned:
				if rec.explicit {
					a, _ := r.GetGCPhys()
					addr = guestmem.GCPhys(a)
				} else {
					addr += guestmem.PageSize
				}
				rec.addr = addr
				if rec.tag == recRamRaw {
					rec.page = make([]byte, guestmem.PageSize)
					r.GetMem(rec.page)
				}
			default:
				c := &cursors[recCategory(rec.tag)]
				if rec.explicit {
					c.id, _ = r.GetU8()
					idx, _ := r.GetU32()
					c.idx = int(idx)
				} else {
					c.idx++
				}
				rec.id, rec.idx = c.id, c.idx
				if rec.tag >= recRomVirgin {
					p, _ := r.GetU8()
					rec.prot = guestmem.RomProt(p)
				}
				if rec.tag == recMmio2Raw || rec.tag == recRomVirgin || rec.tag == recRomShwRaw {
					rec.page = make([]byte, guestmem.PageSize)
					r.GetMem(rec.page)
				}
			}
			require.NoError(t, r.Err())
			recs = append(recs, rec)
		}

		if pass == FinalPass {
			return recs
		}
	}
}

func recCategory(tag uint8) int {
	switch tag {
	case recMmio2Raw, recMmio2Zero:
		return 0
	case recRomVirgin:
		return 1
	}
	return 2
}

func skipRangeTable(t *testing.T, r *stream.Reader, rom bool) {
	for {
		id, err := r.GetU8()
		require.NoError(t, err)
		if id == rangeTableEnd {
			return
		}
		r.GetStrZ(stream.MaxStrZ)
		r.GetU32()
		r.GetU8()
		r.GetStrZ(stream.MaxStrZ)
		if rom {
			r.GetGCPhys()
		}
		r.GetU64()
		require.NoError(t, r.Err())
	}
}

// filterRecords returns the records matching fn.
func filterRecords(recs []testRecord, fn func(testRecord) bool) []testRecord {
	var matching []testRecord
	for _, rec := range recs {
		if fn(rec) {
			matching = append(matching, rec)
		}
	}
	return matching
}

// livePass runs a live pass the way Controller does.
func livePass(t *testing.T, h *Handle, w *stream.Writer, pass uint32) {
	require.NoError(t, w.PutU32(pass))
	require.NoError(t, h.LiveExec(w, pass))
	requireConsistentCounters(t, h)
}

// finalPass runs the final pass the way Controller does.
func finalPass(t *testing.T, h *Handle, w *stream.Writer) {
	require.NoError(t, w.PutU32(FinalPass))
	require.NoError(t, h.SaveExec(w, true))
}

// restore loads saved state into memory.
func restore(t *testing.T, mem Memory, data []byte) {
	require.NoError(t, NewController(mem).Restore(context.Background(), stream.NewReader(bytes.NewReader(data))))
}
