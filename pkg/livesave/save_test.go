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

func TestSaveRestore(t *testing.T) {
	src := newTestMemory(t)
	src.populate(t)

	buf := &bytes.Buffer{}
	w := stream.NewWriter(buf)
	require.NoError(t, NewController(src).Save(context.Background(), w))

	dst := newTestMemory(t)
	restore(t, dst, buf.Bytes())
	requireSameMemory(t, src, dst)

	// nothing is left armed or tracked on either side
	require.Equal(t, uint32(0), src.Stats().MonitoredPages)
	wm, err := src.EngageWriteMonitor()
	require.NoError(t, err)
	wm.Release()
}

func TestLiveSaveRestore(t *testing.T) {
	src := newTestMemory(t)
	src.populate(t)

	// the guest keeps writing between passes
	guest := func(pass, _ uint32) {
		if pass > 5 {
			return
		}
		seed := int64(1000 + pass)
		require.NoError(t, src.Write(pageAt(lowBase, int(pass)+2), testutils.PatternPage(guestmem.PageSize, seed)))
		require.NoError(t, src.Write(pageAt(highBase, 8)+guestmem.GCPhys(pass), []byte{byte(pass)}))
		require.NoError(t, src.Write(pageAt(biosBase, 1)+guestmem.GCPhys(pass), []byte{byte(pass)}))
		require.NoError(t, src.WriteMmio2(src.vga, guestmem.PageSize, testutils.PatternPage(64, seed)))
	}
	pause := func() error {
		if err := src.Write(pageAt(lowBase, 20), []byte("last words")); err != nil {
			return err
		}
		if err := src.Balloon(pageAt(lowBase, 2), 1); err != nil {
			return err
		}
		return src.SetRomProtection(pageAt(biosBase, 3), guestmem.PageSize, guestmem.RomProtReadRAMWriteIgnore)
	}

	buf := &bytes.Buffer{}
	w := stream.NewWriter(buf)
	ctl := NewController(src, WithProgress(guest), WithMaxPasses(64))
	require.NoError(t, ctl.Live(context.Background(), w, pause))

	dst := newTestMemory(t)
	restore(t, dst, buf.Bytes())
	requireSameMemory(t, src, dst)
	require.Equal(t, uint32(0), src.Stats().MonitoredPages)
}

func TestLiveSaveCanceled(t *testing.T) {
	src := newTestMemory(t)
	src.populate(t)

	ctx, cancel := context.WithCancel(context.Background())
	passes := 0
	stop := func(pass, _ uint32) {
		passes++
		cancel()
	}

	w := stream.NewWriter(&bytes.Buffer{})
	err := NewController(src, WithProgress(stop)).Live(ctx, w, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, passes)

	// Done ran, so monitoring can be engaged again
	require.Equal(t, uint32(0), src.Stats().MonitoredPages)
	wm, err := src.EngageWriteMonitor()
	require.NoError(t, err)
	wm.Release()
}

func TestSaveStreamFailure(t *testing.T) {
	src := newTestMemory(t)
	src.populate(t)

	w := stream.NewWriter(&failingWriter{limit: 2 * guestmem.PageSize})
	err := NewController(src).Live(context.Background(), w, nil)
	require.ErrorIs(t, err, ErrStreamIO)

	wm, err := src.EngageWriteMonitor()
	require.NoError(t, err)
	wm.Release()
}

type failingWriter struct {
	limit int
	n     int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > w.limit {
		return 0, bytes.ErrTooLarge
	}
	w.n += len(p)
	return len(p), nil
}

func TestZeroPageRecord(t *testing.T) {
	newMemory := func() *guestmem.Manager {
		m := guestmem.NewManager()
		t.Cleanup(func() { m.Close() })
		_, err := m.AddRamRange(0x100000, guestmem.PageSize, "RAM")
		require.NoError(t, err)
		return m
	}

	buf := &bytes.Buffer{}
	require.NoError(t, NewController(newMemory()).Save(context.Background(), stream.NewWriter(buf)))
	require.Equal(t, []byte{
		0xff, 0xff, 0xff, 0xff, // final pass
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, // RAM config
		0xff, 0xff, // empty ROM and MMIO2 tables
		0x80, 0, 0, 0x10, 0, 0, 0, 0, 0, // RAM_ZERO at 0x100000
		0xff,
	}, buf.Bytes())

	dst := newMemory()
	require.NoError(t, dst.Write(0x100000, testutils.PatternPage(guestmem.PageSize, 1)))
	restore(t, dst, buf.Bytes())

	p, err := dst.PageLocked(0x100000)
	require.NoError(t, err)
	require.True(t, p.IsZero())
}

func TestQuiescentPageSavedOnce(t *testing.T) {
	m := guestmem.NewManager()
	defer m.Close()
	_, err := m.AddRamRange(0x100000, 4*guestmem.PageSize, "RAM")
	require.NoError(t, err)
	addr := pageAt(0x100000, 2)

	var final []byte
	write := func(seed int64) {
		final = testutils.PatternPage(guestmem.PageSize, seed)
		require.NoError(t, m.Write(addr, final))
	}

	write(1)
	h, err := Prepare(m)
	require.NoError(t, err)
	defer h.Done()

	buf := &bytes.Buffer{}
	w := stream.NewWriter(buf)
	for pass := uint32(0); pass < 6; pass++ {
		livePass(t, h, w, pass)
		if pass < 2 {
			write(int64(pass + 2))
		}
	}
	finalPass(t, h, w)

	recs := decodeStream(t, buf.Bytes())
	raw := filterRecords(recs, func(r testRecord) bool { return r.tag == recRamRaw })
	require.Equal(t, 1, len(raw), "RAM_RAW records")
	require.Equal(t, addr, raw[0].addr)
	require.Equal(t, final, raw[0].page)

	zero := filterRecords(recs, func(r testRecord) bool { return r.tag == recRamZero })
	require.Equal(t, 3, len(zero), "RAM_ZERO records")
}

func TestRomProtectionChangeMidSave(t *testing.T) {
	src := newTestMemory(t)
	require.NoError(t, src.SetRomProtection(biosBase, guestmem.PageSize, guestmem.RomProtReadRomWriteRAM))
	shadow := testutils.PatternPage(guestmem.PageSize, 77)
	require.NoError(t, src.Write(biosBase, shadow))

	h, err := Prepare(src)
	require.NoError(t, err)
	defer h.Done()

	buf := &bytes.Buffer{}
	w := stream.NewWriter(buf)
	livePass(t, h, w, 0)
	livePass(t, h, w, 1)

	// the guest switches to running from the shadow copy
	require.NoError(t, src.SetRomProtection(biosBase, guestmem.PageSize, guestmem.RomProtReadRAMWriteRAM))
	finalPass(t, h, w)

	recs := decodeStream(t, buf.Bytes())
	prot := filterRecords(recs, func(r testRecord) bool { return r.tag == recRomProt })
	require.Equal(t, 1, len(prot))
	require.Equal(t, FinalPass, prot[0].pass)
	require.Equal(t, guestmem.RomProtReadRAMWriteRAM, prot[0].prot)

	shw := filterRecords(recs, func(r testRecord) bool { return r.tag == recRomShwRaw })
	require.Equal(t, 1, len(shw))
	require.Equal(t, guestmem.RomProtReadRomWriteRAM, shw[0].prot)
	require.Equal(t, shadow, shw[0].page)

	dst := newTestMemory(t)
	restore(t, dst, buf.Bytes())
	requireSameMemory(t, src, dst)

	dst.Lock()
	defer dst.Unlock()
	rp := dst.bios.Page(0)
	require.Equal(t, guestmem.RomProtReadRAMWriteRAM, rp.Prot())
	require.Equal(t, shadow, rp.Active().BytesLocked())
	require.Equal(t, testutils.PatternPage(biosPages*guestmem.PageSize, 1)[:guestmem.PageSize], rp.Virgin().BytesLocked())
}

func TestAddressCompaction(t *testing.T) {
	src := newTestMemory(t)
	src.populate(t)

	buf := &bytes.Buffer{}
	require.NoError(t, NewController(src).Save(context.Background(), stream.NewWriter(buf)))
	recs := decodeStream(t, buf.Bytes())

	count := func(fn func(testRecord) bool) int {
		return len(filterRecords(recs, fn))
	}
	isRAM := func(r testRecord) bool {
		return r.tag == recRamZero || r.tag == recRamRaw || r.tag == recRamBallooned
	}

	// low RAM is split by the BIOS, high RAM is a separate range
	require.Equal(t, 3, count(func(r testRecord) bool { return isRAM(r) && r.explicit }))
	require.Equal(t, lowPages-biosPages+highPages, count(isRAM))

	require.Equal(t, 1, count(func(r testRecord) bool { return r.tag == recMmio2Raw && r.explicit }))
	require.Equal(t, 0, count(func(r testRecord) bool { return r.tag == recMmio2Zero && r.explicit }))
	require.Equal(t, vgaPages, count(func(r testRecord) bool { return r.tag == recMmio2Raw || r.tag == recMmio2Zero }))

	require.Equal(t, 2, count(func(r testRecord) bool { return r.tag == recRomVirgin && r.explicit }))
	require.Equal(t, 1, count(func(r testRecord) bool {
		return (r.tag == recRomShwRaw || r.tag == recRomShwZero) && r.explicit
	}))

	// content decides between raw and zero records
	require.Equal(t, 2, count(func(r testRecord) bool { return r.tag == recRamBallooned }))
	require.Equal(t, 8+1+2, count(func(r testRecord) bool { return r.tag == recRamRaw }))
}

func TestRangesChangeDuringScan(t *testing.T) {
	var m *guestmem.Manager
	added := false
	hook := func() {
		if added {
			return
		}
		added = true
		_, err := m.AddRamRange(0x400000, 4*guestmem.PageSize, "hotplugged RAM")
		require.NoError(t, err)
		require.NoError(t, m.Write(0x401000, []byte("hot")))
	}
	m = guestmem.NewManager(guestmem.WithYieldHook(hook))
	defer m.Close()
	_, err := m.AddRamRange(0, 8*guestmem.PageSize, "RAM")
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		require.NoError(t, m.Write(pageAt(0, i), []byte{byte(i + 1)}))
	}

	h, err := Prepare(m, WithYieldInterval(2))
	require.NoError(t, err)
	defer h.Done()

	buf := &bytes.Buffer{}
	w := stream.NewWriter(buf)
	livePass(t, h, w, 0)
	require.True(t, added)
	require.Equal(t, 2, len(h.ram))
	require.Equal(t, uint32(12), h.cnt.Ram.Dirty+h.cnt.Ram.Ready)

	require.NoError(t, m.RemoveRamRange(0x400000))
	livePass(t, h, w, 1)
	require.Equal(t, 1, len(h.ram))
	require.Equal(t, uint32(8), h.cnt.Ram.Dirty+h.cnt.Ram.Ready)
	finalPass(t, h, w)

	recs := decodeStream(t, buf.Bytes())
	raw := filterRecords(recs, func(r testRecord) bool { return r.tag == recRamRaw && r.addr < 0x400000 })
	require.Equal(t, 8, len(raw))
}
