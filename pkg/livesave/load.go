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
	"github.com/intel/livesave/pkg/stream"
)

// mmio2Target is a local MMIO2 range matched to a saved one.
type mmio2Target struct {
	r     *guestmem.Mmio2Range
	pages int // pages in the saved range
}

// rangeCursor is the position of the last ROM or MMIO2 record loaded.
type rangeCursor struct {
	seen bool
	id   uint8
	idx  int
}

// next resolves the position of a record, checking it only moves forward.
func (c *rangeCursor) next(r *stream.Reader, explicit bool, what string) (uint8, int, error) {
	id, idx := c.id, c.idx+1
	if explicit {
		id, _ = r.GetU8()
		u, _ := r.GetU32()
		if err := r.Err(); err != nil {
			return 0, 0, readError(err)
		}
		idx = int(u)
		if c.seen && (id < c.id || (id == c.id && idx <= c.idx)) {
			return 0, 0, formatError("%s record %d/%d after %d/%d", what, id, idx, c.id, c.idx)
		}
	} else if !c.seen {
		return 0, 0, formatError("%s record without a range ID and page index", what)
	}
	c.seen, c.id, c.idx = true, id, idx
	return id, idx, nil
}

// ramCursor is the address of the last RAM record loaded.
type ramCursor struct {
	seen bool
	addr guestmem.GCPhys
}

func (c *ramCursor) next(r *stream.Reader, explicit bool) (guestmem.GCPhys, error) {
	addr := c.addr + guestmem.PageSize
	if explicit {
		a, err := r.GetGCPhys()
		if err != nil {
			return 0, readError(err)
		}
		addr = guestmem.GCPhys(a)
		if addr&guestmem.PageOffsetMask != 0 {
			return 0, formatError("misaligned RAM record address %s", addr)
		}
		if c.seen && addr <= c.addr {
			return 0, formatError("RAM record %s after %s", addr, c.addr)
		}
	} else if !c.seen {
		return 0, formatError("RAM record without an address")
	}
	c.seen, c.addr = true, addr
	return addr, nil
}

// Loader restores saved state into memory, one pass at a time.
type Loader struct {
	mem      Memory
	rom      map[uint8]*guestmem.RomRange
	mmio2    map[uint8]mmio2Target
	batch    *guestmem.FreeBatch
	prologue bool

	ram    ramCursor
	mm     rangeCursor
	virgin rangeCursor
	shadow rangeCursor
}

// NewLoader creates a loader for the given memory.
func NewLoader(mem Memory) *Loader {
	return &Loader{
		mem:   mem,
		rom:   map[uint8]*guestmem.RomRange{},
		mmio2: map[uint8]mmio2Target{},
		batch: mem.NewFreeBatch(guestmem.DefaultFreeBatchSize),
	}
}

// Load restores the records of a single pass. The first call also reads
// the RAM configuration and the range ID tables.
func (l *Loader) Load(r *stream.Reader, pass uint32) error {
	l.mem.Lock()
	defer l.mem.Unlock()

	if !l.prologue {
		if err := l.getRamConfig(r); err != nil {
			return err
		}
		if err := l.getRomTable(r); err != nil {
			return err
		}
		if err := l.getMmio2Table(r); err != nil {
			return err
		}
		l.prologue = true
	}

	l.ram, l.mm, l.virgin, l.shadow = ramCursor{}, rangeCursor{}, rangeCursor{}, rangeCursor{}
	defer l.batch.FlushLocked()

	for {
		tag, err := r.GetU8()
		if err != nil {
			return readError(err)
		}
		if tag == recEnd {
			return nil
		}

		typ := tag &^ recFlagAddr
		explicit := tag&recFlagAddr != 0
		if typ > recLast {
			return formatError("pass %d: invalid record type %#x", pass, tag)
		}

		switch typ {
		case recRamZero, recRamRaw, recRamBallooned:
			err = l.loadRamLocked(r, typ, explicit)
		case recMmio2Raw, recMmio2Zero:
			err = l.loadMmio2Locked(r, typ, explicit)
		default:
			err = l.loadRomLocked(r, typ, explicit)
		}
		if err != nil {
			return errors.WithMessagef(err, "pass %d, %s record", pass, recName(typ))
		}
	}
}

func (l *Loader) loadRamLocked(r *stream.Reader, typ uint8, explicit bool) error {
	addr, err := l.ram.next(r, explicit)
	if err != nil {
		return err
	}
	p, err := l.mem.PageLocked(addr)
	if err != nil {
		return formatError("no RAM at %s", addr)
	}
	if p.Type() != guestmem.PageTypeRAM {
		return formatError("page %s at %s is not RAM", p, addr)
	}

	switch typ {
	case recRamZero:
		switch {
		case p.IsZero():
		case p.IsBallooned():
			l.mem.UnballoonLocked(p)
		case p.State() != guestmem.PageStateAllocated:
			return errors.Wrapf(guestmem.ErrPageState, "cannot zero page %s at %s", p, addr)
		case p.IsLarge() || p.WriteLocks() > 0:
			return l.mem.ZeroPageLocked(p)
		default:
			return l.batch.AddLocked(p)
		}

	case recRamBallooned:
		if p.IsBallooned() {
			return nil
		}
		if p.IsLarge() && p.IsAllocated() {
			return formatError("cannot balloon large page at %s", addr)
		}
		if !p.IsZero() {
			if err := l.batch.AddLocked(p); err != nil {
				return err
			}
		}
		return l.mem.SetBalloonedLocked(p)

	case recRamRaw:
		data, err := l.mem.MakeWritableLocked(p)
		if err != nil {
			return errors.Wrapf(ErrAlloc, "page at %s: %v", addr, err)
		}
		return readError(r.GetMem(data))
	}

	return nil
}

func (l *Loader) loadMmio2Locked(r *stream.Reader, typ uint8, explicit bool) error {
	id, idx, err := l.mm.next(r, explicit, "MMIO2")
	if err != nil {
		return err
	}
	t, ok := l.mmio2[id]
	if !ok {
		return formatError("unknown MMIO2 range ID %d", id)
	}
	if idx >= t.pages {
		return formatError("MMIO2 range %d page %d out of range", id, idx)
	}

	page := t.r.PageLocked(idx)
	if typ == recMmio2Zero {
		for i := range page {
			page[i] = 0
		}
		return nil
	}
	return readError(r.GetMem(page))
}

func (l *Loader) loadRomLocked(r *stream.Reader, typ uint8, explicit bool) error {
	cur := &l.shadow
	if typ == recRomVirgin {
		cur = &l.virgin
	}
	id, idx, err := cur.next(r, explicit, "ROM")
	if err != nil {
		return err
	}
	rr, ok := l.rom[id]
	if !ok {
		return formatError("unknown ROM range ID %d", id)
	}
	if idx >= rr.PageCount() {
		return formatError("ROM range %d page %d out of range", id, idx)
	}

	b, err := r.GetU8()
	if err != nil {
		return readError(err)
	}
	prot := guestmem.RomProt(b)
	if !prot.IsValid() {
		return formatError("invalid ROM protection %d", b)
	}

	if typ != recRomVirgin && !rr.IsShadowed() {
		return formatError("shadow page record for unshadowed ROM %q", rr.Desc())
	}

	rp := rr.Page(idx)
	if rr.IsShadowed() {
		if err := l.mem.ProtectRomPageLocked(rr, idx, prot); err != nil {
			return formatError("%v", err)
		}
	} else if prot != rp.Prot() {
		return formatError("protection %s for unshadowed ROM %q", prot, rr.Desc())
	}

	switch typ {
	case recRomProt:
		return nil
	case recRomVirgin:
		data, err := l.mem.MakeWritableLocked(rp.Virgin())
		if err != nil {
			return errors.Wrapf(ErrAlloc, "ROM %q page %d: %v", rr.Desc(), idx, err)
		}
		return readError(r.GetMem(data))
	}

	if typ == recRomShwZero {
		return l.mem.ZeroPageLocked(rp.Shadow())
	}
	data, err := l.mem.MakeWritableLocked(rp.Shadow())
	if err != nil {
		return errors.Wrapf(ErrAlloc, "ROM %q page %d: %v", rr.Desc(), idx, err)
	}
	return readError(r.GetMem(data))
}
