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
	"hash/crc32"

	"github.com/intel/livesave/pkg/guestmem"
)

const (
	// MaxDirtied is the value RamPageTrack.Dirtied saturates at.
	MaxDirtied = 0x00fffff0

	// crcInvalid marks a RAM page digest as not calculated.
	crcInvalid = 0xffffffff
	// crcZeroPage is the CRC-32 of a zero page.
	crcZeroPage = 0xc71c0011
	// crcZeroHalf is the CRC-32 of a zero half page.
	crcZeroHalf = 0xf1e8ba9e
	// maxUnchangedScans is the value Mmio2PageTrack.UnchangedScans saturates at.
	maxUnchangedScans = 0xff
)

// maxTrackedPages limits the number of pages a single operation can track.
var maxTrackedPages uint64 = 1<<32 - 1

// PageKind is the kind of memory a page tracker follows.
type PageKind int

const (
	// KindRAM is general guest RAM.
	KindRAM PageKind = iota
	// KindROM is shadowed or plain ROM.
	KindROM
	// KindMMIO2 is device-owned memory.
	KindMMIO2
)

func (k PageKind) String() string {
	switch k {
	case KindRAM:
		return "RAM"
	case KindROM:
		return "ROM"
	case KindMMIO2:
		return "MMIO2"
	}
	return "<unknown page kind>"
}

// pageTrack is the tracking state of a single page of any kind.
type pageTrack interface {
	// IsDirty checks if the page needs to be saved.
	IsDirty() bool
	// markDirty marks the page dirty, returning false if it already was.
	markDirty(c *Counters) bool
	// markClean marks the page saved.
	markClean(c *Counters)
	// kind returns the kind of the page.
	kind() PageKind
}

// RamPageTrack is the tracking state of a RAM page.
type RamPageTrack struct {
	Dirty                 bool
	WriteMonitored        bool
	WriteMonitoredJustNow bool
	Zero                  bool
	Shared                bool
	Ignore                bool
	// Dirtied counts how many times the page got dirtied, saturating at MaxDirtied.
	Dirtied uint32
	// Crc is the CRC-32 of the page content, crcInvalid if unknown.
	Crc uint32
}

// Mmio2PageTrack is the tracking state of an MMIO2 page.
type Mmio2PageTrack struct {
	Dirty          bool
	Zero           bool
	UnchangedScans uint8
	CrcFirstHalf   uint32
	CrcSecondHalf  uint32
	// Sha1 is the digest of the content last saved.
	Sha1 [sha1.Size]byte
}

// RomPageTrack is the tracking state of a ROM page.
type RomPageTrack struct {
	// Prot is the protection last saved, RomProtInvalid if none yet.
	Prot            guestmem.RomProt
	WrittenTo       bool
	Dirty           bool
	DirtiedRecently bool
}

// PageCounters counts pages of one kind.
type PageCounters struct {
	// Ready is the number of pages saved and unchanged since.
	Ready uint32
	// Dirty is the number of pages waiting to be saved.
	Dirty uint32
	// Zero is the number of ready pages which are zero.
	Zero uint32
}

// Counters are the statistics of a live save operation.
type Counters struct {
	Rom   PageCounters
	Mmio2 PageCounters
	Ram   PageCounters
	// Monitored is the number of RAM pages write monitoring was armed for.
	Monitored uint32
	// Ignored is the number of RAM range pages of other types.
	Ignored uint32
	// Saved is the number of pages saved since the rate estimate was last reset.
	Saved uint64
	// DigestMismatches is the number of failed RAM digest self-checks.
	DigestMismatches uint64
	// Defects is the number of page accounting errors detected.
	Defects uint64
}

// DirtyPages returns the total number of dirty pages.
func (c *Counters) DirtyPages() uint32 {
	return c.Rom.Dirty + c.Mmio2.Dirty + c.Ram.Dirty
}

// dec decrements a counter, refusing to wrap around.
func (c *Counters) dec(v *uint32, what string) {
	if *v == 0 {
		c.Defects++
		defects.Error("internal error: %s page count would go negative", what)
		return
	}
	*v--
}

var _ pageTrack = &RamPageTrack{}
var _ pageTrack = &Mmio2PageTrack{}
var _ pageTrack = &RomPageTrack{}

// IsDirty implements pageTrack.
func (t *RamPageTrack) IsDirty() bool { return t.Dirty }

func (t *RamPageTrack) kind() PageKind { return KindRAM }

func (t *RamPageTrack) markDirty(c *Counters) bool {
	if t.Dirty {
		return false
	}
	t.Dirty = true
	c.dec(&c.Ram.Ready, "ready RAM")
	if t.Zero {
		c.dec(&c.Ram.Zero, "zero RAM")
	}
	c.Ram.Dirty++
	return true
}

func (t *RamPageTrack) markClean(c *Counters) {
	if !t.Dirty {
		return
	}
	t.Dirty = false
	c.Ram.Ready++
	if t.Zero {
		c.Ram.Zero++
	}
	c.dec(&c.Ram.Dirty, "dirty RAM")
}

// dirtied counts the page getting dirtied.
func (t *RamPageTrack) dirtied() {
	if t.Dirtied < MaxDirtied {
		t.Dirtied++
	}
}

// settled checks if a page is still in the state it was last scanned in.
func (t *RamPageTrack) settled(p *guestmem.Page) bool {
	switch {
	case t.Zero:
		return p.IsZero() || p.IsBallooned()
	case t.Shared:
		return p.State() == guestmem.PageStateShared
	}
	return p.State() == guestmem.PageStateWriteMonitored
}

// IsDirty implements pageTrack.
func (t *Mmio2PageTrack) IsDirty() bool { return t.Dirty }

func (t *Mmio2PageTrack) kind() PageKind { return KindMMIO2 }

func (t *Mmio2PageTrack) markDirty(c *Counters) bool {
	t.UnchangedScans = 0
	if t.Dirty {
		return false
	}
	t.Dirty = true
	c.dec(&c.Mmio2.Ready, "ready MMIO2")
	if t.Zero {
		c.dec(&c.Mmio2.Zero, "zero MMIO2")
	}
	c.Mmio2.Dirty++
	return true
}

func (t *Mmio2PageTrack) markClean(c *Counters) {
	if !t.Dirty {
		return
	}
	t.Dirty = false
	c.dec(&c.Mmio2.Dirty, "dirty MMIO2")
	c.Mmio2.Ready++
	if t.Zero {
		c.Mmio2.Zero++
	}
}

// unchanged counts a scan which found the page unchanged.
func (t *Mmio2PageTrack) unchanged() {
	if t.Dirty && t.UnchangedScans < maxUnchangedScans {
		t.UnchangedScans++
	}
}

// IsDirty implements pageTrack.
func (t *RomPageTrack) IsDirty() bool { return t.Dirty }

func (t *RomPageTrack) kind() PageKind { return KindROM }

func (t *RomPageTrack) markDirty(c *Counters) bool {
	if t.Dirty {
		return false
	}
	t.Dirty = true
	c.dec(&c.Rom.Ready, "ready ROM")
	c.Rom.Dirty++
	return true
}

func (t *RomPageTrack) markClean(c *Counters) {
	if !t.Dirty {
		return
	}
	t.Dirty = false
	c.Rom.Ready++
	c.dec(&c.Rom.Dirty, "dirty ROM")
}

// ramTracker tracks the pages of a RAM range.
type ramTracker struct {
	r     *guestmem.RamRange
	pages []RamPageTrack
}

// romTracker tracks the pages of a ROM range.
type romTracker struct {
	r     *guestmem.RomRange
	id    uint8
	pages []RomPageTrack
}

// mmio2Tracker tracks the pages of an MMIO2 range.
type mmio2Tracker struct {
	r     *guestmem.Mmio2Range
	id    uint8
	pages []Mmio2PageTrack
}

func newRamTracker(r *guestmem.RamRange) *ramTracker {
	return &ramTracker{
		r:     r,
		pages: make([]RamPageTrack, r.PageCount()),
	}
}

// crcPage calculates the CRC-32 of page content.
func crcPage(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
