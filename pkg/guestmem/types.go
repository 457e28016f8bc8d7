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

package guestmem

import (
	"fmt"
)

// GCPhys is a guest-physical address.
type GCPhys uint64

const (
	// PageShift is the base 2 logarithm of the guest page size.
	PageShift = 12
	// PageSize is the size of a guest page.
	PageSize = 1 << PageShift
	// PageOffsetMask masks the offset within a guest page.
	PageOffsetMask = PageSize - 1

	// NilGCPhys is an invalid guest-physical address.
	NilGCPhys GCPhys = ^GCPhys(0)
)

// PageType is the type of a guest page.
type PageType uint8

const (
	// PageTypeInvalid is an invalid page type.
	PageTypeInvalid PageType = iota
	// PageTypeRAM is ordinary guest RAM.
	PageTypeRAM
	// PageTypeROM is a ROM page.
	PageTypeROM
	// PageTypeROMShadow is a ROM page with a writable shadow.
	PageTypeROMShadow
	// PageTypeMMIO2 is device-owned RAM-like memory.
	PageTypeMMIO2
	// PageTypeMMIO2AliasMMIO is MMIO2 memory aliased into an MMIO region.
	PageTypeMMIO2AliasMMIO
	// PageTypeMMIO is emulated MMIO.
	PageTypeMMIO
	// PageTypeSpecialAliasMMIO is a special page aliased into an MMIO region.
	PageTypeSpecialAliasMMIO
)

// PageState is the backing state of a guest page.
type PageState uint8

const (
	// PageStateZero is a page backed by the shared zero page.
	PageStateZero PageState = iota
	// PageStateAllocated is a page with private, writable backing.
	PageStateAllocated
	// PageStateWriteMonitored is an allocated page which traps on write.
	PageStateWriteMonitored
	// PageStateShared is a page backed by read-only, shared memory.
	PageStateShared
	// PageStateBallooned is a page reclaimed by the host, reading as zero.
	PageStateBallooned
)

// RomProt is the protection of a ROM page.
type RomProt uint8

const (
	// RomProtInvalid is an invalid protection.
	RomProtInvalid RomProt = iota
	// RomProtReadRomWriteIgnore reads from the ROM, ignores writes.
	RomProtReadRomWriteIgnore
	// RomProtReadRomWriteRAM reads from the ROM, writes to the shadow RAM.
	RomProtReadRomWriteRAM
	// RomProtReadRAMWriteIgnore reads from the shadow RAM, ignores writes.
	RomProtReadRAMWriteIgnore
	// RomProtReadRAMWriteRAM reads from and writes to the shadow RAM.
	RomProtReadRAMWriteRAM
	// RomProtEnd is the end of valid protection values.
	RomProtEnd
)

// IsValid checks if the protection is a valid one.
func (p RomProt) IsValid() bool {
	return p > RomProtInvalid && p < RomProtEnd
}

// IsROM checks if reads are served by the virgin ROM page.
func (p RomProt) IsROM() bool {
	return p == RomProtReadRomWriteIgnore || p == RomProtReadRomWriteRAM
}

// WritesRAM checks if writes go to the shadow RAM page.
func (p RomProt) WritesRAM() bool {
	return p == RomProtReadRomWriteRAM || p == RomProtReadRAMWriteRAM
}

func (t PageType) String() string {
	switch t {
	case PageTypeRAM:
		return "RAM"
	case PageTypeROM:
		return "ROM"
	case PageTypeROMShadow:
		return "ROM-shadow"
	case PageTypeMMIO2:
		return "MMIO2"
	case PageTypeMMIO2AliasMMIO:
		return "MMIO2-alias-MMIO"
	case PageTypeMMIO:
		return "MMIO"
	case PageTypeSpecialAliasMMIO:
		return "special-alias-MMIO"
	}
	return fmt.Sprintf("<invalid page type %d>", t)
}

func (s PageState) String() string {
	switch s {
	case PageStateZero:
		return "zero"
	case PageStateAllocated:
		return "allocated"
	case PageStateWriteMonitored:
		return "write-monitored"
	case PageStateShared:
		return "shared"
	case PageStateBallooned:
		return "ballooned"
	}
	return fmt.Sprintf("<invalid page state %d>", s)
}

func (p RomProt) String() string {
	switch p {
	case RomProtReadRomWriteIgnore:
		return "read-ROM/write-ignore"
	case RomProtReadRomWriteRAM:
		return "read-ROM/write-RAM"
	case RomProtReadRAMWriteIgnore:
		return "read-RAM/write-ignore"
	case RomProtReadRAMWriteRAM:
		return "read-RAM/write-RAM"
	}
	return fmt.Sprintf("<invalid ROM protection %d>", p)
}

func (a GCPhys) String() string {
	if a == NilGCPhys {
		return "<nil>"
	}
	return fmt.Sprintf("%#x", uint64(a))
}
