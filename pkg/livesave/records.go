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

// Record types of the saved state.
const (
	recRamZero      uint8 = 0x00
	recRamRaw       uint8 = 0x01
	recMmio2Raw     uint8 = 0x02
	recMmio2Zero    uint8 = 0x03
	recRomVirgin    uint8 = 0x04
	recRomShwRaw    uint8 = 0x05
	recRomShwZero   uint8 = 0x06
	recRomProt      uint8 = 0x07
	recRamBallooned uint8 = 0x08
	recLast               = recRamBallooned

	// recFlagAddr marks records with an explicit address or range ID and page index.
	recFlagAddr uint8 = 0x80
	// recEnd terminates the records of a pass.
	recEnd uint8 = 0xff
)

const (
	// FinalPass is the pass number of the final, synchronous pass.
	FinalPass = ^uint32(0)

	// rangeTableEnd terminates ROM and MMIO2 range tables.
	rangeTableEnd = 0xff
	// maxRangeID is the largest range ID.
	maxRangeID = 0xfe
)

func recName(tag uint8) string {
	switch tag &^ recFlagAddr {
	case recRamZero:
		return "RAM_ZERO"
	case recRamRaw:
		return "RAM_RAW"
	case recMmio2Raw:
		return "MMIO2_RAW"
	case recMmio2Zero:
		return "MMIO2_ZERO"
	case recRomVirgin:
		return "ROM_VIRGIN"
	case recRomShwRaw:
		return "ROM_SHW_RAW"
	case recRomShwZero:
		return "ROM_SHW_ZERO"
	case recRomProt:
		return "ROM_PROT"
	case recRamBallooned:
		return "RAM_BALLOONED"
	}
	return "<unknown>"
}

// putRamRecord writes a RAM record, with an explicit address unless addr follows last.
func putRamRecord(w *stream.Writer, tag uint8, addr, last guestmem.GCPhys, page []byte) error {
	if last != guestmem.NilGCPhys && addr == last+guestmem.PageSize {
		w.PutU8(tag)
	} else {
		w.PutU8(tag | recFlagAddr)
		w.PutGCPhys(stream.GCPhys(addr))
	}
	if page != nil {
		w.PutMem(page)
	}
	return writeError(w.Err())
}

// putRangeRecord writes a ROM or MMIO2 record header.
func putRangeRecord(w *stream.Writer, tag, id uint8, idx int, implicit bool) error {
	if implicit {
		w.PutU8(tag)
	} else {
		w.PutU8(tag | recFlagAddr)
		w.PutU8(id)
		w.PutU32(uint32(idx))
	}
	return writeError(w.Err())
}

// putEnd terminates the records of a pass and flushes the stream.
func putEnd(w *stream.Writer) error {
	w.PutU8(recEnd)
	return writeError(w.Flush())
}
