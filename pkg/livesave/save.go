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
	"github.com/intel/livesave/pkg/stream"
)

// rateResetPass is the pass the transfer rate measurement restarts at,
// leaving out the bulk of the initial passes.
const rateResetPass = 7

// putPrologue writes the RAM configuration and the range ID tables.
func (h *Handle) putPrologue(w *stream.Writer) error {
	if err := h.putRamConfig(w); err != nil {
		return err
	}
	h.mem.Lock()
	defer h.mem.Unlock()
	if err := h.putRomTable(w); err != nil {
		return err
	}
	return h.putMmio2Table(w)
}

// LiveExec runs a live pass, scanning memory for changes then saving the
// pages which are ready. The first pass also saves the range tables and
// the read-only ROM content.
func (h *Handle) LiveExec(w *stream.Writer, pass uint32) error {
	if err := h.checkLive(); err != nil {
		return err
	}

	if pass == 0 {
		if err := h.putPrologue(w); err != nil {
			return err
		}
	}

	h.mem.Lock()
	defer h.mem.Unlock()

	if pass == rateResetPass {
		h.cnt.Saved = 0
		h.start = h.now()
	}

	h.scanRomLocked()
	h.scanMmio2Locked(pass)
	h.scanRamLocked(false)

	if pass == 0 {
		if err := h.saveRomVirginLocked(w, true); err != nil {
			return err
		}
	}
	if err := h.saveRomShadowLocked(w, true, false); err != nil {
		return err
	}
	if err := h.saveMmio2LiveLocked(w, pass); err != nil {
		return err
	}
	if err := h.saveRamLocked(w, true, false); err != nil {
		return err
	}

	log.Debug("pass %d: %d ROM, %d MMIO2, %d RAM pages dirty, %d saved", pass,
		h.cnt.Rom.Dirty, h.cnt.Mmio2.Dirty, h.cnt.Ram.Dirty, h.cnt.Saved)

	return putEnd(w)
}

// SaveExec saves the remaining state with the guest paused. Live, it is
// the final pass after LiveExec passes. Otherwise it saves all state,
// range tables and ROM content included.
func (h *Handle) SaveExec(w *stream.Writer, live bool) error {
	if err := h.checkLive(); err != nil {
		return err
	}

	if !live {
		if err := h.putPrologue(w); err != nil {
			return err
		}
	}

	h.mem.Lock()
	defer h.mem.Unlock()

	if live {
		h.scanRomLocked()
		h.scanRamLocked(true)
		if err := h.saveRomShadowLocked(w, true, true); err != nil {
			return err
		}
		if err := h.saveMmio2FinalLocked(w, true); err != nil {
			return err
		}
	} else {
		if err := h.saveRomVirginLocked(w, false); err != nil {
			return err
		}
		if err := h.saveRomShadowLocked(w, false, true); err != nil {
			return err
		}
		if err := h.saveMmio2FinalLocked(w, false); err != nil {
			return err
		}
	}
	if err := h.saveRamLocked(w, live, true); err != nil {
		return err
	}

	log.Debug("final pass: %d pages saved in total, %d digest mismatches",
		h.cnt.Saved, h.cnt.DigestMismatches)

	return putEnd(w)
}
