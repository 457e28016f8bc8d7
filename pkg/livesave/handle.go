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
	"time"

	"github.com/pkg/errors"

	"github.com/intel/livesave/pkg/guestmem"
	"github.com/intel/livesave/pkg/metricsring"
)

// historySize is the number of passes the dirty page history covers.
const historySize = 64

// Memory is the guest memory manager a live save operates on.
type Memory interface {
	Lock()
	Unlock()
	// Yield lets others take the lock for a while, the caller holding it.
	Yield()
	GenerationLocked() uint64
	RamRangesLocked() []*guestmem.RamRange
	RomRangesLocked() []*guestmem.RomRange
	Mmio2RangesLocked() []*guestmem.Mmio2Range
	RamConfig() (uint32, uint64)
	StatsLocked() guestmem.Stats
	EngageWriteMonitor() (*guestmem.WriteMonitor, error)

	PageLocked(addr guestmem.GCPhys) (*guestmem.Page, error)
	MakeWritableLocked(p *guestmem.Page) ([]byte, error)
	ZeroPageLocked(p *guestmem.Page) error
	SetBalloonedLocked(p *guestmem.Page) error
	UnballoonLocked(p *guestmem.Page)
	ProtectRomPageLocked(r *guestmem.RomRange, idx int, prot guestmem.RomProt) error
	NewFreeBatch(size int) *guestmem.FreeBatch
}

var _ Memory = &guestmem.Manager{}

// Handle is a prepared live save operation. It owns the write monitoring
// capability of the memory until Done is called.
type Handle struct {
	mem      Memory
	wm       *guestmem.WriteMonitor
	cfg      Config
	now      func() time.Time
	progress func(pass, percent uint32)

	gen        uint64 // generation the RAM trackers are in sync with
	ram        []*ramTracker
	ramByRange map[*guestmem.RamRange]*ramTracker
	rom        []*romTracker
	mmio2      []*mmio2Tracker

	cnt     Counters
	history metricsring.SampleBuffer
	start   time.Time
	est     Estimate
	buf     []byte // page copied for writing without the lock
	done    bool
}

// Stats is a snapshot of live save statistics.
type Stats struct {
	Counters
	// Estimate is the outcome of the last vote.
	Estimate Estimate
	// DirtyEWMA is the smoothed trend of dirty pages per pass.
	DirtyEWMA float64
	// MonitoredPages is the number of write-monitored pages in the memory.
	MonitoredPages uint32
	// WrittenToPages is the number of pages written to since last scanned.
	WrittenToPages uint32
}

// Prepare engages write monitoring and sets up page tracking for a live save.
func Prepare(mem Memory, options ...Option) (*Handle, error) {
	h := &Handle{
		mem:        mem,
		cfg:        CurrentConfig(),
		now:        time.Now,
		ramByRange: map[*guestmem.RamRange]*ramTracker{},
		history:    metricsring.NewMetricsRing(historySize),
		buf:        make([]byte, guestmem.PageSize),
	}
	for _, o := range options {
		o(h)
	}
	if err := h.cfg.Validate(); err != nil {
		return nil, err
	}

	wm, err := mem.EngageWriteMonitor()
	if err != nil {
		if errors.Is(err, guestmem.ErrMonitorEngaged) {
			return nil, errors.Wrap(ErrEngaged, "failed to prepare live save")
		}
		return nil, errors.Wrap(err, "failed to prepare live save")
	}
	h.wm = wm
	h.start = h.now()

	for _, prep := range []func() error{h.prepRom, h.prepMmio2, h.prepRam} {
		if err := prep(); err != nil {
			h.wm.Release()
			return nil, err
		}
	}

	log.Info("prepared live save: %d RAM, %d ROM, %d MMIO2 ranges",
		len(h.ram), len(h.rom), len(h.mmio2))
	setActive(h)

	return h, nil
}

// Done ends the operation, reverting write monitoring and releasing page
// tracking. It is safe to call more than once.
func (h *Handle) Done() error {
	if h.done {
		return nil
	}
	h.done = true
	clearActive(h)

	h.mem.Lock()
	reverted := 0
	for _, r := range h.mem.RamRangesLocked() {
		for i := 0; i < r.PageCount(); i++ {
			p := r.Page(i)
			h.wm.ClearWrittenToLocked(p)
			if h.wm.DisarmLocked(p) {
				reverted++
			}
		}
	}
	for _, r := range h.mem.RomRangesLocked() {
		for i := 0; i < r.PageCount(); i++ {
			h.wm.ClearRomWrittenToLocked(r.Page(i))
		}
	}
	h.ram, h.ramByRange, h.rom, h.mmio2 = nil, nil, nil, nil
	cnt := h.cnt
	h.mem.Unlock()

	engaged := h.wm.IsEngaged()
	h.wm.Release()

	log.Info("live save done, %d pages reverted from write monitoring", reverted)
	if cnt.Defects > 0 || cnt.DigestMismatches > 0 {
		log.Warn("live save had %d page accounting defects, %d digest mismatches",
			cnt.Defects, cnt.DigestMismatches)
	}

	if !engaged {
		return errors.New("livesave: write monitoring was lost before done")
	}
	return nil
}

// Stats returns current statistics of the operation.
func (h *Handle) Stats() Stats {
	h.mem.Lock()
	defer h.mem.Unlock()
	return h.statsLocked()
}

func (h *Handle) statsLocked() Stats {
	mst := h.mem.StatsLocked()
	return Stats{
		Counters:       h.cnt,
		Estimate:       h.est,
		DirtyEWMA:      h.history.EWMA(),
		MonitoredPages: mst.MonitoredPages,
		WrittenToPages: mst.WrittenToPages,
	}
}

// savedLocked updates tracking after a page got saved.
func (h *Handle) savedLocked(t pageTrack) {
	if t.IsDirty() {
		t.markClean(&h.cnt)
	}
	h.cnt.Saved++
}

// checkLive checks that the handle can still be used.
func (h *Handle) checkLive() error {
	if h.done {
		return ErrDone
	}
	return nil
}
