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

	"github.com/intel/livesave/pkg/metricsring"
)

const (
	// shortTermPasses is the number of passes the short-term average covers.
	shortTermPasses = 4
	// steadyPass is the first pass decisions are based on transfer time.
	steadyPass = 10
	// defaultPagesPerSecond is the transfer rate assumed until one is measured.
	defaultPagesPerSecond = 8192
)

// Vote is the outcome of a convergence vote.
type Vote int

const (
	// VoteContinue asks for another live pass.
	VoteContinue Vote = iota
	// VoteDone asks for the final pass.
	VoteDone
)

func (v Vote) String() string {
	if v == VoteDone {
		return "done"
	}
	return "continue"
}

// Estimate describes the convergence state after a pass.
type Estimate struct {
	Pass uint32
	// DirtyNow is the number of dirty pages after the pass.
	DirtyNow uint32
	// Short is the average number of dirty pages over the last 4 passes.
	Short uint32
	// Long is the average number of dirty pages over the history.
	Long           uint32
	PagesPerSecond uint32
	// ShortDowntime and LongDowntime are the projected final pass durations.
	ShortDowntime time.Duration
	LongDowntime  time.Duration
	// MaxDowntime is the pause time budget votes are made against.
	MaxDowntime time.Duration
	// Percent is the reported completion percentage.
	Percent uint32
}

// Vote records the number of dirty pages after a pass and decides whether
// another live pass is needed. It also reports the completion percentage.
func (h *Handle) Vote(pass uint32) (Vote, error) {
	if err := h.checkLive(); err != nil {
		return VoteContinue, err
	}

	h.mem.Lock()
	mst := h.mem.StatsLocked()
	dirtyNow := h.cnt.DirtyPages() + mst.WrittenToPages
	h.history.Push(float64(dirtyNow))
	pps := pagesPerSecond(h.cnt.Saved, h.now().Sub(h.start))

	vote, est := decide(h.history, pass, dirtyNow, pps, time.Duration(h.cfg.MaxDowntime))
	est.Percent = progress(est.Long, mst.AllPages, h.cnt.Ignored, mst.ZeroPages, pass)
	h.est = est
	h.mem.Unlock()

	log.Debug("pass %d vote %s: dirty %d, short %d (%s), long %d (%s), %d pages/s, %d%% done",
		pass, vote, est.DirtyNow, est.Short, est.ShortDowntime, est.Long, est.LongDowntime,
		est.PagesPerSecond, est.Percent)

	if h.progress != nil {
		h.progress(pass, est.Percent)
	}

	return vote, nil
}

// pagesPerSecond calculates the transfer rate.
func pagesPerSecond(saved uint64, elapsed time.Duration) uint32 {
	if elapsed <= 0 || saved == 0 {
		return defaultPagesPerSecond
	}
	pps := float64(saved) / elapsed.Seconds()
	if pps < 1 {
		return 1
	}
	if pps > float64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(pps)
}

// projected returns the time transferring the given number of pages takes.
func projected(pages, pps uint32) time.Duration {
	return time.Duration(float64(pages) / float64(pps) * float64(time.Second))
}

// decide votes on the dirty page history. Until the short-term average has
// settled at or below the long-term one, another pass is always needed.
// Early passes then stop once few enough pages stay dirty. Later ones stop
// once the final pass fits into the pause time budget.
func decide(history metricsring.SampleBuffer, pass, dirtyNow, pps uint32, budget time.Duration) (Vote, Estimate) {
	if budget < minDowntime {
		budget = minDowntime
	}
	est := Estimate{
		Pass:           pass,
		DirtyNow:       dirtyNow,
		Long:           uint32(history.Mean()),
		PagesPerSecond: pps,
		MaxDowntime:    budget,
	}

	last := history.GetLastNSamples(shortTermPasses)
	sum := 0.0
	for _, v := range last {
		sum += v
	}
	if len(last) > 0 {
		est.Short = uint32(sum / float64(len(last)))
	}
	est.ShortDowntime = projected(est.Short, pps)
	est.LongDowntime = projected(est.Long, pps)

	if len(last) < shortTermPasses || est.Short > est.Long {
		return VoteContinue, est
	}
	tolerance := est.Short / 8
	if tolerance > 16 {
		tolerance = 16
	}
	if dirtyNow > est.Short && dirtyNow-est.Short >= tolerance {
		return VoteContinue, est
	}

	if pass < steadyPass {
		if (est.Short <= 128 && est.Long <= 1024) || est.Long <= 256 {
			return VoteDone, est
		}
		return VoteContinue, est
	}

	if (est.LongDowntime <= budget && est.ShortDowntime < budget) || est.ShortDowntime < budget/2 {
		return VoteDone, est
	}
	return VoteContinue, est
}

// progress calculates the completion percentage to report. Early passes
// report at most twice the pass number.
func progress(long, all, ignored, zero, pass uint32) uint32 {
	pct := uint64(0)
	if total := int64(all) - int64(ignored) - int64(zero); total > 0 {
		pct = uint64(long) * 100 / uint64(total)
		if pct > 100 {
			pct = 100
		}
	}
	done := 100 - pct
	if limit := uint64(pass) * 2; done > limit {
		done = limit
	}
	return uint32(done)
}
