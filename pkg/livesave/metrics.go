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
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/intel/livesave/pkg/metrics"
)

// Prometheus Metric descriptor indices and descriptor table
const (
	pagesDesc = iota
	ignoredPagesDesc
	savedPagesDesc
	digestMismatchesDesc
	dirtyTrendDesc
	pagesPerSecondDesc
	progressDesc
	numDescriptors
)

var descriptors = [numDescriptors]*prometheus.Desc{
	pagesDesc: prometheus.NewDesc(
		"livesave_pages",
		"Tracked pages of the active live save.",
		[]string{
			// RAM, ROM or MMIO2
			"kind",
			// ready, dirty or zero
			"state",
		}, nil,
	),
	ignoredPagesDesc: prometheus.NewDesc(
		"livesave_ignored_pages",
		"RAM range pages of other types skipped by the active live save.",
		nil, nil,
	),
	savedPagesDesc: prometheus.NewDesc(
		"livesave_saved_pages",
		"Pages saved since the transfer rate measurement started.",
		nil, nil,
	),
	digestMismatchesDesc: prometheus.NewDesc(
		"livesave_digest_mismatches",
		"Failed RAM page digest self-checks.",
		nil, nil,
	),
	dirtyTrendDesc: prometheus.NewDesc(
		"livesave_dirty_pages_ewma",
		"Moving average of dirty pages per pass.",
		nil, nil,
	),
	pagesPerSecondDesc: prometheus.NewDesc(
		"livesave_pages_per_second",
		"Estimated page transfer rate.",
		nil, nil,
	),
	progressDesc: prometheus.NewDesc(
		"livesave_progress_percent",
		"Reported completion of the active live save.",
		nil, nil,
	),
}

// active is the live save being run, if any.
var active struct {
	sync.Mutex
	h *Handle
}

func setActive(h *Handle) {
	active.Lock()
	defer active.Unlock()
	active.h = h
}

func clearActive(h *Handle) {
	active.Lock()
	defer active.Unlock()
	if active.h == h {
		active.h = nil
	}
}

func activeHandle() *Handle {
	active.Lock()
	defer active.Unlock()
	return active.h
}

type collector struct{}

// NewCollector creates a Prometheus collector for live save statistics.
func NewCollector() (prometheus.Collector, error) {
	return &collector{}, nil
}

// Describe implements prometheus.Collector interface
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range descriptors {
		ch <- d
	}
}

// Collect implements prometheus.Collector interface
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	h := activeHandle()
	if h == nil {
		return
	}
	st := h.Stats()

	for _, kc := range []struct {
		kind PageKind
		cnt  PageCounters
	}{
		{KindRAM, st.Ram},
		{KindROM, st.Rom},
		{KindMMIO2, st.Mmio2},
	} {
		kind := kc.kind.String()
		ch <- prometheus.MustNewConstMetric(descriptors[pagesDesc],
			prometheus.GaugeValue, float64(kc.cnt.Ready), kind, "ready")
		ch <- prometheus.MustNewConstMetric(descriptors[pagesDesc],
			prometheus.GaugeValue, float64(kc.cnt.Dirty), kind, "dirty")
		ch <- prometheus.MustNewConstMetric(descriptors[pagesDesc],
			prometheus.GaugeValue, float64(kc.cnt.Zero), kind, "zero")
	}

	ch <- prometheus.MustNewConstMetric(descriptors[ignoredPagesDesc],
		prometheus.GaugeValue, float64(st.Ignored))
	ch <- prometheus.MustNewConstMetric(descriptors[savedPagesDesc],
		prometheus.CounterValue, float64(st.Saved))
	ch <- prometheus.MustNewConstMetric(descriptors[digestMismatchesDesc],
		prometheus.CounterValue, float64(st.DigestMismatches))
	ch <- prometheus.MustNewConstMetric(descriptors[dirtyTrendDesc],
		prometheus.GaugeValue, st.DirtyEWMA)
	ch <- prometheus.MustNewConstMetric(descriptors[pagesPerSecondDesc],
		prometheus.GaugeValue, float64(st.Estimate.PagesPerSecond))
	ch <- prometheus.MustNewConstMetric(descriptors[progressDesc],
		prometheus.GaugeValue, float64(st.Estimate.Percent))
}

func init() {
	if err := metrics.RegisterCollector("livesave", NewCollector); err != nil {
		log.Error("failed to register live save collector: %v", err)
	}
}
