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
	"testing"

	model "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/intel/livesave/pkg/metrics"
	"github.com/intel/livesave/pkg/stream"
)

func gather(t *testing.T) map[string]*model.MetricFamily {
	g, err := metrics.NewMetricGatherer()
	require.NoError(t, err)
	families, err := g.Gather()
	require.NoError(t, err)

	byName := map[string]*model.MetricFamily{}
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}
	return byName
}

func TestCollector(t *testing.T) {
	require.NotContains(t, gather(t), "livesave_pages")

	src := newTestMemory(t)
	src.populate(t)
	h, err := Prepare(src)
	require.NoError(t, err)

	livePass(t, h, stream.NewWriter(&bytes.Buffer{}), 0)
	st := h.Stats()

	families := gather(t)
	pages, ok := families["livesave_pages"]
	require.True(t, ok)
	require.Equal(t, 9, len(pages.GetMetric()))

	found := false
	for _, m := range pages.GetMetric() {
		labels := map[string]string{}
		for _, l := range m.GetLabel() {
			labels[l.GetName()] = l.GetValue()
		}
		if labels["kind"] == "RAM" && labels["state"] == "dirty" {
			require.Equal(t, float64(st.Ram.Dirty), m.GetGauge().GetValue())
			found = true
		}
	}
	require.True(t, found)

	saved := families["livesave_saved_pages"]
	require.NotNil(t, saved)
	require.Equal(t, float64(st.Saved), saved.GetMetric()[0].GetCounter().GetValue())

	require.NoError(t, h.Done())
	require.NotContains(t, gather(t), "livesave_pages")
}
