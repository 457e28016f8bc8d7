/*
Copyright 2020 Intel Corporation

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metricsring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetricsRing(t *testing.T) {
	cases := []struct {
		name     string
		input    []float64
		output   []float64
		all      []float64
		inputlen int
		count    int
		mean     float64
	}{
		{
			name:     "get all samples",
			input:    []float64{1, 2, 3, 4},
			output:   []float64{1, 2, 3, 4},
			all:      []float64{1, 2, 3, 4},
			inputlen: 4,
			count:    4,
			mean:     2.5,
		},
		{
			name:     "get less samples",
			input:    []float64{1, 2, 3, 4},
			output:   []float64{3, 4},
			all:      []float64{1, 2, 3, 4},
			inputlen: 4,
			count:    2,
			mean:     2.5,
		},
		{
			name:     "get excess samples (ask more than ring size)",
			input:    []float64{1, 2, 3, 4},
			output:   []float64{1, 2, 3, 4},
			all:      []float64{1, 2, 3, 4},
			inputlen: 4,
			count:    8,
			mean:     2.5,
		},
		{
			name:     "get excess samples (ring not yet full)",
			input:    []float64{3, 4},
			output:   []float64{3, 4},
			all:      []float64{3, 4},
			inputlen: 4,
			count:    4,
			mean:     3.5,
		},
		{
			name:     "wrap around",
			input:    []float64{1, 2, 3, 4, 5, 6},
			output:   []float64{5, 6},
			all:      []float64{3, 4, 5, 6},
			inputlen: 4,
			count:    2,
			mean:     4.5,
		},
		{
			name:     "empty",
			output:   []float64{},
			all:      []float64{},
			inputlen: 4,
			count:    2,
		},
	}
	for _, tc := range cases {
		test := tc
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			mr := NewMetricsRing(test.inputlen)
			for _, v := range test.input {
				mr.Push(v)
			}
			require.Equal(t, test.output, mr.GetLastNSamples(test.count))
			require.Equal(t, test.all, mr.GetLastNSamples(mr.GetSize()))
			require.Equal(t, len(test.all), mr.Len())
			require.InDelta(t, test.mean, mr.Mean(), 1e-9)
		})
	}
}

func TestReset(t *testing.T) {
	mr := NewMetricsRing(64)
	for i := 0; i < 20; i++ {
		mr.Push(100)
	}
	require.InDelta(t, 100.0, mr.EWMA(), 1e-6)

	mr.Reset()
	require.Equal(t, 0, mr.Len())
	require.Equal(t, 64, mr.GetSize())
	require.Equal(t, 0.0, mr.EWMA())
	require.Equal(t, 0.0, mr.Mean())
}
