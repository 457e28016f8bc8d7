// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
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

package instrumentation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opencensus.io/trace"

	"github.com/intel/livesave/pkg/config"
)

func TestSamplingIdempotency(t *testing.T) {
	tcases := []Sampling{
		Disabled,
		Testing,
		Production,
		0.2, 0.25, 0.5, 0.75, 0.8,
	}
	for _, tc := range tcases {
		var chk Sampling
		require.NoError(t, chk.Parse(tc.String()), "parse %q", tc)
		require.Equal(t, tc, chk)
	}
}

// spanRecorder is a trace exporter recording the names of exported spans.
type spanRecorder struct {
	names []string
}

func (r *spanRecorder) ExportSpan(s *trace.SpanData) {
	r.names = append(r.names, s.Name)
}

func TestSamplingConfiguration(t *testing.T) {
	rec := &spanRecorder{}
	trace.RegisterExporter(rec)
	defer trace.UnregisterExporter(rec)

	require.NoError(t, Start())
	defer Stop()

	for _, tc := range []struct {
		name     string
		yaml     string
		enabled  bool
		recorded []string
		invalid  bool
	}{
		{
			name:     "testing",
			yaml:     "instrumentation:\n  sampling: testing\n",
			enabled:  true,
			recorded: []string{"span"},
		},
		{
			name:     "numeric",
			yaml:     "instrumentation:\n  sampling: 1\n",
			enabled:  true,
			recorded: []string{"span"},
		},
		{
			name:    "disabled",
			yaml:    "instrumentation:\n  sampling: disabled\n",
			enabled: false,
		},
		{
			name:    "out of range",
			yaml:    "instrumentation:\n  sampling: 1.5\n",
			invalid: true,
		},
		{
			name:    "garbage",
			yaml:    "instrumentation:\n  sampling: often\n",
			invalid: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := config.SetYAML([]byte(tc.yaml))
			if tc.invalid {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.enabled, TracingEnabled())

			rec.names = nil
			_, span := trace.StartSpan(context.Background(), "span")
			span.End()
			require.Equal(t, tc.recorded, rec.names)
		})
	}
}
