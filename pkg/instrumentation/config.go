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
	"encoding/json"
	"strconv"
	"strings"

	"go.opencensus.io/trace"

	"github.com/intel/livesave/pkg/config"
)

// Sampling defines how often trace samples are taken.
type Sampling float64

const (
	// Disabled is the trace configuration for disabling tracing.
	Disabled Sampling = 0.0
	// Production is a trace configuration for production use.
	Production Sampling = 0.1
	// Testing is a trace configuration for testing.
	Testing Sampling = 1.0

	// configModule is our path in the runtime configuration.
	configModule = "instrumentation"
)

// options encapsulates our configurable instrumentation parameters.
type options struct {
	// Sampling is the sampling frequency for traces.
	Sampling Sampling `json:"sampling"`
	// JaegerCollector is the URL to the Jaeger HTTP Thrift collector.
	JaegerCollector string `json:"jaegerCollector,omitempty"`
	// JaegerAgent, if set, defines the address of a Jaeger agent to send spans to.
	JaegerAgent string `json:"jaegerAgent,omitempty"`
}

// Our instrumentation options.
var opt = &options{}

// Reset resets options to their defaults.
func (o *options) Reset() {
	*o = options{Sampling: Disabled}
}

// Describe describes our configuration fragment.
func (o *options) Describe() string {
	return `Trace sampling and the Jaeger exporter for save and restore passes:

  instrumentation:
    sampling: production     # disabled, production, testing or a probability
    jaegerAgent: localhost:6831
    jaegerCollector: ""`
}

// Validate checks the instrumentation configuration.
func (o *options) Validate() error {
	if o.Sampling < 0.0 || o.Sampling > 1.0 {
		return instrumentationError("invalid sampling probability %v", float64(o.Sampling))
	}
	return nil
}

// MarshalJSON is the JSON marshaller for Sampling values.
func (s Sampling) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON is the JSON unmarshaller for Sampling values.
func (s *Sampling) UnmarshalJSON(raw []byte) error {
	var obj interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return instrumentationError("failed to unmarshal Sampling value: %v", err)
	}
	switch v := obj.(type) {
	case string:
		if err := s.Parse(v); err != nil {
			return err
		}
	case float64:
		*s = Sampling(v)
	default:
		return instrumentationError("invalid Sampling value of type %T: %v", obj, obj)
	}
	return nil
}

// Parse parses the given string to a Sampling value.
func (s *Sampling) Parse(value string) error {
	switch strings.ToLower(value) {
	case "disabled":
		*s = Disabled
	case "testing":
		*s = Testing
	case "production":
		*s = Production
	default:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return instrumentationError("invalid Sampling value '%s': %v", value, err)
		}
		*s = Sampling(f)
	}
	return nil
}

// String returns the Sampling value as a string.
func (s Sampling) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Production:
		return "production"
	case Testing:
		return "testing"
	}
	return strconv.FormatFloat(float64(s), 'f', -1, 64)
}

// Sampler returns a trace.Sampler corresponding to the Sampling value.
func (s Sampling) Sampler() trace.Sampler {
	if s == Disabled {
		return trace.NeverSample()
	}
	return trace.ProbabilitySampler(float64(s))
}

func init() {
	config.MustRegister(configModule, opt, config.WithNotify(svc.reconfigure))
}
