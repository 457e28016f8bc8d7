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
	"contrib.go.opencensus.io/exporter/jaeger"
	"go.opencensus.io/trace"
)

// tracing is the trace sampler and the optional Jaeger exporter of save
// and restore spans. Without an exporter spans still reach any exporter
// registered by others, subject to sampling.
type tracing struct {
	exporter *jaeger.Exporter
	endpoint endpoint
}

// endpoint is where spans are sent to, a Jaeger agent or collector.
type endpoint struct {
	agent     string
	collector string
}

func (e endpoint) enabled() bool {
	return e.agent != "" || e.collector != ""
}

func (e endpoint) String() string {
	if e.collector != "" {
		return "collector " + e.collector
	}
	return "agent " + e.agent
}

// apply activates the given options, replacing the exporter if the
// endpoint changed.
func (t *tracing) apply(o options) error {
	trace.ApplyConfig(trace.Config{DefaultSampler: o.Sampling.Sampler()})

	ep := endpoint{agent: o.JaegerAgent, collector: o.JaegerCollector}
	if t.exporter != nil && ep == t.endpoint {
		return nil
	}
	t.close()

	if !ep.enabled() {
		log.Info("trace sampling %s, no Jaeger exporter", o.Sampling)
		return nil
	}

	exp, err := jaeger.NewExporter(jaeger.Options{
		ServiceName:       ServiceName,
		AgentEndpoint:     ep.agent,
		CollectorEndpoint: ep.collector,
		Process:           jaeger.Process{ServiceName: ServiceName},
		OnError:           func(err error) { log.Error("Jaeger exporter: %v", err) },
	})
	if err != nil {
		return instrumentationError("failed to create Jaeger exporter for %s: %v", ep, err)
	}
	trace.RegisterExporter(exp)
	t.exporter, t.endpoint = exp, ep

	log.Info("trace sampling %s, exporting to Jaeger %s", o.Sampling, ep)
	return nil
}

// close flushes and unregisters the exporter, if any.
func (t *tracing) close() {
	if t.exporter == nil {
		return
	}
	t.exporter.Flush()
	trace.UnregisterExporter(t.exporter)
	log.Info("stopped Jaeger exporter for %s", t.endpoint)
	*t = tracing{}
}
