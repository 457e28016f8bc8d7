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
	"fmt"
	"sync"

	"go.opencensus.io/trace"

	logger "github.com/intel/livesave/pkg/log"
)

const (
	// ServiceName is our service name in external tracing services.
	ServiceName = "livesave"
)

// Our logger instance.
var log = logger.NewLogger("instrumentation")

// service is the state of our instrumentation services.
type service struct {
	sync.Mutex
	tracing *tracing
	running bool
}

// Our instrumentation service instance.
var svc = &service{tracing: &tracing{}}

// TracingEnabled returns true if the tracing sampler is not disabled.
func TracingEnabled() bool {
	svc.Lock()
	defer svc.Unlock()
	return float64(opt.Sampling) > 0.0
}

// Start starts our instrumentation services.
func Start() error {
	svc.Lock()
	defer svc.Unlock()

	if err := svc.tracing.apply(*opt); err != nil {
		return err
	}
	svc.running = true

	return nil
}

// Stop stops our instrumentation services.
func Stop() {
	svc.Lock()
	defer svc.Unlock()

	svc.tracing.close()
	trace.ApplyConfig(trace.Config{DefaultSampler: Disabled.Sampler()})
	svc.running = false
}

// reconfigure activates the current configuration if we are running.
func (s *service) reconfigure() error {
	s.Lock()
	defer s.Unlock()

	if !s.running {
		return nil
	}

	return s.tracing.apply(*opt)
}

// instrumentationError produces a formatted instrumentation-specific error.
func instrumentationError(format string, args ...interface{}) error {
	return fmt.Errorf("instrumentation: "+format, args...)
}
