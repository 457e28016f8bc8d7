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

package log

import (
	"time"
)

const (
	// DefaultSource is the source the logging and configuration machinery logs as.
	DefaultSource = "logger"
	// DefaultDefectInterval is the default interval between repeated defect messages.
	DefaultDefectInterval = 5 * time.Second
	// defectSuffix is appended to the source of defect loggers.
	defectSuffix = "-defects"
)

var deflog = log.get(DefaultSource)

// Default returns the Logger of the logging machinery itself.
func Default() Logger {
	return deflog
}

// DefectRate returns the Rate internal consistency failures are logged at.
func DefectRate() Rate {
	return Interval(DefaultDefectInterval)
}

// Defects returns a rate-limited Logger for internal consistency failures
// of the given source. These can repeat once per guest page, so messages
// of the same format are let through once per DefaultDefectInterval. The
// Logger has its own source so its debug state is set independently.
func Defects(source string) Logger {
	return RateLimit(log.get(source+defectSuffix), DefectRate())
}
