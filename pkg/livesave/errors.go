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
	"github.com/pkg/errors"

	"github.com/intel/livesave/pkg/stream"
)

var (
	// ErrAlloc is returned when tracking structures cannot be allocated.
	ErrAlloc = errors.New("livesave: failed to allocate page trackers")
	// ErrEngaged is returned when write monitoring is already owned by someone else.
	ErrEngaged = errors.New("livesave: write monitoring already engaged")
	// ErrStreamIO is returned when reading or writing the saved state fails.
	ErrStreamIO = errors.New("livesave: saved state I/O failed")
	// ErrFormat is returned for malformed or inconsistent saved state.
	ErrFormat = errors.New("livesave: invalid saved state")
	// ErrTooManyRanges is returned when ranges of a kind can't all get an ID.
	ErrTooManyRanges = errors.New("livesave: too many ranges")
	// ErrDone is returned when using a handle after Done.
	ErrDone = errors.New("livesave: operation already done")
)

// formatError returns an ErrFormat with the given details.
func formatError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrFormat, format, args...)
}

// writeError turns a stream write error into an ErrStreamIO.
func writeError(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(ErrStreamIO, "%v", err)
}

// readError turns a stream read error into an ErrStreamIO or ErrFormat.
func readError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, stream.ErrStringTooLong) {
		return errors.Wrapf(ErrFormat, "%v", err)
	}
	return errors.Wrapf(ErrStreamIO, "%v", err)
}
