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

package guestmem

import (
	"github.com/pkg/errors"
)

var (
	// ErrNoMemory is returned when host memory for guest pages runs out.
	ErrNoMemory = errors.New("guestmem: out of host memory")
	// ErrMonitorEngaged is returned when write monitoring already has an owner.
	ErrMonitorEngaged = errors.New("guestmem: write monitoring already engaged")
	// ErrInvalidAddress is returned for addresses not backed by any range.
	ErrInvalidAddress = errors.New("guestmem: invalid guest-physical address")
	// ErrInvalidRange is returned for malformed or overlapping ranges.
	ErrInvalidRange = errors.New("guestmem: invalid range")
	// ErrPageState is returned for operations invalid in the current page state.
	ErrPageState = errors.New("guestmem: unexpected page state")
	// ErrRomProt is returned for invalid ROM protection changes.
	ErrRomProt = errors.New("guestmem: invalid ROM protection")
)
