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

// Package guestmem models the guest-physical memory of a virtual machine:
// RAM ranges made of individually typed and stated pages, shadowable ROM
// ranges and device-owned MMIO2 ranges.
//
// A single Manager lock protects all page descriptors. Functions and methods
// with a Locked suffix expect the caller to hold it, everything else takes
// it internally. Structural changes to the RAM range list bump a generation
// counter, which lock holders that temporarily drop the lock use to detect
// that their view of the range list went stale.
//
// Pages can be write monitored. Write monitoring is a capability with a
// single owner at a time, obtained with Engage. The first guest write to a
// monitored page traps, turns the page back into a normal allocated page and
// marks it written to, before letting the write complete.
package guestmem
