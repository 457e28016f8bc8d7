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
	"fmt"
)

// zeroPage backs every zero and ballooned page. It is never written to.
var zeroPage = make([]byte, PageSize)

// Page is the descriptor of a single guest page.
type Page struct {
	typ        PageType
	state      PageState
	writeLocks uint32
	writtenTo  bool
	large      bool
	data       []byte
}

// Type returns the type of the page.
func (p *Page) Type() PageType {
	return p.typ
}

// State returns the backing state of the page.
func (p *Page) State() PageState {
	return p.state
}

// WriteLocks returns the number of write mappings held for the page.
func (p *Page) WriteLocks() uint32 {
	return p.writeLocks
}

// IsWrittenTo checks if a write trapped on the page since monitoring was armed.
func (p *Page) IsWrittenTo() bool {
	return p.writtenTo
}

// IsLarge checks if the page is part of a large host mapping.
func (p *Page) IsLarge() bool {
	return p.large
}

// IsZero checks if the page is backed by the zero page.
func (p *Page) IsZero() bool {
	return p.state == PageStateZero
}

// IsBallooned checks if the page has been reclaimed by the host.
func (p *Page) IsBallooned() bool {
	return p.state == PageStateBallooned
}

// IsAllocated checks if the page has private backing, monitored or not.
func (p *Page) IsAllocated() bool {
	return p.state == PageStateAllocated || p.state == PageStateWriteMonitored
}

// BytesLocked returns the current content of the page for reading.
// The returned slice must not be modified or retained past unlocking.
func (p *Page) BytesLocked() []byte {
	if p.data == nil {
		return zeroPage
	}
	return p.data
}

func (p *Page) String() string {
	return fmt.Sprintf("<%s %s locks:%d written-to:%v large:%v>",
		p.typ, p.state, p.writeLocks, p.writtenTo, p.large)
}

// IsZeroBytes checks if a memory block is all zeroes.
func IsZeroBytes(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
