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

// Mmio2Range is device-owned, RAM-like memory.
type Mmio2Range struct {
	devName  string
	instance uint32
	region   uint8
	desc     string
	data     []byte
}

// DevName returns the name of the owning device.
func (r *Mmio2Range) DevName() string { return r.devName }

// Instance returns the instance number of the owning device.
func (r *Mmio2Range) Instance() uint32 { return r.instance }

// Region returns the device region number of the range.
func (r *Mmio2Range) Region() uint8 { return r.region }

// Desc returns the description of the range.
func (r *Mmio2Range) Desc() string { return r.desc }

// Size returns the size of the range in bytes.
func (r *Mmio2Range) Size() uint64 { return uint64(len(r.data)) }

// PageCount returns the number of pages in the range.
func (r *Mmio2Range) PageCount() int { return len(r.data) >> PageShift }

// PageLocked returns the content of the page with the given index.
func (r *Mmio2Range) PageLocked(idx int) []byte {
	off := idx << PageShift
	return r.data[off : off+PageSize : off+PageSize]
}

// AddMmio2Range registers a zero-filled MMIO2 range for a device region.
func (m *Manager) AddMmio2Range(devName string, instance uint32, region uint8, desc string, size uint64) (*Mmio2Range, error) {
	if size == 0 || size&PageOffsetMask != 0 {
		return nil, errors.Wrapf(ErrInvalidRange, "MMIO2 range %q size %#x", desc, size)
	}

	m.Lock()
	defer m.Unlock()

	for _, o := range m.mmio2 {
		if o.devName == devName && o.instance == instance && o.region == region {
			return nil, errors.Wrapf(ErrInvalidRange, "MMIO2 region %s/%d/%d already exists",
				devName, instance, region)
		}
	}

	r := &Mmio2Range{
		devName:  devName,
		instance: instance,
		region:   region,
		desc:     desc,
		data:     make([]byte, size),
	}
	m.mmio2 = append(m.mmio2, r)

	log.Debug("added MMIO2 range %q (%s/%d/%d, %d pages)", desc, devName, instance, region, r.PageCount())

	return r, nil
}

// WriteMmio2 writes device memory the way the owning device would.
func (m *Manager) WriteMmio2(r *Mmio2Range, off uint64, data []byte) error {
	m.Lock()
	defer m.Unlock()

	if off > uint64(len(r.data)) || uint64(len(data)) > uint64(len(r.data))-off {
		return errors.Wrapf(ErrInvalidAddress, "MMIO2 %q write at %#x/%d", r.desc, off, len(data))
	}
	copy(r.data[off:], data)
	return nil
}

// ReadMmio2 reads device memory.
func (m *Manager) ReadMmio2(r *Mmio2Range, off uint64, buf []byte) error {
	m.Lock()
	defer m.Unlock()

	if off > uint64(len(r.data)) || uint64(len(buf)) > uint64(len(r.data))-off {
		return errors.Wrapf(ErrInvalidAddress, "MMIO2 %q read at %#x/%d", r.desc, off, len(buf))
	}
	copy(buf, r.data[off:])
	return nil
}
