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

// WriteMonitor is the exclusive capability to arm write monitoring on guest
// pages. At most one WriteMonitor exists for a Manager at any time.
type WriteMonitor struct {
	m *Manager
}

// EngageWriteMonitor acquires the write monitoring capability.
func (m *Manager) EngageWriteMonitor() (*WriteMonitor, error) {
	m.Lock()
	defer m.Unlock()

	if m.monitor != nil {
		return nil, ErrMonitorEngaged
	}
	m.monitor = &WriteMonitor{m: m}

	log.Debug("write monitoring engaged")

	return m.monitor, nil
}

// IsEngaged checks if the capability is still held.
func (wm *WriteMonitor) IsEngaged() bool {
	wm.m.Lock()
	defer wm.m.Unlock()
	return wm.m.monitor == wm
}

// ArmLocked arms write monitoring on an allocated page.
func (wm *WriteMonitor) ArmLocked(p *Page) bool {
	if p.state != PageStateAllocated {
		return false
	}
	p.state = PageStateWriteMonitored
	wm.m.monitored++
	return true
}

// DisarmLocked stops write monitoring on a page.
func (wm *WriteMonitor) DisarmLocked(p *Page) bool {
	if p.state != PageStateWriteMonitored {
		return false
	}
	p.state = PageStateAllocated
	wm.m.monitored = decrement(wm.m.monitored)
	return true
}

// ClearWrittenToLocked clears and returns the written-to state of a RAM page.
func (wm *WriteMonitor) ClearWrittenToLocked(p *Page) bool {
	if !p.writtenTo {
		return false
	}
	p.writtenTo = false
	wm.m.writtenTo = decrement(wm.m.writtenTo)
	return true
}

// Release gives up the write monitoring capability. Pages still armed are
// left for the next owner or trap normally.
func (wm *WriteMonitor) Release() {
	wm.m.Lock()
	defer wm.m.Unlock()

	if wm.m.monitor != wm {
		return
	}
	wm.m.monitor = nil

	log.Debug("write monitoring released")
}
