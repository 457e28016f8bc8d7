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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMonitorEngagement(t *testing.T) {
	m, _ := newTestManager(t)

	wm, err := m.EngageWriteMonitor()
	require.NoError(t, err)
	require.True(t, wm.IsEngaged())

	_, err = m.EngageWriteMonitor()
	require.Equal(t, ErrMonitorEngaged, err)

	wm.Release()
	wm.Release()
	require.False(t, wm.IsEngaged())

	again, err := m.EngageWriteMonitor()
	require.NoError(t, err)
	require.False(t, wm.IsEngaged())
	again.Release()
}

func TestWriteTrap(t *testing.T) {
	m, r := newTestManager(t)
	require.NoError(t, m.Write(testBase, make([]byte, 2*PageSize)))

	wm, err := m.EngageWriteMonitor()
	require.NoError(t, err)
	defer wm.Release()

	m.Lock()
	require.True(t, wm.ArmLocked(r.Page(0)))
	require.True(t, wm.ArmLocked(r.Page(1)))
	require.False(t, wm.ArmLocked(r.Page(2)), "zero pages cannot be armed")
	m.Unlock()

	st := m.Stats()
	require.Equal(t, uint32(2), st.MonitoredPages)
	require.Equal(t, uint32(0), st.WrittenToPages)

	require.NoError(t, m.Write(testBase+10, []byte{1, 2, 3}))
	require.Equal(t, PageStateAllocated, r.Page(0).State())
	require.True(t, r.Page(0).IsWrittenTo())
	require.Equal(t, PageStateWriteMonitored, r.Page(1).State())

	st = m.Stats()
	require.Equal(t, uint32(1), st.MonitoredPages)
	require.Equal(t, uint32(1), st.WrittenToPages)

	m.Lock()
	require.True(t, wm.ClearWrittenToLocked(r.Page(0)))
	require.False(t, wm.ClearWrittenToLocked(r.Page(0)))
	require.True(t, wm.DisarmLocked(r.Page(1)))
	require.False(t, wm.DisarmLocked(r.Page(1)))
	st = m.StatsLocked()
	m.Unlock()

	require.Equal(t, Stats{AllPages: testPages, ZeroPages: testPages - 2}, st)
}

func TestBalloonClearsWrittenTo(t *testing.T) {
	m, r := newTestManager(t)
	require.NoError(t, m.Write(testBase, make([]byte, 2*PageSize)))

	wm, err := m.EngageWriteMonitor()
	require.NoError(t, err)
	defer wm.Release()

	m.Lock()
	require.True(t, wm.ArmLocked(r.Page(0)))
	require.True(t, wm.ArmLocked(r.Page(1)))
	m.Unlock()

	require.NoError(t, m.Write(testBase, []byte{1}))
	require.Equal(t, uint32(1), m.Stats().WrittenToPages)

	require.NoError(t, m.Balloon(testBase, 2))
	require.False(t, r.Page(0).IsWrittenTo())
	require.True(t, r.Page(0).IsBallooned())

	st := m.Stats()
	require.Equal(t, uint32(0), st.WrittenToPages)
	require.Equal(t, uint32(0), st.MonitoredPages)
}

func TestWriteLockBypassesTrap(t *testing.T) {
	m, r := newTestManager(t)
	require.NoError(t, m.Write(testBase, []byte{1}))

	pm, err := m.AcquireWriteLock(testBase)
	require.NoError(t, err)
	defer pm.Release()

	wm, err := m.EngageWriteMonitor()
	require.NoError(t, err)
	defer wm.Release()

	m.Lock()
	require.True(t, wm.ArmLocked(r.Page(0)))
	m.Unlock()

	pm.Write(0, []byte{2})
	require.Equal(t, PageStateWriteMonitored, r.Page(0).State())
	require.False(t, r.Page(0).IsWrittenTo())
}

func TestRetypeDisarms(t *testing.T) {
	m, r := newTestManager(t)
	require.NoError(t, m.Write(testBase, []byte{1}))

	wm, err := m.EngageWriteMonitor()
	require.NoError(t, err)
	defer wm.Release()

	m.Lock()
	require.True(t, wm.ArmLocked(r.Page(0)))
	m.Unlock()

	require.NoError(t, m.SetPageType(testBase, PageTypeMMIO))
	require.Equal(t, PageStateAllocated, r.Page(0).State())
	require.Equal(t, uint32(0), m.Stats().MonitoredPages)

	// writes to MMIO pages are not RAM writes
	require.NoError(t, m.Write(testBase, []byte{2}))
	require.False(t, r.Page(0).IsWrittenTo())
}
