/*
Copyright 2020 Intel Corporation

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metricsring

import (
	"container/ring"

	"github.com/VividCortex/ewma"
)

// SampleBuffer is a fixed-size history of samples, one slot per sample.
type SampleBuffer interface {
	// Push adds a sample, overwriting the oldest one once the buffer is full.
	Push(d float64)
	// EWMA returns the exponentially weighted moving average of all samples pushed.
	EWMA() float64
	// GetSize returns the number of slots in the buffer.
	GetSize() int
	// Len returns the number of populated slots.
	Len() int
	// Mean returns the mean of the populated slots, 0 if there are none.
	Mean() float64
	// GetLastNSamples returns at most count of the latest samples, oldest first.
	GetLastNSamples(count int) []float64
	// Reset drops all samples.
	Reset()
}

// MetricsRing implements SampleBuffer on top of container/ring.
type MetricsRing struct {
	r    *ring.Ring
	s    int // the count of populated slots in the ring
	size int
	ma   ewma.MovingAverage
}

func NewMetricsRing(ringlen int) SampleBuffer {
	// Note: ewma has a warm-up period of 10 samples, until then EWMA()
	// returns 0.0.
	mr := &MetricsRing{size: ringlen}
	mr.Reset()
	return mr
}

func (mr *MetricsRing) Reset() {
	mr.r = ring.New(mr.size)
	mr.s = 0
	mr.ma = ewma.NewMovingAverage(float64(mr.size))
}

func (mr *MetricsRing) EWMA() float64 {
	return mr.ma.Value()
}

func (mr *MetricsRing) Push(d float64) {
	mr.r.Value = d
	mr.ma.Add(d)
	mr.r = mr.r.Next()

	if mr.s < mr.size {
		mr.s++
	}
}

func (mr *MetricsRing) GetSize() int {
	return mr.size
}

func (mr *MetricsRing) Len() int {
	return mr.s
}

func (mr *MetricsRing) Mean() float64 {
	if mr.s == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range mr.GetLastNSamples(mr.s) {
		sum += v
	}
	return sum / float64(mr.s)
}

func (mr *MetricsRing) GetLastNSamples(count int) []float64 {
	sliceLen := count
	if sliceLen > mr.s {
		// ring does not have enough elements yet
		sliceLen = mr.s
	}
	if sliceLen <= 0 {
		return []float64{}
	}

	s := make([]float64, sliceLen)
	p := mr.r.Move(-1 * sliceLen)
	for i := 0; i < sliceLen; i++ {
		s[i] = p.Value.(float64)
		p = p.Next()
	}

	return s
}
