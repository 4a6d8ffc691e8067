/*
Copyright (c) Facebook, Inc. and its affiliates.

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

package clock

import "container/ring"

// HostTimeFilterCapacity is the maximum number of (sampleIndex,
// hostMicros) pairs HostTimeFilter retains.
const HostTimeFilterCapacity = 512

// HostTimeFilter fits an ordinary least-squares line through recent
// (sampleIndex, hostMicros) observations, so an audio platform can
// translate an arbitrary buffer boundary into host time without
// depending on the exact timing of the callback that reported it.
// It is only ever touched by the platform's audio I/O glue.
type HostTimeFilter struct {
	samples *ring.Ring
	count   int
}

type hostTimeSample struct {
	index Micros
	host  Micros
}

// NewHostTimeFilter returns an empty filter.
func NewHostTimeFilter() *HostTimeFilter {
	return &HostTimeFilter{samples: ring.New(HostTimeFilterCapacity)}
}

// Reset clears all accumulated samples.
func (f *HostTimeFilter) Reset() {
	f.samples = ring.New(HostTimeFilterCapacity)
	f.count = 0
}

// Update records a new (sampleIndex, hostMicros) observation.
func (f *HostTimeFilter) Update(sampleIndex, hostMicros Micros) {
	f.samples.Value = hostTimeSample{index: sampleIndex, host: hostMicros}
	f.samples = f.samples.Next()
	if f.count < HostTimeFilterCapacity {
		f.count++
	}
}

// HostTime returns slope*sampleIndex + intercept of the least-squares
// fit over the retained samples. With no samples it returns
// sampleIndex unchanged; with a single sample it assumes unit slope
// through that one (index, host) pair.
func (f *HostTimeFilter) HostTime(sampleIndex Micros) Micros {
	if f.count == 0 {
		return sampleIndex
	}
	var sumX, sumY, sumXY, sumXX float64
	n := float64(f.count)
	r := f.samples
	for i := 0; i < f.count; i++ {
		r = r.Prev()
		s := r.Value.(hostTimeSample)
		x, y := float64(s.index), float64(s.host)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	if f.count == 1 {
		// a single sample only fixes the offset; assume unit slope
		return Micros(sumY-sumX) + sampleIndex
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return Micros(sumY/n) + sampleIndex - Micros(sumX/n)
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n
	return Micros(slope*float64(sampleIndex) + intercept)
}

// Count returns the number of samples currently retained.
func (f *HostTimeFilter) Count() int {
	return f.count
}
