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

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSystemClockMonotonic(t *testing.T) {
	c := NewSystem()
	a := c.Now()
	b := c.Now()
	require.GreaterOrEqual(t, int64(b), int64(a))
}

func TestHostTimeFilterEmpty(t *testing.T) {
	f := NewHostTimeFilter()
	require.Equal(t, Micros(42), f.HostTime(42))
	require.Equal(t, 0, f.Count())
}

func TestHostTimeFilterLinearFit(t *testing.T) {
	f := NewHostTimeFilter()
	// host = 2*index + 1000, exactly
	for i := Micros(0); i < 20; i++ {
		f.Update(i, 2*i+1000)
	}
	require.Equal(t, 20, f.Count())
	got := f.HostTime(100)
	require.InDelta(t, 1200, int64(got), 1)
}

func TestHostTimeFilterReset(t *testing.T) {
	f := NewHostTimeFilter()
	f.Update(0, 5)
	f.Update(1, 6)
	require.Equal(t, 2, f.Count())
	f.Reset()
	require.Equal(t, 0, f.Count())
}

func TestHostTimeFilterCapacity(t *testing.T) {
	f := NewHostTimeFilter()
	for i := Micros(0); i < HostTimeFilterCapacity+50; i++ {
		f.Update(i, i)
	}
	require.Equal(t, HostTimeFilterCapacity, f.Count())
}
