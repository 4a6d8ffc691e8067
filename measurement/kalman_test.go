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

package measurement

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestKalmanFilterConvergesWithinOneWindow feeds a constant offset and
// checks the estimate lands within the input inside one window length
// of samples, per spec §8's "Kalman filter with constant input
// converges to the input within one window length."
func TestKalmanFilterConvergesWithinOneWindow(t *testing.T) {
	const input = 12_345.0
	f := newKalmanFilter()

	var estimate float64
	for i := 0; i < kalmanWindowSize; i++ {
		estimate = f.update(input)
	}
	require.InDelta(t, input, estimate, 1.0)
}

func TestKalmanFilterTracksConstantOffsetDespiteNoise(t *testing.T) {
	const input = -5_000.0
	f := newKalmanFilter()

	noisy := []float64{input - 3, input + 2, input - 1, input + 4, input - 2}
	var estimate float64
	for round := 0; round < 10; round++ {
		for _, n := range noisy {
			estimate = f.update(n)
		}
	}
	require.InDelta(t, input, estimate, 10.0)
}
