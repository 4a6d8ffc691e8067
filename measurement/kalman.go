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

// Package measurement estimates the affine map from a peer's host
// clock to the shared ghost clock by exchanging timestamped pings and
// pongs and filtering the resulting offset samples.
package measurement

import "container/ring"

// kalmanFilter is a scalar recursive estimator of the (ghost - host)
// offset series. Unlike a textbook fixed-parameter Kalman filter, the
// process and measurement noise are recomputed from recent history at
// every sample via two statsWindows, so the filter adapts as the
// round-trip quality changes over the course of a measurement.
type kalmanFilter struct {
	estimate float64
	variance float64
	primed   bool

	residuals  *statsWindow
	increments *statsWindow
	lastSample float64
}

// kalmanWindowSize bounds how many recent samples feed the adaptive
// noise estimates; it trades responsiveness against stability. Fixed
// at 5 to match the protocol's 5-tap estimator (spec §4.5).
const kalmanWindowSize = 5

func newKalmanFilter() *kalmanFilter {
	return &kalmanFilter{
		residuals:  newStatsWindow(kalmanWindowSize),
		increments: newStatsWindow(kalmanWindowSize),
	}
}

// update folds in a new (ghost - host) offset sample and returns the
// filtered estimate.
func (k *kalmanFilter) update(sample float64) float64 {
	k.residuals.add(sample)
	if k.primed {
		k.increments.add(sample - k.lastSample)
	}
	k.lastSample = sample

	v := k.residuals.variance()
	w := k.increments.variance()

	if !k.primed {
		k.estimate = sample
		k.variance = v
		k.primed = true
		return k.estimate
	}
	predicted := k.variance + w
	gain := predicted / (predicted + v)
	k.estimate += gain * (sample - k.estimate)
	k.variance = (1 - gain) * predicted
	return k.estimate
}

// statsWindow tracks the population variance of the last capacity
// values added to it, in the spirit of the ring-buffer running
// statistics kept by a PI servo's offset/frequency filter.
type statsWindow struct {
	samples  *ring.Ring
	count    int
	capacity int
}

func newStatsWindow(capacity int) *statsWindow {
	return &statsWindow{samples: ring.New(capacity), capacity: capacity}
}

func (w *statsWindow) add(v float64) {
	w.samples.Value = v
	w.samples = w.samples.Next()
	if w.count < w.capacity {
		w.count++
	}
}

// variance returns the population variance of the retained samples,
// with a small floor so a still-warming window never produces a zero
// denominator in the Kalman gain.
func (w *statsWindow) variance() float64 {
	const floor = 1e-6
	if w.count < 2 {
		return floor
	}
	var mean float64
	n := 0
	w.samples.Do(func(val any) {
		if val == nil {
			return
		}
		mean += val.(float64)
		n++
	})
	mean /= float64(n)
	var sumSq float64
	w.samples.Do(func(val any) {
		if val == nil {
			return
		}
		d := val.(float64) - mean
		sumSq += d * d
	})
	variance := sumSq / float64(n)
	if variance < floor {
		return floor
	}
	return variance
}
