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

// Package timeline models the shared musical clock: tempo, the
// beat/time mapping, start/stop state, and the phase arithmetic used
// to align joins and resets against a quantum.
package timeline

import "math"

// Beats is an integer count of micro-beats (1 beat = 1,000,000
// micro-beats). All beat arithmetic is integer; float views are
// derived at the edges. Beats may be negative to express a count-in.
type Beats int64

const microBeatsPerBeat = 1_000_000

// BeatsFromFloat converts a floating-point beat count to Beats,
// rounding to the nearest micro-beat.
func BeatsFromFloat(b float64) Beats {
	return Beats(math.Round(b * microBeatsPerBeat))
}

// Float returns the floating-point beat value.
func (b Beats) Float() float64 {
	return float64(b) / microBeatsPerBeat
}

// Tempo is microseconds-per-beat, the internal representation; BPM is
// a derived view.
type Tempo int64

// MinBPM and MaxBPM bound every externally supplied tempo. Values
// outside this range are clamped on ingress (setTempo calls, received
// timelines).
const (
	MinBPM = 20.0
	MaxBPM = 999.0

	microsPerMinute = 60_000_000
)

// TempoFromBPM converts a BPM value to Tempo, clamping it into
// [MinBPM, MaxBPM] first.
func TempoFromBPM(bpm float64) Tempo {
	bpm = ClampBPM(bpm)
	return Tempo(math.Round(microsPerMinute / bpm))
}

// ClampBPM restricts bpm to the valid range, per spec §3/§4.7.
func ClampBPM(bpm float64) float64 {
	if bpm < MinBPM {
		return MinBPM
	}
	if bpm > MaxBPM {
		return MaxBPM
	}
	return bpm
}

// BPM returns the BPM view of a Tempo.
func (t Tempo) BPM() float64 {
	if t <= 0 {
		return 0
	}
	return microsPerMinute / float64(t)
}

// MicrosToBeats converts a duration in microseconds to Beats at the
// given tempo.
func MicrosToBeats(tempo Tempo, micros int64) Beats {
	if tempo <= 0 {
		return 0
	}
	return Beats(math.Round(float64(micros) * microBeatsPerBeat / float64(tempo)))
}

// BeatsToMicros converts a Beats value to a duration in microseconds
// at the given tempo.
func BeatsToMicros(tempo Tempo, b Beats) int64 {
	return int64(math.Round(float64(b) * float64(tempo) / microBeatsPerBeat))
}
