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

package timeline

// Timeline is the triple (tempo, beatOrigin, timeOrigin) that bijects
// ghost time and beats. timeOrigin is expressed in ghost-time
// microseconds.
type Timeline struct {
	Tempo      Tempo
	BeatOrigin Beats
	TimeOrigin int64 // ghost-time micros
}

// New returns a Timeline at the given tempo with both origins at
// zero, the state of a freshly constructed node.
func New(tempo Tempo) Timeline {
	return Timeline{Tempo: tempo, BeatOrigin: 0, TimeOrigin: 0}
}

// ToBeats maps a ghost-time instant to a beat.
func (tl Timeline) ToBeats(ghost int64) Beats {
	return tl.BeatOrigin + MicrosToBeats(tl.Tempo, ghost-tl.TimeOrigin)
}

// FromBeats maps a beat to the ghost-time instant it occurs at.
func (tl Timeline) FromBeats(b Beats) int64 {
	return tl.TimeOrigin + BeatsToMicros(tl.Tempo, b-tl.BeatOrigin)
}

// Outranks reports whether tl should replace other when both claim
// the same session: priority is decided by beatOrigin magnitude,
// larger wins (spec §3, "beats origin monotone-wins").
func (tl Timeline) Outranks(other Timeline) bool {
	return tl.BeatOrigin > other.BeatOrigin
}

// WithTempo returns a copy of tl with tempo changed to newTempo,
// preserving the beat value that atGhost mapped to under the old
// tempo: beatOrigin stays fixed and timeOrigin is recomputed so the
// same (atGhost, beat) pair still holds under the new tempo. This is
// the core of setTempo (spec §4.7).
func (tl Timeline) WithTempo(newTempo Tempo, atGhost int64) Timeline {
	b := tl.ToBeats(atGhost)
	return Timeline{
		Tempo:      newTempo,
		BeatOrigin: tl.BeatOrigin,
		TimeOrigin: atGhost - BeatsToMicros(newTempo, b-tl.BeatOrigin),
	}
}

// StartStopState is the transport start/stop flag paired with the
// ghost-time instant it took effect at; the state with the later
// timestamp wins when two are compared.
type StartStopState struct {
	IsPlaying bool
	Timestamp int64 // ghost-time micros
}

// Outranks reports whether s should replace other: the state with the
// strictly later timestamp wins.
func (s StartStopState) Outranks(other StartStopState) bool {
	return s.Timestamp > other.Timestamp
}

// Phase reduces b into [0, q) for a strictly positive quantum q. For
// negative b the implementation shifts by enough multiples of q
// first, so the result stays continuous across zero instead of
// flipping sign the way a naive mod would.
func Phase(b Beats, q Beats) Beats {
	if q <= 0 {
		return 0
	}
	r := b % q
	if r < 0 {
		r += q
	}
	return r
}

// NextPhaseMatch returns the least y >= x with Phase(y,q) ==
// Phase(target,q).
func NextPhaseMatch(x, target, q Beats) Beats {
	if q <= 0 {
		return x
	}
	targetPhase := Phase(target, q)
	xPhase := Phase(x, q)
	delta := targetPhase - xPhase
	if delta < 0 {
		delta += q
	}
	return x + delta
}

// ClosestPhaseMatch returns the phase-matched value nearest to x,
// rounding to nearest (ties resolved toward the later beat, matching
// NextPhaseMatch's direction).
func ClosestPhaseMatch(x, target, q Beats) Beats {
	if q <= 0 {
		return x
	}
	next := NextPhaseMatch(x, target, q)
	prev := next - q
	if next-x <= x-prev {
		return next
	}
	return prev
}

// ToPhaseEncodedBeats folds a timeline's origin into [0, q) before
// mapping ghost to beats, so that two joiners with drifting origins
// but the same underlying timeline compute the same phase. It is only
// used for the wire representation of phase-aligned beats.
func ToPhaseEncodedBeats(tl Timeline, ghost int64, q Beats) Beats {
	if q <= 0 {
		return tl.ToBeats(ghost)
	}
	folded := tl
	folded.BeatOrigin = Phase(tl.BeatOrigin, q)
	return folded.ToBeats(ghost)
}

// FromPhaseEncodedBeats is the inverse of ToPhaseEncodedBeats.
func FromPhaseEncodedBeats(tl Timeline, b Beats, q Beats) int64 {
	if q <= 0 {
		return tl.FromBeats(b)
	}
	folded := tl
	folded.BeatOrigin = Phase(tl.BeatOrigin, q)
	return folded.FromBeats(b)
}

// RoundTripEpsilon is the micro-beat tolerance callers should use when
// comparing beat values that passed through a host-to-beats-to-host
// round trip, since integer micro-beat rounding is not always exact.
const RoundTripEpsilon = Beats(1)
