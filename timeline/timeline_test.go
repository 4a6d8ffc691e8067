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

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClampBPM(t *testing.T) {
	require.Equal(t, MinBPM, ClampBPM(1.0))
	require.Equal(t, MaxBPM, ClampBPM(1e6))
	require.Equal(t, 120.0, ClampBPM(120.0))
}

func TestTempoRoundTrip(t *testing.T) {
	tempo := TempoFromBPM(120) // 500000 us/beat, divides evenly
	for _, b := range []Beats{0, BeatsFromFloat(1), BeatsFromFloat(4), BeatsFromFloat(-2.5)} {
		micros := BeatsToMicros(tempo, b)
		got := MicrosToBeats(tempo, micros)
		require.InDelta(t, int64(b), int64(got), 1)
	}
}

func TestToFromBeatsInverse(t *testing.T) {
	tl := Timeline{Tempo: TempoFromBPM(128), BeatOrigin: BeatsFromFloat(2), TimeOrigin: 10_000}
	for _, ghost := range []int64{0, 10_000, 1_000_000, -500_000} {
		b := tl.ToBeats(ghost)
		back := tl.FromBeats(b)
		require.InDelta(t, ghost, back, 10)
	}
}

func TestOutranksByBeatOrigin(t *testing.T) {
	a := Timeline{BeatOrigin: BeatsFromFloat(4)}
	b := Timeline{BeatOrigin: BeatsFromFloat(8)}
	require.True(t, b.Outranks(a))
	require.False(t, a.Outranks(b))
	require.False(t, a.Outranks(a))
}

func TestWithTempoPreservesInstant(t *testing.T) {
	tl := Timeline{Tempo: TempoFromBPM(120), BeatOrigin: 0, TimeOrigin: 0}
	atGhost := int64(2_000_000)
	before := tl.ToBeats(atGhost)
	next := tl.WithTempo(TempoFromBPM(140), atGhost)
	after := next.ToBeats(atGhost)
	require.InDelta(t, int64(before), int64(after), 1)
	require.Equal(t, tl.BeatOrigin, next.BeatOrigin)
}

func TestStartStopOutranksByTimestamp(t *testing.T) {
	older := StartStopState{IsPlaying: true, Timestamp: 100}
	newer := StartStopState{IsPlaying: false, Timestamp: 200}
	require.True(t, newer.Outranks(older))
	require.False(t, older.Outranks(newer))
}

func TestPhaseAlwaysInRange(t *testing.T) {
	q := BeatsFromFloat(4)
	for _, b := range []Beats{0, BeatsFromFloat(1), BeatsFromFloat(-1), BeatsFromFloat(100), BeatsFromFloat(-100.5)} {
		p := Phase(b, q)
		require.GreaterOrEqual(t, int64(p), int64(0))
		require.Less(t, int64(p), int64(q))
	}
}

func TestClosestPhaseMatchWithinHalfQuantum(t *testing.T) {
	q := BeatsFromFloat(4)
	x := BeatsFromFloat(10)
	target := BeatsFromFloat(1) // phase 1
	y := ClosestPhaseMatch(x, target, q)
	require.Equal(t, Phase(target, q), Phase(y, q))
	diff := y - x
	if diff < 0 {
		diff = -diff
	}
	require.LessOrEqual(t, int64(diff), int64(q)/2)
}

func TestNextPhaseMatchNeverBeforeX(t *testing.T) {
	q := BeatsFromFloat(4)
	x := BeatsFromFloat(10)
	target := BeatsFromFloat(1)
	y := NextPhaseMatch(x, target, q)
	require.GreaterOrEqual(t, int64(y), int64(x))
	require.Equal(t, Phase(target, q), Phase(y, q))
}

func TestPhaseEncodedBeatsRoundTrip(t *testing.T) {
	tl := Timeline{Tempo: TempoFromBPM(120), BeatOrigin: BeatsFromFloat(17), TimeOrigin: 123456}
	q := BeatsFromFloat(4)
	ghost := int64(5_000_000)
	b := ToPhaseEncodedBeats(tl, ghost, q)
	back := FromPhaseEncodedBeats(tl, b, q)
	require.InDelta(t, ghost, back, 10)
}
