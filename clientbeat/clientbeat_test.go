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

package clientbeat

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ableton-link/link/ghost"
	"github.com/ableton-link/link/timeline"
)

func newAt(host int64, tempo timeline.Tempo) *Timeline {
	xform := ghost.Identity(host)
	tl := timeline.New(tempo)
	return New(tl, xform)
}

func TestHostBeatsRoundTrip(t *testing.T) {
	c := newAt(0, timeline.TempoFromBPM(120))
	for _, h := range []int64{0, 500_000, 1_000_000, 2_500_000} {
		b := c.HostToBeats(h)
		back := c.BeatsToHost(b)
		require.InDelta(t, h, back, 10)
	}
}

func TestResetBeatsAppliesWithinQuantum(t *testing.T) {
	c := newAt(0, timeline.TempoFromBPM(120))
	q := timeline.BeatsFromFloat(4)
	target := timeline.BeatsFromFloat(10)
	applied := c.ResetBeats(target, 1_000_000, q)
	require.Equal(t, timeline.Phase(target, q), timeline.Phase(applied, q))
	diff := int64(target - applied)
	if diff < 0 {
		diff = -diff
	}
	require.LessOrEqual(t, diff, int64(q))

	got := c.HostToBeats(1_000_000)
	require.InDelta(t, int64(applied), int64(got), 1)
}

func TestForceBeatsRewritesTimeline(t *testing.T) {
	c := newAt(0, timeline.TempoFromBPM(120))
	q := timeline.BeatsFromFloat(4)
	target := timeline.BeatsFromFloat(10)
	applied, newTl := c.ForceBeats(timeline.TempoFromBPM(130), target, 1_000_000, q)
	require.Equal(t, timeline.Phase(target, q), timeline.Phase(applied, q))
	require.Equal(t, applied, newTl.BeatOrigin)
	require.Equal(t, newTl.Tempo, c.SessionTimeline().Tempo)

	got := c.HostToBeats(1_000_000)
	require.InDelta(t, int64(applied), int64(got), 1)
}

func TestUpdateSessionMovesByAtMostHalfQuantum(t *testing.T) {
	c := newAt(0, timeline.TempoFromBPM(120))
	q := timeline.BeatsFromFloat(4)
	before := c.HostToBeats(1_000_000)

	newXform := ghost.XForm{Slope: 1.0, Intercept: -200_000}
	newTl := timeline.Timeline{Tempo: timeline.TempoFromBPM(125), BeatOrigin: timeline.BeatsFromFloat(3), TimeOrigin: 0}
	c.UpdateSession(newTl, newXform, 1_000_000, q)

	after := c.HostToBeats(1_000_000)
	diff := int64(after - before)
	if diff < 0 {
		diff = -diff
	}
	require.LessOrEqual(t, diff, int64(q)/2+1)
}

func TestResetReanchors(t *testing.T) {
	c := newAt(0, timeline.TempoFromBPM(120))
	c.ResetBeats(timeline.BeatsFromFloat(10), 1_000_000, timeline.BeatsFromFloat(4))
	c.Reset(ghost.Identity(2_000_000))
	require.Equal(t, timeline.Beats(0), c.HostToBeats(2_000_000)-c.SessionTimeline().ToBeats(0))
}

func TestConcurrentAccessDoesNotRace(t *testing.T) {
	c := newAt(0, timeline.TempoFromBPM(120))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			for j := int64(0); j < 100; j++ {
				c.HostToBeats(n*1000 + j)
			}
		}(int64(i))
	}
	wg.Wait()
}
