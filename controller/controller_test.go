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

package controller

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ableton-link/link/clock"
	"github.com/ableton-link/link/peer"
	"github.com/ableton-link/link/timeline"
)

// fakeClock is a settable virtual clock, so tests can drive host time
// deterministically instead of depending on wall-clock scheduling.
type fakeClock struct {
	micros atomic.Int64
}

func (c *fakeClock) Now() clock.Micros { return clock.Micros(c.micros.Load()) }
func (c *fakeClock) Set(v int64)       { c.micros.Store(v) }

func TestConstructDisabledReportsDefaults(t *testing.T) {
	clk := &fakeClock{}
	c, err := New(120, clk)
	require.NoError(t, err)

	require.False(t, c.IsEnabled())
	require.Equal(t, 0, c.NumPeers())
	require.Equal(t, 120.0, c.CaptureAppSessionState().Timeline.Tempo.BPM())
}

func TestSetTempoClampsToValidRange(t *testing.T) {
	clk := &fakeClock{}
	c, err := New(120, clk)
	require.NoError(t, err)

	require.True(t, c.SetTempo(1.0, int64(clk.Now())))
	require.Equal(t, 20.0, c.CaptureAppSessionState().Timeline.Tempo.BPM())

	// 999 bpm is 60060 whole microseconds per beat (60e6/999 rounded).
	require.True(t, c.SetTempo(1e6, int64(clk.Now())))
	require.Equal(t, timeline.Tempo(60_060), c.CaptureAppSessionState().Timeline.Tempo)
}

func TestSetTempoIgnoredOutsideWindow(t *testing.T) {
	clk := &fakeClock{}
	c, err := New(120, clk)
	require.NoError(t, err)
	clk.Set(1_000_000)

	require.False(t, c.SetTempo(140, 0))                   // in the past
	require.False(t, c.SetTempo(140, 1_000_000+2_000_000)) // more than 1s out
	require.Equal(t, 120.0, c.CaptureAppSessionState().Timeline.Tempo.BPM())

	// 140 bpm is 428571 whole microseconds per beat (60e6/140 rounded).
	require.True(t, c.SetTempo(140, 1_000_000+500_000))
	require.Equal(t, timeline.Tempo(428_571), c.CaptureAppSessionState().Timeline.Tempo)
}

func TestSetTempoFiresCallbackOnlyOnActualChange(t *testing.T) {
	clk := &fakeClock{}
	c, err := New(120, clk)
	require.NoError(t, err)

	var calls int
	c.OnTempoChanged(func(bpm float64) { calls++ })

	require.True(t, c.SetTempo(140, int64(clk.Now())))
	require.Equal(t, 1, calls)

	require.True(t, c.SetTempo(140, int64(clk.Now())))
	require.Equal(t, 1, calls, "no callback for a no-op tempo set")
}

func TestEnableResetsIdentityAndClearsPeers(t *testing.T) {
	clk := &fakeClock{}
	c, err := New(120, clk)
	require.NoError(t, err)

	before := c.snapshotNodeID()
	c.peers.SawPeer(peer.State{SessionID: before}, "eth0", [4]byte{}, 0, 0)
	require.Len(t, c.peers.All(), 1)
	c.Enable(true)
	require.True(t, c.IsEnabled())
	require.NotEqual(t, before, c.snapshotNodeID())
	require.Empty(t, c.peers.All())

	c.Enable(false)
	require.False(t, c.IsEnabled())
}

func TestRealtimeCaptureCommitLoopNeverBlocks(t *testing.T) {
	clk := &fakeClock{}
	c, err := New(120, clk)
	require.NoError(t, err)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100_000; i++ {
			state, _ := c.CaptureAudioSessionState()
			c.CommitAudioSessionState(state)
		}
		close(done)
	}()

	// Concurrently drain the mailbox on what stands in for the IO
	// thread, the way Discovery's reactor would.
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				c.DrainAudioCommit()
			}
		}
	}()

	wg.Wait()
	close(stop)
}

func TestResetBeatsWithNoPeersRewritesOriginExactly(t *testing.T) {
	clk := &fakeClock{}
	c, err := New(120, clk)
	require.NoError(t, err)

	applied := c.ResetBeats(10_000_000, int64(clk.Now()))
	require.Equal(t, int64(10_000_000), int64(applied))
	require.Equal(t, int64(10_000_000), int64(c.CaptureAppSessionState().Timeline.BeatOrigin))
}
