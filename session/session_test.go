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

package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ableton-link/link/ghost"
	"github.com/ableton-link/link/timeline"
	"github.com/ableton-link/link/wire"
)

func idFor(b byte) wire.NodeID {
	var id wire.NodeID
	for i := range id {
		id[i] = b
	}
	return id
}

func TestMeasurementSucceededUpdatesCurrentXForm(t *testing.T) {
	self := idFor(0x50)
	s := New(Info{ID: self, XForm: ghost.Identity(0)})
	newXForm := ghost.XForm{Slope: 1.0, Intercept: 1234}
	switched, _ := s.MeasurementSucceeded(self, newXForm, 0)
	require.False(t, switched)
	require.Equal(t, newXForm, s.Current().XForm)
}

func TestMeasurementSucceededSwitchesOnLargeGhostLead(t *testing.T) {
	self := idFor(0x50)
	other := idFor(0x99) // lexicographically larger than self, so only the ghost lead can justify a switch
	s := New(Info{ID: self, XForm: ghost.XForm{Slope: 1.0, Intercept: 0}})
	s.Observe(other, timeline.Timeline{}, timeline.StartStopState{})

	switched, remeasureIn := s.MeasurementSucceeded(other, ghost.XForm{Slope: 1.0, Intercept: SwitchEpsilonMicros + 1}, 0)
	require.True(t, switched)
	require.Equal(t, RemeasureIntervalMicros, remeasureIn)
	require.Equal(t, other, s.Current().ID)

	others := s.Others()
	require.Len(t, others, 1)
	require.Equal(t, self, others[0].ID)
}

func TestMeasurementSucceededDefersToSessionIdWhenTied(t *testing.T) {
	self := idFor(0x99)
	smaller := idFor(0x10)
	s := New(Info{ID: self, XForm: ghost.XForm{Slope: 1.0, Intercept: 0}})
	s.Observe(smaller, timeline.Timeline{}, timeline.StartStopState{})

	switched, _ := s.MeasurementSucceeded(smaller, ghost.XForm{Slope: 1.0, Intercept: 100}, 0)
	require.True(t, switched)
	require.Equal(t, smaller, s.Current().ID)
}

func TestMeasurementSucceededStaysPutWhenTiedAndLarger(t *testing.T) {
	self := idFor(0x10)
	larger := idFor(0x99)
	s := New(Info{ID: self, XForm: ghost.XForm{Slope: 1.0, Intercept: 0}})
	s.Observe(larger, timeline.Timeline{}, timeline.StartStopState{})

	switched, _ := s.MeasurementSucceeded(larger, ghost.XForm{Slope: 1.0, Intercept: 100}, 0)
	require.False(t, switched)
	require.Equal(t, self, s.Current().ID)
}

func TestMeasurementFailedOfCurrentSchedulesRetry(t *testing.T) {
	self := idFor(0x50)
	s := New(Info{ID: self})
	dropped, retryIn := s.MeasurementFailed(self)
	require.False(t, dropped)
	require.Equal(t, RemeasureIntervalMicros, retryIn)
}

func TestMeasurementFailedOfOtherDropsIt(t *testing.T) {
	self := idFor(0x50)
	other := idFor(0x60)
	s := New(Info{ID: self})
	s.Observe(other, timeline.Timeline{}, timeline.StartStopState{})
	dropped, _ := s.MeasurementFailed(other)
	require.True(t, dropped)
	require.Empty(t, s.Others())
}
