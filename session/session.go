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

// Package session implements the Sessions engine: it tracks every
// session this node currently knows about, measures their founders,
// and elects which one is current.
package session

import (
	"github.com/ableton-link/link/ghost"
	"github.com/ableton-link/link/timeline"
	"github.com/ableton-link/link/wire"
)

// SwitchEpsilonMicros is the ghost-time-difference threshold below
// which a switch decision defers to deterministic SessionId ordering
// instead of the raw ghost comparison, to avoid flapping between two
// sessions whose clocks are nearly identical (spec §4.6).
const SwitchEpsilonMicros int64 = 500_000

// RemeasureIntervalMicros is how long the engine waits before
// remeasuring a session again, both after a successful switch and
// after a failed measurement of the current session (spec §4.6).
const RemeasureIntervalMicros int64 = 30_000_000

// Info is everything the Sessions engine tracks about one session.
type Info struct {
	ID        wire.NodeID
	Timeline  timeline.Timeline
	StartStop timeline.StartStopState
	XForm     ghost.XForm
}

// Sessions tracks the current session and every other session this
// node has observed peers advertising.
type Sessions struct {
	current Info
	others  map[wire.NodeID]Info
}

// New constructs a Sessions engine that starts out as the founder of
// its own session, self.
func New(self Info) *Sessions {
	return &Sessions{current: self, others: make(map[wire.NodeID]Info)}
}

// Current returns the session this node currently follows.
func (s *Sessions) Current() Info { return s.current }

// Others returns every other known session, in no particular order.
func (s *Sessions) Others() []Info {
	out := make([]Info, 0, len(s.others))
	for _, info := range s.others {
		out = append(out, info)
	}
	return out
}

// Observe records a session this node has learned about from a peer
// advertisement. If it's already current or already tracked, its
// timeline and start/stop state are folded in by priority
// (timeline.Outranks, StartStopState.Outranks); otherwise it's added
// to others, unmeasured. isNew reports whether this session had never
// been seen before, which is the caller's cue to launch a measurement
// against its founder (spec §4.6).
func (s *Sessions) Observe(id wire.NodeID, tl timeline.Timeline, startStop timeline.StartStopState) (isNew bool) {
	if id == s.current.ID {
		s.mergeInto(&s.current, tl, startStop)
		return false
	}
	info, ok := s.others[id]
	if !ok {
		info = Info{ID: id}
	}
	s.mergeInto(&info, tl, startStop)
	s.others[id] = info
	return !ok
}

func (s *Sessions) mergeInto(info *Info, tl timeline.Timeline, startStop timeline.StartStopState) {
	if tl.Outranks(info.Timeline) {
		info.Timeline = tl
	}
	if startStop.Outranks(info.StartStop) {
		info.StartStop = startStop
	}
}

// Forget drops a tracked session entirely, e.g. because its last
// peer left.
func (s *Sessions) Forget(id wire.NodeID) {
	delete(s.others, id)
}

// MeasurementSucceeded folds a completed measurement of id's founder
// into the engine. If id is the current session, its xform is simply
// updated. If id is another known session, its ghost-time is compared
// against the current session's at now: a sufficiently later ghost
// time, or a near-tied one with a lexicographically smaller SessionId,
// makes it the new current session (spec §4.6). switched reports
// whether a switch happened; when it did, remeasureIn is the delay the
// caller should schedule a remeasurement of the (new) current session
// at.
func (s *Sessions) MeasurementSucceeded(id wire.NodeID, xform ghost.XForm, now int64) (switched bool, remeasureIn int64) {
	if id == s.current.ID {
		s.current.XForm = xform
		return false, 0
	}
	other, ok := s.others[id]
	if !ok {
		return false, 0
	}
	other.XForm = xform

	newGhost := xform.HostToGhost(now)
	curGhost := s.current.XForm.HostToGhost(now)
	ghostDiff := newGhost - curGhost

	switchNow := ghostDiff > SwitchEpsilonMicros ||
		(abs64(ghostDiff) < SwitchEpsilonMicros && id.Less(s.current.ID))

	if !switchNow {
		s.others[id] = other
		return false, 0
	}

	delete(s.others, id)
	s.others[s.current.ID] = s.current
	s.current = other
	return true, RemeasureIntervalMicros
}

// MeasurementFailed folds a failed measurement into the engine. A
// failure of the current session schedules a retry rather than
// dropping it (a node always has a current session, even an
// unreachable one); a failure of another session drops it, and the
// caller should forget its peers too.
func (s *Sessions) MeasurementFailed(id wire.NodeID) (dropped bool, retryIn int64) {
	if id == s.current.ID {
		return false, RemeasureIntervalMicros
	}
	if _, ok := s.others[id]; ok {
		delete(s.others, id)
		return true, 0
	}
	return false, 0
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
