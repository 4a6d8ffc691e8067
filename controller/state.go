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
	"sync/atomic"

	"github.com/ableton-link/link/ghost"
	"github.com/ableton-link/link/timeline"
	"github.com/ableton-link/link/wire"
)

// NodeState is everything about this node the IO thread and the API
// threads both touch under the main mutex: its identity, the session
// it believes it's in, and that session's timeline and start/stop
// state.
type NodeState struct {
	NodeID    wire.NodeID
	SessionID wire.NodeID
	Timeline  timeline.Timeline
	StartStop timeline.StartStopState
}

// SessionState is the subset of NodeState an application or audio
// callback captures and commits: the timeline and start/stop state,
// without node or session identity (those aren't something a client
// can coherently set).
type SessionState struct {
	Timeline  timeline.Timeline
	StartStop timeline.StartStopState
}

// rtSnapshot is the (SessionState, GhostXForm) pair the audio thread
// reads, published via a wait-free sequence lock: every writer holds
// the Controller's main mutex, so there is only ever one writer at a
// time, and readers never block it and it never blocks them.
// Odd sequence numbers mean a write is in progress; a reader that
// observes the sequence change across its read retries.
type rtSnapshot struct {
	seq   atomic.Uint64
	state SessionState
	xform ghost.XForm
}

func (s *rtSnapshot) store(state SessionState, xform ghost.XForm) {
	s.seq.Add(1) // now odd: write in progress
	s.state = state
	s.xform = xform
	s.seq.Add(1) // now even: write complete
}

func (s *rtSnapshot) load() (SessionState, ghost.XForm) {
	for {
		seq1 := s.seq.Load()
		if seq1&1 != 0 {
			continue
		}
		state := s.state
		xform := s.xform
		seq2 := s.seq.Load()
		if seq1 == seq2 {
			return state, xform
		}
	}
}

// audioMailbox is the single-slot, lock-free inbox an audio thread
// drops a commit into; the IO thread drains it on its own schedule.
// A commit that arrives before the previous one is drained overwrites
// it, matching the teacher's RT commit semantics: only the most recent
// audio-thread intent matters.
type audioMailbox struct {
	pending atomic.Pointer[SessionState]
}

func (m *audioMailbox) post(s SessionState) {
	cp := s
	m.pending.Store(&cp)
}

func (m *audioMailbox) drain() (SessionState, bool) {
	p := m.pending.Swap(nil)
	if p == nil {
		return SessionState{}, false
	}
	return *p, true
}
