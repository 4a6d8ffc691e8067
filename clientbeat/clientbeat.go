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

// Package clientbeat implements the per-client offset that bridges
// the session's beat coordinate and the beat coordinate the local
// client actually observes, absorbing phase jumps caused by session
// joins and quantised resets. Every operation here is short, bounded,
// and allocation-free so the audio thread can call it directly.
package clientbeat

import (
	"runtime"
	"sync/atomic"

	"github.com/ableton-link/link/ghost"
	"github.com/ableton-link/link/timeline"
)

// spinLock is an atomic-flag mutual exclusion lock. Unlike
// sync.Mutex it never parks the calling goroutine on the runtime's
// semaphore, which is what lets it be taken from the audio thread:
// every critical section it guards is O(1) and never blocks.
type spinLock struct {
	held atomic.Bool
}

func (l *spinLock) Lock() {
	for !l.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (l *spinLock) Unlock() {
	l.held.Store(false)
}

// Timeline bridges session beats and client beats. The zero value is
// not ready to use; construct one with New.
type Timeline struct {
	lock spinLock

	tl           timeline.Timeline
	xform        ghost.XForm
	clientOffset timeline.Beats
}

// New returns a ClientBeatTimeline anchored to the given session
// timeline and xform, with no client offset.
func New(tl timeline.Timeline, xform ghost.XForm) *Timeline {
	return &Timeline{tl: tl, xform: xform}
}

// HostToBeats maps a host-time instant to the client's beat
// coordinate.
func (c *Timeline) HostToBeats(host int64) timeline.Beats {
	c.lock.Lock()
	defer c.lock.Unlock()
	ghostT := c.xform.HostToGhost(host)
	return c.tl.ToBeats(ghostT) + c.clientOffset
}

// BeatsToHost maps a client beat back to the host-time instant it
// occurs at.
func (c *Timeline) BeatsToHost(b timeline.Beats) int64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	ghostT := c.tl.FromBeats(b - c.clientOffset)
	return c.xform.GhostToHost(ghostT)
}

// Phase returns the client beat's phase against quantum q.
func (c *Timeline) Phase(b timeline.Beats, q timeline.Beats) timeline.Beats {
	c.lock.Lock()
	defer c.lock.Unlock()
	return timeline.Phase(b-c.clientOffset, q)
}

// ResetBeats asks that beats map to host, respecting quantum q. The
// client's visible beat moves by at most q to get there: it phase-
// matches the current session beat against the requested beats and
// sets the client offset so the match lands exactly on host. It
// returns the beat value that was actually applied, which may differ
// from the request by up to q/2 (spec §4.8).
func (c *Timeline) ResetBeats(beats timeline.Beats, host int64, q timeline.Beats) timeline.Beats {
	c.lock.Lock()
	defer c.lock.Unlock()
	curSessionBeat := c.tl.ToBeats(c.xform.HostToGhost(host))
	matched := timeline.ClosestPhaseMatch(curSessionBeat, beats, q)
	c.clientOffset = beats - matched
	return curSessionBeat + c.clientOffset
}

// ForceBeats is like ResetBeats, but it rewrites the session timeline
// itself (returned for the caller to broadcast) instead of adjusting
// the client offset, so every peer converges on the same realigned
// grid rather than only the local client. It phase-matches relative
// to curBeats-q/2 so the rewritten timeline shifts by the minimal
// amount, and the matched beat becomes the new beat origin.
func (c *Timeline) ForceBeats(tempo timeline.Tempo, beats timeline.Beats, host int64, q timeline.Beats) (applied timeline.Beats, newTimeline timeline.Timeline) {
	c.lock.Lock()
	defer c.lock.Unlock()
	ghostAtHost := c.xform.HostToGhost(host)
	curBeats := c.tl.ToBeats(ghostAtHost)
	matched := timeline.ClosestPhaseMatch(curBeats-q/2, beats, q)
	newTimeline = timeline.Timeline{Tempo: tempo, BeatOrigin: matched, TimeOrigin: ghostAtHost}
	c.tl = newTimeline
	c.clientOffset = 0
	return matched, newTimeline
}

// UpdateSession swaps in a newly adopted session timeline and xform.
// The client offset is adjusted so the client's own beat coordinate
// moves by at most half a quantum as a result — it may step backwards
// by up to q/2, but never further.
func (c *Timeline) UpdateSession(tl timeline.Timeline, xform ghost.XForm, host int64, q timeline.Beats) {
	c.lock.Lock()
	defer c.lock.Unlock()
	before := c.tl.ToBeats(c.xform.HostToGhost(host)) + c.clientOffset
	c.tl = tl
	c.xform = xform
	after := c.tl.ToBeats(c.xform.HostToGhost(host))
	matched := timeline.ClosestPhaseMatch(before, after, q)
	c.clientOffset = matched - after
}

// Reset re-anchors the client timeline with no offset, at the given
// xform; the session timeline is left as-is.
func (c *Timeline) Reset(xform ghost.XForm) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.xform = xform
	c.clientOffset = 0
}

// SetSessionTimeline replaces the cached session timeline without
// touching the client offset. Unlike UpdateSession, this is for a
// continuity-preserving change to the node's own timeline (e.g. a
// tempo change applied via Timeline.WithTempo), where the client's
// beat coordinate is already guaranteed to be unaffected at the
// instant the change took effect.
func (c *Timeline) SetSessionTimeline(tl timeline.Timeline) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.tl = tl
}

// SessionTimeline returns the currently cached session timeline
// (not the client-offset one), for callers that need to inspect it
// without going through the beat math.
func (c *Timeline) SessionTimeline() timeline.Timeline {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.tl
}

// XForm returns the currently cached ghost xform.
func (c *Timeline) XForm() ghost.XForm {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.xform
}
