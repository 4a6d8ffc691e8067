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

// Package controller implements Controller, the orchestrator every
// embedding application talks to: it owns this node's identity and
// timeline, bridges the app-safe and audio-safe state paths, and wires
// the peer registry, Sessions engine and measurement protocol together
// over the IO reactor.
package controller

import (
	"sync"

	"github.com/ableton-link/link/clientbeat"
	"github.com/ableton-link/link/clock"
	"github.com/ableton-link/link/ghost"
	"github.com/ableton-link/link/peer"
	"github.com/ableton-link/link/session"
	"github.com/ableton-link/link/timeline"
	"github.com/ableton-link/link/wire"
)

// DefaultQuantum is the quantum new Controllers start with, four
// beats, the common "one bar in 4/4" default.
const DefaultQuantum = timeline.Beats(4 * 1_000_000)

// Controller is the top-level API surface: construct one per process
// (or plugin instance), call Enable to join the network, and drive
// tempo/beats/session-state through its methods from whichever thread
// is appropriate (see the Capture/Commit*SessionState docs for the
// realtime-safe path).
type Controller struct {
	clk clock.Clock

	mu          sync.Mutex
	enabled     bool
	node        NodeState
	xform       ghost.XForm
	xformAnchor int64
	quantum     timeline.Beats

	clientBeats *clientbeat.Timeline
	sessions    *session.Sessions
	peers       *peer.Registry

	rt      rtSnapshot
	mailbox audioMailbox

	callbackMu          sync.Mutex
	tempoCallback       func(bpm float64)
	peerCountCallback   func(n int)
	joinCallback        func(session.Info)
	measurementCallback func(succeeded bool)
	lastTempo           float64
	lastPeerCount       int

	// broadcast is set by Start (controller/discovery.go) once the IO
	// reactor and gateways exist; nil in offline/unit-test use, where
	// every operation still works locally, it just has no peers to
	// tell.
	broadcast func()
}

// New constructs a disabled Controller, founder of its own session, at
// the given starting tempo.
func New(bpm float64, clk clock.Clock) (*Controller, error) {
	nodeID, err := wire.NewNodeID()
	if err != nil {
		return nil, err
	}
	now := int64(clk.Now())
	tl := timeline.New(timeline.TempoFromBPM(bpm))
	xform := ghost.Identity(now)

	c := &Controller{
		clk:     clk,
		quantum: DefaultQuantum,
		node: NodeState{
			NodeID:    nodeID,
			SessionID: nodeID,
			Timeline:  tl,
		},
		xform:       xform,
		xformAnchor: now,
		peers:       peer.New(),
	}
	c.sessions = session.New(session.Info{ID: nodeID, Timeline: tl, XForm: xform})
	c.clientBeats = clientbeat.New(tl, xform)
	c.publishRT()
	return c, nil
}

// Enable joins (true) or leaves (false) the network. Enabling always
// resets this node's identity, timing transform and peer registry
// first, so a node that was previously a session member and is
// re-enabled starts fresh rather than rejoining stale peer state.
func (c *Controller) Enable(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.resetStateLocked()
	}
	c.enabled = on
}

// IsEnabled reports whether the node is currently enabled.
func (c *Controller) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// FounderMeasured reports whether this node's xform has been replaced
// by a completed measurement since it last founded a session, i.e.
// whether it is still running on the identity xform it was given at
// construction or its last reset (spec §3 invariant: "For the current
// session's founder, the GhostXForm is identity iff no measurement has
// yet completed").
func (c *Controller) FounderMeasured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.xform.IsIdentity(c.xformAnchor)
}

// NumPeers returns the number of distinct peers in this node's current
// session.
func (c *Controller) NumPeers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peers.UniqueSessionPeerCount(c.node.SessionID)
}

// Quantum returns the current quantum used by ResetBeats/ForceBeats
// and any caller computing phase against "the" quantum.
func (c *Controller) Quantum() timeline.Beats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quantum
}

// SetQuantum changes the quantum used by future ResetBeats/ForceBeats
// calls.
func (c *Controller) SetQuantum(q timeline.Beats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quantum = q
}

// SetTempo requests a tempo change that takes effect at atHost, which
// must fall within [now, now+1s); requests outside that window are
// silently ignored, matching the tolerance a caller scheduling from
// another thread needs (spec §4.7).
func (c *Controller) SetTempo(bpm float64, atHost int64) bool {
	now := int64(c.clk.Now())
	if atHost < now || atHost >= now+1_000_000 {
		return false
	}

	c.mu.Lock()
	tempo := timeline.TempoFromBPM(bpm)
	oldBPM := c.node.Timeline.Tempo.BPM()
	atGhost := c.xform.HostToGhost(atHost)
	newTl := c.node.Timeline.WithTempo(tempo, atGhost)
	c.node.Timeline = newTl
	c.clientBeats.SetSessionTimeline(newTl)
	c.publishRTLocked()
	newBPM := newTl.Tempo.BPM()
	c.mu.Unlock()

	c.broadcastIfWired()
	if newBPM != oldBPM {
		c.fireTempoCallback(newBPM)
	}
	return true
}

// ResetBeats asks that beats occur at atHost. With no session peers,
// this node's own timeline is simply rewritten to make it exactly so;
// with peers present, the client-visible beat is instead nudged via
// the client beat bridge so the shared session grid is undisturbed
// (spec §4.8).
func (c *Controller) ResetBeats(beats timeline.Beats, atHost int64) timeline.Beats {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.peers.UniqueSessionPeerCount(c.node.SessionID) == 0 {
		atGhost := c.xform.HostToGhost(atHost)
		c.node.Timeline.BeatOrigin = beats
		c.node.Timeline.TimeOrigin = atGhost
		c.clientBeats.SetSessionTimeline(c.node.Timeline)
		c.publishRTLocked()
		return beats
	}

	applied := c.clientBeats.ResetBeats(beats, atHost, c.quantum)
	return applied
}

// ForceBeats rewrites the session timeline itself so every peer
// converges on the realigned grid, not just this node's client view.
func (c *Controller) ForceBeats(bpm float64, beats timeline.Beats, atHost int64) timeline.Beats {
	c.mu.Lock()
	tempo := timeline.TempoFromBPM(bpm)
	applied, newTl := c.clientBeats.ForceBeats(tempo, beats, atHost, c.quantum)
	c.node.Timeline = newTl
	c.publishRTLocked()
	c.mu.Unlock()

	c.broadcastIfWired()
	return applied
}

// TimeToBeats maps a host-time instant to this node's client beat.
func (c *Controller) TimeToBeats(host int64) timeline.Beats {
	return c.clientBeats.HostToBeats(host)
}

// BeatsToTime maps a client beat back to the host-time instant it
// occurs at.
func (c *Controller) BeatsToTime(b timeline.Beats) int64 {
	return c.clientBeats.BeatsToHost(b)
}

// Phase returns a client beat's phase against quantum q.
func (c *Controller) Phase(b timeline.Beats, q timeline.Beats) timeline.Beats {
	return c.clientBeats.Phase(b, q)
}

// CaptureAppSessionState snapshots the current session state for an
// application thread to inspect or later commit back (possibly
// modified).
func (c *Controller) CaptureAppSessionState() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SessionState{Timeline: c.node.Timeline, StartStop: c.node.StartStop}
}

// CommitAppSessionState writes back a (possibly modified) session
// state captured earlier. It is a no-op if nothing actually changed,
// so it never spuriously fires the tempo callback or broadcasts.
func (c *Controller) CommitAppSessionState(s SessionState) {
	c.mu.Lock()
	if s.Timeline == c.node.Timeline && s.StartStop == c.node.StartStop {
		c.mu.Unlock()
		return
	}
	oldBPM := c.node.Timeline.Tempo.BPM()
	c.node.Timeline = s.Timeline
	c.node.StartStop = s.StartStop
	c.clientBeats.SetSessionTimeline(s.Timeline)
	c.publishRTLocked()
	newBPM := s.Timeline.Tempo.BPM()
	c.mu.Unlock()

	c.broadcastIfWired()
	if newBPM != oldBPM {
		c.fireTempoCallback(newBPM)
	}
}

// CaptureAudioSessionState returns the session state and ghost xform
// an audio callback should use, read through a wait-free sequence
// lock: this never blocks on a mutex the IO thread might be holding
// (spec §5, §8 scenario 6).
func (c *Controller) CaptureAudioSessionState() (SessionState, ghost.XForm) {
	return c.rt.load()
}

// CommitAudioSessionState posts a session state an audio callback
// wants applied into a single-slot mailbox; the IO thread drains and
// applies it on its own schedule. Never blocks and never allocates
// beyond the one copy posted.
func (c *Controller) CommitAudioSessionState(s SessionState) {
	c.mailbox.post(s)
}

// DrainAudioCommit applies any pending audio-thread commit. Discovery's
// reactor calls it every audioDrainInterval; safe to call with no
// pending commit.
func (c *Controller) DrainAudioCommit() {
	s, ok := c.mailbox.drain()
	if !ok {
		return
	}
	c.CommitAppSessionState(s)
}

// OnTempoChanged registers the callback fired whenever this node's
// effective tempo actually changes. It is fired synchronously on the
// goroutine that applied the change: the caller's own for SetTempo and
// CommitAppSessionState, the IO reactor's for session adoption and
// drained audio commits; it is not handed off to the reactor. Every
// callback runs under the same callback lock, so callbacks are
// serialized with each other; callbacks must never call back into the
// Controller.
func (c *Controller) OnTempoChanged(fn func(bpm float64)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.tempoCallback = fn
}

// OnNumPeersChanged registers the callback fired whenever the current
// session's peer count actually changes.
func (c *Controller) OnNumPeersChanged(fn func(n int)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.peerCountCallback = fn
}

// OnJoinSession registers the callback fired whenever this node
// switches to following a different session.
func (c *Controller) OnJoinSession(fn func(session.Info)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.joinCallback = fn
}

// OnMeasurementResult registers the callback fired every time a peer
// measurement session reaches a terminal outcome, successful or not.
func (c *Controller) OnMeasurementResult(fn func(succeeded bool)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.measurementCallback = fn
}

func (c *Controller) fireMeasurementResult(succeeded bool) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	if c.measurementCallback != nil {
		c.measurementCallback(succeeded)
	}
}

func (c *Controller) fireTempoCallback(bpm float64) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	if c.lastTempo == bpm {
		return
	}
	c.lastTempo = bpm
	if c.tempoCallback != nil {
		c.tempoCallback(bpm)
	}
}

func (c *Controller) firePeerCountCallback(n int) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	if c.lastPeerCount == n {
		return
	}
	c.lastPeerCount = n
	if c.peerCountCallback != nil {
		c.peerCountCallback(n)
	}
}

// resetStateLocked gives this node a fresh identity and xform while
// preserving its timeline, clearing the peer registry and founding a
// new session of its own. Called both by Enable(true) and by
// SessionPeerCounter reaching zero (spec §4.9): the last member of a
// dissolved session becomes the founder of a fresh one rather than
// being left pointing at a session nobody else is in.
func (c *Controller) resetStateLocked() {
	nodeID, err := wire.NewNodeID()
	if err != nil {
		// NewNodeID only fails if the system RNG is broken, in which
		// case there is nothing sensible left to do but keep the old
		// identity rather than panic.
		nodeID = c.node.NodeID
	}
	now := int64(c.clk.Now())
	c.node.NodeID = nodeID
	c.node.SessionID = nodeID
	c.xform = ghost.Identity(now)
	c.xformAnchor = now
	c.peers = peer.New()
	c.sessions = session.New(session.Info{ID: c.node.SessionID, Timeline: c.node.Timeline, XForm: c.xform})
	c.clientBeats.Reset(c.xform)
	c.clientBeats.SetSessionTimeline(c.node.Timeline)
	c.publishRTLocked()
}

// adoptSession swaps in a session the Sessions engine just switched
// to, keeping the client's visible beat continuous across the switch.
func (c *Controller) adoptSession(info session.Info, atHost int64) {
	c.mu.Lock()
	oldBPM := c.node.Timeline.Tempo.BPM()
	c.node.SessionID = info.ID
	c.node.Timeline = info.Timeline
	c.node.StartStop = info.StartStop
	c.xform = info.XForm
	c.clientBeats.UpdateSession(info.Timeline, info.XForm, atHost, c.quantum)
	c.publishRTLocked()
	newBPM := info.Timeline.Tempo.BPM()
	c.mu.Unlock()

	c.callbackMu.Lock()
	if c.joinCallback != nil {
		c.joinCallback(info)
	}
	c.callbackMu.Unlock()

	c.broadcastIfWired()
	if newBPM != oldBPM {
		c.fireTempoCallback(newBPM)
	}
}

// notePeerChange recomputes the current session's peer count after a
// peer registry mutation and fires the peer-count callback and
// SessionPeerCounter reset if warranted.
func (c *Controller) notePeerChange() {
	c.mu.Lock()
	n := c.peers.UniqueSessionPeerCount(c.node.SessionID)
	shouldReset := n == 0 && c.enabled
	c.mu.Unlock()

	c.firePeerCountCallback(n)
	if shouldReset {
		c.mu.Lock()
		c.resetStateLocked()
		c.mu.Unlock()
	}
}

func (c *Controller) publishRTLocked() {
	c.rt.store(SessionState{Timeline: c.node.Timeline, StartStop: c.node.StartStop}, c.xform)
}

func (c *Controller) publishRT() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishRTLocked()
}

func (c *Controller) broadcastIfWired() {
	if c.broadcast != nil {
		c.broadcast()
	}
}
