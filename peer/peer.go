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

// Package peer implements the peer registry: the deduplicated set of
// remote nodes this node has heard discovery traffic from, keyed by
// (peerId, gatewayAddress) since the same peer can be seen through
// more than one local interface. All operations run on the IO thread.
package peer

import (
	"sort"

	"github.com/ableton-link/link/timeline"
	"github.com/ableton-link/link/wire"
)

// Endpoint identifies the local interface a peer was observed
// through, e.g. "192.168.1.4:20808".
type Endpoint string

// State is the broadcastable state of a remote node: its identity,
// the session it claims membership in, and that session's timeline
// and start/stop state, as advertised on the wire.
type State struct {
	NodeID    wire.NodeID
	SessionID wire.NodeID
	Timeline  timeline.Timeline
	StartStop timeline.StartStopState
}

// Peer is one (State, gateway) entry in the registry.
type Peer struct {
	State       State
	Gateway     Endpoint
	MeasureIP   [4]byte
	MeasurePort uint16
	ExpiresAt   int64
}

type key struct {
	peerID  wire.NodeID
	gateway Endpoint
}

// Registry is the deduplicated vector of known peers, sorted by
// (peerId, gatewayAddress) as in the original implementation, though a
// map serves the same lookup role idiomatically in Go.
type Registry struct {
	peers map[key]Peer
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{peers: make(map[key]Peer)}
}

// Change describes what a registry mutation requires the caller to do
// next: at most one membership callback and at most one
// session-timeline callback per call, per spec §4.4.
type Change struct {
	MembershipChanged  bool
	NewSessionTimeline bool
	SessionID          wire.NodeID
	Timeline           timeline.Timeline
}

// SawPeer upserts a peer observed through gateway, recording expiresAt
// as the host-time deadline (now + ttl + 1s, per spec §4.3) at which
// this entry times out absent a refresh. It reports a membership
// change if the peer's (peerId, gateway) key is new OR its advertised
// sessionId changed since the last time it was seen (spec §4.4), and a
// new-session-timeline event if this (sessionId, timeline) pair has
// never been seen among any known peer.
func (r *Registry) SawPeer(state State, gateway Endpoint, measureIP [4]byte, measurePort uint16, expiresAt int64) Change {
	k := key{peerID: state.NodeID, gateway: gateway}
	existing, existed := r.peers[k]
	sessionChanged := existed && existing.State.SessionID != state.SessionID

	pairIsNew := !r.hasSessionTimeline(state.SessionID, state.Timeline)

	r.peers[k] = Peer{State: state, Gateway: gateway, MeasureIP: measureIP, MeasurePort: measurePort, ExpiresAt: expiresAt}

	return Change{
		MembershipChanged:  !existed || sessionChanged,
		NewSessionTimeline: pairIsNew,
		SessionID:          state.SessionID,
		Timeline:           state.Timeline,
	}
}

func (r *Registry) hasSessionTimeline(sid wire.NodeID, tl timeline.Timeline) bool {
	for _, p := range r.peers {
		if p.State.SessionID == sid && p.State.Timeline == tl {
			return true
		}
	}
	return false
}

// PeerLeft removes a peer that announced ByeBye, reporting a
// membership change if it was known.
func (r *Registry) PeerLeft(peerID wire.NodeID, gateway Endpoint) (membershipChanged bool) {
	k := key{peerID: peerID, gateway: gateway}
	if _, ok := r.peers[k]; !ok {
		return false
	}
	delete(r.peers, k)
	return true
}

// PeerTimedOut removes a peer whose alive-heartbeat lapsed.
func (r *Registry) PeerTimedOut(peerID wire.NodeID, gateway Endpoint) (membershipChanged bool) {
	return r.PeerLeft(peerID, gateway)
}

// ExpireBefore removes every entry whose recorded deadline has
// already passed at now, reporting whether any membership changed
// (spec §4.3: peers are forgotten on TTL expiry just as on byebye).
func (r *Registry) ExpireBefore(now int64) (membershipChanged bool) {
	for k, p := range r.peers {
		if p.ExpiresAt <= now {
			delete(r.peers, k)
			membershipChanged = true
		}
	}
	return membershipChanged
}

// GatewayClosed removes every entry observed through gateway, e.g.
// because its network interface disappeared.
func (r *Registry) GatewayClosed(gateway Endpoint) (membershipChanged bool) {
	changed := false
	for k := range r.peers {
		if k.gateway == gateway {
			delete(r.peers, k)
			changed = true
		}
	}
	return changed
}

// SessionPeers returns every peer claiming membership in sid, sorted
// by NodeId then gateway.
func (r *Registry) SessionPeers(sid wire.NodeID) []Peer {
	var out []Peer
	for _, p := range r.peers {
		if p.State.SessionID == sid {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].State.NodeID != out[j].State.NodeID {
			return out[i].State.NodeID.Less(out[j].State.NodeID)
		}
		return out[i].Gateway < out[j].Gateway
	})
	return out
}

// UniqueSessionPeerCount returns the number of distinct peer node ids
// claiming membership in sid, collapsing duplicates seen via multiple
// gateways.
func (r *Registry) UniqueSessionPeerCount(sid wire.NodeID) int {
	seen := make(map[wire.NodeID]struct{})
	for _, p := range r.peers {
		if p.State.SessionID == sid {
			seen[p.State.NodeID] = struct{}{}
		}
	}
	return len(seen)
}

// All returns every known peer, sorted by (peerId, gateway).
func (r *Registry) All() []Peer {
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].State.NodeID != out[j].State.NodeID {
			return out[i].State.NodeID.Less(out[j].State.NodeID)
		}
		return out[i].Gateway < out[j].Gateway
	})
	return out
}
