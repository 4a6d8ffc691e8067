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

package measurement

import (
	"github.com/ableton-link/link/ghost"
	"github.com/ableton-link/link/wire"
)

// Responder answers every Ping addressed to this node with a Pong
// carrying the node's current session membership and ghost-time
// reading. It holds no per-peer state; any number of peers can be
// measuring this node concurrently.
type Responder struct {
	Ident wire.NodeID
}

// HandlePing builds the Pong reply to an inbound Ping, given the
// node's current session id, ghost xform, and host time of receipt.
func (r Responder) HandlePing(m wire.Message, sessionID wire.NodeID, xform ghost.XForm, now int64) (wire.Message, error) {
	hostTime, _, _, err := ParsePing(m)
	if err != nil {
		return wire.Message{}, err
	}
	ghostTime := xform.HostToGhost(now)
	return BuildPong(r.Ident, m.Header.GroupID, sessionID, ghostTime, hostTime), nil
}
