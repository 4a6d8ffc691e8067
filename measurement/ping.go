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
	"fmt"

	"github.com/ableton-link/link/wire"
)

// BuildPing constructs a measurement Ping carrying hostTime, and, once
// a previous round has completed, the ghost time that round reported
// (spec §4.5 step 4).
func BuildPing(ident wire.NodeID, groupID uint16, hostTime int64, prevGhostTime int64, hasPrev bool) wire.Message {
	payload := wire.Payload{}.Add(wire.KeyHostTime, wire.EncodeMicros(hostTime))
	if hasPrev {
		payload = payload.Add(wire.KeyPrevGHostTime, wire.EncodeMicros(prevGhostTime))
	}
	return wire.Message{
		Header:  wire.Header{Type: wire.Ping, GroupID: groupID, Ident: ident},
		Payload: payload,
	}
}

// ParsePing extracts the HostTime and optional PrevGHostTime entries
// from a Ping message.
func ParsePing(m wire.Message) (hostTime int64, prevGhostTime int64, hasPrev bool, err error) {
	raw, ok := m.Payload.Get(wire.KeyHostTime)
	if !ok {
		return 0, 0, false, fmt.Errorf("measurement: ping missing HostTime")
	}
	if hostTime, err = wire.DecodeMicros(raw); err != nil {
		return 0, 0, false, fmt.Errorf("measurement: decoding ping HostTime: %w", err)
	}
	if raw, ok := m.Payload.Get(wire.KeyPrevGHostTime); ok {
		if prevGhostTime, err = wire.DecodeMicros(raw); err != nil {
			return 0, 0, false, fmt.Errorf("measurement: decoding ping PrevGHostTime: %w", err)
		}
		hasPrev = true
	}
	return hostTime, prevGhostTime, hasPrev, nil
}

// BuildPong constructs a measurement Pong in response to a Ping,
// echoing the ping's HostTime and reporting the responder's own
// ghost-time reading at receipt (spec §4.5 step 2).
func BuildPong(ident wire.NodeID, groupID uint16, sessionID wire.NodeID, ghostTime int64, echoHostTime int64) wire.Message {
	payload := wire.Payload{}.
		Add(wire.KeySessionMembership, wire.EncodeSessionMembership(sessionID)).
		Add(wire.KeyGHostTime, wire.EncodeMicros(ghostTime)).
		Add(wire.KeyHostTime, wire.EncodeMicros(echoHostTime))
	return wire.Message{
		Header:  wire.Header{Type: wire.Pong, GroupID: groupID, Ident: ident},
		Payload: payload,
	}
}

// ParsePong extracts the SessionMembership, GHostTime, and echoed
// HostTime entries from a Pong message.
func ParsePong(m wire.Message) (sessionID wire.NodeID, ghostTime int64, echoHostTime int64, err error) {
	raw, ok := m.Payload.Get(wire.KeySessionMembership)
	if !ok {
		return sessionID, 0, 0, fmt.Errorf("measurement: pong missing SessionMembership")
	}
	if sessionID, err = wire.DecodeSessionMembership(raw); err != nil {
		return sessionID, 0, 0, fmt.Errorf("measurement: decoding pong SessionMembership: %w", err)
	}
	raw, ok = m.Payload.Get(wire.KeyGHostTime)
	if !ok {
		return sessionID, 0, 0, fmt.Errorf("measurement: pong missing GHostTime")
	}
	if ghostTime, err = wire.DecodeMicros(raw); err != nil {
		return sessionID, 0, 0, fmt.Errorf("measurement: decoding pong GHostTime: %w", err)
	}
	raw, ok = m.Payload.Get(wire.KeyHostTime)
	if !ok {
		return sessionID, 0, 0, fmt.Errorf("measurement: pong missing echoed HostTime")
	}
	if echoHostTime, err = wire.DecodeMicros(raw); err != nil {
		return sessionID, 0, 0, fmt.Errorf("measurement: decoding pong echoed HostTime: %w", err)
	}
	return sessionID, ghostTime, echoHostTime, nil
}
