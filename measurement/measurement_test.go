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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ableton-link/link/ghost"
	"github.com/ableton-link/link/wire"
)

func idFor(b byte) wire.NodeID {
	var id wire.NodeID
	for i := range id {
		id[i] = b
	}
	return id
}

// TestSessionConvergesOnPeerOffset drives a full in-process ping/pong
// burst between an initiator Session and a Responder whose clock
// differs from the initiator's by a fixed offset, and checks the
// estimated xform recovers that offset.
func TestSessionConvergesOnPeerOffset(t *testing.T) {
	const trueOffset = 42_000 // peer's ghost clock leads ours by this much
	sid := idFor(0xAA)
	initiator := NewSession(idFor(0x01), 7, sid)
	responder := Responder{Ident: idFor(0x02)}

	now := int64(1_000_000)
	ping := initiator.Start(now)

	for round := 0; round < MinDataPoints; round++ {
		now += 1000 // simulated one-way latency
		pong, err := responder.HandlePing(ping, sid, ghost.XForm{Slope: 1.0, Intercept: trueOffset}, now)
		require.NoError(t, err)

		now += 1000
		next, err := initiator.HandlePong(pong, now)
		require.NoError(t, err)
		if initiator.Done() {
			break
		}
		require.NotNil(t, next)
		ping = *next
	}

	require.True(t, initiator.Done())
	result := initiator.Result()
	require.True(t, result.Succeeded)
	require.InDelta(t, trueOffset, result.XForm.Intercept, 2000)
	require.Equal(t, 1.0, result.XForm.Slope)
}

func TestSessionAbortsOnSessionMismatch(t *testing.T) {
	sid := idFor(0xAA)
	otherSid := idFor(0xBB)
	initiator := NewSession(idFor(0x01), 7, sid)
	responder := Responder{Ident: idFor(0x02)}

	now := int64(0)
	ping := initiator.Start(now)
	pong, err := responder.HandlePing(ping, otherSid, ghost.XForm{Slope: 1.0}, now+1000)
	require.NoError(t, err)

	_, err = initiator.HandlePong(pong, now+2000)
	require.Error(t, err)
	require.True(t, initiator.Done())
	require.False(t, initiator.Result().Succeeded)
	require.True(t, initiator.Result().XForm.IsZero())
}

func TestSessionFailsAfterMaxRetransmits(t *testing.T) {
	sid := idFor(0xAA)
	s := NewSession(idFor(0x01), 7, sid)
	now := int64(0)
	s.Start(now)

	for i := 0; i < MaxRetransmits; i++ {
		now += RetransmitIntervalMicros
		_, failed := s.CheckTimeout(now)
		require.False(t, failed)
	}
	now += RetransmitIntervalMicros
	_, failed := s.CheckTimeout(now)
	require.True(t, failed)
	require.True(t, s.Done())
	require.False(t, s.Result().Succeeded)
	require.True(t, s.Result().XForm.IsZero())
}

func TestCheckTimeoutNoopBeforeDeadline(t *testing.T) {
	s := NewSession(idFor(0x01), 7, idFor(0xAA))
	s.Start(0)
	retransmit, failed := s.CheckTimeout(RetransmitIntervalMicros - 1)
	require.Nil(t, retransmit)
	require.False(t, failed)
}
