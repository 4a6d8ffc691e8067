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
	"math"

	"github.com/ableton-link/link/ghost"
	"github.com/ableton-link/link/wire"
)

// MinDataPoints is the number of (host, ghost) samples a Session
// collects before it reports a result.
const MinDataPoints = 100

// MaxRetransmits bounds how many times an outstanding Ping is re-sent
// before a Session gives up on its peer.
const MaxRetransmits = 5

// RetransmitIntervalMicros is how long a Session waits for a Pong
// before re-sending the outstanding Ping.
const RetransmitIntervalMicros int64 = 50_000

// Outcome is the terminal result of a Session: a successful
// measurement's GhostXForm, or the zero xform on failure.
type Outcome struct {
	XForm     ghost.XForm
	Succeeded bool
}

// Session drives one bounded ping/pong burst against a single peer,
// targeting its advertised measurement endpoint, and reduces the
// resulting offset samples to a GhostXForm via an adaptive Kalman
// filter. All of its state belongs to the IO context; nothing here is
// safe to touch from the audio thread.
type Session struct {
	ident             wire.NodeID
	groupID           uint16
	expectedSessionID wire.NodeID

	filter     *kalmanFilter
	dataPoints int

	lastHostTime  int64
	lastGhostTime int64
	hasLastGhost  bool

	pendingSince int64
	pendingPing  wire.Message
	retransmits  int

	done    bool
	outcome Outcome
}

// NewSession constructs a Session that will only accept Pongs
// claiming membership in expectedSessionID; a mismatch aborts the
// measurement (spec §4.5 step 3).
func NewSession(ident wire.NodeID, groupID uint16, expectedSessionID wire.NodeID) *Session {
	return &Session{
		ident:             ident,
		groupID:           groupID,
		expectedSessionID: expectedSessionID,
		filter:            newKalmanFilter(),
	}
}

// Start sends the opening Ping and returns it.
func (s *Session) Start(now int64) wire.Message {
	s.lastHostTime = now
	s.pendingSince = now
	s.pendingPing = BuildPing(s.ident, s.groupID, now, 0, false)
	return s.pendingPing
}

// Done reports whether the Session has reached a terminal state.
func (s *Session) Done() bool { return s.done }

// Result returns the terminal outcome. It is only meaningful once
// Done reports true.
func (s *Session) Result() Outcome { return s.outcome }

// HandlePong processes an inbound Pong. It returns the next Ping to
// send, or nil if the measurement just completed or failed.
func (s *Session) HandlePong(m wire.Message, now int64) (next *wire.Message, err error) {
	if s.done {
		return nil, nil
	}
	sessionID, ghostTime, echoHostTime, err := ParsePong(m)
	if err != nil {
		return nil, err
	}
	if sessionID != s.expectedSessionID {
		s.fail()
		return nil, fmt.Errorf("measurement: pong claims session %s, expected %s", sessionID, s.expectedSessionID)
	}

	s.addSample((float64(echoHostTime)+float64(now))/2, float64(ghostTime))
	if s.hasLastGhost {
		s.addSample(float64(echoHostTime), (float64(ghostTime)+float64(s.lastGhostTime))/2)
	}
	s.lastHostTime = now
	s.lastGhostTime = ghostTime
	s.hasLastGhost = true
	s.retransmits = 0

	if s.dataPoints >= MinDataPoints {
		s.succeed()
		return nil, nil
	}

	ping := BuildPing(s.ident, s.groupID, now, ghostTime, true)
	s.pendingPing = ping
	s.pendingSince = now
	return &ping, nil
}

// CheckTimeout should be called periodically with the current host
// time. If the outstanding Ping has gone unanswered for longer than
// RetransmitIntervalMicros it is re-sent, up to MaxRetransmits times,
// after which the Session fails.
func (s *Session) CheckTimeout(now int64) (retransmit *wire.Message, failed bool) {
	if s.done {
		return nil, false
	}
	if now-s.pendingSince < RetransmitIntervalMicros {
		return nil, false
	}
	if s.retransmits >= MaxRetransmits {
		s.fail()
		return nil, true
	}
	s.retransmits++
	s.pendingSince = now
	return &s.pendingPing, false
}

func (s *Session) addSample(hostMicros, ghostMicros float64) {
	s.filter.update(ghostMicros - hostMicros)
	s.dataPoints++
}

func (s *Session) succeed() {
	s.done = true
	s.outcome = Outcome{
		XForm:     ghost.XForm{Slope: 1.0, Intercept: int64(math.Round(s.filter.estimate))},
		Succeeded: true,
	}
}

func (s *Session) fail() {
	s.done = true
	s.outcome = Outcome{XForm: ghost.Zero, Succeeded: false}
}
