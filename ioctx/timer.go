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

package ioctx

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrTimerCancelled is delivered to a Timer's AsyncWait handler if the
// timer was cancelled before (or racing with) firing, per the "fire-
// after-cancel guard" requirement: a handler racing with Cancel must
// always be able to observe a truthy error (spec §4.10).
var ErrTimerCancelled = errors.New("ioctx: timer cancelled")

// Timer is a one-shot, cancelable timer with microsecond-resolution
// scheduling, whose fire handler always runs on the owning Reactor.
type Timer struct {
	reactor *Reactor
	timer   *time.Timer
	gen     atomic.Uint64
}

// NewTimer returns a Timer bound to r; AsyncWait handlers it fires are
// posted to r.
func (r *Reactor) NewTimer() *Timer {
	return &Timer{reactor: r}
}

// ExpiresAfter schedules handler to run after d, on the reactor.
// Replaces any previously scheduled wait on this Timer, cancelling it
// first.
func (t *Timer) ExpiresAfter(d time.Duration, handler func(err error)) {
	t.Cancel()
	myGen := t.gen.Load()
	t.timer = time.AfterFunc(d, func() {
		t.reactor.Post(func() {
			if t.gen.Load() != myGen {
				handler(ErrTimerCancelled)
				return
			}
			handler(nil)
		})
	})
}

// ExpiresAt schedules handler to run once the reactor's clock reaches
// atHost, expressed as a duration from now (the caller, which holds
// the clock, computes the delta).
func (t *Timer) ExpiresAt(delta time.Duration, handler func(err error)) {
	t.ExpiresAfter(delta, handler)
}

// Cancel cancels any pending wait. A handler already queued on the
// reactor at the moment of cancellation still runs, but observes
// ErrTimerCancelled rather than nil.
func (t *Timer) Cancel() {
	t.gen.Add(1)
	if t.timer != nil {
		t.timer.Stop()
	}
}
