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

// Package ioctx implements the single-threaded cooperative reactor
// ("the Link thread") that owns every socket and timer: sockets run
// their blocking reads on their own goroutines and post the result
// back onto the reactor, so all mutation of Link's protocol state
// still happens on one logical thread with no internal locking.
package ioctx

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Reactor is a FIFO task queue drained by a single goroutine (Run).
// Every mutation of peer/session/controller state should happen
// inside a task posted here, never directly from a socket's read
// goroutine.
type Reactor struct {
	tasks     chan func()
	stop      chan struct{}
	exception func(error)
}

// New returns a Reactor with the given task queue depth.
func New(queueDepth int) *Reactor {
	return &Reactor{
		tasks: make(chan func(), queueDepth),
		stop:  make(chan struct{}),
	}
}

// Post enqueues fn for execution on the reactor goroutine.
func (r *Reactor) Post(fn func()) {
	select {
	case r.tasks <- fn:
	case <-r.stop:
	}
}

// PostErr enqueues fn and routes any error it returns to the
// registered exception handler, the Go analogue of the teacher's
// default exception handler re-entering run() after a UdpSendException
// (spec §4.10).
func (r *Reactor) PostErr(fn func() error) {
	r.Post(func() {
		if err := fn(); err != nil {
			r.handleException(err)
		}
	})
}

// OnException registers the handler invoked for errors surfaced via
// PostErr. Only one handler is active at a time; registering again
// replaces it.
func (r *Reactor) OnException(handler func(error)) {
	r.exception = handler
}

func (r *Reactor) handleException(err error) {
	if r.exception != nil {
		r.exception(err)
		return
	}
	log.Errorf("ioctx: unhandled exception: %v", err)
}

// Run drains tasks until Stop is called. It should be run on its own
// goroutine; there must only ever be one.
func (r *Reactor) Run() {
	for {
		select {
		case fn := <-r.tasks:
			fn()
		case <-r.stop:
			return
		}
	}
}

// Stop signals Run to return once the current task (if any)
// completes. Idempotent.
func (r *Reactor) Stop() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
}

// SendError is the Go analogue of a UdpSendException: a failed send
// tagged with the interface address whose gateway should be repaired.
type SendError struct {
	Addr string
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("ioctx: send failed on %s: %v", e.Addr, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
