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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPostRunsInFIFOOrder(t *testing.T) {
	r := New(8)
	go r.Run()
	defer r.Stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 1; i <= 3; i++ {
		i := i
		r.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestPostErrRoutesToExceptionHandler(t *testing.T) {
	r := New(8)
	go r.Run()
	defer r.Stop()

	done := make(chan error, 1)
	r.OnException(func(err error) { done <- err })
	sentinel := errors.New("boom")
	r.PostErr(func() error { return sentinel })

	select {
	case err := <-done:
		require.ErrorIs(t, err, sentinel)
	case <-time.After(time.Second):
		t.Fatal("exception handler never called")
	}
}

func TestTimerFires(t *testing.T) {
	r := New(8)
	go r.Run()
	defer r.Stop()

	timer := r.NewTimer()
	done := make(chan error, 1)
	timer.ExpiresAfter(10*time.Millisecond, func(err error) { done <- err })

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestTimerCancelPreventsFire(t *testing.T) {
	r := New(8)
	go r.Run()
	defer r.Stop()

	timer := r.NewTimer()
	fired := make(chan struct{})
	timer.ExpiresAfter(50*time.Millisecond, func(err error) { close(fired) })
	timer.Cancel()

	select {
	case <-fired:
		t.Fatal("cancelled timer should not fire")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOwnerGuardDropsCallAfterClose(t *testing.T) {
	o := NewOwner()
	called := false
	guarded := Guard(o, func() { called = true })

	o.Close()
	guarded()
	require.False(t, called)

	o2 := NewOwner()
	guarded2 := Guard(o2, func() { called = true })
	guarded2()
	require.True(t, called)
}
