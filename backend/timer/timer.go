// Package timer implements a restartable single-shot round timer.
//
// Each arm gets a new generation number that is passed to the callback.
// The owner of the timer is expected to serialize the callback with its
// other mutations and call Claim with that generation: a fire that lost a
// race with Rearm or Cancel is rejected there, so a stale timer never acts
// on a newer round.
package timer

import (
	"sync"
	"time"
)

type RoundTimer struct {
	mx       *sync.Mutex
	t        *time.Timer
	gen      uint64
	pending  bool
	deadline time.Time
}

func New() *RoundTimer {
	return &RoundTimer{
		mx: &sync.Mutex{},
	}
}

// Arm schedules fn to run once after d unless the timer is canceled or
// re-armed first. Any previously armed timer is canceled.
func (rt *RoundTimer) Arm(d time.Duration, fn func(gen uint64)) uint64 {
	return rt.Rearm(d, fn)
}

// Rearm atomically cancels the pending timer and arms a new one.
// It returns the generation of the new timer.
func (rt *RoundTimer) Rearm(d time.Duration, fn func(gen uint64)) uint64 {
	rt.mx.Lock()
	defer rt.mx.Unlock()

	rt.stop()
	rt.gen++
	gen := rt.gen
	rt.pending = true
	rt.deadline = time.Now().Add(d)
	rt.t = time.AfterFunc(d, func() {
		fn(gen)
	})
	return gen
}

// Cancel is idempotent and safe when nothing is armed.
func (rt *RoundTimer) Cancel() {
	rt.mx.Lock()
	defer rt.mx.Unlock()
	rt.stop()
}

func (rt *RoundTimer) stop() {
	if rt.t != nil {
		rt.t.Stop()
		rt.t = nil
	}
	rt.pending = false
	rt.deadline = time.Time{}
}

// Claim reports whether gen is the currently pending timer and, if so,
// marks it as fired. A fire that is not claimed must be ignored.
func (rt *RoundTimer) Claim(gen uint64) bool {
	rt.mx.Lock()
	defer rt.mx.Unlock()

	if !rt.pending || gen != rt.gen {
		return false
	}
	rt.t = nil
	rt.pending = false
	rt.deadline = time.Time{}
	return true
}

func (rt *RoundTimer) Pending() bool {
	rt.mx.Lock()
	defer rt.mx.Unlock()
	return rt.pending
}

// Deadline returns when the pending timer fires, zero time if nothing is pending.
func (rt *RoundTimer) Deadline() time.Time {
	rt.mx.Lock()
	defer rt.mx.Unlock()
	return rt.deadline
}

func (rt *RoundTimer) Generation() uint64 {
	rt.mx.Lock()
	defer rt.mx.Unlock()
	return rt.gen
}
