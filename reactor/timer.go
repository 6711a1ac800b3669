//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package reactor

import (
	"container/list"

	"github.com/fibrelib/fibre/pool"
)

// Timer is a callback scheduled at a point on the reactor clock.
//
// Timers live in a delta queue: the head node's delta is its absolute
// expiry time, and every later node's delta is the distance to its
// predecessor. The queue is therefore sorted by expiry, and timers that
// expire in the same tick fire in expiry order.
//
// A timer is scoped to a pool: deleting the pool cancels the timer.
type Timer struct {
	r     *Reactor
	pool  *pool.Pool
	elem  *list.Element
	delta int64
	fn    func()
}

// SetTimer schedules fn to run no earlier than timeout milliseconds
// from now, measured on the reactor clock. The timer is allocated in a
// subpool of p; deleting p (or the returned timer's UnsetEarly) cancels
// it.
func (r *Reactor) SetTimer(p *pool.Pool, timeout int64, fn func()) *Timer {
	sp := pool.NewSubpool(p)
	t := &Timer{r: r, pool: sp, fn: fn}
	sp.RegisterCleanup(t.remove)

	trigger := r.now + timeout

	if r.timers.Len() == 0 {
		t.delta = trigger
		t.elem = r.timers.PushBack(t)
		return t
	}

	// Walk the delta queue accumulating absolute times until the
	// insertion point is found.
	var acc int64
	for e := r.timers.Front(); e != nil; e = e.Next() {
		q := e.Value.(*Timer)
		acc += q.delta

		if acc >= trigger {
			// Insert before q, splitting q's delta.
			t.delta = trigger - (acc - q.delta)
			q.delta = acc - trigger
			t.elem = r.timers.InsertBefore(t, e)
			return t
		}
	}

	// Later than everything queued: append.
	t.delta = trigger - acc
	t.elem = r.timers.PushBack(t)
	return t
}

// UnsetEarly cancels a timer that has not fired yet.
func (t *Timer) UnsetEarly() {
	t.pool.Delete()
}

// UnsetTimerEarly cancels a timer that has not fired yet.
func UnsetTimerEarly(t *Timer) {
	t.pool.Delete()
}

// remove unlinks the timer from the delta queue, mending the delta of
// its successor. Runs as the subpool cleanup, whether the pool is
// deleted by the owner or by the reactor just before firing.
func (t *Timer) remove() {
	if t.elem == nil {
		return
	}
	if next := t.elem.Next(); next != nil {
		next.Value.(*Timer).delta += t.delta
	}
	t.r.timers.Remove(t.elem)
	t.elem = nil
}
