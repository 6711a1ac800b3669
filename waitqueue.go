//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package fibre

import (
	"github.com/fibrelib/fibre/pool"
	"github.com/fibrelib/fibre/reactor"
)

// WaitQueue is an ordered sequence of suspended fibers, the suspension
// primitive under the mutex and the reader/writer lock. A fiber sits in
// at most one queue, at most once.
type WaitQueue struct {
	sleepers []*Fiber
}

// NewWaitQueue returns an empty wait queue.
func NewWaitQueue() *WaitQueue {
	return &WaitQueue{}
}

// NrSleepers returns the number of fibers currently sleeping on the
// queue.
func (wq *WaitQueue) NrSleepers() int {
	return len(wq.sleepers)
}

// SleepOn appends the current fiber to the queue and suspends it until
// a waker resumes it.
func (wq *WaitQueue) SleepOn() {
	f := current
	wq.sleepers = append(wq.sleepers, f)

	suspend()

	// Woken up. If the watchdog fired, leave the queue (the waker
	// normally removed us already) and terminate.
	if f.alarmReceived {
		for i, p := range wq.sleepers {
			if p == f {
				wq.sleepers = append(wq.sleepers[:i], wq.sleepers[i+1:]...)
				break
			}
		}
		Exit()
	}
}

// WakeUp resumes every fiber currently sleeping on the queue, each
// exactly once. No-op on an empty queue.
func (wq *WaitQueue) WakeUp() {
	wq.wakeUp(-1)
}

// WakeUpOne resumes the fiber at the head of the queue. Calling it on
// an empty queue is a defect in the caller.
func (wq *WaitQueue) WakeUpOne() {
	if len(wq.sleepers) < 1 {
		panic("fibre: wake-up-one on empty wait queue")
	}
	wq.wakeUp(1)
}

// wakeUp must not resume anyone inline: a resumed fiber could
// re-enqueue itself and be resumed twice. Instead it takes a private
// copy of the portion to wake, clears it from the queue, and registers
// a prepoll that performs the resumptions on the next tick. Every
// fiber on the queue at the moment of the call gets exactly one
// wake-up, whatever the resumed fibers do.
func (wq *WaitQueue) wakeUp(n int) {
	if len(wq.sleepers) == 0 {
		return
	}

	if n < 0 || n > len(wq.sleepers) {
		n = len(wq.sleepers)
	}

	woken := make([]*Fiber, n)
	copy(woken, wq.sleepers[:n])
	wq.sleepers = append(wq.sleepers[:0], wq.sleepers[n:]...)

	p := pool.NewSubpool(pool.Global)
	var handler *reactor.Prepoll
	handler = reactor.RegisterPrepoll(p, func() {
		for _, f := range woken {
			f.resume()
		}
		handler.Unregister()
		p.Delete()
	})
}
