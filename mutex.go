//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package fibre

import "github.com/fibrelib/fibre/pool"

// Mutex admits at most one fiber to a critical section.
//
// A successful acquisition creates a subpool of the holder's pool with
// the release callback registered on it. Leave deletes the subpool
// explicitly; a fiber that exits while holding the lock has the subpool
// deleted implicitly during its pool teardown. Either way the release
// callback runs: the holder is cleared before any sleeper is woken.
type Mutex struct {
	holder *Fiber
	wq     *WaitQueue
	sub    *pool.Pool
}

// NewMutex creates a mutex owned by p. Deleting p while a fiber holds
// the lock abandons a live critical section, which is a defect.
func NewMutex(p *pool.Pool) *Mutex {
	m := &Mutex{wq: NewWaitQueue()}
	p.RegisterCleanup(func() {
		if m.holder != nil {
			panic("fibre: mutex destroyed while held")
		}
	})
	return m
}

// TryEnter acquires the lock if it is free and reports whether it did.
func (m *Mutex) TryEnter() bool {
	if m.holder != nil {
		return false
	}

	sp := pool.NewSubpool(current.pool)
	sp.RegisterCleanup(m.release)

	m.holder = current
	m.sub = sp
	return true
}

// Enter acquires the lock, suspending the current fiber while another
// fiber holds it.
func (m *Mutex) Enter() {
	for !m.TryEnter() {
		m.wq.SleepOn()
	}
}

// Leave releases the lock. Only the holder may call it.
func (m *Mutex) Leave() {
	if m.holder != current {
		panic("fibre: mutex released by a fiber that does not hold it")
	}
	m.sub.Delete()
}

func (m *Mutex) release() {
	m.holder = nil
	m.sub = nil

	if m.wq.NrSleepers() > 0 {
		m.wq.WakeUpOne()
	}
}

// NrSleepers returns the number of fibers waiting to enter.
func (m *Mutex) NrSleepers() int {
	return m.wq.NrSleepers()
}
