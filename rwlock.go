//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package fibre

import "github.com/fibrelib/fibre/pool"

// RWLock admits any number of readers or a single writer to a critical
// section.
//
// The state counter n is 0 when free, the reader count while readers
// hold the lock, and -1 while the writer does. Each holder registers a
// subpool of its own pool carrying the release callback, so a fiber
// that exits inside the critical section releases its hold during pool
// teardown, like the mutex.
//
// By default writers have priority: while any writer waits, new readers
// are refused entry. ReadersHavePriority flips the policy; under it
// writers can starve if the lock is read frequently.
type RWLock struct {
	n         int
	readersWQ *WaitQueue
	writersWQ *WaitQueue

	// Holding fibers to their release subpools.
	pools map[*Fiber]*pool.Pool

	writersHavePriority bool
}

// NewRWLock creates a reader/writer lock owned by p, writer-priority.
func NewRWLock(p *pool.Pool) *RWLock {
	rw := &RWLock{
		readersWQ:           NewWaitQueue(),
		writersWQ:           NewWaitQueue(),
		pools:               make(map[*Fiber]*pool.Pool),
		writersHavePriority: true,
	}
	p.RegisterCleanup(func() {
		if rw.n != 0 {
			panic("fibre: rwlock destroyed while held")
		}
	})
	return rw
}

// WritersHavePriority selects the default arbitration: waiting writers
// block new readers.
func (rw *RWLock) WritersHavePriority() {
	rw.writersHavePriority = true
}

// ReadersHavePriority makes readers never defer to waiting writers.
func (rw *RWLock) ReadersHavePriority() {
	rw.writersHavePriority = false
}

// TryEnterRead acquires a read hold if possible and reports whether it
// did.
func (rw *RWLock) TryEnterRead() bool {
	if rw.n >= 0 &&
		(!rw.writersHavePriority || rw.writersWQ.NrSleepers() == 0) {
		rw.enter()
		rw.n++
		return true
	}
	return false
}

// TryEnterWrite acquires the write hold if the lock is free and
// reports whether it did.
func (rw *RWLock) TryEnterWrite() bool {
	if rw.n == 0 {
		rw.enter()
		rw.n = -1
		return true
	}
	return false
}

// EnterRead acquires a read hold, suspending while writers hold or
// (under writer priority) wait for the lock.
func (rw *RWLock) EnterRead() {
	for !rw.TryEnterRead() {
		rw.readersWQ.SleepOn()
	}
}

// EnterWrite acquires the write hold, suspending until the lock is
// free.
func (rw *RWLock) EnterWrite() {
	for !rw.TryEnterWrite() {
		rw.writersWQ.SleepOn()
	}
}

// Leave releases the current fiber's hold. Calling it without holding
// the lock is a defect.
func (rw *RWLock) Leave() {
	sp, ok := rw.pools[current]
	if !ok {
		panic("fibre: rwlock released by a fiber that does not hold it")
	}
	sp.Delete()
}

// enter records the current fiber as a holder: a subpool of its pool
// whose deletion, explicit in Leave or implicit at fiber exit, runs the
// release.
func (rw *RWLock) enter() {
	f := current
	sp := pool.NewSubpool(f.pool)
	rw.pools[f] = sp
	sp.RegisterCleanup(func() {
		rw.release(f)
	})
}

func (rw *RWLock) release(f *Fiber) {
	if rw.n == 0 {
		panic("fibre: rwlock release with no holders")
	}
	if _, ok := rw.pools[f]; !ok {
		panic("fibre: rwlock release for an unknown holder")
	}
	delete(rw.pools, f)

	if rw.n > 0 {
		// A reader leaves.
		rw.n--
		if rw.n == 0 && rw.writersWQ.NrSleepers() > 0 {
			rw.writersWQ.WakeUpOne()
		}
	} else {
		// The writer leaves.
		rw.n = 0
		if rw.writersWQ.NrSleepers() > 0 {
			rw.writersWQ.WakeUpOne()
		} else if rw.readersWQ.NrSleepers() > 0 {
			rw.readersWQ.WakeUpOne()
		}
	}
}

// NrReaders returns the reader count, or 0 when a writer holds the
// lock.
func (rw *RWLock) NrReaders() int {
	if rw.n > 0 {
		return rw.n
	}
	return 0
}
