//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package reactor

import (
	"container/list"

	"github.com/fibrelib/fibre/pool"
)

// Prepoll is a callback guaranteed to run exactly once per tick, before
// the kernel poll. Prepolls have no mutual ordering guarantee. Like a
// timer, a prepoll is scoped to a pool and cancelled by deleting it.
type Prepoll struct {
	r     *Reactor
	pool  *pool.Pool
	elem  *list.Element
	fn    func()
	fired bool
}

// RegisterPrepoll adds a prepoll callback allocated in a subpool of p.
func (r *Reactor) RegisterPrepoll(p *pool.Pool, fn func()) *Prepoll {
	sp := pool.NewSubpool(p)
	pp := &Prepoll{r: r, pool: sp, fn: fn}
	sp.RegisterCleanup(pp.remove)
	pp.elem = r.prepolls.PushFront(pp)
	return pp
}

// Unregister removes the prepoll.
func (p *Prepoll) Unregister() {
	p.pool.Delete()
}

// UnregisterPrepoll removes the prepoll.
func UnregisterPrepoll(p *Prepoll) {
	p.pool.Delete()
}

func (p *Prepoll) remove() {
	if p.elem == nil {
		return
	}
	p.r.prepolls.Remove(p.elem)
	p.elem = nil
}

// runPrepolls runs every prepoll exactly once this tick. A callback may
// register or unregister prepolls, including itself. Clear every fired
// flag, then repeatedly rescan from the head for the first unfired
// entry: an entry inserted mid-scan starts unfired and so runs this
// tick, and a removed entry cannot be re-entered because each scan
// re-reads the live list.
func (r *Reactor) runPrepolls() {
	for e := r.prepolls.Front(); e != nil; e = e.Next() {
		e.Value.(*Prepoll).fired = false
	}

	for {
		var next *Prepoll
		for e := r.prepolls.Front(); e != nil; e = e.Next() {
			if p := e.Value.(*Prepoll); !p.fired {
				next = p
				break
			}
		}
		if next == nil {
			return
		}
		next.fired = true
		next.fn()
	}
}
