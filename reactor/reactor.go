//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

// Package reactor implements the event loop every fiber suspends into.
//
// The reactor is the sole place the process blocks. One call to Invoke
// runs a single tick: fire due timers, run prepoll callbacks, poll the
// kernel for readiness, refresh the clock, dispatch ready descriptors.
//
// Readiness interest is registered as a handle. The handle table is a
// plain list with holes; the array actually handed to poll(2) is
// deduplicated, so two handles interested in the same (fd, events)
// pair share one kernel entry. Unregistering the last handle on a
// kernel entry compacts the kernel array and adjusts the offsets held
// by all surviving handles.
//
// The runtime is single-threaded and cooperative: all methods must be
// called from the scheduler thread, and no locking is done.
package reactor

import (
	"container/list"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/fibrelib/fibre/pool"
)

// Events of interest, and as reported back to callbacks.
const (
	Read  int16 = unix.POLLIN
	Write int16 = unix.POLLOUT
)

// Callback receives the descriptor and the events reported by the
// kernel for one ready handle.
type Callback func(fd int, revents int16)

// Handle identifies one readiness registration.
type Handle int

type handle struct {
	offset int // index into the kernel poll array, -1 when unused
	fn     Callback
}

// Reactor multiplexes readiness, timers and prepoll callbacks on one
// thread. Most programs use the package-level Default instance.
type Reactor struct {
	handles   []handle
	pollArray []unix.PollFd

	timers   *list.List // of *Timer, delta queue in expiry order
	prepolls *list.List // of *Prepoll, order-irrelevant

	now int64 // monotonic millisecond clock, refreshed once per tick

	log zerolog.Logger
}

// Default is the process-wide reactor used by the package-level
// functions and by the fibre runtime.
var Default = New()

// New returns a reactor with its clock sampled now.
func New() *Reactor {
	return &Reactor{
		timers:   list.New(),
		prepolls: list.New(),
		now:      time.Now().UnixMilli(),
		log:      zerolog.New(os.Stderr).With().Timestamp().Logger(),
	}
}

// SetLogger replaces the logger used for shutdown diagnostics.
func (r *Reactor) SetLogger(log zerolog.Logger) {
	r.log = log
}

// Now returns the reactor's millisecond clock. The value is stable
// within a tick: it is refreshed exactly once, just after the kernel
// poll.
func (r *Reactor) Now() int64 {
	return r.now
}

// Register adds a readiness handle for (fd, events). The callback runs
// during the dispatch step of a tick in which the kernel reported any
// of the events on fd.
func (r *Reactor) Register(fd int, events int16, fn Callback) Handle {
	// Find an unused handle slot.
	h := -1
	for i := range r.handles {
		if r.handles[i].offset == -1 {
			h = i
			break
		}
	}
	if h == -1 {
		h = len(r.handles)
		r.handles = append(r.handles, handle{})
	}

	// Share an existing kernel entry if (fd, events) matches.
	a := -1
	for i := range r.pollArray {
		if r.pollArray[i].Fd == int32(fd) && r.pollArray[i].Events == events {
			a = i
			break
		}
	}
	if a == -1 {
		a = len(r.pollArray)
		r.pollArray = append(r.pollArray, unix.PollFd{Fd: int32(fd), Events: events})
	}

	r.handles[h] = handle{offset: a, fn: fn}
	return Handle(h)
}

// Unregister removes a handle. If no other handle shares its kernel
// entry, the kernel array is compacted and surviving offsets adjusted.
func (r *Reactor) Unregister(h Handle) {
	a := r.handles[h].offset
	r.handles[h] = handle{offset: -1}

	// Does any other handle share this kernel entry?
	for i := range r.handles {
		if r.handles[i].offset == a {
			return
		}
	}

	// Not shared. Remove the entry and close the hole.
	r.pollArray = append(r.pollArray[:a], r.pollArray[a+1:]...)
	for i := range r.handles {
		if r.handles[i].offset > a {
			r.handles[i].offset--
		}
	}
}

// Invoke runs one reactor tick.
func (r *Reactor) Invoke() {
	// 1. Fire every timer already due. A timer is removed from the
	// queue before its callback runs; the callback may register new
	// timers or readiness, which take effect no earlier than the next
	// tick's readiness step.
	for r.timers.Len() > 0 {
		t := r.timers.Front().Value.(*Timer)
		if t.delta > r.now {
			break
		}
		r.fireTimer(t)
	}

	// 2. Run the prepoll callbacks, exactly once each, tolerating
	// registration and removal from inside a callback.
	r.runPrepolls()

	// 3. Kernel poll. Timeout is the head timer's distance, or
	// infinite when no timer exists. A timer registered mid-tick may
	// already be due; clamp at zero so poll returns immediately
	// instead of blocking without bound.
	timeout := -1
	if r.timers.Len() > 0 {
		timeout = int(r.timers.Front().Value.(*Timer).delta - r.now)
		if timeout < 0 {
			timeout = 0
		}
	}

	n, err := unix.Poll(r.pollArray, timeout)

	// 4. Refresh the clock, once per tick.
	r.now = time.Now().UnixMilli()

	if err != nil {
		// EINTR and friends: nothing is ready and no timeout was
		// consumed; the next tick polls again.
		return
	}

	if n > 0 {
		// 5. Dispatch ready descriptors. The iteration is driven
		// from the handle table, not the kernel array: several
		// handles may share one kernel entry and each must receive
		// its event. Callbacks may register and unregister handles;
		// the bounds are re-read every step.
		for i := 0; i < len(r.handles); i++ {
			a := r.handles[i].offset
			if a >= 0 && a < len(r.pollArray) && r.pollArray[a].Revents != 0 {
				r.handles[i].fn(int(r.pollArray[a].Fd), r.pollArray[a].Revents)
			}
		}
	} else if n == 0 && r.timers.Len() > 0 {
		// 6. The poll timeout expired: the head timer is due.
		r.fireTimer(r.timers.Front().Value.(*Timer))
	}
}

func (r *Reactor) fireTimer(t *Timer) {
	fn := t.fn
	// Remove the timer from the queue before running it, so the
	// callback can delete the owning pool without touching a timer
	// that is still linked in.
	t.pool.Delete()
	fn()
}

// Shutdown diagnoses registrations that survived to process exit and
// releases them. A surviving registration is a defect in the caller.
func (r *Reactor) Shutdown() {
	for r.prepolls.Len() > 0 {
		p := r.prepolls.Front().Value.(*Prepoll)
		r.log.Warn().Msg("prepoll handler left registered in reactor")
		p.pool.Delete()
	}
	for r.timers.Len() > 0 {
		t := r.timers.Front().Value.(*Timer)
		r.log.Warn().Msg("timer left registered in reactor")
		t.pool.Delete()
	}
	for i := range r.handles {
		if r.handles[i].offset >= 0 {
			r.log.Warn().
				Int("fd", int(r.pollArray[r.handles[i].offset].Fd)).
				Msg("handle left registered in reactor")
		}
	}
	r.handles = nil
	r.pollArray = nil
}

// Package-level convenience over Default.

// Now returns Default's millisecond clock.
func Now() int64 { return Default.Now() }

// Register adds a readiness handle to Default.
func Register(fd int, events int16, fn Callback) Handle {
	return Default.Register(fd, events, fn)
}

// Unregister removes a handle from Default.
func Unregister(h Handle) { Default.Unregister(h) }

// SetTimer registers a timer on Default.
func SetTimer(p *pool.Pool, timeout int64, fn func()) *Timer {
	return Default.SetTimer(p, timeout, fn)
}

// RegisterPrepoll registers a prepoll callback on Default.
func RegisterPrepoll(p *pool.Pool, fn func()) *Prepoll {
	return Default.RegisterPrepoll(p, fn)
}

// Invoke runs one tick of Default.
func Invoke() { Default.Invoke() }

// Shutdown runs Default's exit diagnostics.
func Shutdown() { Default.Shutdown() }
