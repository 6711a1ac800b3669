//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

// Package fibre is a cooperative-multitasking runtime for network
// servers.
//
// Many fibers, each a thread of control with its own stack region and
// pool-scoped resources, are multiplexed onto a single OS thread by the
// reactor. A fiber runs until it suspends inside one of the
// blocking-style wrappers (Read, Write, Accept, Connect, the send and
// recv family, Poll, Select, the sleep variants, WaitReadable,
// WaitWritable) or on a synchronization primitive; everything a fiber
// does between two suspension points is atomic with respect to every
// other fiber.
package fibre

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/fibrelib/fibre/mctx"
	"github.com/fibrelib/fibre/pool"
	"github.com/fibrelib/fibre/reactor"
	"github.com/fibrelib/fibre/stackpool"
)

// Fiber is one cooperatively scheduled thread of control.
type Fiber struct {
	// Thread context and calling (reactor) context.
	threadCtx  *mctx.Context
	callingCtx *mctx.Context

	n     int
	name  string
	stack []byte

	// Pool for resources scoped to this fiber.
	pool *pool.Pool

	// Entry point.
	run  func(interface{})
	data interface{}

	// Watchdog.
	alarmReceived bool
	alarmTimer    *reactor.Timer

	// Poll bookkeeping.
	pollTimedOut bool

	// Exception frames.
	catchDepth int
	lastError  string

	// Per-fiber environment overrides.
	lang    string
	hasLang bool
	tz      string
	hasTZ   bool
}

// Currently running fiber; nil while the reactor context runs.
var current *Fiber

// Global list of fibers, with holes.
var fibers []*Fiber

var defaultStackSize = 65536

var log = zerolog.New(os.Stderr).With().Timestamp().Logger()

// SetLogger replaces the logger used for uncaught exceptions.
func SetLogger(l zerolog.Logger) {
	log = l
}

// SetStackSize sets the stack size used for fibers created afterwards.
func SetStackSize(size int) {
	defaultStackSize = size
}

// StackSize returns the stack size used for new fibers.
func StackSize() int {
	return defaultStackSize
}

// New creates a fiber that will run fn(data) once started. The fiber's
// resources live in p; when the fiber finishes, p is deleted and the
// stack returned. Creation runs no user code.
func New(p *pool.Pool, fn func(interface{}), data interface{}, name string) *Fiber {
	stack, err := stackpool.Get(defaultStackSize)
	if err != nil {
		panic(err)
	}

	f := &Fiber{
		threadCtx:  mctx.New(),
		callingCtx: mctx.New(),
		name:       name,
		stack:      stack,
		pool:       p,
		run:        fn,
		data:       data,
	}

	f.threadCtx.Set(trampoline, f, stack)

	// Claim a slot in the global fiber list, reusing holes.
	f.n = -1
	for i := range fibers {
		if fibers[i] == nil {
			f.n = i
			fibers[i] = f
			break
		}
	}
	if f.n == -1 {
		f.n = len(fibers)
		fibers = append(fibers, f)
	}

	return f
}

// Start swaps into the fiber, running it until its first suspension or
// its exit. The caller's notion of the current fiber is preserved, even
// across nested starts.
func (f *Fiber) Start() {
	old := current
	f.resume()
	current = old
}

func trampoline(v interface{}) {
	f := v.(*Fiber)

	f.runUser()

	// Here either because run returned normally or because the fiber
	// exited. Unhook everything before giving the context back.
	calling := f.callingCtx
	stack := f.stack

	fibers[f.n] = nil
	f.pool.Delete()
	stackpool.Put(stack)

	calling.Restore()
}

// runUser runs the fiber body, absorbing the nonlocal exit used by
// Exit and by alarm delivery.
func (f *Fiber) runUser() {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(exitSignal); ok {
				return
			}
			panic(r)
		}
	}()
	f.run(f.data)
}

// resume swaps from the reactor context into the fiber. Only reactor
// callbacks and Start cross this boundary.
func (f *Fiber) resume() {
	old := current
	current = f
	restoreEnv()
	mctx.Swap(f.callingCtx, f.threadCtx)
	current = old
	if old != nil {
		restoreEnv()
	}
}

// suspend swaps from the running fiber back to whatever invoked the
// reactor tick.
func suspend() {
	f := current
	mctx.Swap(f.threadCtx, f.callingCtx)
}

// Current returns the running fiber, or nil in the reactor context.
func Current() *Fiber {
	return current
}

// Count returns the number of live fibers.
func Count() int {
	n := 0
	for _, f := range fibers {
		if f != nil {
			n++
		}
	}
	return n
}

// ID returns the fiber's slot number in the global list.
func (f *Fiber) ID() int { return f.n }

// Name returns the fiber's display name.
func (f *Fiber) Name() string { return f.name }

// SetName renames the current fiber.
func SetName(name string) {
	current.name = name
}

// Pool returns the fiber's resource pool.
func (f *Fiber) Pool() *pool.Pool { return f.pool }

// Data returns the argument the fiber was created with.
func (f *Fiber) Data() interface{} { return f.data }

// Info is a deep copy of one fiber's observable attributes.
type Info struct {
	ID        int
	Name      string
	Run       func(interface{})
	Data      interface{}
	StackSize int
	PC        uintptr
	SP        uintptr
	Language  string
	TZ        string
}

// List returns a snapshot of every live fiber. The copies share no
// storage with fiber-local pools, so the result is safe to hold across
// suspensions and may be requested at any time, including from a fiber.
func List() []Info {
	var out []Info
	for _, f := range fibers {
		if f == nil {
			continue
		}
		out = append(out, Info{
			ID:        f.n,
			Name:      f.name,
			Run:       f.run,
			Data:      f.data,
			StackSize: len(f.stack),
			PC:        f.threadCtx.PC(),
			SP:        f.threadCtx.SP(),
			Language:  f.lang,
			TZ:        f.tz,
		})
	}
	return out
}
