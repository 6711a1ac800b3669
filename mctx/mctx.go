// Package mctx provides the machine-context switch that underlies
// every fiber suspension.
//
// A Context is a resumable point of execution. Set arranges for a
// function to run at the first resume; Swap stores the current point of
// execution into one context and resumes another; Restore resumes a
// context and never returns control to the caller.
//
// The mechanism is the Go runtime's own stackful coroutine: a parked
// goroutine per context entry function, with control handed over
// through a gate channel. Exactly one goroutine runs at a time: Swap
// blocks its caller on the saved context's gate, and Restore must be
// the caller's final act. The channel operations order all memory
// accesses between the two sides, so state the contexts share needs no
// further synchronization.
package mctx

import (
	"reflect"
	"runtime"
	"unsafe"
)

// Context is an opaque execution snapshot.
type Context struct {
	gate chan struct{}

	// Captured at the most recent save (the entry function before the
	// first), for introspection only.
	pc uintptr
	sp uintptr
}

// New returns an empty context. It becomes meaningful either as the
// save target of a Swap, or after Set.
func New() *Context {
	return &Context{gate: make(chan struct{}, 1)}
}

// Set initializes the context to enter fn(arg) at its first resume.
// The stack region is recorded for introspection; execution itself
// runs on a runtime-managed goroutine stack.
func (c *Context) Set(fn func(arg interface{}), arg interface{}, stack []byte) {
	if len(stack) > 0 {
		c.sp = stackTop(stack)
	}
	c.pc = reflect.ValueOf(fn).Pointer()
	go func() {
		<-c.gate
		fn(arg)
		// The entry function has restored another context; this
		// goroutine's stack is done.
	}()
}

func stackTop(stack []byte) uintptr {
	return uintptr(unsafe.Pointer(&stack[0])) + uintptr(len(stack))
}

// Swap atomically saves the current point of execution into save and
// resumes the resume context. It returns when some other context swaps
// back into (or restores) save.
func Swap(save, resume *Context) {
	if pc, _, _, ok := runtime.Caller(1); ok {
		save.pc = pc
	}
	resume.gate <- struct{}{}
	<-save.gate
}

// Restore resumes the context without saving the current one. The
// current goroutine must not execute anything afterwards: Restore is a
// tail-jump, and the caller's only valid continuation is to return off
// the end of its stack.
func (c *Context) Restore() {
	c.gate <- struct{}{}
}

// PC returns the program counter recorded at the context's most recent
// save, or the entry function if it has not run yet.
func (c *Context) PC() uintptr {
	return c.pc
}

// SP returns the top of the stack region recorded by Set, if any.
func (c *Context) SP() uintptr {
	return c.sp
}
