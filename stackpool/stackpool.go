//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

// Package stackpool hands out and recycles fiber stack regions.
//
// Regions are mapped anonymously with a protected guard page at the
// bottom. Put never unmaps the region immediately: Put is typically
// called for the very stack the caller is running on, so the region is
// parked in a single pending slot and unmapped on the next Get or Put.
package stackpool

import (
	"errors"

	"golang.org/x/sys/unix"
)

// GuardSize is the size of the protected region at the bottom of every
// stack.
const GuardSize = 8192

// ErrOutOfMemory is returned when the kernel refuses the mapping.
var ErrOutOfMemory = errors.New("stackpool: out of memory")

// Stack pending deallocation. At most one region sits here at any time.
var (
	pendingStack []byte
)

// Get returns a stack region of the given size. The region is readable,
// writable and executable except for the first GuardSize bytes, which
// are protected against access.
func Get(size int) ([]byte, error) {
	// Is there a stack waiting to be freed up? If so, free it now.
	if pendingStack != nil {
		freeStack(pendingStack)
		pendingStack = nil
	}

	if size <= GuardSize {
		return nil, ErrOutOfMemory
	}

	base, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, ErrOutOfMemory
	}

	// Guard page right at the bottom of the stack.
	if err := unix.Mprotect(base[:GuardSize], unix.PROT_NONE); err != nil {
		panic("stackpool: mprotect guard page: " + err.Error())
	}

	return base, nil
}

// Put returns a stack region for later release. The region is not
// unmapped now; it replaces the pending slot, and whatever was pending
// is unmapped.
func Put(stack []byte) {
	if pendingStack != nil {
		freeStack(pendingStack)
		pendingStack = nil
	}

	// Don't actually free the stack right now. We're still using it.
	pendingStack = stack
}

func freeStack(stack []byte) {
	if err := unix.Munmap(stack); err != nil {
		panic("stackpool: munmap: " + err.Error())
	}
}

// Pending reports the region currently parked for deferred release, or
// nil. Diagnostic hook for the runtime's own checks.
func Pending() []byte {
	return pendingStack
}
