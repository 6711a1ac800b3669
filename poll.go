//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package fibre

import (
	"golang.org/x/sys/unix"

	"github.com/fibrelib/fibre/reactor"
)

// Poll polls a descriptor set with a millisecond timeout (negative
// means no timeout), suspending the current fiber until something is
// ready or the timeout passes.
//
// The first step is a zero-timeout kernel poll: when descriptors are
// frequently ready the extra call is cheaper than registering and
// unregistering every interest with the reactor each time.
func Poll(fds []unix.PollFd, timeout int) (int, error) {
	for {
		n, err := unix.Poll(fds, 0)
		switch {
		case err == unix.EINTR:
		case err != nil:
			return n, err
		case n == 0:
			pollSuspend(fds, timeout)
			if current.pollTimedOut {
				return 0, nil
			}
		default:
			return n, nil
		}
	}
}

// pollSuspend registers every descriptor plus the caller's timeout and
// parks the fiber until one of them fires.
func pollSuspend(fds []unix.PollFd, timeout int) {
	f := current
	f.pollTimedOut = false

	handles := make([]reactor.Handle, len(fds))
	for i := range fds {
		handles[i] = reactor.Register(int(fds[i].Fd), fds[i].Events, func(int, int16) {
			f.resume()
		})
	}

	var timer *reactor.Timer
	if timeout >= 0 {
		timer = reactor.SetTimer(f.pool, int64(timeout), func() {
			f.pollTimedOut = true
			f.resume()
		})
	}

	suspend()

	for _, h := range handles {
		reactor.Unregister(h)
	}

	if timer != nil && !f.pollTimedOut {
		timer.UnsetEarly()
	}

	if f.alarmReceived {
		Exit()
	}

	restoreEnv()
}

// Select waits on up to three descriptor sets, implemented by
// translating the sets into a poll descriptor array, calling Poll once
// and translating the result back. The timeout follows select(2)
// conventions; nil means wait forever. On return the sets hold only the
// ready descriptors.
func Select(nfds int, readfds, writefds, exceptfds *unix.FdSet, timeout *unix.Timeval) (int, error) {
	var fds []unix.PollFd

	for fd := 0; fd < nfds; fd++ {
		if readfds != nil && readfds.IsSet(fd) {
			fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		}
		if writefds != nil && writefds.IsSet(fd) {
			fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLOUT})
		}
		if exceptfds != nil && exceptfds.IsSet(fd) {
			fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLERR})
		}
	}

	to := -1
	if timeout != nil {
		to = int(timeout.Sec*1000) + int(timeout.Usec/1000)
	}

	n, err := Poll(fds, to)
	if err != nil {
		return -1, err
	}

	if readfds != nil {
		readfds.Zero()
	}
	if writefds != nil {
		writefds.Zero()
	}
	if exceptfds != nil {
		exceptfds.Zero()
	}

	if n == 0 {
		return 0, nil
	}

	for i := range fds {
		if fds[i].Revents&unix.POLLIN != 0 && readfds != nil {
			readfds.Set(int(fds[i].Fd))
		}
		if fds[i].Revents&unix.POLLOUT != 0 && writefds != nil {
			writefds.Set(int(fds[i].Fd))
		}
		if fds[i].Revents&unix.POLLERR != 0 && exceptfds != nil {
			exceptfds.Set(int(fds[i].Fd))
		}
	}

	return n, nil
}
