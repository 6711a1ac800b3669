//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package fibre

import (
	"golang.org/x/sys/unix"

	"github.com/fibrelib/fibre/reactor"
)

// Blocking-style syscall wrappers. Each attempts the nonblocking call;
// when the kernel reports it would block, the fiber registers readiness
// interest with the reactor, suspends, unregisters on resume and
// retries. Errors other than would-block propagate to the caller as the
// raw errno, exactly as if the call had blocked. Descriptors must be in
// nonblocking mode.

// block parks the current fiber until fd reports one of the events.
func block(fd int, events int16) {
	f := current

	h := reactor.Register(fd, events, func(int, int16) {
		f.resume()
	})

	suspend()

	reactor.Unregister(h)

	if f.alarmReceived {
		Exit()
	}

	restoreEnv()
}

// Read reads from fd, suspending until the descriptor is readable.
func Read(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		switch err {
		case unix.EINTR:
		case unix.EAGAIN:
			block(fd, reactor.Read)
		default:
			return n, err
		}
	}
}

// Write writes to fd, suspending until the descriptor is writable.
func Write(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Write(fd, p)
		switch err {
		case unix.EINTR:
		case unix.EAGAIN:
			block(fd, reactor.Write)
		default:
			return n, err
		}
	}
}

// Accept waits for a connection on the listening descriptor and
// accepts it.
func Accept(fd int) (int, unix.Sockaddr, error) {
	for {
		nfd, sa, err := unix.Accept(fd)
		switch err {
		case unix.EINTR:
		case unix.EAGAIN:
			block(fd, reactor.Read)
		default:
			return nfd, sa, err
		}
	}
}

// Connect starts a connection on the nonblocking socket fd and
// suspends until it completes, reporting the socket's error state the
// way a blocking connect would.
func Connect(fd int, sa unix.Sockaddr) error {
	err := unix.Connect(fd, sa)
	if err == nil {
		return nil
	}
	if err != unix.EINPROGRESS {
		return err
	}

	block(fd, reactor.Write)

	soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if soerr != 0 {
		return unix.Errno(soerr)
	}
	return nil
}

// Send transmits on a connected socket.
func Send(fd int, p []byte, flags int) (int, error) {
	return Sendto(fd, p, flags, nil)
}

// Sendto transmits to an explicit address.
func Sendto(fd int, p []byte, flags int, to unix.Sockaddr) (int, error) {
	for {
		n, err := unix.SendmsgN(fd, p, nil, to, flags)
		switch err {
		case unix.EINTR:
		case unix.EAGAIN:
			block(fd, reactor.Write)
		default:
			return n, err
		}
	}
}

// Sendmsg transmits data and ancillary data.
func Sendmsg(fd int, p, oob []byte, to unix.Sockaddr, flags int) (int, error) {
	for {
		n, err := unix.SendmsgN(fd, p, oob, to, flags)
		switch err {
		case unix.EINTR:
		case unix.EAGAIN:
			block(fd, reactor.Write)
		default:
			return n, err
		}
	}
}

// Recv receives from a connected socket.
func Recv(fd int, p []byte, flags int) (int, error) {
	n, _, err := Recvfrom(fd, p, flags)
	return n, err
}

// Recvfrom receives a message and its source address.
func Recvfrom(fd int, p []byte, flags int) (int, unix.Sockaddr, error) {
	for {
		n, from, err := unix.Recvfrom(fd, p, flags)
		switch err {
		case unix.EINTR:
		case unix.EAGAIN:
			block(fd, reactor.Read)
		default:
			return n, from, err
		}
	}
}

// Recvmsg receives data and ancillary data.
func Recvmsg(fd int, p, oob []byte, flags int) (n, oobn, recvflags int, from unix.Sockaddr, err error) {
	for {
		n, oobn, recvflags, from, err = unix.Recvmsg(fd, p, oob, flags)
		switch err {
		case unix.EINTR:
		case unix.EAGAIN:
			block(fd, reactor.Read)
		default:
			return
		}
	}
}

// WaitReadable suspends the current fiber until fd is readable.
func WaitReadable(fd int) error {
	return waitFor(fd, unix.POLLIN, reactor.Read)
}

// WaitWritable suspends the current fiber until fd is writable.
func WaitWritable(fd int) error {
	return waitFor(fd, unix.POLLOUT, reactor.Write)
}

func waitFor(fd int, pollEvent int16, reactorEvent int16) error {
	fds := []unix.PollFd{{Fd: int32(fd), Events: pollEvent}}

	for {
		n, err := unix.Poll(fds, 0)
		switch {
		case err == unix.EINTR:
		case err != nil:
			return err
		case n == 0:
			block(fd, reactorEvent)
		default:
			return nil
		}
	}
}
