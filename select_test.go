//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package fibre

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const sentinel = 0xff

// Four writer fibers drip bytes into four pipes; one reader
// multiplexes over all of them with Select and receives every byte in
// order per pipe, then all four sentinels.
func TestSelectOverFourPipes(t *testing.T) {
	const nrWriters = 4
	const nrChars = 100

	var pipes [nrWriters][2]int
	for i := range pipes {
		fds := make([]int, 2)
		require.NoError(t, unix.Pipe(fds))
		require.NoError(t, unix.SetNonblock(fds[0], true))
		require.NoError(t, unix.SetNonblock(fds[1], true))
		pipes[i] = [2]int{fds[0], fds[1]}
	}

	for i := 0; i < nrWriters; i++ {
		id := i
		spawn(func(interface{}) {
			fd := pipes[id][1]
			c := []byte{byte('0' + id)}
			for n := 0; n < nrChars; n++ {
				_, err := Write(fd, c)
				assert.NoError(t, err)
				Millisleep(3)
			}
			_, err := Write(fd, []byte{sentinel})
			assert.NoError(t, err)
			unix.Close(fd)
		}, nil, fmt.Sprintf("writer %d", id))
	}

	received := make(map[int][]byte)
	sentinels := 0

	spawn(func(interface{}) {
		open := make(map[int]bool)
		maxFd := -1
		for i := range pipes {
			open[pipes[i][0]] = true
			if pipes[i][0] > maxFd {
				maxFd = pipes[i][0]
			}
		}

		for len(open) > 0 {
			var readfds unix.FdSet
			readfds.Zero()
			for fd := range open {
				readfds.Set(fd)
			}

			tv := unix.Timeval{Usec: 1000}
			n, err := Select(maxFd+1, &readfds, nil, nil, &tv)
			assert.NoError(t, err)
			if n == 0 {
				continue
			}

			for fd := 0; fd <= maxFd; fd++ {
				if !readfds.IsSet(fd) {
					continue
				}
				c := make([]byte, 1)
				_, err := Read(fd, c)
				assert.NoError(t, err)
				if c[0] == sentinel {
					sentinels++
					delete(open, fd)
					unix.Close(fd)
				} else {
					received[fd] = append(received[fd], c[0])
				}
			}
		}
	}, nil, "reader")

	runScheduler()

	assert.Equal(t, nrWriters, sentinels)
	for i := range pipes {
		bytes := received[pipes[i][0]]
		require.Len(t, bytes, nrChars, "pipe %d", i)
		for _, b := range bytes {
			assert.Equal(t, byte('0'+i), b, "bytes arrive in order per pipe")
		}
	}
}

func TestPollTimeoutReturnsZero(t *testing.T) {
	fds := make([]int, 2)
	require.NoError(t, unix.Pipe(fds))
	require.NoError(t, unix.SetNonblock(fds[0], true))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	var n int
	var err error

	spawn(func(interface{}) {
		pfds := []unix.PollFd{{Fd: int32(fds[0]), Events: unix.POLLIN}}
		n, err = Poll(pfds, 20)
	}, nil, "poller")

	runScheduler()

	assert.NoError(t, err)
	assert.Zero(t, n, "poll with nothing ready times out with 0")
}

func TestPollReportsReadiness(t *testing.T) {
	fds := make([]int, 2)
	require.NoError(t, unix.Pipe(fds))
	require.NoError(t, unix.SetNonblock(fds[0], true))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	var n int

	spawn(func(interface{}) {
		pfds := []unix.PollFd{{Fd: int32(fds[0]), Events: unix.POLLIN}}
		n, _ = Poll(pfds, -1)
	}, nil, "poller")

	spawn(func(interface{}) {
		Millisleep(5)
		_, err := Write(fds[1], []byte("x"))
		assert.NoError(t, err)
	}, nil, "writer")

	runScheduler()

	assert.Equal(t, 1, n)
}

func TestWaitReadable(t *testing.T) {
	fds := make([]int, 2)
	require.NoError(t, unix.Pipe(fds))
	require.NoError(t, unix.SetNonblock(fds[0], true))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	var order []string

	spawn(func(interface{}) {
		assert.NoError(t, WaitReadable(fds[0]))
		order = append(order, "readable")
	}, nil, "waiter")

	spawn(func(interface{}) {
		Millisleep(5)
		order = append(order, "write")
		_, err := Write(fds[1], []byte("x"))
		assert.NoError(t, err)
	}, nil, "writer")

	runScheduler()

	assert.Equal(t, []string{"write", "readable"}, order)
}

func TestReadWriteRoundTrip(t *testing.T) {
	fds := make([]int, 2)
	require.NoError(t, unix.Pipe(fds))
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	var got string

	spawn(func(interface{}) {
		buf := make([]byte, 16)
		n, err := Read(fds[0], buf)
		assert.NoError(t, err)
		got = string(buf[:n])
	}, nil, "reader")

	spawn(func(interface{}) {
		Millisleep(2)
		_, err := Write(fds[1], []byte("hello"))
		assert.NoError(t, err)
	}, nil, "writer")

	runScheduler()

	assert.Equal(t, "hello", got)
}
