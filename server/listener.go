//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package server

import (
	"golang.org/x/sys/unix"

	"github.com/fibrelib/fibre"
	"github.com/fibrelib/fibre/pool"
)

// Listener is the fiber that accept-loops on a listening socket and
// starts a processor for every connection.
type Listener struct {
	f         *fibre.Fiber
	sock      int
	processor func(sock int, data interface{})
	data      interface{}
}

// NewListener creates and starts the listener fiber for the given
// nonblocking listening socket.
func NewListener(sock int, processor func(sock int, data interface{}), data interface{}) *Listener {
	p := pool.NewSubpool(listenerPool)

	l := &Listener{
		sock:      sock,
		processor: processor,
		data:      data,
	}
	l.f = fibre.New(p, l.run, nil, "listener")
	l.f.Start()

	return l
}

func (l *Listener) run(interface{}) {
	for {
		ns, _, err := fibre.Accept(l.sock)
		if err != nil {
			log.Error().Err(err).Msg("accept")
			continue
		}

		// The processor inherits a nonblocking socket.
		if err := unix.SetNonblock(ns, true); err != nil {
			unix.Close(ns)
			continue
		}

		l.processor(ns, l.data)
	}
}
