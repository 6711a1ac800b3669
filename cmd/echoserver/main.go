//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

// Command echoserver is a line-echo TCP server built on the fiber
// runtime: one listener fiber, one processor fiber per connection,
// all multiplexed on a single thread.
//
// Run in the foreground on a high port:
//
//	echoserver -p 7777
package main

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/fibrelib/fibre"
	"github.com/fibrelib/fibre/pool"
	"github.com/fibrelib/fibre/server"
)

func main() {
	server.PackageName("echoserver")
	server.DefaultPort(7777)
	server.DisableFork()
	server.DisableChdir()
	server.DisableClose()
	server.DisableSyslog()

	server.MainLoop(os.Args, startProcessor)
}

func startProcessor(sock int, _ interface{}) {
	p := pool.New()
	f := fibre.New(p, echo, sock, "echo processor")
	f.Start()
}

// echo copies the connection back to itself until EOF, giving slow
// clients a minute per read before the watchdog reaps the fiber.
func echo(v interface{}) {
	sock := v.(int)
	defer unix.Close(sock)

	buf := make([]byte, 4096)
	for {
		fibre.Timeout(60)

		n, err := fibre.Read(sock, buf)
		if err != nil || n == 0 {
			break
		}

		off := 0
		for off < n {
			w, err := fibre.Write(sock, buf[off:n])
			if err != nil {
				return
			}
			off += w
		}
	}

	fibre.Timeout(0)
}
