//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package server

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"

	"golang.org/x/sys/unix"
)

// Go cannot fork a running multithreaded runtime, so detaching into
// the background re-executes the binary with a marker in the
// environment. The parent exits 0 once the child is spawned; the child
// recognizes the marker, skips this step, and carries on with the rest
// of the harness (chdir, stream redirection, setsid).
const detachEnv = "FIBRE_SERVER_DETACHED"

func detach() {
	if os.Getenv(detachEnv) != "" {
		_ = os.Unsetenv(detachEnv)
		return
	}

	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "detach: %v\n", err)
		os.Exit(1)
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), detachEnv+"=1")
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "detach: %v\n", err)
		os.Exit(1)
	}

	// Parent process: exit normally.
	os.Exit(0)
}

// closeStdio cuts the process loose from the terminal: the standard
// streams are redirected to /dev/null and a new session is started.
func closeStdio() {
	fd, err := unix.Open(os.DevNull, unix.O_RDWR, 0)
	if err != nil {
		return
	}
	_ = unix.Dup2(fd, 0)
	_ = unix.Dup2(fd, 1)
	_ = unix.Dup2(fd, 2)
	if fd > 2 {
		_ = unix.Close(fd)
	}
	_, _ = unix.Setsid()
}

func reopenStderr(path string) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CREAT|unix.O_APPEND, 0644)
	if err != nil {
		// Hard to report an error at this point.
		os.Exit(1)
	}
	_ = unix.Dup2(fd, 2)
	if fd != 2 {
		_ = unix.Close(fd)
	}
}

// installCrashHandler dumps all goroutine stacks if the process takes
// a fatal memory fault outside the Go runtime's own reporting.
func installCrashHandler() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGSEGV, unix.SIGBUS)
	go func() {
		<-ch
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		os.Stderr.Write([]byte("** Segmentation fault **\n\nStack trace:\n\n"))
		os.Stderr.Write(buf[:n])
		os.Exit(2)
	}()
}
