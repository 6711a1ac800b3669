//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

// Package server is a generic harness for fiber-based network servers.
//
// MainLoop binds a listening TCP socket on an address and port taken
// from two command-line options, optionally chroots, drops privileges,
// detaches from the terminal and opens syslog, then starts a listener
// fiber that hands every accepted connection to the caller's processor
// function and drives the reactor until no fiber is left.
package server

import (
	"flag"
	"fmt"
	"log/syslog"
	"net"
	"os"
	"os/user"
	"runtime"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/fibrelib/fibre"
	"github.com/fibrelib/fibre/pool"
	"github.com/fibrelib/fibre/reactor"
)

var (
	defaultPort       = 80
	portOptionName    = "p"
	defaultAddress    = "" // any
	addressOptionName = "a"

	disableSyslog bool
	packageName   = "fibre"

	disableFork  bool
	disableChdir bool
	disableClose bool

	chrootDir  string
	username   string
	stderrFile string

	startupFn func(args []string)

	enableStackTraceOnCrash bool

	log = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// DefaultPort overrides the port used when the port option is absent.
func DefaultPort(port int) { defaultPort = port }

// PortOptionName renames the port command-line option.
func PortOptionName(name string) { portOptionName = name }

// DefaultAddress overrides the listen address used when the address
// option is absent. Empty means every local address.
func DefaultAddress(addr string) { defaultAddress = addr }

// AddressOptionName renames the address command-line option.
func AddressOptionName(name string) { addressOptionName = name }

// DisableSyslog keeps logging on standard error.
func DisableSyslog() { disableSyslog = true }

// PackageName sets the syslog identity and startup banner.
func PackageName(name string) { packageName = name }

// DisableFork keeps the process in the foreground.
func DisableFork() { disableFork = true }

// DisableChdir keeps the working directory instead of moving to "/".
func DisableChdir() { disableChdir = true }

// DisableClose keeps the standard streams attached to the terminal.
func DisableClose() { disableClose = true }

// Chroot confines the process to dir before dropping privileges.
func Chroot(dir string) { chrootDir = dir }

// Username switches to the named user when running as root.
func Username(name string) { username = name }

// StderrFile reopens standard error appending to the named file.
func StderrFile(path string) { stderrFile = path }

// StartupFn runs fn after daemonization, just before the listener
// fiber starts.
func StartupFn(fn func(args []string)) { startupFn = fn }

// EnableStackTraceOnCrash dumps every goroutine stack if the process
// takes a fatal memory fault.
func EnableStackTraceOnCrash() { enableStackTraceOnCrash = true }

// MainLoop runs the server: option parsing, socket setup, privilege
// and daemon plumbing, the listener fiber, and the reactor loop, which
// ends when the last fiber finishes. The processor function receives
// each accepted connection as a nonblocking descriptor; it is expected
// to create a fiber and return without blocking.
func MainLoop(args []string, processor func(sock int, data interface{})) {
	// The runtime is cooperative and single-threaded.
	runtime.GOMAXPROCS(1)
	runtime.LockOSThread()

	// Detach before the socket exists so the daemon owns it.
	if !disableFork {
		detach()
	}

	port := defaultPort
	address := defaultAddress

	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.IntVar(&port, portOptionName, defaultPort, "port to listen on")
	fs.StringVar(&address, addressOptionName, defaultAddress, "address to listen on")
	if err := fs.Parse(args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var addr4 [4]byte
	if address != "" {
		ip := net.ParseIP(address)
		if ip == nil || ip.To4() == nil {
			fmt.Fprintf(os.Stderr, "invalid address: %s\n", address)
			os.Exit(1)
		}
		copy(addr4[:], ip.To4())
	}

	// Bind a socket to the appropriate port.
	sock, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		panic(err)
	}
	_ = unix.SetsockoptInt(sock, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)

	if err := unix.Bind(sock, &unix.SockaddrInet4{Port: port, Addr: addr4}); err != nil {
		// Generally this means that the port is already bound.
		fmt.Fprintf(os.Stderr, "bind: %v\n", err)
		os.Exit(1)
	}
	if err := unix.Listen(sock, 10); err != nil {
		panic(err)
	}
	if err := unix.SetNonblock(sock, true); err != nil {
		panic(err)
	}

	// If running as root, and asked to chroot, do so.
	if chrootDir != "" && unix.Geteuid() == 0 {
		if err := unix.Chroot(chrootDir); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", chrootDir, err)
			os.Exit(1)
		}
	}

	// If running as root, and asked to change user, do so now.
	if username != "" && unix.Geteuid() == 0 {
		dropPrivileges(username)
	}

	if !disableChdir {
		_ = os.Chdir("/")
	}

	if !disableClose {
		closeStdio()
	}

	if stderrFile != "" {
		reopenStderr(stderrFile)
	}

	if !disableSyslog {
		openSyslog(port)
	}

	if enableStackTraceOnCrash {
		installCrashHandler()
	}

	if startupFn != nil {
		startupFn(args)
	}

	// Start the listener fiber.
	NewListener(sock, processor, nil)

	// Run the reactor.
	for fibre.Count() > 0 {
		reactor.Invoke()
	}
	reactor.Shutdown()
}

func dropPrivileges(name string) {
	u, err := user.Lookup(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "username not found: %s\n", name)
		os.Exit(1)
	}
	uid, _ := strconv.Atoi(u.Uid)
	gid, _ := strconv.Atoi(u.Gid)

	if err := unix.Setgroups([]int{gid}); err != nil {
		fmt.Fprintf(os.Stderr, "setgroups: %v\n", err)
		os.Exit(1)
	}
	if err := unix.Setgid(gid); err != nil {
		fmt.Fprintf(os.Stderr, "setgid: %v\n", err)
		os.Exit(1)
	}
	if err := unix.Setuid(uid); err != nil {
		fmt.Fprintf(os.Stderr, "setuid: %v\n", err)
		os.Exit(1)
	}
}

func openSyslog(port int) {
	w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_USER, packageName)
	if err != nil {
		return
	}
	log = zerolog.New(zerolog.SyslogLevelWriter(w)).With().Timestamp().Logger()
	reactor.Default.SetLogger(log)
	fibre.SetLogger(log)

	log.Info().
		Str("package", packageName).
		Int("port", port).
		Msg("starting up")
}

// listenerPool owns listener fibers started through NewListener.
var listenerPool = pool.Global
