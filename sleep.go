//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package fibre

import (
	"time"

	"github.com/fibrelib/fibre/reactor"
)

// sleep suspends the current fiber on a reactor timer.
func sleep(ms int64) {
	f := current
	timer := reactor.SetTimer(f.pool, ms, func() {
		f.resume()
	})

	suspend()

	if f.alarmReceived {
		// The watchdog resumed us, not the sleep timer; it is still
		// queued and must go before the fiber does.
		timer.UnsetEarly()
		Exit()
	}

	restoreEnv()
}

// Sleep suspends the current fiber for the given number of seconds.
func Sleep(seconds int) int {
	sleep(int64(seconds) * 1000)
	return seconds
}

// Millisleep suspends the current fiber for the given number of
// milliseconds.
func Millisleep(ms int) {
	sleep(int64(ms))
}

// Nanosleep suspends the current fiber for the duration, rounded to
// the reactor's millisecond clock.
func Nanosleep(d time.Duration) {
	sleep(d.Milliseconds())
}
