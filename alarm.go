//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package fibre

import "github.com/fibrelib/fibre/reactor"

// Timeout arms the current fiber's watchdog: if the fiber is still
// running when the timer fires, it is terminated at its next suspension
// point. Setting a new timeout cancels the previous one; zero seconds
// just cancels.
//
// This is cancellation with cooperative delivery, not preemption: the
// timer marks the fiber and resumes it, and the wrapper the fiber was
// suspended in notices the mark and exits instead of retrying.
func Timeout(seconds int) {
	f := current

	if f.alarmTimer != nil {
		f.alarmTimer.UnsetEarly()
		f.alarmTimer = nil
	}

	if seconds != 0 {
		f.alarmTimer = reactor.SetTimer(f.pool, int64(seconds)*1000, func() {
			f.alarmReceived = true
			f.alarmTimer = nil
			f.resume()
		})
	}
}

// AlarmReceived reports whether the fiber's watchdog has fired.
func (f *Fiber) AlarmReceived() bool {
	return f.alarmReceived
}
