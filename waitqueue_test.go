//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package fibre

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Wake-up resumes each fiber on the queue exactly once.
func TestWakeUpResumesEachSleeperOnce(t *testing.T) {
	wq := NewWaitQueue()
	wakes := make(map[string]int)

	for _, name := range []string{"a", "b", "c"} {
		name := name
		spawn(func(interface{}) {
			wq.SleepOn()
			wakes[name]++
		}, nil, name)
	}

	assert.Equal(t, 3, wq.NrSleepers())

	spawn(func(interface{}) {
		wq.WakeUp()
	}, nil, "waker")

	runScheduler()

	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, wakes)
}

func TestWakeUpOneResumesHead(t *testing.T) {
	wq := NewWaitQueue()
	var order []string

	for _, name := range []string{"first", "second"} {
		name := name
		spawn(func(interface{}) {
			wq.SleepOn()
			order = append(order, name)
		}, nil, name)
	}

	spawn(func(interface{}) {
		wq.WakeUpOne()
		// The head continues only after our next suspension.
		Millisleep(1)
		wq.WakeUpOne()
	}, nil, "waker")

	runScheduler()

	assert.Equal(t, []string{"first", "second"}, order)
}

// A fiber that re-enqueues itself on wake-up is not woken twice by the
// same wake-up.
func TestReenqueueNotWokenTwice(t *testing.T) {
	wq := NewWaitQueue()
	wakes := 0

	spawn(func(interface{}) {
		wq.SleepOn()
		wakes++
		wq.SleepOn() // back on the queue; needs a second wake-up
		wakes++
	}, nil, "bouncer")

	spawn(func(interface{}) {
		wq.WakeUp()
		Millisleep(1)
		assert.Equal(t, 1, wakes, "one wake-up, one resumption")
		wq.WakeUp()
	}, nil, "waker")

	runScheduler()

	assert.Equal(t, 2, wakes)
}

// Wake-ups are deferred: the waker keeps running to its next
// suspension point before any sleeper resumes.
func TestWakerContinuesBeforeSleepers(t *testing.T) {
	wq := NewWaitQueue()
	var order []string

	spawn(func(interface{}) {
		wq.SleepOn()
		order = append(order, "sleeper")
	}, nil, "sleeper")

	spawn(func(interface{}) {
		wq.WakeUp()
		order = append(order, "waker still running")
		Millisleep(1)
		order = append(order, "waker resumed")
	}, nil, "waker")

	runScheduler()

	assert.Equal(t,
		[]string{"waker still running", "sleeper", "waker resumed"},
		order)
}

func TestWakeUpOnEmptyQueueIsNoop(t *testing.T) {
	wq := NewWaitQueue()
	wq.WakeUp()
	assert.Zero(t, wq.NrSleepers())
}

func TestWakeUpOneOnEmptyQueuePanics(t *testing.T) {
	wq := NewWaitQueue()
	assert.Panics(t, func() { wq.WakeUpOne() })
}

// The watchdog reaps a fiber parked on a wait queue.
func TestAlarmWhileSleepingOnQueue(t *testing.T) {
	wq := NewWaitQueue()
	reached := false

	spawn(func(interface{}) {
		Timeout(1)
		wq.SleepOn()
		reached = true
	}, nil, "parked")

	runScheduler()

	assert.False(t, reached)
	assert.Zero(t, wq.NrSleepers(), "the dying fiber removes itself from the queue")
	assert.Zero(t, Count())
}
