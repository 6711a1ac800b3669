//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package fibre

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fibrelib/fibre/pool"
	"github.com/fibrelib/fibre/reactor"
)

// runScheduler drives the reactor until every fiber has finished, the
// way a server's main loop does. Each tick is bounded by a throwaway
// timer: fibers woken through a prepoll can be the last ones alive, and
// without a timer the tick would sit in poll forever.
func runScheduler() {
	for Count() > 0 {
		tp := pool.NewSubpool(pool.Global)
		reactor.SetTimer(tp, 10, func() {})
		reactor.Invoke()
		tp.Delete()
	}
}

func spawn(fn func(interface{}), data interface{}, name string) *Fiber {
	p := pool.NewSubpool(pool.Global)
	f := New(p, fn, data, name)
	f.Start()
	return f
}

func TestFiberRunsAndFinishes(t *testing.T) {
	ran := false

	spawn(func(interface{}) {
		ran = true
	}, nil, "worker")

	runScheduler()

	assert.True(t, ran)
	assert.Zero(t, Count())
}

func TestCreationRunsNoUserCode(t *testing.T) {
	ran := false
	p := pool.NewSubpool(pool.Global)
	f := New(p, func(interface{}) { ran = true }, nil, "idle")

	assert.False(t, ran)
	assert.Equal(t, 1, Count())

	f.Start()
	runScheduler()
	assert.True(t, ran)
}

func TestDataReachesEntry(t *testing.T) {
	var got interface{}

	spawn(func(v interface{}) {
		got = v
	}, "payload", "worker")

	runScheduler()
	assert.Equal(t, "payload", got)
}

// The caller's notion of the current fiber survives Start, even when a
// fiber starts another fiber.
func TestNestedStartRestoresCurrent(t *testing.T) {
	var insideOuter, afterNested *Fiber

	spawn(func(interface{}) {
		insideOuter = Current()

		p := pool.NewSubpool(pool.Global)
		inner := New(p, func(interface{}) {
			Millisleep(5)
		}, nil, "inner")
		inner.Start()

		afterNested = Current()
	}, nil, "outer")

	runScheduler()

	require.NotNil(t, insideOuter)
	assert.Same(t, insideOuter, afterNested)
}

func TestSleepMeasuredOnReactorClock(t *testing.T) {
	var slept int64

	start := reactor.Now()
	spawn(func(interface{}) {
		Millisleep(50)
		slept = reactor.Now()
	}, nil, "sleeper")

	runScheduler()

	assert.GreaterOrEqual(t, slept, start+50)
}

func TestExitStopsFiber(t *testing.T) {
	reached := false

	spawn(func(interface{}) {
		Exit()
		reached = true
	}, nil, "quitter")

	runScheduler()

	assert.False(t, reached)
	assert.Zero(t, Count())
}

func TestPoolDeletedOnExit(t *testing.T) {
	p := pool.NewSubpool(pool.Global)
	cleaned := false
	p.RegisterCleanup(func() { cleaned = true })

	f := New(p, func(interface{}) {
		Millisleep(1)
	}, nil, "worker")
	f.Start()

	runScheduler()

	assert.True(t, cleaned, "fiber pool torn down when the fiber finishes")
}

// Catch delivers the innermost Die message; a normal return
// delivers nothing.
func TestCatchDie(t *testing.T) {
	var msg string
	var caught bool
	var nestedMsg string
	var outerMsg string
	var outerCaught bool

	spawn(func(interface{}) {
		msg, caught = Catch(func(interface{}) {
			Die("msg")
		}, nil)

		_, normal := Catch(func(interface{}) {}, nil)
		assert.False(t, normal)

		outerMsg, outerCaught = Catch(func(interface{}) {
			nestedMsg, _ = Catch(func(interface{}) {
				Die("inner")
			}, nil)
		}, nil)
	}, nil, "thrower")

	runScheduler()

	assert.True(t, caught)
	assert.Equal(t, "msg", msg)
	assert.Equal(t, "inner", nestedMsg, "nested catches deliver to the innermost")
	assert.False(t, outerCaught)
	assert.Empty(t, outerMsg)
}

// An uncaught Die terminates the fiber, not the process.
func TestDieWithoutCatchExitsFiber(t *testing.T) {
	reached := false

	spawn(func(interface{}) {
		Die("nobody listening")
		reached = true
	}, nil, "dier")

	runScheduler()

	assert.False(t, reached)
	assert.Zero(t, Count())
}

// A 1-second watchdog cancels a fiber stuck in a very long sleep,
// and its pool is torn down with the fiber.
func TestWatchdogCancelsSleep(t *testing.T) {
	p := pool.NewSubpool(pool.Global)
	cleaned := false
	p.RegisterCleanup(func() { cleaned = true })

	woke := false
	f := New(p, func(interface{}) {
		Timeout(1)
		Sleep(1000)
		woke = true
	}, nil, "doomed")
	f.Start()

	start := time.Now()
	runScheduler()
	elapsed := time.Since(start)

	assert.False(t, woke, "alarm terminates the fiber instead of retrying")
	assert.True(t, cleaned)
	assert.Zero(t, Count())
	assert.Less(t, elapsed, 5*time.Second)
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
}

// The alarm is delivered at a suspension point, never between
// them.
func TestAlarmOnlyAtSuspensionPoints(t *testing.T) {
	var steps []string

	spawn(func(interface{}) {
		Timeout(1)
		// Busy section between suspension points; the alarm may fire
		// on the reactor side but must not interrupt this.
		deadline := time.Now().Add(1100 * time.Millisecond)
		for time.Now().Before(deadline) {
		}
		steps = append(steps, "section done")
		Millisleep(1) // first suspension point after the alarm
		steps = append(steps, "after suspension")
	}, nil, "busy")

	runScheduler()

	assert.Equal(t, []string{"section done"}, steps)
}

func TestSetNameAndList(t *testing.T) {
	spawn(func(interface{}) {
		SetName("renamed")
		SetLanguage("de")
		SetTZ("UTC")

		var found bool
		for _, info := range List() {
			if info.Name == "renamed" {
				found = true
				assert.Equal(t, "de", info.Language)
				assert.Equal(t, "UTC", info.TZ)
				assert.NotZero(t, info.StackSize)
			}
		}
		assert.True(t, found)
	}, nil, "original")

	runScheduler()
}

func TestListFromOutsideFiber(t *testing.T) {
	p := pool.NewSubpool(pool.Global)
	f := New(p, func(interface{}) {
		Millisleep(5)
	}, "arg", "observed")
	f.Start()

	infos := List()
	require.Len(t, infos, 1)
	assert.Equal(t, "observed", infos[0].Name)
	assert.Equal(t, "arg", infos[0].Data)
	assert.Equal(t, f.ID(), infos[0].ID)

	runScheduler()
	assert.Empty(t, List())
}

func TestStackSizeKnob(t *testing.T) {
	old := StackSize()
	SetStackSize(131072)
	defer SetStackSize(old)

	spawn(func(interface{}) {
		assert.Equal(t, 131072, len(Current().stack))
	}, nil, "bigstack")

	runScheduler()
}

func TestFiberSlotReuse(t *testing.T) {
	var firstID int

	spawn(func(interface{}) {
		firstID = Current().ID()
	}, nil, "one")
	runScheduler()

	var secondID int
	spawn(func(interface{}) {
		secondID = Current().ID()
	}, nil, "two")
	runScheduler()

	assert.Equal(t, firstID, secondID, "empty list slots are reused")
}
