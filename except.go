//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package fibre

// Exit and exception handling.
//
// Exit terminates the current fiber unconditionally: control unwinds to
// the label the trampoline installed, the fiber is removed from the
// list, its pool deleted and its stack returned. Die is the recoverable
// variant: it carries a message to the nearest enclosing Catch. Both
// ride the panic mechanism, which is Go's nonlocal exit; a panic that
// is neither of these signals is a bug and keeps propagating.

type exitSignal struct{}

type dieSignal struct{ msg string }

// Exit terminates the current fiber immediately. It does not return.
func Exit() {
	panic(exitSignal{})
}

// Catch runs fn(data) with an exception frame installed. If fn (or
// anything it calls) invokes Die, Catch returns the message and true.
// Otherwise it returns "" and false. Frames nest; Die unwinds to the
// innermost.
func Catch(fn func(interface{}), data interface{}) (msg string, caught bool) {
	f := current
	f.catchDepth++
	defer func() {
		f.catchDepth--
		if r := recover(); r != nil {
			d, ok := r.(dieSignal)
			if !ok {
				panic(r)
			}
			f.lastError = d.msg
			msg, caught = d.msg, true
		}
	}()
	fn(data)
	return "", false
}

// Die raises an exception carrying msg. With a Catch frame installed it
// unwinds to the innermost one; without, it logs the message and exits
// the fiber.
func Die(msg string) {
	if current.catchDepth > 0 {
		panic(dieSignal{msg: msg})
	}
	log.Error().Str("fiber", current.name).Msg(msg)
	Exit()
}

// LastError returns the message of the most recent exception caught in
// the current fiber.
func LastError() string {
	return current.lastError
}
