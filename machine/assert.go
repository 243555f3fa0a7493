package machine

import "fmt"

// AssertionError is the panic value raised by Assertf. It marks a bug in calling
// code: the simulated kernel halts rather than trying to recover.
type AssertionError struct {
	Msg string
}

func (e *AssertionError) Error() string { return "assertion failed: " + e.Msg }

// Assertf panics with an *AssertionError when cond is false.
func Assertf(cond bool, format string, args ...any) {
	if cond {
		return
	}
	panic(&AssertionError{Msg: fmt.Sprintf(format, args...)})
}

// AssertDisabled panics unless interrupts are off.
func AssertDisabled(intr *Interrupt) {
	Assertf(intr.Disabled(), "interrupts must be disabled")
}
