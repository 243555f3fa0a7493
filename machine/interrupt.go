package machine

// Interrupt models the processor's interrupt-enable flag. Disabling interrupts is
// the only mutual exclusion the scheduling core needs: the timer handler can't run
// while they're off, and there is only ever one running thread.
type Interrupt struct {
	enabled bool
}

// Disable turns interrupts off and reports whether they were on before, so the
// caller can hand the value back to Restore.
func (i *Interrupt) Disable() bool {
	prev := i.enabled
	i.enabled = false
	return prev
}

// Enable turns interrupts on.
func (i *Interrupt) Enable() { i.enabled = true }

// Restore sets the interrupt state to what Disable returned.
func (i *Interrupt) Restore(enabled bool) { i.enabled = enabled }

// Enabled reports whether interrupts are on.
func (i *Interrupt) Enabled() bool { return i.enabled }

// Disabled reports whether interrupts are off.
func (i *Interrupt) Disabled() bool { return !i.enabled }
