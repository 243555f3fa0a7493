package machine

// Timer is a monotonically increasing tick counter that raises an interrupt every
// interval ticks.
type Timer struct {
	intr     *Interrupt
	now      int64
	interval int64
	next     int64 // Tick at which the next interrupt fires
	handler  func()
}

func newTimer(intr *Interrupt, interval int64) *Timer {
	return &Timer{intr: intr, interval: interval, next: interval}
}

// Now returns the current tick.
func (t *Timer) Now() int64 { return t.now }

// Interval returns the number of ticks between interrupts.
func (t *Timer) Interval() int64 { return t.interval }

// NextInterrupt returns the tick at which the next interrupt is due.
func (t *Timer) NextInterrupt() int64 { return t.next }

// SetHandler installs the interrupt handler, replacing any previous one.
// The handler always runs with interrupts disabled.
func (t *Timer) SetHandler(h func()) { t.handler = h }

// Advance moves the clock forward by n ticks, firing the handler once for every
// interrupt boundary crossed. The clock reads the boundary tick while the handler
// runs. It returns the number of interrupts delivered.
func (t *Timer) Advance(n int64) int {
	if n < 0 {
		n = 0
	}
	target := t.now + n
	fired := 0
	for t.next <= target {
		t.now = t.next
		t.next += t.interval
		t.fire()
		fired++
	}
	t.now = target
	return fired
}

// AdvanceToInterrupt moves the clock straight to the next interrupt boundary and
// delivers it. Used when the machine is idle.
func (t *Timer) AdvanceToInterrupt() { t.Advance(t.next - t.now) }

func (t *Timer) fire() {
	if t.handler == nil {
		return
	}
	prev := t.intr.Disable()
	t.handler()
	t.intr.Restore(prev)
}
