package kthread

import "io"

// WaitQueue is an ordered set of threads blocked behind one resource, plus the
// thread that currently holds that resource. Which waiter NextThread returns is up
// to the scheduling policy that created the queue.
//
// Every method must be called with interrupts disabled.
type WaitQueue interface {
	// WaitForAccess records t as waiting for the resource. It is only called when
	// t can't proceed immediately.
	WaitForAccess(t *Thread)
	// Acquire makes t the holder of the resource without it having waited.
	Acquire(t *Thread)
	// NextThread removes the next waiter, makes it the holder, and returns it.
	// It returns nil when nobody is waiting.
	NextThread() *Thread
	// Print writes a diagnostic dump of the queue.
	Print(w io.Writer)
}

// Scheduler is a scheduling policy: it hands out WaitQueues and owns each thread's
// priority. Policies with tickets instead of priorities report ticket counts through
// the same methods.
//
// Every method except NewQueue must be called with interrupts disabled.
type Scheduler interface {
	// NewQueue creates a queue. When transfer is true, waiters donate to the
	// queue's holder.
	NewQueue(transfer bool) WaitQueue

	Priority(t *Thread) int
	EffectivePriority(t *Thread) int
	SetPriority(t *Thread, priority int)

	// IncreasePriority raises t's priority by one, reporting false if it was
	// already at the maximum.
	IncreasePriority(t *Thread) bool
	// DecreasePriority lowers t's priority by one, reporting false if it was
	// already at the minimum.
	DecreasePriority(t *Thread) bool
}

// WakeSource is something that will ready threads from the timer interrupt later.
// An idle kernel keeps advancing the clock while any source is pending.
type WakeSource interface {
	Pending() bool
}
