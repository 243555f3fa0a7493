// Package cond implements Mesa-style condition variables for simulated threads.
//
// A Condition is tied to a kthread.Lock. Sleep atomically releases the lock and
// blocks; a later Wake or WakeAll readies the sleeper, which reacquires the lock
// before Sleep returns. Waking doesn't hand over the lock, so a woken thread must
// recheck its predicate:
//
//	lock.Acquire()
//	for !ready {
//	    c.Sleep()
//	}
//	// ... ready is true and lock is held ...
//	lock.Release()
//
// Sleepers wait on a non-donating queue from the kernel's scheduler: the lock
// holder isn't what a sleeper is waiting for, so it gets nothing from them. Which
// sleeper Wake picks follows the scheduler (highest priority, or a lottery draw).
package cond

import (
	"github.com/ahrav/go-sched/kthread"
	"github.com/ahrav/go-sched/machine"
)

// Condition is a condition variable.
type Condition struct {
	k        *kthread.Kernel
	lock     *kthread.Lock
	waiters  kthread.WaitQueue
	sleepers int
}

// New creates a condition variable protected by lock.
func New(k *kthread.Kernel, lock *kthread.Lock) *Condition {
	return &Condition{
		k:       k,
		lock:    lock,
		waiters: k.Scheduler().NewQueue(false),
	}
}

// Sleep releases the lock, blocks until woken, and reacquires the lock. The current
// thread must hold the lock.
func (c *Condition) Sleep() {
	machine.Assertf(c.lock.IsHeldByCurrentThread(), "condition sleep without holding its lock")

	intr := c.k.Machine().Interrupt()
	prev := intr.Disable()
	c.lock.Release()
	c.waiters.WaitForAccess(c.k.Current())
	c.sleepers++
	c.k.Sleep()
	c.lock.Acquire()
	intr.Restore(prev)
}

// Wake readies one sleeping thread, if any. The current thread must hold the lock.
func (c *Condition) Wake() {
	machine.Assertf(c.lock.IsHeldByCurrentThread(), "condition wake without holding its lock")

	intr := c.k.Machine().Interrupt()
	prev := intr.Disable()
	c.wakeOne()
	intr.Restore(prev)
}

// WakeAll readies every sleeping thread. The current thread must hold the lock.
func (c *Condition) WakeAll() {
	machine.Assertf(c.lock.IsHeldByCurrentThread(), "condition wake without holding its lock")

	intr := c.k.Machine().Interrupt()
	prev := intr.Disable()
	for c.wakeOne() {
	}
	intr.Restore(prev)
}

// Sleepers returns the number of threads blocked in Sleep.
func (c *Condition) Sleepers() int { return c.sleepers }

func (c *Condition) wakeOne() bool {
	t := c.waiters.NextThread()
	if t == nil {
		return false
	}
	c.sleepers--
	c.k.Ready(t)
	return true
}
