package kthread

import "github.com/ahrav/go-sched/machine"

// Lock is a mutual-exclusion lock for simulated threads. Contenders wait on a
// donating queue, so a high-priority waiter lends its priority to the holder.
type Lock struct {
	k         *Kernel
	holder    *Thread
	waitQueue WaitQueue
}

// NewLock creates an unheld lock.
func (k *Kernel) NewLock() *Lock {
	return &Lock{k: k, waitQueue: k.sched.NewQueue(true)}
}

// Acquire blocks until the current thread holds the lock.
func (l *Lock) Acquire() {
	machine.Assertf(!l.IsHeldByCurrentThread(), "lock already held by %v", l.holder)

	k := l.k
	prev := k.intr().Disable()
	cur := k.current
	if l.holder != nil {
		l.waitQueue.WaitForAccess(cur)
		k.Sleep()
	} else {
		l.waitQueue.Acquire(cur)
		l.holder = cur
	}
	machine.Assertf(l.holder == cur, "lock handed to %v, expected %v", l.holder, cur)
	k.intr().Restore(prev)
}

// Release hands the lock to the next waiter, if any.
func (l *Lock) Release() {
	machine.Assertf(l.IsHeldByCurrentThread(), "lock released by non-holder %v", l.k.current)

	k := l.k
	prev := k.intr().Disable()
	if l.holder = l.waitQueue.NextThread(); l.holder != nil {
		k.Ready(l.holder)
	}
	k.intr().Restore(prev)
}

// IsHeldByCurrentThread reports whether the running thread holds the lock.
func (l *Lock) IsHeldByCurrentThread() bool {
	return l.holder != nil && l.holder == l.k.current
}

// Holder returns the thread holding the lock, or nil.
func (l *Lock) Holder() *Thread { return l.holder }
