package donation

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/ahrav/go-sched/kthread"
	"github.com/ahrav/go-sched/machine"
)

// Queue is a WaitQueue whose waiters may donate to its holder.
type Queue struct {
	e        *Engine
	id       uint64
	transfer bool
	owner    *State
	waiters  Waiters
}

var _ kthread.WaitQueue = (*Queue)(nil)

// ID returns the engine-unique queue number.
func (q *Queue) ID() uint64 { return q.id }

// Transfer reports whether waiters donate to the holder.
func (q *Queue) Transfer() bool { return q.transfer }

// Len returns the number of waiters that can be dequeued.
func (q *Queue) Len() int { return q.waiters.Len() }

// Owner returns the thread holding the queue's resource, or nil.
func (q *Queue) Owner() *kthread.Thread {
	if q.owner == nil {
		return nil
	}
	return q.owner.thread
}

func (q *Queue) String() string { return fmt.Sprintf("queue #%d", q.id) }

// WaitForAccess queues t behind the resource and propagates its donation to the
// holder. If t holds the resource itself it gives it up first.
func (q *Queue) WaitForAccess(t *kthread.Thread) {
	machine.AssertDisabled(q.e.intr)
	s := q.e.StateOf(t)
	machine.Assertf(s.waiting == nil, "thread %s is already waiting on %s", t, s.waiting)

	if q.owner == s {
		q.release()
	}
	s.waiting = q
	s.ticket = q.e.tickets.Take()

	if cycle(s) {
		s.stuck = true
		q.e.deadlocks.Inc()
		q.e.log.WithFields(logrus.Fields{
			"thread": t.String(),
			"queue":  q.String(),
			"owner":  q.Owner().String(),
		}).Warn("user deadlock")
		return
	}

	q.waiters.Insert(s)
	if q.transfer && q.owner != nil {
		q.e.refresh(q.owner)
	}
}

// Acquire makes t the holder without queueing it. A previous holder loses the
// resource and whatever it was receiving from this queue.
func (q *Queue) Acquire(t *kthread.Thread) {
	machine.AssertDisabled(q.e.intr)
	s := q.e.StateOf(t)
	machine.Assertf(s.waiting != q, "thread %s acquires %s while waiting on it", t, q)

	q.release()
	q.own(s)
}

// NextThread dequeues the winning waiter and makes it the holder. The previous
// holder stops receiving this queue's donation. It returns nil if nobody waits.
func (q *Queue) NextThread() *kthread.Thread {
	machine.AssertDisabled(q.e.intr)
	q.release()

	s := q.waiters.Pick()
	if s == nil {
		return nil
	}
	q.waiters.Remove(s)
	s.waiting = nil
	q.own(s)
	return s.thread
}

// Print writes the holder and the waiters in the structure's order.
func (q *Queue) Print(w io.Writer) {
	owner := "none"
	if q.owner != nil {
		owner = q.owner.String()
	}
	fmt.Fprintf(w, "%s transfer=%t owner=%s waiters=%d\n", q, q.transfer, owner, q.waiters.Len())
	q.waiters.Walk(func(s *State) bool {
		fmt.Fprintf(w, "\t%s ticket=%d\n", s, s.ticket)
		return true
	})
}

func (q *Queue) own(s *State) {
	q.owner = s
	s.owned = append(s.owned, q)
	if q.transfer && q.waiters.Len() > 0 {
		q.e.refresh(s)
	}
}

func (q *Queue) release() {
	prev := q.owner
	if prev == nil {
		return
	}
	q.owner = nil
	prev.disown(q)
	if q.transfer && q.waiters.Len() > 0 {
		q.e.refresh(prev)
	}
}
