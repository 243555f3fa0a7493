// Package priority implements strict priority scheduling with priority donation.
//
// NextThread always returns a waiter whose effective priority is no lower than any
// other waiter's, and among waiters of equal effective priority the one that has
// waited longest. A thread's effective priority is the maximum of its own priority
// and the effective priorities of everyone waiting on a donating queue it holds,
// so a high-priority thread blocked on a lock lifts the holder, the thread the
// holder is blocked behind, and so on down the chain.
//
// Waiters are kept in a splay tree ordered by effective priority and then by arrival
// ticket, so dequeueing and repositioning a thread whose priority changed are both
// O(log n) amortized.
//
// Example usage:
//
//	m := machine.New(machine.DefaultConfig())
//	s := priority.New(m.Interrupt())
//
//	prev := m.Interrupt().Disable()
//	q := s.NewQueue(true)
//	q.Acquire(low)        // low holds the resource
//	s.SetPriority(high, priority.Maximum)
//	q.WaitForAccess(high) // low now runs at priority.Maximum
//	m.Interrupt().Restore(prev)
//
// Round-robin scheduling is the special case where every thread keeps the default
// priority.
package priority

import (
	"github.com/sirupsen/logrus"

	"github.com/ahrav/go-sched/donation"
	"github.com/ahrav/go-sched/kthread"
	"github.com/ahrav/go-sched/machine"
)

const (
	// Minimum is the lowest priority a thread can have.
	Minimum = 0
	// Maximum is the highest priority a thread can have.
	Maximum = 7
	// Default is the priority of a thread nobody has set.
	Default = 1
)

type options struct {
	engine []donation.Option
}

// Option configures a Scheduler.
type Option func(*options)

// WithLogger sets the logger donation deadlocks are reported to.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.engine = append(o.engine, donation.WithLogger(l)) }
}

// Scheduler is the priority policy.
type Scheduler struct {
	engine *donation.Engine
}

var _ kthread.Scheduler = (*Scheduler)(nil)

// New creates a priority scheduler. Its operations assert on intr being disabled.
func New(intr *machine.Interrupt, opts ...Option) *Scheduler {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	policy := donation.Policy{
		Kind:       donation.KindPriority,
		Default:    Default,
		Combine:    func(acc, d int) int { return max(acc, d) },
		NewWaiters: newWaiters,
	}
	return &Scheduler{engine: donation.NewEngine(intr, policy, o.engine...)}
}

// NewQueue creates a queue ordered by effective priority. When transfer is true,
// waiters donate their priority to the holder.
func (s *Scheduler) NewQueue(transfer bool) kthread.WaitQueue {
	return s.engine.NewQueue(transfer)
}

// Priority returns t's own priority.
func (s *Scheduler) Priority(t *kthread.Thread) int { return s.engine.Base(t) }

// EffectivePriority returns t's priority after donation.
func (s *Scheduler) EffectivePriority(t *kthread.Thread) int { return s.engine.Effective(t) }

// SetPriority sets t's own priority, which must be within [Minimum, Maximum].
func (s *Scheduler) SetPriority(t *kthread.Thread, priority int) {
	machine.AssertDisabled(s.engine.Interrupt())
	machine.Assertf(priority >= Minimum && priority <= Maximum,
		"priority %d out of range [%d, %d]", priority, Minimum, Maximum)
	s.engine.SetBase(t, priority)
}

// IncreasePriority raises t's priority by one unless it is already Maximum.
func (s *Scheduler) IncreasePriority(t *kthread.Thread) bool {
	p := s.Priority(t)
	if p == Maximum {
		return false
	}
	s.SetPriority(t, p+1)
	return true
}

// DecreasePriority lowers t's priority by one unless it is already Minimum.
func (s *Scheduler) DecreasePriority(t *kthread.Thread) bool {
	p := s.Priority(t)
	if p == Minimum {
		return false
	}
	s.SetPriority(t, p-1)
	return true
}

// Deadlocks returns how many donation cycles have been detected.
func (s *Scheduler) Deadlocks() uint64 { return s.engine.Deadlocks() }
