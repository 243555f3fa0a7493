// Package donation is the policy-independent half of a donating scheduler. It keeps
// each thread's scheduling record, implements the WaitQueue operations, and restores
// the donation invariant after every change by walking the implicit graph
//
//	waiter -> queue it waits on -> queue's holder -> queue the holder waits on -> ...
//
// A policy plugs in two things: how donations combine (the maximum for priorities,
// the sum for tickets) and the structure that orders waiters and picks the next one.
//
// The graph is never assumed to be acyclic. Before a new wait edge is linked the
// engine walks the holder chain with a fast and a slow pointer; if the chain loops
// back, the waiting thread closed a donation cycle. Its record is marked stuck, the
// edge stays out of the queue, a deadlock is logged, and the thread stays blocked
// for good. Propagation walks treat stuck records as dead ends, so the live part of
// the graph stays a forest and every walk terminates.
package donation

import (
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/ahrav/go-sched/kthread"
	"github.com/ahrav/go-sched/machine"
	"github.com/ahrav/go-sched/ticket"
)

// Waiters orders the threads blocked on one Queue.
type Waiters interface {
	// Insert adds s, which must not already be inside.
	Insert(s *State)
	// Remove takes s out.
	Remove(s *State)
	// Update repositions s after its effective value changed.
	Update(s *State)
	// Pick returns the waiter NextThread should hand the resource to, or nil if
	// empty. It does not remove it.
	Pick() *State
	// Donation returns what the queue's holder receives from the waiters. Only
	// called when Len() > 0.
	Donation() int
	Len() int
	// Walk visits the waiters until fn returns false.
	Walk(fn func(s *State) bool)
}

// Policy describes a donating scheduling policy.
type Policy struct {
	Kind Kind
	// Default is the base value of a freshly created State.
	Default int
	// Combine folds one queue's donation into a running effective value that
	// starts at the thread's base.
	Combine func(acc, donation int) int
	// NewWaiters creates the structure behind a new Queue.
	NewWaiters func() Waiters
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger deadlocks are reported to.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

// Engine owns the scheduling records of one policy.
type Engine struct {
	policy  Policy
	intr    *machine.Interrupt
	tickets *ticket.Dispenser
	log     logrus.FieldLogger

	walks     uint64
	queues    atomic.Uint64
	deadlocks atomic.Uint64
}

// NewEngine creates an engine for policy. Operations assert on intr being disabled.
func NewEngine(intr *machine.Interrupt, policy Policy, opts ...Option) *Engine {
	e := &Engine{
		policy:  policy,
		intr:    intr,
		tickets: ticket.NewDispenser(),
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deadlocks returns how many donation cycles have been detected.
func (e *Engine) Deadlocks() uint64 { return e.deadlocks.Load() }

// Interrupt returns the interrupt controller the engine asserts against.
func (e *Engine) Interrupt() *machine.Interrupt { return e.intr }

// NewQueue creates a queue. When transfer is true, waiters donate to its holder.
func (e *Engine) NewQueue(transfer bool) *Queue {
	return &Queue{
		e:        e,
		id:       e.queues.Inc(),
		transfer: transfer,
		waiters:  e.policy.NewWaiters(),
	}
}

// StateOf returns t's scheduling record, creating it on first use.
func (e *Engine) StateOf(t *kthread.Thread) *State {
	switch s := t.SchedulingState().(type) {
	case *State:
		machine.Assertf(s.kind == e.policy.Kind, "thread %s is scheduled by %s, not %s", t, s.kind, e.policy.Kind)
		return s
	case nil:
	default:
		machine.Assertf(false, "thread %s carries foreign scheduling state %T", t, s)
	}

	s := &State{
		thread: t,
		kind:   e.policy.Kind,
		base:   e.policy.Default,
		eff:    e.policy.Default,
	}
	t.SetSchedulingState(s)
	return s
}

// Base returns t's base value. Interrupts must be disabled.
func (e *Engine) Base(t *kthread.Thread) int {
	machine.AssertDisabled(e.intr)
	return e.StateOf(t).base
}

// Effective returns t's effective value. Interrupts must be disabled.
func (e *Engine) Effective(t *kthread.Thread) int {
	machine.AssertDisabled(e.intr)
	return e.StateOf(t).eff
}

// SetBase changes t's base value and propagates the change. Range checks are the
// policy's job. Interrupts must be disabled.
func (e *Engine) SetBase(t *kthread.Thread, v int) {
	machine.AssertDisabled(e.intr)
	s := e.StateOf(t)
	if s.base == v {
		return
	}
	s.base = v
	e.refresh(s)
}

func (e *Engine) compute(s *State) int {
	v := s.base
	for _, q := range s.owned {
		if q.transfer && q.waiters.Len() > 0 {
			v = e.policy.Combine(v, q.waiters.Donation())
		}
	}
	return v
}

// refresh recomputes s and carries any change down the holder chain. The walk ends
// when a value stops changing, at a queue that doesn't donate or has no holder, at
// a stuck record, or at a record this walk already visited.
func (e *Engine) refresh(s *State) {
	e.walks++
	walk := e.walks
	for s != nil && s.walk != walk {
		s.walk = walk
		eff := e.compute(s)
		if eff == s.eff {
			return
		}
		s.eff = eff

		q := s.waiting
		if q == nil || s.stuck {
			return
		}
		q.waiters.Update(s)
		if !q.transfer {
			return
		}
		s = q.owner
	}
}

// cycle reports whether following donation edges from s leads back into a loop.
func cycle(s *State) bool {
	slow, fast := s, s
	for {
		if fast = fast.donee(); fast == nil {
			return false
		}
		if fast = fast.donee(); fast == nil {
			return false
		}
		slow = slow.donee()
		if slow == fast {
			return true
		}
	}
}
