// Package lottery implements lottery scheduling with ticket donation.
//
// Every thread holds a number of tickets. NextThread draws one ticket uniformly
// from all tickets held by the waiters, so each waiter wins with probability equal
// to its share. A thread's effective tickets are its own plus the effective tickets
// of everyone waiting on a donating queue it holds; unlike priorities, donations
// add up, and they flow transitively down the chain of holders.
//
// No state is kept per ticket. Waiters sit in an order-statistics splay tree where
// each node knows the ticket total of its subtree, so a draw, an insertion and a
// ticket change are all O(log n) amortized however many tickets are in play.
//
// Example usage:
//
//	m := machine.New(machine.DefaultConfig())
//	s := lottery.New(m.Interrupt(), lottery.WithSeed(42))
//
//	prev := m.Interrupt().Disable()
//	s.SetPriority(t, 200) // 200 tickets
//	q := s.NewQueue(true)
//	q.WaitForAccess(t)
//	winner := q.NextThread()
//	m.Interrupt().Restore(prev)
package lottery

import (
	"math"
	"math/rand/v2"

	"github.com/sirupsen/logrus"

	"github.com/ahrav/go-sched/donation"
	"github.com/ahrav/go-sched/kthread"
	"github.com/ahrav/go-sched/machine"
)

const (
	// MinTickets is the fewest tickets a thread can hold.
	MinTickets = 1
	// MaxTickets is the most tickets a thread can hold on its own. Effective
	// totals may exceed it through donation.
	MaxTickets = math.MaxInt32
	// DefaultTickets is the ticket count of a thread nobody has set.
	DefaultTickets = 1
)

type options struct {
	engine []donation.Option
	rng    *rand.Rand
}

// Option configures a Scheduler.
type Option func(*options)

// WithLogger sets the logger donation deadlocks are reported to.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.engine = append(o.engine, donation.WithLogger(l)) }
}

// WithRand sets the random source used for draws.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rng = r }
}

// WithSeed makes draws reproducible.
func WithSeed(seed uint64) Option {
	return WithRand(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// Scheduler is the lottery policy. It reports ticket counts through the
// priority methods of kthread.Scheduler.
type Scheduler struct {
	engine *donation.Engine
}

var _ kthread.Scheduler = (*Scheduler)(nil)

// New creates a lottery scheduler. Its operations assert on intr being disabled.
// Without WithRand or WithSeed draws use a randomly seeded source.
func New(intr *machine.Interrupt, opts ...Option) *Scheduler {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	rng := o.rng
	policy := donation.Policy{
		Kind:       donation.KindLottery,
		Default:    DefaultTickets,
		Combine:    func(acc, d int) int { return acc + d },
		NewWaiters: func() donation.Waiters { return newPool(rng) },
	}
	return &Scheduler{engine: donation.NewEngine(intr, policy, o.engine...)}
}

// NewQueue creates a queue that picks waiters by lottery. When transfer is true,
// waiters add their tickets to the holder's.
func (s *Scheduler) NewQueue(transfer bool) kthread.WaitQueue {
	return s.engine.NewQueue(transfer)
}

// Tickets returns t's own ticket count.
func (s *Scheduler) Tickets(t *kthread.Thread) int { return s.engine.Base(t) }

// EffectiveTickets returns t's tickets including donations.
func (s *Scheduler) EffectiveTickets(t *kthread.Thread) int { return s.engine.Effective(t) }

// SetTickets sets t's own ticket count, which must be within [MinTickets, MaxTickets].
func (s *Scheduler) SetTickets(t *kthread.Thread, tickets int) {
	machine.AssertDisabled(s.engine.Interrupt())
	machine.Assertf(tickets >= MinTickets && tickets <= MaxTickets,
		"ticket count %d out of range [%d, %d]", tickets, MinTickets, MaxTickets)
	s.engine.SetBase(t, tickets)
}

// Priority is Tickets.
func (s *Scheduler) Priority(t *kthread.Thread) int { return s.Tickets(t) }

// EffectivePriority is EffectiveTickets.
func (s *Scheduler) EffectivePriority(t *kthread.Thread) int { return s.EffectiveTickets(t) }

// SetPriority is SetTickets.
func (s *Scheduler) SetPriority(t *kthread.Thread, tickets int) { s.SetTickets(t, tickets) }

// IncreasePriority gives t one more ticket unless it already has MaxTickets.
func (s *Scheduler) IncreasePriority(t *kthread.Thread) bool {
	n := s.Tickets(t)
	if n == MaxTickets {
		return false
	}
	s.SetTickets(t, n+1)
	return true
}

// DecreasePriority takes one ticket from t unless it is down to MinTickets.
func (s *Scheduler) DecreasePriority(t *kthread.Thread) bool {
	n := s.Tickets(t)
	if n == MinTickets {
		return false
	}
	s.SetTickets(t, n-1)
	return true
}

// Deadlocks returns how many donation cycles have been detected.
func (s *Scheduler) Deadlocks() uint64 { return s.engine.Deadlocks() }
