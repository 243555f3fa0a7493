package lottery

import (
	"math/rand/v2"

	"github.com/ahrav/go-sched/donation"
	"github.com/ahrav/go-sched/splay"
	"github.com/ahrav/go-sched/ticket"
)

// pool holds the waiters of one queue, weighted by effective tickets. Tree order is
// arrival order; it only matters for Print.
type pool struct {
	tree *splay.Tree[*donation.State]
	rng  *rand.Rand
}

func newPool(rng *rand.Rand) *pool {
	return &pool{
		tree: splay.New(func(a, b *donation.State) bool { return ticket.Before(a.Ticket(), b.Ticket()) }),
		rng:  rng,
	}
}

func (p *pool) Insert(s *donation.State) { s.SetNode(p.tree.Insert(s, s.Effective())) }

func (p *pool) Remove(s *donation.State) {
	p.tree.Delete(s.Node())
	s.SetNode(splay.Nil)
}

func (p *pool) Update(s *donation.State) { p.tree.SetWeight(s.Node(), s.Effective()) }

// Pick draws a winning ticket in [1, total] and returns the waiter holding it.
func (p *pool) Pick() *donation.State {
	total := p.tree.Sum()
	if total <= 0 {
		return nil
	}
	return p.tree.Value(p.tree.Select(1 + p.rng.IntN(total)))
}

func (p *pool) Donation() int { return p.tree.Sum() }

func (p *pool) Len() int { return p.tree.Len() }

func (p *pool) Walk(fn func(s *donation.State) bool) {
	p.tree.Walk(func(_ splay.Handle, s *donation.State) bool { return fn(s) })
}
