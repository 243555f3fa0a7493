package priority

import (
	"github.com/ahrav/go-sched/donation"
	"github.com/ahrav/go-sched/splay"
	"github.com/ahrav/go-sched/ticket"
)

// waiters orders threads by effective priority, highest first, then by ticket.
type waiters struct {
	tree *splay.Tree[*donation.State]
}

func newWaiters() donation.Waiters {
	return &waiters{tree: splay.New(before)}
}

func before(a, b *donation.State) bool {
	if a.Effective() != b.Effective() {
		return a.Effective() > b.Effective()
	}
	return ticket.Before(a.Ticket(), b.Ticket())
}

func (w *waiters) Insert(s *donation.State) { s.SetNode(w.tree.Insert(s, 1)) }

func (w *waiters) Remove(s *donation.State) {
	w.tree.Delete(s.Node())
	s.SetNode(splay.Nil)
}

// Update reinserts s under its new priority. It keeps its ticket, so it still
// goes ahead of anyone of equal priority who arrived later.
func (w *waiters) Update(s *donation.State) {
	w.tree.Delete(s.Node())
	s.SetNode(w.tree.Insert(s, 1))
}

func (w *waiters) Pick() *donation.State {
	h := w.tree.Min()
	if h == splay.Nil {
		return nil
	}
	return w.tree.Value(h)
}

func (w *waiters) Donation() int { return w.Pick().Effective() }

func (w *waiters) Len() int { return w.tree.Len() }

func (w *waiters) Walk(fn func(s *donation.State) bool) {
	w.tree.Walk(func(_ splay.Handle, s *donation.State) bool { return fn(s) })
}
