package donation

import (
	"fmt"

	"github.com/ahrav/go-sched/kthread"
	"github.com/ahrav/go-sched/splay"
)

// Kind tags which policy a State belongs to.
type Kind uint8

const (
	KindPriority Kind = iota + 1
	KindLottery
)

func (k Kind) String() string {
	switch k {
	case KindPriority:
		return "priority"
	case KindLottery:
		return "lottery"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// State is a thread's scheduling record. It is created the first time a policy
// touches the thread and lives in the thread's scheduling-state slot.
type State struct {
	thread *kthread.Thread
	kind   Kind

	base int // priority or ticket count set by the user
	eff  int // base combined with everything donated

	waiting *Queue   // queue the thread is blocked on, nil if none
	owned   []*Queue // queues whose resource the thread holds

	ticket uint64       // arrival order on waiting
	node   splay.Handle // position inside waiting's structure
	stuck  bool         // closed a donation cycle; never linked into waiting
	walk   uint64       // last propagation walk that visited this state
}

// Thread returns the thread this state belongs to.
func (s *State) Thread() *kthread.Thread { return s.thread }

// Kind returns the policy the state belongs to.
func (s *State) Kind() Kind { return s.kind }

// Base returns the thread's own priority or ticket count.
func (s *State) Base() int { return s.base }

// Effective returns the base combined with all donations.
func (s *State) Effective() int { return s.eff }

// Ticket returns the FIFO ticket taken when the thread last started waiting.
func (s *State) Ticket() uint64 { return s.ticket }

// Node returns the handle of the state inside its queue's structure.
func (s *State) Node() splay.Handle { return s.node }

// SetNode records the handle of the state inside its queue's structure.
func (s *State) SetNode(h splay.Handle) { s.node = h }

// Waiting returns the queue the thread is blocked on, or nil.
func (s *State) Waiting() *Queue { return s.waiting }

// Stuck reports whether the thread closed a donation cycle and will never be
// dequeued.
func (s *State) Stuck() bool { return s.stuck }

func (s *State) String() string {
	return fmt.Sprintf("%s base=%d eff=%d", s.thread, s.base, s.eff)
}

// donee returns the state s donates to, or nil if its wait edge doesn't donate.
func (s *State) donee() *State {
	q := s.waiting
	if q == nil || s.stuck || !q.transfer {
		return nil
	}
	return q.owner
}

func (s *State) disown(q *Queue) {
	for i, o := range s.owned {
		if o == q {
			last := len(s.owned) - 1
			s.owned[i] = s.owned[last]
			s.owned[last] = nil
			s.owned = s.owned[:last]
			return
		}
	}
}
