// Package comm implements a Communicator: a rendezvous point where simulated
// threads exchange one word at a time.
//
// Any number of threads can be waiting to speak and any number waiting to listen.
// Each spoken word goes to exactly one listener, and Speak doesn't return until a
// listener has taken its word.
//
// Example usage:
//
//	c := comm.New(k)
//
//	k.Fork(k.NewThread("speaker", func() { c.Speak(42) }))
//	w := c.Listen() // 42
package comm

import (
	"github.com/ahrav/go-sched/cond"
	"github.com/ahrav/go-sched/kthread"
)

// Communicator passes words from speakers to listeners.
type Communicator struct {
	lock      *kthread.Lock
	speakers  *cond.Condition // waiting for the slot to empty
	listeners *cond.Condition // waiting for a word
	taken     *cond.Condition // speakers waiting for their word to be picked up

	word  int
	full  bool   // word holds a spoken, untaken word
	sent  uint64 // words placed in the slot so far
	recvd uint64 // words taken from the slot so far
}

// New creates a Communicator for threads of k.
func New(k *kthread.Kernel) *Communicator {
	lock := k.NewLock()
	return &Communicator{
		lock:      lock,
		speakers:  cond.New(k, lock),
		listeners: cond.New(k, lock),
		taken:     cond.New(k, lock),
	}
}

// Speak waits for the slot, leaves word in it, and blocks until a listener has
// taken it.
func (c *Communicator) Speak(word int) {
	c.lock.Acquire()
	for c.full {
		c.speakers.Sleep()
	}

	c.word = word
	c.full = true
	c.sent++
	mine := c.sent
	c.listeners.Wake()

	for c.recvd < mine {
		c.taken.Sleep()
	}
	c.lock.Release()
}

// Listen blocks until a word is spoken and returns it.
func (c *Communicator) Listen() int {
	c.lock.Acquire()
	for !c.full {
		c.listeners.Sleep()
	}

	word := c.word
	c.full = false
	c.recvd++
	c.taken.WakeAll()
	c.speakers.Wake()
	c.lock.Release()
	return word
}
