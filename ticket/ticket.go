// Package ticket hands out FIFO ticket numbers. Every request for a shared resource
// takes the next ticket from a Dispenser, and comparing tickets tells which request
// arrived first. Scheduling queues use this to break ties between waiters of equal
// priority so that the one waiting longest is served first, and the alarm clock
// uses it to keep equal wake-times in arrival order.
//
// Example usage:
//
//	d := ticket.NewDispenser()
//
//	a := d.Take() // 1
//	b := d.Take() // 2
//
//	ticket.Before(a, b) // true: a arrived first
//
// Tickets start at 1 so the zero value can mean "no ticket".
package ticket

import "go.uber.org/atomic"

// Dispenser issues strictly increasing ticket numbers.
//
// The counter is atomic so a Dispenser can be shared by several simulated machines
// without extra locking; within one machine it is only touched with interrupts off.
type Dispenser struct {
	tail atomic.Uint64 // Last ticket issued
}

// NewDispenser creates a Dispenser whose first ticket is 1.
func NewDispenser() *Dispenser { return new(Dispenser) }

// Take issues the next ticket.
func (d *Dispenser) Take() uint64 { return d.tail.Inc() }

// Issued returns the number of tickets handed out so far.
func (d *Dispenser) Issued() uint64 { return d.tail.Load() }

// Before reports whether ticket a was issued before ticket b.
func Before(a, b uint64) bool { return a < b }
