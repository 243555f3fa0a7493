// Package alarm lets simulated threads sleep for a number of timer ticks without
// busy-waiting.
//
// An Alarm installs itself as the machine's timer handler. WaitUntil records the
// caller's wake time in a min-heap and blocks it; every timer interrupt readies all
// threads whose wake time has passed, earliest first. Because the handler only
// runs on interrupt boundaries, a thread is readied on the first interrupt at or
// after its wake time, never before.
//
// Example usage:
//
//	a := alarm.New(k)
//
//	// from a running thread:
//	a.WaitUntil(1000) // back on the ready queue at the first interrupt >= now+1000
//
// Only one Alarm should exist per machine since each one replaces the timer handler.
package alarm

import (
	"container/heap"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/ahrav/go-sched/kthread"
	"github.com/ahrav/go-sched/ticket"
)

// Alarm is the timer-driven sleep queue of one kernel.
type Alarm struct {
	k       *kthread.Kernel
	log     logrus.FieldLogger
	sleeps  sleepHeap
	tickets *ticket.Dispenser
}

// New creates an Alarm for k and hooks it to the machine timer.
func New(k *kthread.Kernel) *Alarm {
	a := &Alarm{
		k:       k,
		log:     k.Logger(),
		tickets: ticket.NewDispenser(),
	}
	k.Machine().Timer().SetHandler(a.timerInterrupt)
	k.AddWakeSource(a)
	return a
}

// WaitUntil blocks the current thread for at least x ticks. A non-positive x still
// blocks until the next timer interrupt. Wake times past the end of the clock
// saturate, so a huge x sleeps for good.
func (a *Alarm) WaitUntil(x int64) {
	intr := a.k.Machine().Interrupt()
	prev := intr.Disable()

	cur := a.k.Current()
	now := a.k.Now()
	wake := now + x
	if x > 0 && x > math.MaxInt64-now {
		wake = math.MaxInt64
	}
	heap.Push(&a.sleeps, sleeper{thread: cur, wake: wake, ticket: a.tickets.Take()})
	a.log.WithFields(logrus.Fields{
		"thread": cur.String(),
		"wake":   wake,
	}).Debug("alarm set")

	a.k.Sleep()
	intr.Restore(prev)
}

// Pending reports whether a timer interrupt will ever wake a waiting thread.
// Threads sleeping for good don't keep an idle kernel alive.
func (a *Alarm) Pending() bool { return a.sleeps.Len() > 0 && a.sleeps[0].wake < math.MaxInt64 }

// Sleepers returns the number of threads waiting on the alarm.
func (a *Alarm) Sleepers() int { return a.sleeps.Len() }

// timerInterrupt runs with interrupts disabled on every timer tick boundary.
func (a *Alarm) timerInterrupt() {
	now := a.k.Now()
	for a.sleeps.Len() > 0 && a.sleeps[0].wake <= now {
		s := heap.Pop(&a.sleeps).(sleeper)
		a.log.WithFields(logrus.Fields{
			"thread": s.thread.String(),
			"wake":   s.wake,
			"tick":   now,
		}).Debug("alarm fired")
		a.k.Ready(s.thread)
	}
}
