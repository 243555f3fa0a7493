// Package kthread implements a cooperative kernel on top of the simulated machine:
// threads, a ready queue, dispatch, join, and the plain mutual-exclusion Lock.
//
// Exactly one simulated thread runs at a time. Every Thread is backed by a goroutine
// parked on its own resume channel; a context switch hands the single execution
// permit to the next thread's goroutine and parks the current one. Threads only
// leave the running state at well-defined points: Sleep (through a blocking
// primitive), Yield, Tick when a timer interrupt preempts, Join, and finishing.
//
// Which thread runs next is decided by a pluggable Scheduler. The ready queue is
// just a non-donating WaitQueue from that scheduler, so priority and lottery
// dispatch come for free with the policy.
//
// Example usage:
//
//	m := machine.New(machine.DefaultConfig())
//	k := kthread.New(m, priority.New(m.Interrupt()))
//
//	err := k.Run(func() {
//	    lock := k.NewLock()
//	    t := k.NewThread("worker", func() {
//	        lock.Acquire()
//	        // ... critical section ...
//	        lock.Release()
//	    })
//	    k.Fork(t)
//	    k.Join(t)
//	})
//
// Run returns once the main function returns, or with ErrDeadlock if no thread can
// ever run again. Threads still alive at that point are torn down.
package kthread

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/ahrav/go-sched/machine"
)

// ErrDeadlock is returned by Run when no thread is runnable and nothing is pending
// on the timer.
var ErrDeadlock = errors.New("kthread: no runnable threads")

// Stats counts kernel events.
type Stats struct {
	Threads  uint64 // threads created, including main
	Switches uint64 // dispatches, including re-dispatching the same thread
	Yields   uint64
	Idles    uint64 // timer interrupts delivered while nothing was runnable
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger sets the logger used for dispatch and lifecycle events.
func WithLogger(l logrus.FieldLogger) Option {
	return func(k *Kernel) { k.log = l }
}

// Kernel is the scheduling context of one simulated machine. All entry points
// must be called from the running simulated thread, except New, NewThread, Fork
// and Run which may also be called before Run starts.
type Kernel struct {
	m     *machine.Machine
	sched Scheduler
	ready WaitQueue
	log   logrus.FieldLogger

	current *Thread
	main    *Thread
	threads []*Thread
	sources []WakeSource

	halted bool
	err    error
	done   chan error

	ids      atomic.Uint64
	switches atomic.Uint64
	yields   atomic.Uint64
	idles    atomic.Uint64
}

// New creates a kernel for m that dispatches with s.
func New(m *machine.Machine, s Scheduler, opts ...Option) *Kernel {
	k := &Kernel{
		m:     m,
		sched: s,
		ready: s.NewQueue(false),
		log:   logrus.StandardLogger(),
		done:  make(chan error, 1),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Machine returns the simulated machine.
func (k *Kernel) Machine() *machine.Machine { return k.m }

// Scheduler returns the active scheduling policy.
func (k *Kernel) Scheduler() Scheduler { return k.sched }

// Logger returns the kernel's logger.
func (k *Kernel) Logger() logrus.FieldLogger { return k.log }

// Current returns the running thread, or nil outside Run.
func (k *Kernel) Current() *Thread { return k.current }

// Now returns the current tick.
func (k *Kernel) Now() int64 { return k.m.Timer().Now() }

// Stats returns a snapshot of the kernel's counters.
func (k *Kernel) Stats() Stats {
	return Stats{
		Threads:  k.ids.Load(),
		Switches: k.switches.Load(),
		Yields:   k.yields.Load(),
		Idles:    k.idles.Load(),
	}
}

// AddWakeSource registers src so an idle kernel keeps the clock running while src
// has work pending.
func (k *Kernel) AddWakeSource(src WakeSource) { k.sources = append(k.sources, src) }

// NewThread creates a thread that will run fn once forked.
func (k *Kernel) NewThread(name string, fn func()) *Thread {
	t := &Thread{
		id:     k.ids.Inc(),
		name:   name,
		state:  StateNew,
		fn:     fn,
		k:      k,
		resume: make(chan struct{}),
		exited: make(chan struct{}),
	}
	t.joinQueue = k.sched.NewQueue(true)
	k.threads = append(k.threads, t)
	return t
}

// Fork makes t runnable.
func (k *Kernel) Fork(t *Thread) {
	machine.Assertf(t.state == StateNew, "thread %s forked twice", t)

	prev := k.intr().Disable()
	t.joinQueue.Acquire(t)
	k.start(t)
	k.Ready(t)
	k.intr().Restore(prev)

	k.log.WithField("thread", t.String()).Debug("fork")
}

// Run executes main as the first thread and blocks until it returns. It returns
// ErrDeadlock, wrapped with the tick it happened at, if the system stops making
// progress first. A Kernel can only be run once.
func (k *Kernel) Run(main func()) error {
	machine.Assertf(k.main == nil, "kernel already started")

	t := k.NewThread("main", main)
	k.main = t

	prev := k.intr().Disable()
	t.joinQueue.Acquire(t)
	k.start(t)
	t.state = StateRunning
	k.current = t
	k.switches.Inc()
	k.intr().Restore(prev)

	t.resume <- struct{}{}
	return <-k.done
}

// Ready puts t on the ready queue. Interrupts must be disabled.
func (k *Kernel) Ready(t *Thread) {
	machine.AssertDisabled(k.intr())
	machine.Assertf(t.state != StateReady && t.state != StateFinished,
		"thread %s can't be readied from state %s", t, t.state)
	if k.halted {
		return
	}

	t.state = StateReady
	k.ready.WaitForAccess(t)
}

// Sleep blocks the current thread until something readies it, dispatching another
// thread in the meantime. Interrupts must be disabled; the caller must already have
// queued the thread wherever its waker will find it.
func (k *Kernel) Sleep() {
	machine.AssertDisabled(k.intr())
	cur := k.current
	if cur.state != StateFinished {
		cur.state = StateBlocked
	}
	k.runNext(cur)
}

// Yield gives up the processor, leaving the current thread runnable.
func (k *Kernel) Yield() {
	prev := k.intr().Disable()
	k.yields.Inc()
	k.m.Timer().Advance(k.m.Config().YieldTicks)

	cur := k.current
	k.Ready(cur)
	k.runNext(cur)
	k.intr().Restore(prev)
}

// Tick charges n ticks of simulated work to the current thread. A timer interrupt
// during that time preempts it. Interrupts must be enabled.
func (k *Kernel) Tick(n int64) {
	machine.Assertf(k.intr().Enabled(), "tick with interrupts disabled")

	prev := k.intr().Disable()
	fired := k.m.Timer().Advance(n)
	k.intr().Restore(prev)
	if fired > 0 {
		k.Yield()
	}
}

// Join blocks until t finishes. Joining a finished thread returns at once.
func (k *Kernel) Join(t *Thread) {
	cur := k.current
	machine.Assertf(t != cur, "thread %s can't join itself", t)
	machine.Assertf(t.state != StateNew, "thread %s joined before fork", t)

	prev := k.intr().Disable()
	if t.state != StateFinished {
		t.joinQueue.WaitForAccess(cur)
		k.Sleep()
	}
	k.intr().Restore(prev)
}

func (k *Kernel) intr() *machine.Interrupt { return k.m.Interrupt() }

func (k *Kernel) start(t *Thread) {
	t.started = true
	go func() {
		defer k.exit(t)
		<-t.resume
		if k.halted {
			return
		}
		k.intr().Enable()
		t.fn()
		k.finish()
	}()
}

// exit runs as the last thing on a thread's goroutine. Only the halting thread
// reports back to Run, and it does so after every other goroutine is gone.
func (k *Kernel) exit(t *Thread) {
	close(t.exited)
	if t.halter {
		k.done <- k.err
	}
}

func (k *Kernel) finish() {
	k.intr().Disable()
	cur := k.current
	cur.state = StateFinished
	k.log.WithField("thread", cur.String()).Debug("finish")

	for j := cur.joinQueue.NextThread(); j != nil; j = cur.joinQueue.NextThread() {
		k.Ready(j)
	}

	if cur == k.main {
		k.halt(nil)
		return
	}
	k.runNext(cur)
}

// runNext dispatches the next ready thread in place of prev. When nothing is ready
// the clock jumps from interrupt to interrupt for as long as a wake source has work
// pending; after that the kernel is deadlocked.
func (k *Kernel) runNext(prev *Thread) {
	if k.halted {
		runtime.Goexit()
	}

	next := k.ready.NextThread()
	for next == nil {
		if !k.pending() {
			k.log.WithFields(logrus.Fields{
				"thread": prev.String(),
				"tick":   k.Now(),
			}).Warn("no runnable threads")
			k.halt(fmt.Errorf("halted at tick %d: %w", k.Now(), ErrDeadlock))
			runtime.Goexit()
		}
		k.idles.Inc()
		k.m.Timer().AdvanceToInterrupt()
		next = k.ready.NextThread()
	}
	k.switchTo(prev, next)
}

func (k *Kernel) pending() bool {
	for _, src := range k.sources {
		if src.Pending() {
			return true
		}
	}
	return false
}

func (k *Kernel) switchTo(prev, next *Thread) {
	k.switches.Inc()
	next.state = StateRunning
	k.current = next
	if next == prev {
		return
	}

	k.log.WithFields(logrus.Fields{
		"from": prev.String(),
		"to":   next.String(),
		"tick": k.Now(),
	}).Debug("dispatch")

	// prev must not touch kernel state once next holds the permit.
	finished := prev.state == StateFinished
	next.resume <- struct{}{}
	if finished {
		return
	}
	<-prev.resume
	if k.halted {
		runtime.Goexit()
	}
}

// halt stops the kernel from the running thread: every other live goroutine is
// woken one at a time and exits.
func (k *Kernel) halt(err error) {
	cur := k.current
	k.halted = true
	k.err = err
	cur.halter = true

	for _, t := range k.threads {
		if t == cur || !t.started || t.state == StateFinished {
			continue
		}
		t.resume <- struct{}{}
		<-t.exited
	}

	k.log.WithFields(logrus.Fields{
		"thread": cur.String(),
		"tick":   k.Now(),
	}).Info("halt")
}
