package kthread

import "fmt"

// RunState is the lifecycle state of a Thread.
type RunState uint8

const (
	StateNew RunState = iota
	StateReady
	StateRunning
	StateBlocked
	StateFinished
)

func (s RunState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("RunState(%d)", uint8(s))
	}
}

// Thread is a simulated kernel thread. Each one is backed by a goroutine that only
// runs while it holds the kernel's single execution permit.
type Thread struct {
	id    uint64
	name  string
	state RunState
	fn    func()
	k     *Kernel

	// schedState is owned by whichever scheduler first touches the thread.
	schedState any

	// joinQueue is owned by the thread from Fork until it finishes, so joiners
	// donate to it.
	joinQueue WaitQueue

	resume  chan struct{}
	exited  chan struct{}
	started bool
	halter  bool // set on the thread that halts the kernel
}

// ID returns the thread's kernel-unique identifier.
func (t *Thread) ID() uint64 { return t.id }

// Name returns the name given at creation.
func (t *Thread) Name() string { return t.name }

// State returns the thread's run state.
func (t *Thread) State() RunState { return t.state }

// SchedulingState returns the scheduler's per-thread record, or nil if no
// scheduler has touched the thread yet.
func (t *Thread) SchedulingState() any { return t.schedState }

// SetSchedulingState attaches the scheduler's per-thread record.
func (t *Thread) SetSchedulingState(s any) { t.schedState = s }

func (t *Thread) String() string { return fmt.Sprintf("%s (#%d)", t.name, t.id) }
