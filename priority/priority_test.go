package priority

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-sched/kthread"
	"github.com/ahrav/go-sched/machine"
)

type fixture struct {
	m    *machine.Machine
	s    *Scheduler
	k    *kthread.Kernel
	hook *test.Hook
}

// newFixture returns a scheduler whose operations can be driven directly from the
// test goroutine. Interrupts start disabled.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, hook := test.NewNullLogger()
	m := machine.New(machine.DefaultConfig())
	s := New(m.Interrupt(), WithLogger(log))
	k := kthread.New(m, s, kthread.WithLogger(log))
	m.Interrupt().Disable()
	return &fixture{m: m, s: s, k: k, hook: hook}
}

func (f *fixture) thread(name string, priority int) *kthread.Thread {
	t := f.k.NewThread(name, func() {})
	f.s.SetPriority(t, priority)
	return t
}

func TestDefaults(t *testing.T) {
	f := newFixture(t)
	th := f.k.NewThread("t", func() {})
	assert.Equal(t, Default, f.s.Priority(th))
	assert.Equal(t, Default, f.s.EffectivePriority(th))
}

func TestNextThreadEmpty(t *testing.T) {
	f := newFixture(t)
	q := f.s.NewQueue(true)
	assert.Nil(t, q.NextThread())
}

func TestHighestPriorityFirst(t *testing.T) {
	f := newFixture(t)
	q := f.s.NewQueue(false)

	prios := []int{3, 0, 7, 5, 1, 6}
	for i, p := range prios {
		q.WaitForAccess(f.thread(fmt.Sprintf("t%d", i), p))
	}

	var got []int
	for th := q.NextThread(); th != nil; th = q.NextThread() {
		got = append(got, f.s.Priority(th))
	}
	assert.Equal(t, []int{7, 6, 5, 3, 1, 0}, got)
}

func TestFIFOTieBreak(t *testing.T) {
	f := newFixture(t)
	q := f.s.NewQueue(false)

	var want []*kthread.Thread
	for i := range 5 {
		th := f.thread(fmt.Sprintf("t%d", i), 4)
		want = append(want, th)
		q.WaitForAccess(th)
	}
	low := f.thread("low", 2)
	q.WaitForAccess(low)

	for _, w := range want {
		assert.Same(t, w, q.NextThread())
	}
	assert.Same(t, low, q.NextThread())
}

func TestRepositionKeepsArrivalOrder(t *testing.T) {
	f := newFixture(t)
	q := f.s.NewQueue(false)

	a := f.thread("a", 3)
	b := f.thread("b", 5)
	c := f.thread("c", 5)
	q.WaitForAccess(a)
	q.WaitForAccess(b)
	q.WaitForAccess(c)

	// a arrived first, so once it matches b and c it goes ahead of both.
	f.s.SetPriority(a, 5)
	assert.Same(t, a, q.NextThread())
	assert.Same(t, b, q.NextThread())
	assert.Same(t, c, q.NextThread())
}

func TestOneHopDonation(t *testing.T) {
	f := newFixture(t)
	low := f.thread("low", 0)
	high := f.thread("high", 7)

	q := f.s.NewQueue(true)
	q.Acquire(low)
	q.WaitForAccess(high)

	assert.Equal(t, 7, f.s.EffectivePriority(low))
	assert.Equal(t, 0, f.s.Priority(low), "donation must not touch the base priority")

	assert.Same(t, high, q.NextThread())
	assert.Equal(t, 0, f.s.EffectivePriority(low), "previous holder keeps nothing once the queue moves on")
	assert.Equal(t, 7, f.s.EffectivePriority(high))
}

func TestTwoHopDonation(t *testing.T) {
	f := newFixture(t)
	low := f.thread("low", 0)
	mid := f.thread("mid", 3)
	high := f.thread("high", 7)

	q1 := f.s.NewQueue(true)
	q2 := f.s.NewQueue(true)
	q2.Acquire(low)
	q1.Acquire(mid)
	q2.WaitForAccess(mid)
	assert.Equal(t, 3, f.s.EffectivePriority(low))

	q1.WaitForAccess(high)
	assert.Equal(t, 7, f.s.EffectivePriority(mid))
	assert.Equal(t, 7, f.s.EffectivePriority(low))

	// Lowering high's priority flows back down the chain.
	f.s.SetPriority(high, 2)
	assert.Equal(t, 3, f.s.EffectivePriority(mid))
	assert.Equal(t, 3, f.s.EffectivePriority(low))

	f.s.SetPriority(high, 6)
	assert.Equal(t, 6, f.s.EffectivePriority(low))

	// Handing q1 to high takes its donation away from mid and low.
	assert.Same(t, high, q1.NextThread())
	assert.Equal(t, 3, f.s.EffectivePriority(mid))
	assert.Equal(t, 3, f.s.EffectivePriority(low))
}

func TestNonTransferQueueDoesNotDonate(t *testing.T) {
	f := newFixture(t)
	low := f.thread("low", 0)
	high := f.thread("high", 7)

	q := f.s.NewQueue(false)
	q.Acquire(low)
	q.WaitForAccess(high)
	assert.Equal(t, 0, f.s.EffectivePriority(low))
}

func TestDonationFromSeveralQueues(t *testing.T) {
	f := newFixture(t)
	holder := f.thread("holder", 1)
	q1 := f.s.NewQueue(true)
	q2 := f.s.NewQueue(true)
	q1.Acquire(holder)
	q2.Acquire(holder)

	q1.WaitForAccess(f.thread("a", 4))
	q2.WaitForAccess(f.thread("b", 6))
	assert.Equal(t, 6, f.s.EffectivePriority(holder))

	q2.NextThread()
	assert.Equal(t, 4, f.s.EffectivePriority(holder))
	q1.NextThread()
	assert.Equal(t, 1, f.s.EffectivePriority(holder))
}

func TestDonatedWaiterIsReordered(t *testing.T) {
	f := newFixture(t)
	ready := f.s.NewQueue(false)
	lock := f.s.NewQueue(true)

	holder := f.thread("holder", 0)
	mid := f.thread("mid", 4)
	ready.WaitForAccess(holder)
	ready.WaitForAccess(mid)

	// holder sits in the ready queue while a waiter on its lock lifts it above mid.
	lock.Acquire(holder)
	lock.WaitForAccess(f.thread("high", 7))
	assert.Same(t, holder, ready.NextThread())
	assert.Same(t, mid, ready.NextThread())
}

func TestHolderWaitingOnItsOwnQueue(t *testing.T) {
	f := newFixture(t)
	q := f.s.NewQueue(true)
	a := f.thread("a", 1)
	b := f.thread("b", 6)

	q.Acquire(a)
	q.WaitForAccess(b)
	require.Equal(t, 6, f.s.EffectivePriority(a))

	q.WaitForAccess(a)
	assert.Equal(t, 1, f.s.EffectivePriority(a), "giving up the queue gives up its donation")
	assert.Nil(t, q.(interface{ Owner() *kthread.Thread }).Owner())
	assert.Same(t, b, q.NextThread())
	assert.Same(t, a, q.NextThread())
}

func TestAcquireReplacesHolder(t *testing.T) {
	f := newFixture(t)
	q := f.s.NewQueue(true)
	a := f.thread("a", 0)
	b := f.thread("b", 2)

	q.Acquire(a)
	q.WaitForAccess(f.thread("w", 5))
	require.Equal(t, 5, f.s.EffectivePriority(a))

	q.Acquire(b)
	assert.Equal(t, 0, f.s.EffectivePriority(a))
	assert.Equal(t, 5, f.s.EffectivePriority(b))
}

func TestCycleIsContained(t *testing.T) {
	f := newFixture(t)
	a := f.thread("a", 2)
	b := f.thread("b", 5)

	qa := f.s.NewQueue(true)
	qb := f.s.NewQueue(true)
	qa.Acquire(a)
	qb.Acquire(b)

	qb.WaitForAccess(a)
	require.Equal(t, 5, f.s.EffectivePriority(b))
	require.Zero(t, f.s.Deadlocks())

	qa.WaitForAccess(b)
	assert.Equal(t, uint64(1), f.s.Deadlocks())
	entry := f.hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "user deadlock", entry.Message)
	assert.Equal(t, b.String(), entry.Data["thread"])

	// b is never linked, so it can't be dequeued and donates nothing.
	assert.Equal(t, 2, f.s.EffectivePriority(a))
	assert.Nil(t, qa.NextThread())

	// Further changes around the cycle still terminate.
	f.s.SetPriority(b, 7)
	assert.Equal(t, 2, f.s.EffectivePriority(a))
	f.s.SetPriority(a, 6)
	assert.Equal(t, 6, f.s.EffectivePriority(a))
	assert.Equal(t, 7, f.s.EffectivePriority(b))
}

func TestLongerCycle(t *testing.T) {
	f := newFixture(t)
	const n = 5
	threads := make([]*kthread.Thread, n)
	queues := make([]kthread.WaitQueue, n)
	for i := range n {
		threads[i] = f.thread(fmt.Sprintf("t%d", i), i)
		queues[i] = f.s.NewQueue(true)
		queues[i].Acquire(threads[i])
	}
	// t_i waits on the queue held by t_{i+1}; the last edge closes the ring.
	for i := range n - 1 {
		queues[i+1].WaitForAccess(threads[i])
	}
	assert.Equal(t, n-1, f.s.EffectivePriority(threads[n-1]))
	assert.Zero(t, f.s.Deadlocks())

	queues[0].WaitForAccess(threads[n-1])
	assert.Equal(t, uint64(1), f.s.Deadlocks())
	assert.Equal(t, 0, f.s.EffectivePriority(threads[0]))
}

func TestPrint(t *testing.T) {
	f := newFixture(t)
	q := f.s.NewQueue(true)
	q.Acquire(f.thread("holder", 1))
	q.WaitForAccess(f.thread("w1", 3))
	q.WaitForAccess(f.thread("w2", 6))

	var buf bytes.Buffer
	q.Print(&buf)
	out := buf.String()
	assert.Contains(t, out, "transfer=true owner=holder")
	assert.Contains(t, out, "waiters=2")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("w2")), bytes.Index(buf.Bytes(), []byte("w1")),
		"waiters print in dequeue order")
	assert.Equal(t, 2, q.(interface{ Len() int }).Len(), "print must not consume waiters")
}

func TestSetPriorityAssertions(t *testing.T) {
	f := newFixture(t)
	th := f.k.NewThread("t", func() {})

	assert.Panics(t, func() { f.s.SetPriority(th, Maximum+1) })
	assert.Panics(t, func() { f.s.SetPriority(th, Minimum-1) })

	f.m.Interrupt().Enable()
	assert.Panics(t, func() { f.s.SetPriority(th, 3) })
	assert.Panics(t, func() { f.s.Priority(th) })
	assert.Panics(t, func() { f.s.NewQueue(true).NextThread() })
}

func TestIncreaseDecreasePriority(t *testing.T) {
	f := newFixture(t)
	th := f.thread("t", Maximum-1)

	assert.True(t, f.s.IncreasePriority(th))
	assert.Equal(t, Maximum, f.s.Priority(th))
	assert.False(t, f.s.IncreasePriority(th))

	f.s.SetPriority(th, Minimum+1)
	assert.True(t, f.s.DecreasePriority(th))
	assert.Equal(t, Minimum, f.s.Priority(th))
	assert.False(t, f.s.DecreasePriority(th))
}

// model mirrors the donation graph so random operation sequences can be checked
// against the definition of effective priority.
type model struct {
	base    map[*kthread.Thread]int
	waiting map[*kthread.Thread]int // queue index
	stuck   map[*kthread.Thread]bool
	arrival map[*kthread.Thread]int
	owner   []*kthread.Thread
	members [][]*kthread.Thread
	clock   int
}

func (m *model) donee(t *kthread.Thread, transfer []bool) *kthread.Thread {
	qi, ok := m.waiting[t]
	if !ok || m.stuck[t] || !transfer[qi] {
		return nil
	}
	return m.owner[qi]
}

func (m *model) effective(t *kthread.Thread, transfer []bool) int {
	eff := m.base[t]
	for qi, o := range m.owner {
		if o != t || !transfer[qi] {
			continue
		}
		for _, w := range m.members[qi] {
			eff = max(eff, m.effective(w, transfer))
		}
	}
	return eff
}

func TestRandomOperationsPreserveInvariants(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewPCG(7, 11))

	const numThreads, numQueues = 12, 5
	threads := make([]*kthread.Thread, numThreads)
	md := &model{
		base:    map[*kthread.Thread]int{},
		waiting: map[*kthread.Thread]int{},
		stuck:   map[*kthread.Thread]bool{},
		arrival: map[*kthread.Thread]int{},
		owner:   make([]*kthread.Thread, numQueues),
		members: make([][]*kthread.Thread, numQueues),
	}
	for i := range threads {
		p := rng.IntN(Maximum + 1)
		threads[i] = f.thread(fmt.Sprintf("t%d", i), p)
		md.base[threads[i]] = p
	}
	queues := make([]kthread.WaitQueue, numQueues)
	transfer := make([]bool, numQueues)
	for i := range queues {
		transfer[i] = i != 0
		queues[i] = f.s.NewQueue(transfer[i])
	}

	idle := func() []*kthread.Thread {
		var out []*kthread.Thread
		for _, th := range threads {
			if _, ok := md.waiting[th]; !ok {
				out = append(out, th)
			}
		}
		return out
	}

	for step := 0; step < 3000; step++ {
		qi := rng.IntN(numQueues)
		switch op := rng.IntN(10); {
		case op < 4:
			cands := idle()
			if len(cands) == 0 {
				continue
			}
			th := cands[rng.IntN(len(cands))]
			if md.owner[qi] == th {
				md.owner[qi] = nil
			}
			md.waiting[th] = qi
			md.clock++
			md.arrival[th] = md.clock

			// A cycle exists if following donation edges from th comes back to th.
			cyclic := false
			for cur := md.donee(th, transfer); cur != nil; cur = md.donee(cur, transfer) {
				if cur == th {
					cyclic = true
					break
				}
			}
			if cyclic {
				md.stuck[th] = true
			} else {
				md.members[qi] = append(md.members[qi], th)
			}
			queues[qi].WaitForAccess(th)
		case op < 5:
			cands := idle()
			if len(cands) == 0 {
				continue
			}
			th := cands[rng.IntN(len(cands))]
			md.owner[qi] = th
			queues[qi].Acquire(th)
		case op < 8:
			members := md.members[qi]
			var want *kthread.Thread
			for _, w := range members {
				if want == nil {
					want = w
					continue
				}
				ew, ewant := md.effective(w, transfer), md.effective(want, transfer)
				if ew > ewant || (ew == ewant && md.arrival[w] < md.arrival[want]) {
					want = w
				}
			}

			got := queues[qi].NextThread()
			if want == nil {
				require.Nil(t, got, "step %d", step)
				md.owner[qi] = nil
				continue
			}
			require.Same(t, want, got, "step %d: wrong winner", step)
			for i, w := range members {
				if w == want {
					md.members[qi] = append(members[:i:i], members[i+1:]...)
					break
				}
			}
			delete(md.waiting, want)
			md.owner[qi] = want
		default:
			th := threads[rng.IntN(numThreads)]
			p := rng.IntN(Maximum + 1)
			md.base[th] = p
			f.s.SetPriority(th, p)
		}

		for _, th := range threads {
			require.Equal(t, md.effective(th, transfer), f.s.EffectivePriority(th),
				"step %d: effective priority of %s", step, th)
		}
	}
}

func BenchmarkWaitForAccessNextThread(b *testing.B) {
	m := machine.New(machine.DefaultConfig())
	log, _ := test.NewNullLogger()
	s := New(m.Interrupt(), WithLogger(log))
	k := kthread.New(m, s, kthread.WithLogger(log))
	m.Interrupt().Disable()

	q := s.NewQueue(true)
	q.Acquire(k.NewThread("holder", func() {}))
	threads := make([]*kthread.Thread, 256)
	for i := range threads {
		threads[i] = k.NewThread("w", func() {})
		s.SetPriority(threads[i], i%(Maximum+1))
		q.WaitForAccess(threads[i])
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		th := q.NextThread()
		q.WaitForAccess(th)
	}
}
