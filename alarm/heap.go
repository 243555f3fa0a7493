package alarm

import (
	"github.com/ahrav/go-sched/kthread"
	"github.com/ahrav/go-sched/ticket"
)

type sleeper struct {
	thread *kthread.Thread
	wake   int64
	ticket uint64
}

// sleepHeap is a container/heap min-heap ordered by wake time, then arrival.
type sleepHeap []sleeper

func (h sleepHeap) Len() int { return len(h) }

func (h sleepHeap) Less(i, j int) bool {
	if h[i].wake != h[j].wake {
		return h[i].wake < h[j].wake
	}
	return ticket.Before(h[i].ticket, h[j].ticket)
}

func (h sleepHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *sleepHeap) Push(x any) { *h = append(*h, x.(sleeper)) }

func (h *sleepHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = sleeper{}
	*h = old[:n-1]
	return s
}
