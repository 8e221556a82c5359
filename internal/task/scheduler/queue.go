package scheduler

import (
	"container/heap"
	"time"

	"jobsched/internal/task/registry"
)

type queueItem struct {
	entry *registry.Entry
	at    time.Time
	index int
}

// readyHeap orders by fire time, ties broken by ascending job key.
type readyHeap []*queueItem

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if !h[i].at.Equal(h[j].at) {
		return h[i].at.Before(h[j].at)
	}
	return h[i].entry.Def.Key.Compare(h[j].entry.Def.Key) < 0
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *readyHeap) Push(x any) {
	it := x.(*queueItem)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// readyQueue holds at most one pending fire per entry.
type readyQueue struct {
	h   readyHeap
	pos map[*registry.Entry]*queueItem
}

func newReadyQueue() *readyQueue {
	return &readyQueue{pos: map[*registry.Entry]*queueItem{}}
}

func (q *readyQueue) Len() int { return len(q.h) }

func (q *readyQueue) set(e *registry.Entry, at time.Time) {
	if it, ok := q.pos[e]; ok {
		it.at = at
		heap.Fix(&q.h, it.index)
		return
	}
	it := &queueItem{entry: e, at: at}
	heap.Push(&q.h, it)
	q.pos[e] = it
}

func (q *readyQueue) remove(e *registry.Entry) {
	it, ok := q.pos[e]
	if !ok {
		return
	}
	heap.Remove(&q.h, it.index)
	delete(q.pos, e)
}

func (q *readyQueue) peek() (time.Time, bool) {
	if len(q.h) == 0 {
		return time.Time{}, false
	}
	return q.h[0].at, true
}

// popDue removes and returns the earliest entry due at or before now.
func (q *readyQueue) popDue(now time.Time) (*registry.Entry, time.Time, bool) {
	if len(q.h) == 0 || q.h[0].at.After(now) {
		return nil, time.Time{}, false
	}
	it := heap.Pop(&q.h).(*queueItem)
	delete(q.pos, it.entry)
	return it.entry, it.at, true
}

func (q *readyQueue) clear() {
	q.h = nil
	q.pos = map[*registry.Entry]*queueItem{}
}
