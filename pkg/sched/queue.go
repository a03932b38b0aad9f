// Package sched is the priority scheduler: a heap-backed ready queue with
// deterministic ordering, conflict detection against executing tasks, and the
// dispatch loop that hands eligible tasks to the execution controller.
package sched

import (
	"container/heap"
	"sync"
	"time"

	"github.com/pathfind-io/pathfinder/pkg/metrics"
	"github.com/pathfind-io/pathfinder/pkg/models"
)

// Item is one queued task reference. The queue holds references only; the
// task record itself is always re-read from the store at dispatch time.
type Item struct {
	TaskID    string
	MissionID string
	Priority  models.Priority

	// At orders items within a priority class: the scheduled start when one
	// exists, otherwise arrival time.
	At time.Time
}

// less is the queue's total order: priority class descending, then At
// ascending, then task id ascending so equal instants stay deterministic.
func less(a, b Item) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() > b.Priority.Rank()
	}
	if !a.At.Equal(b.At) {
		return a.At.Before(b.At)
	}
	return a.TaskID < b.TaskID
}

type itemHeap []Item

func (h itemHeap) Len() int            { return len(h) }
func (h itemHeap) Less(i, j int) bool  { return less(h[i], h[j]) }
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)         { *h = append(*h, x.(Item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// Queue is the thread-safe ready queue. Delayed insertion covers retry
// backoff and scheduled starts; each task id is queued at most once.
type Queue struct {
	mu     sync.Mutex
	items  itemHeap
	queued map[string]struct{}
	timers map[string]*time.Timer
	wake   chan struct{}
	closed bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		queued: make(map[string]struct{}),
		timers: make(map[string]*time.Timer),
		wake:   make(chan struct{}, 1),
	}
}

// Push enqueues an item immediately. A task already queued or pending a
// delayed insertion is left alone.
func (q *Queue) Push(it Item) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if _, dup := q.queued[it.TaskID]; dup {
		q.mu.Unlock()
		return
	}
	q.queued[it.TaskID] = struct{}{}
	heap.Push(&q.items, it)
	metrics.QueueDepth.WithLabelValues(string(it.Priority)).Inc()
	q.mu.Unlock()
	q.signal()
}

// PushAfter enqueues an item once the delay elapses. Used for retry backoff
// and missions with a future trigger time.
func (q *Queue) PushAfter(it Item, delay time.Duration) {
	if delay <= 0 {
		q.Push(it)
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if _, dup := q.queued[it.TaskID]; dup {
		q.mu.Unlock()
		return
	}
	q.queued[it.TaskID] = struct{}{}
	q.timers[it.TaskID] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		delete(q.timers, it.TaskID)
		if _, still := q.queued[it.TaskID]; !still {
			q.mu.Unlock()
			return
		}
		heap.Push(&q.items, it)
		metrics.QueueDepth.WithLabelValues(string(it.Priority)).Inc()
		q.mu.Unlock()
		q.signal()
	})
	q.mu.Unlock()
}

// Pop removes and returns the highest-ranked item.
func (q *Queue) Pop() (Item, bool) {
	return q.PopPreferring("")
}

// PopPreferring removes the highest-ranked item, rotating away from the
// given mission when another mission has work in the same priority class.
// This keeps one chatty mission from starving its class.
func (q *Queue) PopPreferring(lastMission string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}

	best := 0
	top := q.items[0]
	if lastMission != "" && top.MissionID == lastMission {
		alt := -1
		for i := 1; i < len(q.items); i++ {
			it := q.items[i]
			if it.Priority.Rank() != top.Priority.Rank() || it.MissionID == lastMission {
				continue
			}
			if alt == -1 || less(it, q.items[alt]) {
				alt = i
			}
		}
		if alt >= 0 {
			best = alt
		}
	}

	it := heap.Remove(&q.items, best).(Item)
	delete(q.queued, it.TaskID)
	metrics.QueueDepth.WithLabelValues(string(it.Priority)).Dec()
	return it, true
}

// Remove drops a task from the queue or cancels its pending delayed
// insertion. Used when a kill skips PENDING tasks.
func (q *Queue) Remove(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.queued[taskID]; !ok {
		return false
	}
	delete(q.queued, taskID)
	if t, ok := q.timers[taskID]; ok {
		t.Stop()
		delete(q.timers, taskID)
		return true
	}
	for i, it := range q.items {
		if it.TaskID == taskID {
			heap.Remove(&q.items, i)
			metrics.QueueDepth.WithLabelValues(string(it.Priority)).Dec()
			return true
		}
	}
	return true
}

// Len is the number of immediately poppable items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wake signals after every insertion so the dispatch loop can react before
// its next tick.
func (q *Queue) Wake() <-chan struct{} { return q.wake }

// Close stops all pending delayed insertions.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
