package scheduler

import (
	"container/heap"
	"time"

	"github.com/shaiso/rpaflow/internal/domain"
)

// entry — элемент очереди.
type entry struct {
	task *domain.Task

	// seq — монотонный номер submit-а; стабилизирует FIFO
	// при равных priority и created_at.
	seq uint64

	// readyAt — момент видимости для отложенных entry.
	readyAt time.Time

	// index — позиция в куче, поддерживается heap.Interface.
	index int
}

// liveQueue — живая очередь: (priority desc, created_at asc, seq asc).
type liveQueue []*entry

func (q liveQueue) Len() int { return len(q) }

func (q liveQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.task.Priority != b.task.Priority {
		return a.task.Priority > b.task.Priority
	}
	if !a.task.CreatedAt.Equal(b.task.CreatedAt) {
		return a.task.CreatedAt.Before(b.task.CreatedAt)
	}
	return a.seq < b.seq
}

func (q liveQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *liveQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *liveQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// delayQueue — отложенные entry, упорядоченные по readyAt.
type delayQueue []*entry

func (q delayQueue) Len() int { return len(q) }

func (q delayQueue) Less(i, j int) bool {
	if !q[i].readyAt.Equal(q[j].readyAt) {
		return q[i].readyAt.Before(q[j].readyAt)
	}
	return q[i].seq < q[j].seq
}

func (q delayQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *delayQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *delayQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// removeEntry удаляет entry из соответствующей кучи.
// Вызывается под мьютексом планировщика.
func (s *Scheduler) removeEntry(e *entry, delayed bool) {
	if e.index < 0 {
		return
	}
	if delayed {
		heap.Remove(&s.delayed, e.index)
	} else {
		heap.Remove(&s.live, e.index)
	}
}
