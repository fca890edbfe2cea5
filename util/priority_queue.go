package util

import (
	"container/heap"

	"golang.org/x/exp/constraints"
)

// PriorityQueue is a min-queue of items keyed by an ordered
// priority. Items with equal priority are dequeued in insertion
// order.
type PriorityQueue[T any, P constraints.Ordered] struct {
	items *pqItems[T, P]
	seq   int
}

func NewPriorityQueue[T any, P constraints.Ordered](capacity int) PriorityQueue[T, P] {
	items := make(pqItems[T, P], 0, capacity)
	return PriorityQueue[T, P]{items: &items}
}

func (q *PriorityQueue[T, P]) Enqueue(item T, priority P) {
	heap.Push(q.items, pqItem[T, P]{item: item, priority: priority, seq: q.seq})
	q.seq++
}

func (q *PriorityQueue[T, P]) Dequeue() (T, bool) {
	if q.items.Len() == 0 {
		var zero T
		return zero, false
	}
	it := heap.Pop(q.items).(pqItem[T, P])
	return it.item, true
}

func (q *PriorityQueue[T, P]) Len() int {
	return q.items.Len()
}

type pqItem[T any, P constraints.Ordered] struct {
	item     T
	priority P
	seq      int
}

type pqItems[T any, P constraints.Ordered] []pqItem[T, P]

func (h pqItems[T, P]) Len() int { return len(h) }

func (h pqItems[T, P]) Less(i, j int) bool {
	if h[i].priority == h[j].priority {
		return h[i].seq < h[j].seq
	}
	return h[i].priority < h[j].priority
}

func (h pqItems[T, P]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pqItems[T, P]) Push(x any) {
	*h = append(*h, x.(pqItem[T, P]))
}

func (h *pqItems[T, P]) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
