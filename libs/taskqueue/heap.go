package taskqueue

type taskItem[T any] struct {
	order uint64
	seq   uint64 // insertion order, breaks ties between equal order keys
	task  T
}

// taskHeap implements heap.Interface.
type taskHeap[T any] []taskItem[T]

func (h taskHeap[T]) Len() int { return len(h) }

func (h taskHeap[T]) Less(i, j int) bool {
	if h[i].order != h[j].order {
		return h[i].order < h[j].order
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap[T]) Push(x any) {
	*h = append(*h, x.(taskItem[T]))
}

func (h *taskHeap[T]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	var zero taskItem[T]
	old[n-1] = zero
	*h = old[:n-1]
	return item
}
