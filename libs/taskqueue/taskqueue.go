// Package taskqueue provides a bounded, ordered work queue that tracks tasks
// handed out to consumers until they are marked complete.
package taskqueue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	hlssync "github.com/hlsnet/hls-core/libs/sync"
)

var (
	// ErrDuplicateTask is returned by Add when a task is already pending or
	// in progress.
	ErrDuplicateTask = errors.New("duplicate task")
	// ErrUnknownBatch is returned by Complete for a batch id that was never
	// handed out or has already been completed.
	ErrUnknownBatch = errors.New("unknown batch")
	// ErrTaskNotInBatch is returned by Complete when a completed task does not
	// belong to the batch.
	ErrTaskNotInBatch = errors.New("task not in batch")
)

// TaskQueue holds at most maxSize tasks, counting both pending tasks and
// tasks handed out by Get that have not been completed yet. Pending tasks are
// handed out in ascending order of orderFn; keyFn identifies a task for
// de-duplication.
//
// All methods are safe for concurrent use.
type TaskQueue[K comparable, T any] struct {
	maxSize int
	orderFn func(T) uint64
	keyFn   func(T) K

	mtx         hlssync.Mutex
	pending     taskHeap[T]
	keys        mapset.Set[K] // pending, in progress and reserved by a blocked Add
	inProgress  map[uint64][]T
	numInFlight int
	nextBatchID uint64
	seq         uint64
	// closed and replaced whenever tasks are added or released
	changed chan struct{}
}

// NewTaskQueue returns an empty queue. It panics if maxSize is not positive.
func NewTaskQueue[K comparable, T any](maxSize int, orderFn func(T) uint64, keyFn func(T) K) *TaskQueue[K, T] {
	if maxSize <= 0 {
		panic(fmt.Sprintf("taskqueue: maxSize must be positive, got %d", maxSize))
	}
	return &TaskQueue[K, T]{
		maxSize:    maxSize,
		orderFn:    orderFn,
		keyFn:      keyFn,
		keys:       mapset.NewThreadUnsafeSet[K](),
		inProgress: make(map[uint64][]T),
		changed:    make(chan struct{}),
	}
}

// Add inserts tasks into the queue, blocking while the queue is full. Tasks
// are inserted as room opens up, so a partial insert is visible to consumers
// before Add returns. If any task is already known to the queue, or appears
// twice in tasks, nothing is added and ErrDuplicateTask is returned.
//
// If ctx is done before all tasks are inserted, the remaining tasks are
// discarded and ctx.Err() is returned.
func (q *TaskQueue[K, T]) Add(ctx context.Context, tasks []T) error {
	if len(tasks) == 0 {
		return nil
	}

	q.mtx.Lock()
	batchKeys := mapset.NewThreadUnsafeSetWithSize[K](len(tasks))
	for _, task := range tasks {
		key := q.keyFn(task)
		if q.keys.Contains(key) || !batchKeys.Add(key) {
			q.mtx.Unlock()
			return fmt.Errorf("%w: %v", ErrDuplicateTask, key)
		}
	}
	batchKeys.Each(func(key K) bool {
		q.keys.Add(key)
		return false
	})
	q.mtx.Unlock()

	remaining := tasks
	for {
		q.mtx.Lock()
		if room := q.maxSize - q.lenLocked(); room > 0 {
			n := min(room, len(remaining))
			for _, task := range remaining[:n] {
				q.pushLocked(task)
			}
			remaining = remaining[n:]
			q.broadcastLocked()
		}
		if len(remaining) == 0 {
			q.mtx.Unlock()
			return nil
		}
		changed := q.changed
		q.mtx.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			q.mtx.Lock()
			for _, task := range remaining {
				q.keys.Remove(q.keyFn(task))
			}
			q.mtx.Unlock()
			return ctx.Err()
		}
	}
}

// Get blocks until at least one task is pending and returns up to max of the
// lowest ordered pending tasks together with a batch id to pass to Complete.
// A non-positive max returns every pending task.
func (q *TaskQueue[K, T]) Get(ctx context.Context, max int) (uint64, []T, error) {
	for {
		q.mtx.Lock()
		if q.pending.Len() > 0 {
			n := q.pending.Len()
			if max > 0 && max < n {
				n = max
			}
			batch := make([]T, 0, n)
			for i := 0; i < n; i++ {
				batch = append(batch, heap.Pop(&q.pending).(taskItem[T]).task)
			}
			q.nextBatchID++
			id := q.nextBatchID
			q.inProgress[id] = batch
			q.numInFlight += len(batch)
			q.mtx.Unlock()
			return id, batch, nil
		}
		changed := q.changed
		q.mtx.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		}
	}
}

// Complete releases the batch with the given id. Tasks of the batch that are
// not listed in completed go back to the pending set.
func (q *TaskQueue[K, T]) Complete(batchID uint64, completed []T) error {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	batch, ok := q.inProgress[batchID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBatch, batchID)
	}

	done := mapset.NewThreadUnsafeSetWithSize[K](len(completed))
	for _, task := range completed {
		done.Add(q.keyFn(task))
	}
	batchKeys := mapset.NewThreadUnsafeSetWithSize[K](len(batch))
	for _, task := range batch {
		batchKeys.Add(q.keyFn(task))
	}
	for _, task := range completed {
		if key := q.keyFn(task); !batchKeys.Contains(key) {
			return fmt.Errorf("%w: %v", ErrTaskNotInBatch, key)
		}
	}

	delete(q.inProgress, batchID)
	q.numInFlight -= len(batch)
	for _, task := range batch {
		key := q.keyFn(task)
		if done.Contains(key) {
			q.keys.Remove(key)
			continue
		}
		q.pushLocked(task)
	}
	q.broadcastLocked()
	return nil
}

// Contains reports whether a task with the same key is pending or in
// progress.
func (q *TaskQueue[K, T]) Contains(task T) bool {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	return q.keys.Contains(q.keyFn(task))
}

// NumPending returns the number of tasks waiting to be handed out.
func (q *TaskQueue[K, T]) NumPending() int {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	return q.pending.Len()
}

// NumInProgress returns the number of tasks handed out and not yet completed.
func (q *TaskQueue[K, T]) NumInProgress() int {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	return q.numInFlight
}

// Len returns the number of tasks counted against the queue capacity.
func (q *TaskQueue[K, T]) Len() int {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	return q.lenLocked()
}

// Cap returns the capacity of the queue.
func (q *TaskQueue[K, T]) Cap() int {
	return q.maxSize
}

func (q *TaskQueue[K, T]) lenLocked() int {
	return q.pending.Len() + q.numInFlight
}

func (q *TaskQueue[K, T]) pushLocked(task T) {
	q.seq++
	heap.Push(&q.pending, taskItem[T]{order: q.orderFn(task), seq: q.seq, task: task})
}

func (q *TaskQueue[K, T]) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
