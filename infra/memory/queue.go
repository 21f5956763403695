package memory

import "sync/atomic"

// queue is a Michael-Scott lock-free FIFO. The head always points at a
// sentinel node whose value has already been taken.
//
// Queue nodes are ordinary garbage-collected memory, so unlike the values
// they carry they need no epoch protection of their own.
type queue[T any] struct {
	head atomic.Pointer[qnode[T]]
	_    [56]byte
	tail atomic.Pointer[qnode[T]]
}

type qnode[T any] struct {
	data T
	next atomic.Pointer[qnode[T]]
}

func newQueue[T any]() *queue[T] {
	q := &queue[T]{}
	sentinel := &qnode[T]{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

func (q *queue[T]) push(v T) {
	n := &qnode[T]{data: v}
	for {
		t := q.tail.Load()
		next := t.next.Load()
		if next != nil {
			// tail is lagging; help it along
			q.tail.CompareAndSwap(t, next)
			continue
		}
		if t.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(t, n)
			return
		}
	}
}

// tryPopIf pops the front value only if cond accepts it. A rejected or
// missing front leaves the queue untouched.
func (q *queue[T]) tryPopIf(cond func(T) bool) (T, bool) {
	for {
		h := q.head.Load()
		next := h.next.Load()
		if next == nil || !cond(next.data) {
			var zero T
			return zero, false
		}
		if q.head.CompareAndSwap(h, next) {
			if t := q.tail.Load(); t == h {
				q.tail.CompareAndSwap(t, next)
			}
			return next.data, true
		}
	}
}

func (q *queue[T]) tryPop() (T, bool) {
	return q.tryPopIf(func(T) bool { return true })
}

func (q *queue[T]) isEmpty() bool {
	return q.head.Load().next.Load() == nil
}
