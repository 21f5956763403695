package stack

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"ebr/infra/memory"
)

type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]

	// retired is set when the node goes back to the pool. A pinned reader
	// must never see it set.
	retired atomic.Bool
}

// Stack is a lock-free LIFO whose nodes are recycled through a pool. Popped
// nodes are retired through the caller's guard, so a node is only reused once
// no concurrent Pop can still be looking at it. That rules out ABA on top.
type Stack[T any] struct {
	top  atomic.Pointer[node[T]]
	size atomic.Int64
	pool *memory.Pool[node[T]]
}

func New[T any]() *Stack[T] {
	return &Stack[T]{
		pool: memory.NewPool(
			func() *node[T] { return &node[T]{} },
			func(n *node[T]) {
				var zero T
				n.value = zero
				n.next.Store(nil)
				n.retired.Store(true)
			},
		),
	}
}

func (s *Stack[T]) Push(v T) {
	n := s.pool.Get()
	n.value = v
	n.retired.Store(false)
	for {
		top := s.top.Load()
		n.next.Store(top)
		if s.top.CompareAndSwap(top, n) {
			s.size.Add(1)
			return
		}
	}
}

// Pop removes the top value. g must stay pinned for the whole call.
func (s *Stack[T]) Pop(g *memory.Guard) (T, bool) {
	for {
		top := s.top.Load()
		if top == nil {
			var zero T
			return zero, false
		}
		if top.retired.Load() {
			panic(errors.AssertionFailedf("stack: pinned pop observed a recycled node"))
		}
		next := top.next.Load()
		if s.top.CompareAndSwap(top, next) {
			v := top.value
			s.size.Add(-1)
			s.pool.Retire(g, top)
			return v, true
		}
	}
}

// Peek returns the top value without removing it.
func (s *Stack[T]) Peek(_ *memory.Guard) (T, bool) {
	top := s.top.Load()
	if top == nil {
		var zero T
		return zero, false
	}
	return top.value, true
}

// Len is approximate while pushes and pops are in flight.
func (s *Stack[T]) Len() int {
	return int(s.size.Load())
}
