package memory

import "sync"

// Pool is a typed object pool whose objects can be retired through a Guard.
// A retired object goes back to the pool only after every participant that
// might still be reading it has moved on, which is what makes recycling
// nodes of lock-free structures safe.
type Pool[T any] struct {
	p     *sync.Pool
	reset func(*T)
}

// NewPool creates a pool. reset, if non-nil, runs on every object just
// before it becomes reusable.
func NewPool[T any](ctor func() *T, reset func(*T)) *Pool[T] {
	return &Pool[T]{
		p: &sync.Pool{
			New: func() any { return ctor() },
		},
		reset: reset,
	}
}

func (p *Pool[T]) Get() *T {
	return p.p.Get().(*T)
}

// Put returns v immediately. Only use it for objects that were never
// published to other goroutines.
func (p *Pool[T]) Put(v *T) {
	if p.reset != nil {
		p.reset(v)
	}
	p.p.Put(v)
}

// Retire returns v to the pool once it is safe to reuse.
func (p *Pool[T]) Retire(g *Guard, v *T) {
	g.Defer(func() { p.Put(v) })
}

