package memory

import (
	"iter"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// errStalled is reported by a traversal that lost its position because the
// entry it was standing on got deleted underneath it. Aborting and retrying
// later is always safe.
var errStalled = errors.New("participant list traversal stalled")

// participants is the registry of Locals a Global traverses when it tries
// to advance the epoch.
type participants interface {
	insert(e *entry)
	iter(g *Guard) iter.Seq2[*Local, error]
	drain(fn func(*Local))
	len() int
}

// link is an immutable successor reference. A Go pointer cannot carry a tag
// bit, so deletion swaps in a new link with marked set instead.
type link struct {
	to     *entry
	marked bool
}

// entry is the intrusive list node embedded in every Local.
type entry struct {
	next  atomic.Pointer[link]
	owner *Local
}

// delete marks e as logically removed. The entry is physically unlinked by
// the next traversal that walks over it, and that traversal defers the
// owner's destruction.
func (e *entry) delete() {
	for {
		cur := e.next.Load()
		if cur.marked {
			return
		}
		if e.next.CompareAndSwap(cur, &link{to: cur.to, marked: true}) {
			return
		}
	}
}

func (e *entry) isDeleted() bool {
	return e.next.Load().marked
}

// list is a lock-free singly linked list of participant entries. Entries are
// pushed at the head without a uniqueness check and removed in two phases:
// delete marks, iteration unlinks.
type list struct {
	head atomic.Pointer[link]
}

func newList() *list {
	l := &list{}
	l.head.Store(&link{})
	return l
}

func (l *list) insert(e *entry) {
	for {
		h := l.head.Load()
		e.next.Store(&link{to: h.to})
		if l.head.CompareAndSwap(h, &link{to: e}) {
			return
		}
	}
}

// iter walks the live participants. Deleted entries met on the way are
// unlinked and their owners scheduled for destruction through g. When the
// predecessor of a deleted entry is itself deleted, the walk reports
// errStalled; if the consumer keeps going it restarts from the head.
func (l *list) iter(g *Guard) iter.Seq2[*Local, error] {
	return func(yield func(*Local, error) bool) {
		pred := &l.head
		predLink := pred.Load()
		curr := predLink.to
		for curr != nil {
			succ := curr.next.Load()
			if succ.marked {
				repl := &link{to: succ.to}
				if pred.CompareAndSwap(predLink, repl) {
					g.deferDestroy(curr.owner)
					predLink = repl
				} else {
					predLink = pred.Load()
					if predLink.marked {
						if !yield(nil, errStalled) {
							return
						}
						pred = &l.head
						predLink = pred.Load()
					}
				}
				curr = predLink.to
				continue
			}
			if !yield(curr.owner, nil) {
				return
			}
			pred = &curr.next
			predLink = succ
			curr = succ.to
		}
	}
}

// len counts entries that are not deleted. It is a racy snapshot for
// diagnostics only.
func (l *list) len() int {
	n := 0
	for curr := l.head.Load().to; curr != nil; {
		succ := curr.next.Load()
		if !succ.marked {
			n++
		}
		curr = succ.to
	}
	return n
}

// drain destroys every remaining entry. It is only valid once no participant
// can touch the list again, and every entry must already be deleted.
func (l *list) drain(fn func(*Local)) {
	curr := l.head.Load().to
	for curr != nil {
		succ := curr.next.Load()
		if !succ.marked {
			panic(errors.AssertionFailedf("participant %p still registered at teardown", curr.owner))
		}
		fn(curr.owner)
		curr = succ.to
	}
	l.head.Store(&link{})
}
