package memory

// Bag is a fixed-capacity buffer of deferred functions owned by one
// participant. It never grows: once full, the owner seals it and hands it to
// the global queue.
//
// Functions pushed into a bag may run on any goroutine.
type Bag struct {
	deferreds [MaxObjects]Deferred
	len       int
}

func NewBag() *Bag {
	return &Bag{}
}

func (b *Bag) IsEmpty() bool {
	return b.len == 0
}

func (b *Bag) Len() int {
	return b.len
}

// TryPush stores d if there is room. When the bag is full it returns d
// unchanged and false; the bag is not modified.
func (b *Bag) TryPush(d Deferred) (Deferred, bool) {
	if b.len == MaxObjects {
		return d, false
	}
	b.deferreds[b.len] = d
	b.len++
	return Deferred{}, true
}

// run invokes every stored function in push order and leaves the bag empty.
// It returns how many functions ran.
func (b *Bag) run() int {
	n := b.len
	for i := 0; i < n; i++ {
		b.deferreds[i].Call()
	}
	b.len = 0
	return n
}

// seal moves the contents of b into a sealed bag stamped with epoch and
// resets b to empty.
func (b *Bag) seal(epoch Epoch) *sealedBag {
	s := &sealedBag{epoch: epoch, bag: *b}
	*b = Bag{}
	return s
}

// sealedBag pairs a bag with the global epoch observed when it was handed
// off. Only the epoch is read concurrently; the bag belongs to whoever pops
// it from the queue.
type sealedBag struct {
	epoch Epoch
	bag   Bag
}

// isExpired reports whether no pinned participant can still hold a reference
// that predates the seal. Two advances are needed: a participant pinned when
// the bag was sealed may observe at most one more successor before it has to
// re-pin.
func (s *sealedBag) isExpired(global Epoch) bool {
	return global.WrappingSub(s.epoch) >= 2
}
