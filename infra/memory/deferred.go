package memory

// Deferred is a stored cleanup action that has not run yet.
//
// The zero value is a no-op. Call runs the action at most once: the value
// is emptied before the function is invoked, so a Deferred copied out of a
// bag slot and called cannot run again through the slot.
type Deferred struct {
	fn func()
}

func NewDeferred(fn func()) Deferred {
	return Deferred{fn: fn}
}

// IsZero reports whether d holds no action.
func (d *Deferred) IsZero() bool {
	return d.fn == nil
}

// Call runs the action and empties d.
func (d *Deferred) Call() {
	fn := d.fn
	d.fn = nil
	if fn != nil {
		fn()
	}
}
