// Package refcount implements manual strong/weak reference counting for
// the pager object, standing in for the original's hand-rolled
// ref-count pair. Counts are protected by a dedicated mutex disjoint
// from the pager's own mu, per the spec's deadlock-avoidance rule.
package refcount

import "sync"

// Hooks are the user-supplied callbacks driven by ref-count transitions.
type Hooks interface {
	// NewRefs is called under the pager's mu when a strong ref is taken
	// while weak > 0 and strong transitions 0 -> 1.
	NewRefs(upi any)
	// LostRefs is called when strong drops to 0 while weak > 0.
	LostRefs(upi any)
	// TryDropWeak is called at most once per LostRefs transition, when
	// the object is unlinked and weak refs might still be droppable.
	TryDropWeak(upi any)
	// Drop is called once both strong and weak reach 0; it tears down
	// port bookkeeping.
	Drop(upi any)
}

// Counted is a strong/weak reference-counted handle to upi.
type Counted struct {
	mu     sync.Mutex
	strong int
	weak   int
	upi    any
	hooks  Hooks

	unlinked      bool
	triedDropWeak bool
}

// New returns a Counted object with one strong reference.
func New(upi any, hooks Hooks) *Counted {
	return &Counted{strong: 1, upi: upi, hooks: hooks}
}

// Strong is a strong (keeps the object alive) handle.
type Strong struct{ c *Counted }

// Weak is a weak (does not keep the object alive) handle.
type Weak struct{ c *Counted }

// StrongRef returns a new Strong handle, incrementing the strong count.
func (c *Counted) StrongRef() Strong {
	c.mu.Lock()
	transitioned := c.strong == 0 && c.weak > 0
	c.strong++
	c.mu.Unlock()

	if transitioned {
		c.hooks.NewRefs(c.upi)
	}

	return Strong{c: c}
}

// WeakRef returns a new Weak handle, incrementing the weak count.
func (c *Counted) WeakRef() Weak {
	c.mu.Lock()
	c.weak++
	c.mu.Unlock()

	return Weak{c: c}
}

// MarkUnlinked records that the object has been removed from whatever
// index made it discoverable, enabling the single-attempt TryDropWeak
// call on the next LostRefs transition.
func (c *Counted) MarkUnlinked() {
	c.mu.Lock()
	c.unlinked = true
	c.mu.Unlock()
}

// Release drops a strong reference, delegating to the shared Counted.
func (s Strong) Release() {
	s.c.release()
}

// release drops a strong reference. When it reaches zero this may call
// LostRefs and, at most once, TryDropWeak; if both counts reach zero it
// calls Drop.
func (c *Counted) release() {
	c.mu.Lock()
	c.strong--

	strong, weak := c.strong, c.weak
	callLost := strong == 0 && weak > 0
	callTryDropWeak := callLost && c.unlinked && !c.triedDropWeak
	if callTryDropWeak {
		c.triedDropWeak = true
	}
	callDrop := strong == 0 && weak == 0
	c.mu.Unlock()

	if callLost {
		c.hooks.LostRefs(c.upi)
	}

	if callTryDropWeak {
		c.hooks.TryDropWeak(c.upi)
	}

	if callDrop {
		c.hooks.Drop(c.upi)
	}
}

// Release drops a weak reference, running Drop if it brings both counts
// to zero.
func (w Weak) Release() {
	c := w.c
	c.mu.Lock()
	c.weak--
	drop := c.strong == 0 && c.weak == 0
	c.mu.Unlock()

	if drop {
		c.hooks.Drop(c.upi)
	}
}

// ReleaseInitial drops the strong reference implicitly held since New,
// for an owner that never obtained a Strong handle for it (New starts
// strong at 1 with no corresponding Strong value).
func (c *Counted) ReleaseInitial() {
	c.release()
}

// Counts returns the current (strong, weak) pair, for tests and
// diagnostics.
func (c *Counted) Counts() (strong, weak int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.strong, c.weak
}
