package refcount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHooks struct {
	newRefs, lostRefs, tryDropWeak, drop int
}

func (h *recordingHooks) NewRefs(any)     { h.newRefs++ }
func (h *recordingHooks) LostRefs(any)    { h.lostRefs++ }
func (h *recordingHooks) TryDropWeak(any) { h.tryDropWeak++ }
func (h *recordingHooks) Drop(any)        { h.drop++ }

func TestStrongRefTransitionCallsNewRefs(t *testing.T) {
	hooks := &recordingHooks{}
	c := New("upi", hooks)

	w := c.WeakRef()
	c.StrongRef().Release() // 2 -> 1, no transition
	assert.Equal(t, 0, hooks.newRefs)

	first := c.StrongRef() // strong was 1, not 0 -> 1 transition, still no NewRefs
	first.Release()
	assert.Equal(t, 0, hooks.newRefs)

	s := New("upi2", hooks)
	s.strong = 0
	s.weak = 1
	s.StrongRef()
	assert.Equal(t, 1, hooks.newRefs)

	w.Release()
}

func TestLostRefsAndTryDropWeakOnce(t *testing.T) {
	hooks := &recordingHooks{}
	c := New("upi", hooks)
	c.WeakRef()
	c.MarkUnlinked()

	c.StrongRef()           // strong = 2
	c.StrongRef().Release() // strong = 2 still (paired ref+release), net no-op on count beyond the explicit one below
	require.Equal(t, 2, func() int { s, _ := c.Counts(); return s }())

	Strong{c: c}.Release() // back to 1
	Strong{c: c}.Release() // back to 0 -> triggers LostRefs + TryDropWeak

	assert.Equal(t, 1, hooks.lostRefs)
	assert.Equal(t, 1, hooks.tryDropWeak)
	assert.Equal(t, 0, hooks.drop)
}

func TestDropWhenBothCountsReachZero(t *testing.T) {
	hooks := &recordingHooks{}
	c := New("upi", hooks)
	w := c.WeakRef()

	Strong{c: c}.Release()
	assert.Equal(t, 0, hooks.drop)

	w.Release()
	assert.Equal(t, 1, hooks.drop)
}
