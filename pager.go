// Package pager implements the core multi-threaded pager engine: the
// mediator between a kernel-style external memory manager transport and
// a user-supplied backing store (see SPEC_FULL.md).
package pager

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/joshumax/expager/pkg/backend"
	"github.com/joshumax/expager/pkg/pagemap"
	"github.com/joshumax/expager/pkg/refcount"
	"github.com/joshumax/expager/pkg/reqqueue"
	"github.com/joshumax/expager/pkg/transport"
)

// Phase is the pager's lifecycle stage. It is monotone: UNINIT -> NORMAL
// -> SHUTDOWN, never backward.
type Phase uint32

const (
	Uninit Phase = iota
	Normal
	Shutdown
)

func (p Phase) String() string {
	switch p {
	case Uninit:
		return "UNINIT"
	case Normal:
		return "NORMAL"
	case Shutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// Attrs is the pair of cached attributes the kernel negotiates with the
// pager.
type Attrs struct {
	MayCache     bool
	CopyStrategy reqqueue.CopyStrategy
}

// Pager is the per-object state described by the spec's data model
// (C3). A single Pager is always serialized by mu; distinct Pagers run
// concurrently.
type Pager struct {
	mu sync.Mutex
	cv *sync.Cond

	phase Phase
	upi   any

	store backend.Store
	out   transport.Outbox
	log   *zap.Logger

	control, name transport.Endpoint
	pageSize      int

	attrs Attrs

	pm   *pagemap.Table
	reqs *reqqueue.Registry

	seqNext uint64

	noterm      uint32
	termWaiting bool

	// refs is the strong/weak reference count driving the SHUTDOWN
	// transition (spec §3 Lifecycle): New grants one implicit strong
	// reference, released exactly once (releaseInitialRef) when
	// terminate/Shutdown tears the object down. noSendersWeak is a
	// second, weak reference registered at init time standing in for
	// the kernel's no-senders notification bookkeeping; it is released
	// when that notification arrives.
	refs             *refcount.Counted
	refsReleased     bool
	noSendersWeak    refcount.Weak
	hasNoSendersWeak bool
}

// Config bundles what Create needs from the caller. PageSize must match
// what the kernel's init message will present; a mismatch is rejected
// (spec §6, init).
type Config struct {
	UPI      any
	Store    backend.Store
	Outbox   transport.Outbox
	Logger   *zap.Logger
	PageSize int
}

// Create returns a new pager in phase UNINIT, with one strong reference
// held implicitly by the caller (see pkg/refcount for explicit handle
// management on top of this).
func Create(cfg Config) *Pager {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = backend.PageSize
	}

	p := &Pager{
		phase:    Uninit,
		upi:      cfg.UPI,
		store:    cfg.Store,
		out:      cfg.Outbox,
		log:      log,
		pageSize: pageSize,
		pm:       pagemap.New(),
		reqs:     reqqueue.New(),
	}
	p.cv = sync.NewCond(&p.mu)
	p.refs = refcount.New(cfg.UPI, &pagerRefHooks{p: p})

	return p
}

// pagerRefHooks adapts Pager to refcount.Hooks: losing the last strong
// reference, however that happens, drives the SHUTDOWN teardown.
type pagerRefHooks struct{ p *Pager }

func (h *pagerRefHooks) NewRefs(any) {}

func (h *pagerRefHooks) LostRefs(any) { h.p.teardown() }

func (h *pagerRefHooks) TryDropWeak(any) {}

func (h *pagerRefHooks) Drop(any) { h.p.teardown() }

// teardown performs the SHUTDOWN transition described in spec §3
// Lifecycle: phase moves to SHUTDOWN, the port bindings are dropped,
// and the backing store's per-object state is torn down. It is
// idempotent, since both the LostRefs and Drop hooks may call it.
func (p *Pager) teardown() {
	p.mu.Lock()

	if p.phase == Shutdown {
		p.mu.Unlock()
		return
	}

	p.phase = Shutdown
	p.control = nil
	p.name = nil
	store, upi := p.store, p.upi
	p.cv.Broadcast()
	p.mu.Unlock()

	store.ClearUserData(upi)
}

// releaseInitialRef drops the pager's implicit initial strong reference
// (see Create) exactly once, regardless of which teardown path —
// terminate or Shutdown — gets there first.
func (p *Pager) releaseInitialRef() {
	p.mu.Lock()
	if p.refsReleased {
		p.mu.Unlock()
		return
	}
	p.refsReleased = true
	refs := p.refs
	p.mu.Unlock()

	refs.ReleaseInitial()
}

// StrongRef returns a new strong reference handle to the pager, for
// callers that want to keep the object alive independent of the port
// bindings (spec §3 Lifecycle: "strong references come from user code
// holding handles").
func (p *Pager) StrongRef() refcount.Strong {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.refs.StrongRef()
}

// WeakRef returns a new weak reference handle to the pager.
func (p *Pager) WeakRef() refcount.Weak {
	return p.refs.WeakRef()
}

// GetUPI returns the opaque user-supplied per-object state unchanged.
func (p *Pager) GetUPI() any {
	return p.upi
}

// Phase returns the pager's current lifecycle phase.
func (p *Pager) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.phase
}

// GetPort returns the pager's receive endpoint (the control port).
// Callers must mint their own send right from it.
func (p *Pager) GetPort() transport.Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.control
}

// GetError returns the page-map-latched error for page, or NoError if
// none is latched, for use by vmcopy's fault-classification.
func (p *Pager) GetError(page int) pagemap.ErrKind {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.pm.Get(page).Error()
}

// pageRange converts a byte [start, start+length) range into a page
// index Range.
func (p *Pager) pageRange(start, length int64) pagemap.Range {
	return pagemap.Range{
		Start: int(start / int64(p.pageSize)),
		End:   int((start + length + int64(p.pageSize) - 1) / int64(p.pageSize)),
	}
}

// sameEndpoint reports whether two (possibly nil) endpoints are the
// same control channel.
func sameEndpoint(a, b transport.Endpoint) bool {
	if a == nil || b == nil {
		return a == b
	}

	return a.Equal(b)
}

// waitLocked blocks on p.cv, with mu held, until done() is true or ctx
// is cancelled. mu must be locked on entry and is locked on return in
// all cases.
func (p *Pager) waitLocked(ctx context.Context, done func() bool) error {
	if done() {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cv.Broadcast()
			p.mu.Unlock()
		case <-stop:
		}
	}()

	for !done() {
		if err := ctx.Err(); err != nil {
			return err
		}

		p.cv.Wait()
	}

	return nil
}

// blockTermination increments the in-flight-handler count that forbids
// termination from completing (noterm += 1). mu must be held.
func (p *Pager) blockTermination() {
	p.noterm++
}

// allowTermination decrements noterm and wakes a waiting terminator if
// it reached zero. mu must be held.
func (p *Pager) allowTermination() {
	p.noterm--
	if p.noterm == 0 && p.termWaiting {
		p.cv.Broadcast()
	}
}
