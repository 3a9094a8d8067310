package pager

import (
	"context"

	"go.uber.org/zap"

	"github.com/joshumax/expager/pkg/transport"
)

// Dispatch is the sequencer (C5): it enforces strict per-object FIFO
// ordering by sequence number, then routes msg to its handler. A
// handler that doesn't recognize msg (there is none here, since
// transport.Message is a closed set, but unknown notification kinds
// behave the same way) still lets the sequence counter advance.
func (p *Pager) Dispatch(ctx context.Context, msg transport.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	seq := msg.SeqNo()
	if err := p.waitLocked(ctx, func() bool { return p.seqNext == seq }); err != nil {
		return err
	}

	defer func() {
		p.seqNext++
		p.cv.Broadcast()
	}()

	switch m := msg.(type) {
	case transport.Init:
		return p.handleInit(ctx, m)
	case transport.Terminate:
		return p.handleTerminate(ctx, m)
	case transport.DataRequest:
		return p.handlePagein(ctx, m)
	case transport.DataReturn:
		return p.handlePageout(ctx, m)
	case transport.DataUnlock:
		return p.handleDataUnlock(ctx, m)
	case transport.LockCompleted:
		return p.handleLockCompleted(ctx, m)
	case transport.ChangeCompleted:
		return p.handleChangeCompleted(ctx, m)
	case transport.Notification:
		return p.handleNotification(ctx, m)
	default:
		// Unrecognized message: the sequence counter still advances via
		// the deferred increment above; bookkeeping must not be lost to
		// garbage traffic.
		p.log.Warn("pager: dropping message of unknown type")
		return nil
	}
}

// handleInit binds the control/name ports and transitions UNINIT ->
// NORMAL. It rejects (as a no-op) wrong page size or a second init.
func (p *Pager) handleInit(_ context.Context, m transport.Init) error {
	if p.phase != Uninit {
		p.log.Warn("pager: init received outside UNINIT", zap.String("phase", p.phase.String()))
		return nil
	}

	if m.PageSize != p.pageSize {
		p.log.Warn("pager: init rejected, page size mismatch",
			zap.Int("want", p.pageSize), zap.Int("got", m.PageSize))
		return nil
	}

	p.control = m.Control
	p.name = m.Name
	p.phase = Normal
	p.noSendersWeak = p.refs.WeakRef()
	p.hasNoSendersWeak = true

	return nil
}

// handleTerminate blocks until no handler forbids termination, then
// releases the pager's implicit strong reference (releaseInitialRef),
// which drives the SHUTDOWN transition via the refcount Drop/LostRefs
// hooks (pager.go). Per the spec's monotone-phase invariant this moves
// the object to SHUTDOWN rather than literally back to UNINIT (see
// DESIGN.md).
func (p *Pager) handleTerminate(ctx context.Context, m transport.Terminate) error {
	if p.phase == Shutdown {
		return nil
	}

	if !sameEndpoint(p.control, m.Control) {
		p.log.Warn("pager: terminate from unrecognized control port")
		return nil
	}

	p.termWaiting = true
	err := p.waitLocked(ctx, func() bool { return p.noterm == 0 })
	p.termWaiting = false

	if err != nil {
		return err
	}

	p.mu.Unlock()
	p.releaseInitialRef()
	p.mu.Lock()

	return nil
}

// handleNotification advances the sequence counter for the six
// kernel notifications, and on no-senders additionally triggers the
// ref-count bookkeeping the caller has wired via WeakDropper.
func (p *Pager) handleNotification(_ context.Context, m transport.Notification) error {
	if m.Kind != transport.NotifyNoSenders {
		return nil
	}

	if dropper, ok := p.store.(interface{ DropWeak(any) }); ok {
		upi := p.upi

		p.mu.Unlock()
		dropper.DropWeak(upi)
		p.mu.Lock()
	}

	if p.hasNoSendersWeak {
		p.hasNoSendersWeak = false
		weak := p.noSendersWeak

		p.mu.Unlock()
		weak.Release()
		p.mu.Lock()
	}

	return nil
}
