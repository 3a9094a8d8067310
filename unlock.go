package pager

import (
	"context"

	"go.uber.org/zap"

	"github.com/joshumax/expager/pkg/transport"
)

// handleDataUnlock implements the data-unlock handler contract (§4.6).
// It validates the request and delegates to the store's Unlock
// callback; the store answers asynchronously via DataUnlock/
// DataUnlockError, so no page-map state changes here.
func (p *Pager) handleDataUnlock(ctx context.Context, m transport.DataUnlock) error {
	if p.phase != Normal || !sameEndpoint(p.control, m.Control) {
		p.log.Warn("pager: data_unlock rejected", zap.String("phase", p.phase.String()))
		return nil
	}

	if m.Access != transport.AccessWrite {
		p.log.Warn("pager: data_unlock for non-write access ignored")
		return nil
	}

	rng := p.pageRange(m.Start, m.Length)
	startPage, n := rng.Start, rng.End-rng.Start
	upi, store := p.upi, p.store

	p.mu.Unlock()
	err := store.Unlock(ctx, upi, startPage, n)
	p.mu.Lock()

	return err
}
