package pager

import (
	"context"

	"go.uber.org/zap"

	"github.com/joshumax/expager/pkg/pagemap"
	"github.com/joshumax/expager/pkg/transport"
)

// handlePageout implements the pageout handler contract (§4.5). mu is
// held on entry and on return.
func (p *Pager) handlePageout(ctx context.Context, m transport.DataReturn) error {
	if p.phase != Normal || !sameEndpoint(p.control, m.Control) {
		p.log.Warn("pager: data_return rejected", zap.String("phase", p.phase.String()))
		return nil
	}

	if !m.Dirty {
		// Nothing to do: the kernel is informing, not paying us to write.
		return nil
	}

	rng := p.pageRange(m.Start, m.Length)
	if err := p.pm.Resize(rng.End); err != nil {
		return err
	}

	p.blockTermination()
	defer p.allowTermination()

	for {
		conflict := -1

		for page := rng.Start; page < rng.End; page++ {
			if p.pm.Get(page).Has(pagemap.Pagingout) {
				conflict = page
				break
			}
		}

		if conflict < 0 {
			break
		}

		if err := p.pm.Mutate(conflict, func(c pagemap.Cell) pagemap.Cell { return c | pagemap.Writewait }); err != nil {
			return err
		}

		page := conflict
		if err := p.waitLocked(ctx, func() bool { return !p.pm.Get(page).Has(pagemap.Pagingout) }); err != nil {
			return err
		}
	}

	for page := rng.Start; page < rng.End; page++ {
		if err := p.pm.Mutate(page, func(c pagemap.Cell) pagemap.Cell {
			c |= pagemap.Pagingout | pagemap.Init
			if !m.KCopy {
				c &^= pagemap.Incore
			}
			return c
		}); err != nil {
			return err
		}
	}

	touched := p.reqs.Overlapping(rng)
	for _, req := range touched {
		req.PendingWrites++
	}

	startPage, n := rng.Start, rng.End-rng.Start
	upi, store, buf, dealloc := p.upi, p.store, m.Buf, true

	p.mu.Unlock()
	writeErr := store.Write(ctx, upi, startPage, n, buf, dealloc)
	p.mu.Lock()

	broadcast := false

	for page := rng.Start; page < rng.End; page++ {
		c := p.pm.Get(page)
		if c.Has(pagemap.Writewait) {
			broadcast = true
		}

		if err := p.pm.Mutate(page, func(c pagemap.Cell) pagemap.Cell {
			return c &^ (pagemap.Pagingout | pagemap.Writewait)
		}); err != nil {
			return err
		}
	}

	for _, req := range touched {
		req.PendingWrites--
		if req.Done() {
			broadcast = true
		}
	}

	if broadcast {
		p.cv.Broadcast()
	}

	if writeErr != nil {
		p.log.Error("pager: backend write failed", zap.Error(writeErr))
		return writeErr
	}

	return nil
}

