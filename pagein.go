package pager

import (
	"context"

	"go.uber.org/zap"

	"github.com/joshumax/expager/pkg/pagemap"
	"github.com/joshumax/expager/pkg/transport"
)

// pageOutcome classifies a single page for a pagein request.
type pageOutcome struct {
	bad  bool
	kind pagemap.ErrKind
}

// handlePagein implements the pagein handler contract (§4.4). mu is
// held on entry and on return.
func (p *Pager) handlePagein(ctx context.Context, m transport.DataRequest) error {
	if p.phase != Normal || !sameEndpoint(p.control, m.Control) {
		p.log.Warn("pager: data_request rejected", zap.String("phase", p.phase.String()))
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

	outcomes := make([]pageOutcome, rng.End-rng.Start)
	for i, page := 0, rng.Start; page < rng.End; i, page = i+1, page+1 {
		outcomes[i] = p.classifyPagein(page, m.Access)
	}

	for i := 0; i < len(outcomes); {
		j := i
		for j < len(outcomes) && outcomes[j].bad == outcomes[i].bad && outcomes[j].kind == outcomes[i].kind {
			j++
		}

		runStart := rng.Start + i
		runLen := j - i

		var err error
		if outcomes[i].bad {
			err = p.reportPageinError(runStart, runLen, outcomes[i].kind)
		} else {
			err = p.supplyPagein(ctx, runStart, runLen)
		}

		if err != nil {
			return err
		}

		i = j
	}

	return nil
}

// classifyPagein determines whether page is good or carries a latched
// error, consuming NEXTERROR only when access asks for write — the
// boundary behavior spec.md §8 and §9's open question resolve: a
// read-only pagein never touches NEXTERROR.
func (p *Pager) classifyPagein(page int, access transport.Access) pageOutcome {
	c := p.pm.Get(page)

	if c.Has(pagemap.Invalid) {
		return pageOutcome{bad: true, kind: c.Error()}
	}

	if access == transport.AccessWrite {
		if kind := p.pm.ConsumeNextError(page); kind != pagemap.NoError {
			return pageOutcome{bad: true, kind: kind}
		}
	}

	return pageOutcome{}
}

// supplyPagein reads a run of good pages from the backing store and
// reports it to the kernel in one call.
func (p *Pager) supplyPagein(ctx context.Context, startPage, n int) error {
	upi := p.upi
	store := p.store
	out := p.out
	control := p.control

	p.mu.Unlock()
	buf, err := store.Read(ctx, upi, startPage, n)
	p.mu.Lock()

	if err != nil {
		// A backing-store read failure turns into a protocol error for
		// this run, matching §7 category 4.
		return p.reportPageinError(startPage, n, pagemap.IO)
	}

	pageRng := pagemap.Range{Start: startPage, End: startPage + n}
	if err := p.pm.ClearLatchedError(pageRng); err != nil {
		return err
	}

	for page := startPage; page < startPage+n; page++ {
		if err := p.pm.Mutate(page, func(c pagemap.Cell) pagemap.Cell {
			return c | pagemap.Init | pagemap.Incore
		}); err != nil {
			return err
		}
	}

	rng := transport.Range{Start: int64(startPage) * int64(p.pageSize), End: int64(startPage+n) * int64(p.pageSize)}

	p.mu.Unlock()
	err = out.DataSupply(rng, buf, false, false, transport.AccessRead, control)
	p.mu.Lock()

	return err
}

// reportPageinError sends data_error for a bad run and latches the
// error in the page-map so subsequent faults see it consistently.
func (p *Pager) reportPageinError(startPage, n int, kind pagemap.ErrKind) error {
	r := pagemap.Range{Start: startPage, End: startPage + n}
	if err := p.pm.MarkError(r, kind); err != nil {
		return err
	}

	rng := transport.Range{Start: int64(startPage) * int64(p.pageSize), End: int64(startPage+n) * int64(p.pageSize)}
	out := p.out

	p.mu.Unlock()
	err := out.DataError(rng, int(kind))
	p.mu.Lock()

	return err
}
