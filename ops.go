package pager

import (
	"context"

	"github.com/pkg/errors"

	"github.com/joshumax/expager/pkg/pagemap"
	"github.com/joshumax/expager/pkg/transport"
)

// OfferPage implements §4.10's offer_page: ensure the page-map reaches
// offset+1, wait-flush any incore copy, then hand the buffer to the
// kernel via DataSupply.
func (p *Pager) OfferPage(ctx context.Context, offset int64, precious bool, writelock bool, buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	page := int(offset / int64(p.pageSize))
	if err := p.pm.Resize(page + 1); err != nil {
		return err
	}

	pageRng := pagemap.Range{Start: page, End: page + 1}
	for p.pm.AnyIncore(pageRng) {
		byteRange := transport.Range{Start: offset, End: offset + int64(p.pageSize)}
		if err := p.lockObject(ctx, byteRange, LockOptions{ShouldReturn: false, ShouldFlush: true, Sync: true}); err != nil {
			return err
		}
	}

	if err := p.pm.Mutate(page, func(c pagemap.Cell) pagemap.Cell { return c | pagemap.Incore }); err != nil {
		return err
	}

	access := transport.AccessRead
	if writelock {
		access = transport.AccessWrite
	}

	byteRange := transport.Range{Start: offset, End: offset + int64(p.pageSize)}
	control := p.control
	out := p.out

	p.mu.Unlock()
	err := out.DataSupply(byteRange, buf, false, precious, access, control)
	p.mu.Lock()

	return err
}

// DataSupply implements §4.10: forward buf to the kernel, resize the
// page-map, and clear any latched error (and the Invalid bit) for the
// range.
func (p *Pager) DataSupply(ctx context.Context, byteRange transport.Range, precious, readonly bool, buf []byte, dealloc bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rng := p.pageRange(byteRange.Start, byteRange.End-byteRange.Start)
	if err := p.pm.Resize(rng.End); err != nil {
		return err
	}

	if err := p.pm.ClearLatchedError(rng); err != nil {
		return err
	}

	for page := rng.Start; page < rng.End; page++ {
		if err := p.pm.Mutate(page, func(c pagemap.Cell) pagemap.Cell { return c &^ pagemap.Invalid }); err != nil {
			return err
		}
	}

	access := transport.AccessWrite
	if readonly {
		access = transport.AccessRead
	}

	control := p.control
	out := p.out

	p.mu.Unlock()
	err := out.DataSupply(byteRange, buf, dealloc, precious, access, control)
	p.mu.Lock()

	return err
}

// DataReadError implements §4.10's data_read_error: report to the
// kernel, resize, and latch the error.
func (p *Pager) DataReadError(ctx context.Context, byteRange transport.Range, kind pagemap.ErrKind) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rng := p.pageRange(byteRange.Start, byteRange.End-byteRange.Start)
	if err := p.pm.MarkError(rng, kind); err != nil {
		return err
	}

	out := p.out

	p.mu.Unlock()
	err := out.DataError(byteRange, int(pagemap.CoerceErr(kind)))
	p.mu.Lock()

	return err
}

// DataWriteError implements §4.10's data_write_error: report to the
// kernel, resize, latch the error, and additionally mark every page in
// the range Invalid.
func (p *Pager) DataWriteError(ctx context.Context, byteRange transport.Range, kind pagemap.ErrKind) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rng := p.pageRange(byteRange.Start, byteRange.End-byteRange.Start)
	if err := p.pm.MarkError(rng, kind); err != nil {
		return err
	}

	for page := rng.Start; page < rng.End; page++ {
		if err := p.pm.Mutate(page, func(c pagemap.Cell) pagemap.Cell { return c | pagemap.Invalid }); err != nil {
			return err
		}
	}

	out := p.out

	p.mu.Unlock()
	err := out.DataError(byteRange, int(pagemap.CoerceErr(kind)))
	p.mu.Lock()

	return err
}

// DataUnlock implements §4.10: asks the kernel to lock the range for
// no-cache-write, asynchronously.
func (p *Pager) DataUnlock(ctx context.Context, byteRange transport.Range) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.lockObject(ctx, byteRange, LockOptions{ShouldReturn: false, ShouldFlush: false, Sync: false})
}

// DataUnlockError implements §4.10: flush the range synchronously and
// stage a NEXTERROR for the next write-access pagein.
func (p *Pager) DataUnlockError(ctx context.Context, byteRange transport.Range, kind pagemap.ErrKind) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.lockObject(ctx, byteRange, LockOptions{ShouldReturn: false, ShouldFlush: true, Sync: true}); err != nil {
		return err
	}

	rng := p.pageRange(byteRange.Start, byteRange.End-byteRange.Start)

	return p.pm.MarkNextRequestError(rng, kind)
}

// CreateROPort implements §4.10's create_ro_port: a read-only proxy
// endpoint for the same memory object. The core hands back a distinct
// Endpoint; wiring it to actually reject writes is the transport's job,
// since the spec leaves the wire format out of scope.
func (p *Pager) CreateROPort() transport.Endpoint {
	return transport.NewEndpoint()
}

// Shutdown implements §4.10: sync, flush, then release the pager's
// implicit strong reference, driving the SHUTDOWN transition and
// dropping the port bindings (see pkg/refcount wiring in pager.go).
func (p *Pager) Shutdown(ctx context.Context) error {
	if err := p.Sync(ctx); err != nil {
		return errors.Wrap(err, "pager: shutdown sync")
	}

	if err := p.Flush(ctx); err != nil {
		return errors.Wrap(err, "pager: shutdown flush")
	}

	p.mu.Lock()

	p.termWaiting = true
	if err := p.waitLocked(ctx, func() bool { return p.noterm == 0 }); err != nil {
		p.termWaiting = false
		p.mu.Unlock()
		return errors.Wrap(err, "pager: shutdown waiting for termination barrier")
	}
	p.termWaiting = false
	p.mu.Unlock()

	p.releaseInitialRef()

	return nil
}
