package pager

import (
	"context"

	"github.com/pkg/errors"

	"github.com/joshumax/expager/pkg/pagemap"
	"github.com/joshumax/expager/pkg/reqqueue"
	"github.com/joshumax/expager/pkg/transport"
)

// LockOptions configures a synchronous or asynchronous lock_object
// call (§4.8).
type LockOptions struct {
	ShouldReturn bool
	ShouldFlush  bool
	LockValue    int
	Sync         bool
}

// lockObject is the core of §4.8: issue a kernel lock-request RPC and,
// if opts.Sync, register a record and wait for it to drain.
func (p *Pager) lockObject(ctx context.Context, byteRange transport.Range, opts LockOptions) error {
	rng := p.pageRange(byteRange.Start, byteRange.End-byteRange.Start)
	key := reqqueue.LockKey{Start: rng.Start, End: rng.End}

	var req *reqqueue.LockRequest
	if opts.Sync {
		req = p.reqs.FindOrCreateLock(key)
		req.LocksPending++
		req.ThreadsWaiting++
	}

	ret := transport.ReturnNone
	if opts.ShouldReturn {
		ret = transport.ReturnDirty
	}

	reply := transport.Endpoint(nil)
	if opts.Sync {
		reply = p.control
	}

	out := p.out

	p.mu.Unlock()
	err := out.LockRequest(byteRange, ret, opts.ShouldFlush, opts.LockValue, reply)
	p.mu.Lock()

	if err != nil {
		if opts.Sync {
			p.unregisterLock(key, req)
		}

		return err
	}

	if !opts.Sync {
		return nil
	}

	waitErr := p.waitLocked(ctx, req.Done)

	req.ThreadsWaiting--
	if req.ThreadsWaiting == 0 {
		p.reqs.RemoveLock(key)
	}

	if waitErr != nil {
		return waitErr
	}

	if opts.ShouldFlush && p.pm.AnyIncore(rng) {
		for page := rng.Start; page < rng.End; page++ {
			if err := p.pm.Mutate(page, func(c pagemap.Cell) pagemap.Cell { return c &^ pagemap.Incore }); err != nil {
				return err
			}
		}
	}

	return nil
}

func (p *Pager) unregisterLock(key reqqueue.LockKey, req *reqqueue.LockRequest) {
	req.LocksPending--
	req.ThreadsWaiting--

	if req.ThreadsWaiting == 0 {
		p.reqs.RemoveLock(key)
	}
}

// Sync issues a synchronous, waiting return-and-lock over the whole
// object's known extent.
func (p *Pager) Sync(ctx context.Context) error {
	rng, err := p.fullRange(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.lockObject(ctx, rng, LockOptions{ShouldReturn: true, ShouldFlush: false, Sync: true})
}

// SyncSome issues a return-and-lock over byteRange, optionally waiting.
func (p *Pager) SyncSome(ctx context.Context, byteRange transport.Range, wait bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.lockObject(ctx, byteRange, LockOptions{ShouldReturn: true, ShouldFlush: false, Sync: wait})
}

// Flush asks the kernel to drop its cached copy of the whole object,
// without returning data, and waits for it.
func (p *Pager) Flush(ctx context.Context) error {
	rng, err := p.fullRange(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.lockObject(ctx, rng, LockOptions{ShouldReturn: false, ShouldFlush: true, Sync: true})
}

// FlushSome asks the kernel to drop its cached copy of byteRange,
// without returning data, optionally waiting.
func (p *Pager) FlushSome(ctx context.Context, byteRange transport.Range, wait bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.lockObject(ctx, byteRange, LockOptions{ShouldReturn: false, ShouldFlush: true, Sync: wait})
}

// Return asks the kernel to hand back the whole object.
func (p *Pager) Return(ctx context.Context, wait bool) error {
	rng, err := p.fullRange(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.lockObject(ctx, rng, LockOptions{ShouldReturn: true, ShouldFlush: true, Sync: wait})
}

// ReturnSome asks the kernel to hand back byteRange.
func (p *Pager) ReturnSome(ctx context.Context, byteRange transport.Range, wait bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.lockObject(ctx, byteRange, LockOptions{ShouldReturn: true, ShouldFlush: true, Sync: wait})
}

// fullRange reports the object's whole extent as a byte range, per the
// C4 backing-store callback (spec §6, report_extent): the kernel-facing
// range for a whole-object sync/flush/return comes from the store, not
// from how much of the page-map has been touched locally so far. The
// store is called with mu released, matching backend.Store's calling
// convention.
func (p *Pager) fullRange(ctx context.Context) (transport.Range, error) {
	p.mu.Lock()
	store, upi, pageSize := p.store, p.upi, p.pageSize
	p.mu.Unlock()

	first, pastEnd, err := store.ReportExtent(upi)
	if err != nil {
		return transport.Range{}, errors.Wrap(err, "pager: report extent")
	}

	return transport.Range{
		Start: int64(first) * int64(pageSize),
		End:   int64(pastEnd) * int64(pageSize),
	}, nil
}
