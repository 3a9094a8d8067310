package pager

import (
	"context"

	"github.com/joshumax/expager/pkg/reqqueue"
	"github.com/joshumax/expager/pkg/transport"
)

// ChangeAttributes implements §4.9: it mirrors lockObject's synchronous
// wait machinery but keyed on (mayCache, copyStrategy). Even if the
// cached attributes already match what's requested, a caller asking for
// wait=true still runs the full round trip if a prior change is still
// pending, so it observes that earlier change finish first.
func (p *Pager) ChangeAttributes(ctx context.Context, mayCache bool, strategy reqqueue.CopyStrategy, wait bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := reqqueue.AttrKey{MayCache: mayCache, CopyStrategy: strategy}

	var req *reqqueue.AttrRequest
	if wait {
		req = p.reqs.FindOrCreateAttr(key)
		req.AttrsPending++
		req.ThreadsWaiting++
	}

	reply := transport.Endpoint(nil)
	if wait {
		reply = p.control
	}

	out := p.out

	p.mu.Unlock()
	err := out.ChangeAttributes(mayCache, int(strategy), reply)
	p.mu.Lock()

	if err != nil {
		if wait {
			req.AttrsPending--
			req.ThreadsWaiting--
			if req.ThreadsWaiting == 0 {
				p.reqs.RemoveAttr(key)
			}
		}

		return err
	}

	if !wait {
		p.attrs.MayCache = mayCache
		p.attrs.CopyStrategy = strategy

		return nil
	}

	waitErr := p.waitLocked(ctx, req.Done)

	req.ThreadsWaiting--
	if req.ThreadsWaiting == 0 {
		p.reqs.RemoveAttr(key)
	}

	if waitErr != nil {
		return waitErr
	}

	p.attrs.MayCache = mayCache
	p.attrs.CopyStrategy = strategy

	return nil
}

// Attrs returns the pager's currently cached attributes.
func (p *Pager) Attrs() Attrs {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.attrs
}
