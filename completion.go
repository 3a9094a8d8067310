package pager

import (
	"context"

	"github.com/joshumax/expager/pkg/reqqueue"
	"github.com/joshumax/expager/pkg/transport"
)

// handleLockCompleted implements §4.7's lock-completion handler: find
// the matching outstanding request by its (start, end) key and
// decrement LocksPending.
func (p *Pager) handleLockCompleted(_ context.Context, m transport.LockCompleted) error {
	rng := p.pageRange(m.Start, m.Length)
	key := reqqueue.LockKey{Start: rng.Start, End: rng.End}

	req, ok := p.reqs.FindLock(key)
	if !ok {
		p.log.Warn("pager: lock_completed for unknown request")
		return nil
	}

	req.LocksPending--
	if req.Done() {
		p.cv.Broadcast()
	}

	return nil
}

// handleChangeCompleted implements §4.7's attribute-completion handler:
// find the matching outstanding request by its (may_cache,
// copy_strategy) key and decrement AttrsPending.
func (p *Pager) handleChangeCompleted(_ context.Context, m transport.ChangeCompleted) error {
	key := reqqueue.AttrKey{MayCache: m.MayCache, CopyStrategy: reqqueue.CopyStrategy(m.CopyStrategy)}

	req, ok := p.reqs.FindAttr(key)
	if !ok {
		p.log.Warn("pager: change_completed for unknown request")
		return nil
	}

	req.AttrsPending--
	if req.Done() {
		p.cv.Broadcast()
	}

	return nil
}
