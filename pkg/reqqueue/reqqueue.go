// Package reqqueue tracks the pager's outstanding lock-request and
// attribute-change records. Everything here is driven under the owning
// pager's mu — see pkg/pagemap's Table for the same no-internal-lock
// reasoning.
package reqqueue

import "github.com/joshumax/expager/pkg/pagemap"

// CopyStrategy mirrors the kernel's memory_object copy strategy hint.
type CopyStrategy uint8

const (
	CopyNone CopyStrategy = iota
	CopyDelay
	CopyCall
	CopyTemporary
)

// LockKey is the tuple a lock-request record is keyed by.
type LockKey struct {
	Start, End int
}

// LockRequest is a pending asynchronous ask to the kernel to change
// protection/flush/writeback for a range of pages.
type LockRequest struct {
	Key            LockKey
	PendingWrites  int
	LocksPending   int
	ThreadsWaiting int
}

// Done reports whether the request has nothing left to wait for.
func (r *LockRequest) Done() bool {
	return r.LocksPending == 0 && r.PendingWrites == 0
}

// AttrKey is the tuple an attribute-request record is keyed by.
type AttrKey struct {
	MayCache     bool
	CopyStrategy CopyStrategy
}

// AttrRequest is a pending change-attributes acknowledgement.
type AttrRequest struct {
	Key            AttrKey
	AttrsPending   int
	ThreadsWaiting int
}

// Done reports whether the request has nothing left to wait for.
func (r *AttrRequest) Done() bool {
	return r.AttrsPending == 0
}

// Registry holds the two sets of outstanding request records.
type Registry struct {
	locks map[LockKey]*LockRequest
	attrs map[AttrKey]*AttrRequest
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		locks: make(map[LockKey]*LockRequest),
		attrs: make(map[AttrKey]*AttrRequest),
	}
}

// FindLock returns the existing record for key, if any.
func (r *Registry) FindLock(key LockKey) (*LockRequest, bool) {
	req, ok := r.locks[key]
	return req, ok
}

// FindOrCreateLock returns the existing record for key, creating one if
// absent.
func (r *Registry) FindOrCreateLock(key LockKey) *LockRequest {
	if req, ok := r.locks[key]; ok {
		return req
	}

	req := &LockRequest{Key: key}
	r.locks[key] = req

	return req
}

// RemoveLock unlinks the record for key. Callers must only do this once
// ThreadsWaiting has reached zero.
func (r *Registry) RemoveLock(key LockKey) {
	delete(r.locks, key)
}

// Overlapping returns every outstanding lock-request whose range
// intersects [start, end).
func (r *Registry) Overlapping(rng pagemap.Range) []*LockRequest {
	var out []*LockRequest

	for _, req := range r.locks {
		if req.Key.Start < rng.End && rng.Start < req.Key.End {
			out = append(out, req)
		}
	}

	return out
}

// FindOrCreateAttr returns the existing record for key, creating one if
// absent.
func (r *Registry) FindOrCreateAttr(key AttrKey) *AttrRequest {
	if req, ok := r.attrs[key]; ok {
		return req
	}

	req := &AttrRequest{Key: key}
	r.attrs[key] = req

	return req
}

// FindAttr returns the existing record for key, if any.
func (r *Registry) FindAttr(key AttrKey) (*AttrRequest, bool) {
	req, ok := r.attrs[key]
	return req, ok
}

// RemoveAttr unlinks the record for key.
func (r *Registry) RemoveAttr(key AttrKey) {
	delete(r.attrs, key)
}
