package pager

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/joshumax/expager/pkg/transport"
)

// fakeStore is a minimal in-memory backend.Store for tests, with hooks
// to observe call ordering and inject delays/errors.
type fakeStore struct {
	mu sync.Mutex

	pages map[int][]byte

	onRead  func(startPage, n int)
	onWrite func(startPage, n int)

	writeErr error

	unlockCalled bool
	weakDropped  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{pages: make(map[int][]byte)}
}

func (s *fakeStore) Read(_ context.Context, _ any, startPage, n int) ([]byte, error) {
	if s.onRead != nil {
		s.onRead(startPage, n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, n*backendPageSize)
	for i := 0; i < n; i++ {
		if data, ok := s.pages[startPage+i]; ok {
			copy(buf[i*backendPageSize:], data)
		}
	}

	return buf, nil
}

func (s *fakeStore) Write(_ context.Context, _ any, startPage, n int, buf []byte, _ bool) error {
	if s.onWrite != nil {
		s.onWrite(startPage, n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return s.writeErr
	}

	for i := 0; i < n; i++ {
		page := make([]byte, backendPageSize)
		copy(page, buf[i*backendPageSize:(i+1)*backendPageSize])
		s.pages[startPage+i] = page
	}

	return nil
}

func (s *fakeStore) Unlock(context.Context, any, int, int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unlockCalled = true

	return nil
}

func (s *fakeStore) ReportExtent(any) (int, int, error) { return 0, 0, nil }

func (s *fakeStore) ClearUserData(any) {}

// DropWeak implements backend.WeakDropper, so handleNotification's
// no-senders path has something to call.
func (s *fakeStore) DropWeak(any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.weakDropped = true
}

const backendPageSize = 4096

// fakeOutbox records every outbound call for assertions. LockRequest
// calls are auto-acked by default (a goroutine dispatches a matching
// LockCompleted back through the pager), standing in for a kernel that
// always honors lock requests; a test that needs to control the
// acknowledgement's timing explicitly sets disableLockAck first.
type fakeOutbox struct {
	mu sync.Mutex

	supplies []transport.Range
	errors   []transport.Range
	errKinds []int
	locks    []transport.Range
	attrs    []struct {
		mayCache bool
		strategy int
	}

	pager  *Pager
	seq    uint64
	onLock func(rng transport.Range)

	disableLockAck bool
}

// nextSeq hands out the next sequence number for a message this test
// will dispatch to the pager, so manual and auto-acked dispatches never
// collide.
func (o *fakeOutbox) nextSeq() uint64 {
	return atomic.AddUint64(&o.seq, 1)
}

func (o *fakeOutbox) DataSupply(rng transport.Range, _ []byte, _, _ bool, _ transport.Access, _ transport.Endpoint) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.supplies = append(o.supplies, rng)

	return nil
}

func (o *fakeOutbox) DataError(rng transport.Range, kind int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.errors = append(o.errors, rng)
	o.errKinds = append(o.errKinds, kind)

	return nil
}

func (o *fakeOutbox) DataUnavailable(transport.Range) error { return nil }

func (o *fakeOutbox) LockRequest(rng transport.Range, _ transport.ReturnKind, _ bool, _ int, _ transport.Endpoint) error {
	o.mu.Lock()
	o.locks = append(o.locks, rng)
	hook := o.onLock
	skipAck := o.disableLockAck
	o.mu.Unlock()

	if hook != nil {
		hook(rng)
	}

	if !skipAck {
		seq := o.nextSeq()
		go func() {
			_ = o.pager.Dispatch(context.Background(), transport.LockCompleted{
				MessageBase: transport.MessageBase{Seq: seq},
				Start:       rng.Start,
				Length:      rng.End - rng.Start,
			})
		}()
	}

	return nil
}

func (o *fakeOutbox) ChangeAttributes(mayCache bool, strategy int, _ transport.Endpoint) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.attrs = append(o.attrs, struct {
		mayCache bool
		strategy int
	}{mayCache, strategy})

	return nil
}

// newTestPager returns a pager already past init, with a fake store and
// outbox wired in.
func newTestPager() (*Pager, *fakeStore, *fakeOutbox) {
	store := newFakeStore()
	out := &fakeOutbox{}

	p := Create(Config{
		UPI:      "upi",
		Store:    store,
		Outbox:   out,
		PageSize: backendPageSize,
	})
	out.pager = p

	control := transport.NewEndpoint()
	name := transport.NewEndpoint()

	ctx := context.Background()
	_ = p.Dispatch(ctx, transport.Init{
		Control:  control,
		Name:     name,
		PageSize: backendPageSize,
	})

	return p, store, out
}

// newTestPagerUninit returns a pager that has not yet processed init,
// for tests of init's own validation.
func newTestPagerUninit() (*Pager, *fakeStore, *fakeOutbox) {
	store := newFakeStore()
	out := &fakeOutbox{}

	p := Create(Config{
		UPI:      "upi",
		Store:    store,
		Outbox:   out,
		PageSize: backendPageSize,
	})
	out.pager = p

	return p, store, out
}
