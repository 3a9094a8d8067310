package backend

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// PageSize is the page granularity every reference backend in this
// package operates on.
const PageSize = 4096

// Memory is an in-memory Store, handy for tests and the demo binary. It
// mirrors block-device's MmapCache in spirit (a flat byte buffer guarded
// by a mutex) without the mmap plumbing.
type Memory struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemory returns a Memory store pre-sized to hold n pages.
func NewMemory(n int) *Memory {
	return &Memory{data: make([]byte, n*PageSize)}
}

func (m *Memory) ensure(upToByte int) {
	if upToByte <= len(m.data) {
		return
	}

	grown := make([]byte, upToByte)
	copy(grown, m.data)
	m.data = grown
}

func (m *Memory) Read(_ context.Context, _ any, startPage, n int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := startPage * PageSize
	end := start + n*PageSize

	if end > len(m.data) {
		return make([]byte, n*PageSize), nil
	}

	out := make([]byte, n*PageSize)
	copy(out, m.data[start:end])

	return out, nil
}

func (m *Memory) Write(_ context.Context, _ any, startPage, n int, buf []byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := startPage * PageSize
	end := start + n*PageSize

	if len(buf) < n*PageSize {
		return errors.Errorf("backend: short write buffer: got %d bytes, want %d", len(buf), n*PageSize)
	}

	m.ensure(end)
	copy(m.data[start:end], buf[:n*PageSize])

	return nil
}

func (m *Memory) Unlock(context.Context, any, int, int) error {
	return nil
}

func (m *Memory) ReportExtent(any) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return 0, len(m.data) / PageSize, nil
}

func (m *Memory) ClearUserData(any) {}
