package vmcopy

import (
	"context"
	"os"
	"testing"

	"github.com/edsrzf/mmap-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshumax/expager/pkg/pagemap"
)

const testPageSize = 4096

type fakeErrs struct {
	bad map[int]pagemap.ErrKind
}

func (f *fakeErrs) GetError(page int) pagemap.ErrKind {
	if f.bad == nil {
		return pagemap.NoError
	}
	return f.bad[page]
}

// memSource is a plain in-memory Source with no Mappable capability, to
// exercise the buffered fallback path.
type memSource struct {
	data []byte
}

func (m *memSource) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, m.data[off:off+int64(len(p))]), nil
}

func (m *memSource) WriteAt(p []byte, off int64) (int, error) {
	return copy(m.data[off:off+int64(len(p))], p), nil
}

// fileSource is a file-backed Source that also implements Mappable,
// exercising the windowed mmap fast path, grounded on block-device's
// mmapped type.
type fileSource struct {
	f *os.File
}

func (m *fileSource) ReadAt(p []byte, off int64) (int, error) {
	return m.f.ReadAt(p, off)
}

func (m *fileSource) WriteAt(p []byte, off int64) (int, error) {
	return m.f.WriteAt(p, off)
}

func (m *fileSource) MapWindow(offset, length int64) (mmap.MMap, error) {
	return mmap.MapRegion(m.f, int(length), mmap.RDWR, 0, offset)
}

func TestCopyBufferedFallbackUnaligned(t *testing.T) {
	src := &memSource{data: make([]byte, testPageSize*4)}
	for i := range src.data {
		src.data[i] = byte(i)
	}

	buf := make([]byte, 10)
	n, err := Copy(context.Background(), &fakeErrs{}, src, 5, buf, testPageSize, true)

	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	assert.Equal(t, src.data[5:15], buf)
}

func TestCopyWindowedFastPathAlignedLarge(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "vmcopy")
	require.NoError(t, err)
	defer f.Close()

	size := int64(testPageSize * 4)
	require.NoError(t, f.Truncate(size))

	want := make([]byte, size)
	for i := range want {
		want[i] = byte(i % 251)
	}
	_, err = f.WriteAt(want, 0)
	require.NoError(t, err)

	src := &fileSource{f: f}
	buf := make([]byte, testPageSize*2)

	n, err := Copy(context.Background(), &fakeErrs{}, src, 0, buf, testPageSize, true)
	require.NoError(t, err)
	assert.Equal(t, int64(testPageSize*2), n)
	assert.Equal(t, want[:testPageSize*2], buf)
}

func TestCopyAbortsAtFirstBadPage(t *testing.T) {
	src := &memSource{data: make([]byte, testPageSize*4)}
	errs := &fakeErrs{bad: map[int]pagemap.ErrKind{1: pagemap.IO}}

	buf := make([]byte, testPageSize*2)
	n, err := Copy(context.Background(), errs, src, 0, buf, testPageSize, true)

	require.Error(t, err)
	var copyErr *CopyErr
	require.ErrorAs(t, err, &copyErr)
	assert.Equal(t, 1, copyErr.Page)
	assert.Equal(t, pagemap.IO, copyErr.Kind)
	assert.Equal(t, int64(0), n, "the whole window is rejected before any bytes move")
}

func TestCopyReportsProgressBeforeLaterFault(t *testing.T) {
	src := &memSource{data: make([]byte, testPageSize*6)}
	errs := &fakeErrs{bad: map[int]pagemap.ErrKind{4: pagemap.IO}}

	// 5 pages at 2-page windows: [0,2) [2,4) [4,5) — the third window is
	// the first to touch the bad page 4, so the first two must land.
	buf := make([]byte, testPageSize*5)
	n, err := Copy(context.Background(), errs, src, 0, buf, testPageSize, true)

	require.Error(t, err)
	assert.Equal(t, int64(testPageSize*4), n, "the two good windows completed before the faulting one was attempted")
}
