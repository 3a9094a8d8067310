package pagemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableGetUnallocatedIsZero(t *testing.T) {
	tbl := New()
	assert.Equal(t, Cell(0), tbl.Get(5), "addressing past the array counts as no state")
}

func TestTableSetGetGrowsArray(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Set(3, Init|Incore))

	assert.Equal(t, Init|Incore, tbl.Get(3))
	assert.GreaterOrEqual(t, tbl.Len(), 4)
	assert.Equal(t, Cell(0), tbl.Get(0), "other pages in the grown array stay zeroed")
}

func TestTableResizeNeverShrinks(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Set(100, Init))
	before := tbl.Len()

	require.NoError(t, tbl.Resize(1))
	assert.Equal(t, before, tbl.Len())
}

func TestTableResizeFailureLeavesArrayUnchanged(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Set(0, Init))

	MaxPages = 10
	defer func() { MaxPages = 0 }()

	err := tbl.Resize(1000)
	require.Error(t, err)
	assert.Equal(t, Init, tbl.Get(0), "existing state must survive a failed resize")
}

func TestMarkErrorLatchesAndClearsIncore(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Set(0, Init|Incore))
	require.NoError(t, tbl.Set(1, Init|Incore))

	require.NoError(t, tbl.MarkError(Range{0, 2}, IO))

	for page := 0; page < 2; page++ {
		c := tbl.Get(page)
		assert.Equal(t, IO, c.Error())
		assert.False(t, c.Has(Incore))
	}
}

func TestMarkErrorCoercesUnknownKind(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.MarkError(Range{0, 1}, ErrKind(200)))
	assert.Equal(t, IO, tbl.Get(0).Error())
}

func TestNextErrorOnlyConsumedOnce(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.MarkNextRequestError(Range{0, 1}, NoSpace))

	assert.Equal(t, NoSpace, tbl.Get(0).NextError())

	got := tbl.ConsumeNextError(0)
	assert.Equal(t, NoSpace, got)
	assert.Equal(t, NoError, tbl.Get(0).NextError(), "consuming clears the staged error")

	assert.Equal(t, NoError, tbl.ConsumeNextError(0), "second consume finds nothing left")
}

func TestAnyIncoreUsesIndex(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Set(0, Init))
	require.NoError(t, tbl.Set(5, Init|Incore))

	assert.False(t, tbl.AnyIncore(Range{0, 5}))
	assert.True(t, tbl.AnyIncore(Range{0, 6}))
}

func TestClearLatchedError(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.MarkError(Range{0, 1}, IO))
	require.NoError(t, tbl.ClearLatchedError(Range{0, 1}))

	assert.Equal(t, NoError, tbl.Get(0).Error())
}
