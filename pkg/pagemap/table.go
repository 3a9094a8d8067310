package pagemap

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"
)

// growChunk is the page-rounded doubling unit: the array never grows by
// less than this many cells at a time, so repeated single-page faults
// near the end of an object don't reallocate on every call.
const growChunk = 64

// Range is a half-open page range [Start, End).
type Range struct {
	Start int
	End   int
}

// Table is the page-map: a growable array of per-page Cells plus an
// auxiliary incore index for fast bulk queries. Table holds no lock of
// its own — every caller already holds the owning pager's mu, per the
// pager's locking invariant, so adding a second lock here would only
// ever be taken in lockstep with the first.
type Table struct {
	cells  []Cell
	incore *bitset.BitSet
}

// New returns an empty table; Resize grows it lazily as pages are
// touched.
func New() *Table {
	return &Table{incore: bitset.New(0)}
}

// Len returns the current backing array length in pages.
func (t *Table) Len() int {
	return len(t.cells)
}

// Resize grows the table so it covers at least n pages. It never
// shrinks and never reorders existing cells. On allocation failure the
// table is left exactly as it was and the error is returned; Go's
// allocator panics rather than returning an error for ordinary make(),
// so the failure path here is reserved for an explicit, caller-imposed
// ceiling (MaxPages) that stands in for the original's vm_allocate
// failing — without it there would be nothing for this function to ever
// report.
func (t *Table) Resize(n int) error {
	if n <= len(t.cells) {
		return nil
	}

	if MaxPages > 0 && n > MaxPages {
		return errors.Errorf("pagemap: resize to %d pages exceeds limit of %d", n, MaxPages)
	}

	target := len(t.cells)
	if target < growChunk {
		target = growChunk
	}
	for target < n {
		target *= 2
	}

	grown := make([]Cell, target)
	copy(grown, t.cells)
	t.cells = grown

	return nil
}

// MaxPages bounds the table's growth; zero means unbounded. It exists so
// Resize has a real failure mode to test and report, matching the
// spec's "on allocation failure the operation must propagate it without
// corrupting the existing array" contract.
var MaxPages int

// Get returns the cell for page. Addressing past the current array size
// is "no state" — all bits zero — per the spec.
func (t *Table) Get(page int) Cell {
	if page < 0 || page >= len(t.cells) {
		return 0
	}

	return t.cells[page]
}

// Set stores cell for page, growing the table first if necessary, and
// keeps the incore index in sync.
func (t *Table) Set(page int, cell Cell) error {
	if err := t.Resize(page + 1); err != nil {
		return err
	}

	t.cells[page] = cell
	if cell.Has(Incore) {
		t.incore.Set(uint(page))
	} else {
		t.incore.Clear(uint(page))
	}

	return nil
}

// Mutate applies fn to the cell at page (growing the table first) and
// stores the result.
func (t *Table) Mutate(page int, fn func(Cell) Cell) error {
	return t.Set(page, fn(t.Get(page)))
}

// AnyIncore reports whether any page in [r.Start, r.End) currently has
// Incore set, using the auxiliary bitset index instead of a linear
// rescan of t.cells.
func (t *Table) AnyIncore(r Range) bool {
	if r.Start < 0 || r.Start >= r.End {
		return false
	}

	next, ok := t.incore.NextSet(uint(r.Start))

	return ok && int(next) < r.End
}

// MarkError stores err in the ERROR field of every cell in r and clears
// Incore (the kernel may no longer be told this data is cached-valid).
// A future pagein of any page in r sees a latched read error.
func (t *Table) MarkError(r Range, err ErrKind) error {
	err = CoerceErr(err)

	if e := t.Resize(r.End); e != nil {
		return e
	}

	for page := r.Start; page < r.End; page++ {
		if e := t.Mutate(page, func(c Cell) Cell {
			return c.withError(err) &^ Incore
		}); e != nil {
			return e
		}
	}

	return nil
}

// MarkNextRequestError stores err in the NEXTERROR field of every cell
// in r. It is consumed only by a pagein that also asks for write
// access; a read-only pagein must leave it untouched.
func (t *Table) MarkNextRequestError(r Range, err ErrKind) error {
	err = CoerceErr(err)

	if e := t.Resize(r.End); e != nil {
		return e
	}

	for page := r.Start; page < r.End; page++ {
		if e := t.Mutate(page, func(c Cell) Cell {
			return c.withNextError(err)
		}); e != nil {
			return e
		}
	}

	return nil
}

// ConsumeNextError reads and clears the NEXTERROR field for page,
// returning NoError if none was staged. Callers must only invoke this
// for a pagein that requests write access.
func (t *Table) ConsumeNextError(page int) ErrKind {
	c := t.Get(page)
	k := c.NextError()
	if k == NoError {
		return NoError
	}

	_ = t.Mutate(page, Cell.clearNextError)

	return k
}

// ClearLatchedError clears the ERROR field for every page in r,
// typically after a successful DataSupply replaces the bad contents.
func (t *Table) ClearLatchedError(r Range) error {
	if e := t.Resize(r.End); e != nil {
		return e
	}

	for page := r.Start; page < r.End; page++ {
		if e := t.Mutate(page, func(c Cell) Cell {
			return c.withError(NoError)
		}); e != nil {
			return e
		}
	}

	return nil
}
