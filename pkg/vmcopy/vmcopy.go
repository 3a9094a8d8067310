// Package vmcopy implements the pager's safe pager-backed memcpy
// (§4.11): copy bytes between a mapped backing object and a user
// buffer, with well-defined, partial-progress failure if the pager has
// a latched error for a page the copy touches.
package vmcopy

import (
	"context"
	"fmt"
	"io"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"

	"github.com/joshumax/expager/pkg/pagemap"
)

// WindowPages is the number of pages each copy window spans (the last
// window of a copy may be shorter). It is also the minimum copy length,
// in pages, for the windowed mmap fast path.
const WindowPages = 2

// ErrSource supplies the page-map-latched error for a page, standing in
// for pager_get_error.
type ErrSource interface {
	GetError(page int) pagemap.ErrKind
}

// Mappable is the optional capability a backend exposes when its
// storage can be memory-mapped directly, enabling the VM-copy fast
// path. Backends that can't support it (e.g. a network-backed store)
// simply don't implement it, and Copy falls back to the buffered path.
type Mappable interface {
	// MapWindow returns an mmap.MMap view over [offset, offset+length)
	// of the backing storage. Callers must Unmap it when done.
	MapWindow(offset, length int64) (mmap.MMap, error)
}

// CopyErr is returned when a fault is discovered mid-copy. BytesCopied
// reports how much of the transfer completed before the fault, matching
// the spec's "report the number of bytes successfully copied before the
// fault" contract.
type CopyErr struct {
	Page        int
	Kind        pagemap.ErrKind
	BytesCopied int64
}

func (e *CopyErr) Error() string {
	return fmt.Sprintf("vmcopy: fault on page %d (kind %d) after %d bytes", e.Page, e.Kind, e.BytesCopied)
}

// Source is the backing object side of the copy: an addressable byte
// range the pager mediates.
type Source interface {
	io.ReaderAt
	io.WriterAt
}

// Copy moves n bytes between src (the pager-backed object, at byte
// offset) and buf (the user buffer), in the direction given by toBuf:
// true means object -> buf (a pagein-style read), false means
// buf -> object (a pageout-style write).
//
// If offset and len(buf) are mutually page-aligned and at least
// WindowPages*pageSize, and src implements Mappable, the windowed mmap
// fast path is used; otherwise Copy falls back to ReadAt/WriteAt
// through fixed-size windows.
//
// Before touching any window, Copy consults errs.GetError for every
// page the window covers; the first bad page aborts the copy and
// returns *CopyErr with BytesCopied set to the progress made so far,
// without ever reading or writing bytes belonging to that page.
func Copy(ctx context.Context, errs ErrSource, src Source, offset int64, buf []byte, pageSize int, toBuf bool) (int64, error) {
	if pageSize <= 0 {
		return 0, errors.New("vmcopy: pageSize must be positive")
	}

	n := int64(len(buf))
	if n == 0 {
		return 0, nil
	}

	aligned := offset%int64(pageSize) == 0 && n%int64(pageSize) == 0 && n >= int64(WindowPages*pageSize)

	var (
		mapper Mappable
		ok     bool
	)

	if aligned {
		mapper, ok = src.(Mappable)
	}

	windowSize := int64(WindowPages * pageSize)

	var copied int64

	for copied < n {
		if err := ctx.Err(); err != nil {
			return copied, err
		}

		step := windowSize
		if remaining := n - copied; remaining < step {
			step = remaining
		}

		curOffset := offset + copied
		startPage := int(curOffset / int64(pageSize))
		endPage := int((curOffset + step + int64(pageSize) - 1) / int64(pageSize))

		for page := startPage; page < endPage; page++ {
			if kind := errs.GetError(page); kind != pagemap.NoError {
				return copied, &CopyErr{Page: page, Kind: kind, BytesCopied: copied}
			}
		}

		var err error
		if ok {
			err = copyWindowMapped(mapper, curOffset, buf[copied:copied+step], toBuf)
		} else {
			err = copyWindowBuffered(src, curOffset, buf[copied:copied+step], toBuf)
		}

		if err != nil {
			return copied, errors.Wrapf(err, "vmcopy: copying window at offset %d", curOffset)
		}

		copied += step
	}

	return copied, nil
}

func copyWindowBuffered(src Source, offset int64, window []byte, toBuf bool) error {
	if toBuf {
		_, err := src.ReadAt(window, offset)
		return err
	}

	_, err := src.WriteAt(window, offset)
	return err
}

func copyWindowMapped(m Mappable, offset int64, window []byte, toBuf bool) error {
	mm, err := m.MapWindow(offset, int64(len(window)))
	if err != nil {
		return err
	}
	defer mm.Unmap()

	if toBuf {
		copy(window, mm)
	} else {
		copy(mm, window)
	}

	return nil
}
