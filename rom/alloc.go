package rom

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/seiflotfy/romtext/internal/logger"
	"github.com/seiflotfy/romtext/placement"
)

// ErrNoSpace indicates no free region in the requested pages can hold the data.
var ErrNoSpace = errors.New("no free space")

// span is a half-open byte range [start, end) within one page.
type span struct {
	start, end int
}

// Allocator hands out free regions of an Image and writes placed data into
// them. Identical data already placed by the allocator within the requested
// pages is reused instead of being written again.
type Allocator struct {
	im *Image

	mu     sync.Mutex
	free   []span // sorted, disjoint, never crossing a page boundary
	placed []span // sorted by start
}

// NewAllocator returns an allocator over im with no free space.
func NewAllocator(im *Image) *Allocator {
	return &Allocator{im: im}
}

// Free marks [start, end) as available, split at page boundaries and merged
// with adjacent free space in the same page.
func (a *Allocator) Free(start, end placement.Address) error {
	if end < start {
		return fmt.Errorf("rom: free range %#x-%#x is reversed", start, end)
	}
	if err := a.im.check(start, int(end-start)); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	ps := a.im.pageSize
	for s := int(start); s < int(end); {
		e := min(int(end), (s/ps+1)*ps)
		a.free = append(a.free, span{s, e})
		s = e
	}
	a.normalize()
	return nil
}

// normalize sorts the free list and merges overlapping or touching spans
// that share a page.
func (a *Allocator) normalize() {
	slices.SortFunc(a.free, func(x, y span) int { return x.start - y.start })
	ps := a.im.pageSize
	out := a.free[:0]
	for _, s := range a.free {
		if n := len(out); n > 0 && s.start <= out[n-1].end && s.start/ps == out[n-1].start/ps {
			out[n-1].end = max(out[n-1].end, s.end)
			continue
		}
		out = append(out, s)
	}
	a.free = out
}

// FreeBytes returns the free space left in pages, or in the whole image when
// pages is the zero range.
func (a *Allocator) FreeBytes(pages placement.PageRange) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, s := range a.free {
		if pages != (placement.PageRange{}) && !pages.Contains(s.start/a.im.pageSize) {
			continue
		}
		n += s.end - s.start
	}
	return n
}

// Place implements placement.Allocator.
func (a *Allocator) Place(ctx context.Context, data []byte, pages placement.PageRange, label string) (placement.Address, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if addr, ok := a.find(data, pages); ok {
		logger.Debugf("rom: %s (%d bytes) reuses %#x", label, len(data), addr)
		return addr, nil
	}

	ps := a.im.pageSize
	for i, s := range a.free {
		if !pages.Contains(s.start/ps) || s.end-s.start < len(data) {
			continue
		}
		addr := placement.Address(s.start)
		if err := a.im.Write(addr, data); err != nil {
			return 0, err
		}
		if a.free[i].start += len(data); a.free[i].start == a.free[i].end {
			a.free = slices.Delete(a.free, i, i+1)
		}
		a.record(span{s.start, s.start + len(data)})
		logger.Debugf("rom: %s (%d bytes) at %#x", label, len(data), addr)
		return addr, nil
	}
	return 0, fmt.Errorf("%w: %d bytes in %s", ErrNoSpace, len(data), pages)
}

// find looks for data inside a region this allocator already wrote.
func (a *Allocator) find(data []byte, pages placement.PageRange) (placement.Address, bool) {
	if len(data) == 0 {
		return 0, false
	}
	for _, s := range a.placed {
		if !pages.Contains(s.start/a.im.pageSize) || s.end-s.start < len(data) {
			continue
		}
		if i := bytes.Index(a.im.data[s.start:s.end], data); i >= 0 {
			return placement.Address(s.start + i), true
		}
	}
	return 0, false
}

// record adds s to the placed list, joining it with a placed span it
// directly follows in the same page.
func (a *Allocator) record(s span) {
	i, _ := slices.BinarySearchFunc(a.placed, s.start, func(x span, start int) int { return x.start - start })
	if i > 0 && a.placed[i-1].end == s.start && s.start%a.im.pageSize != 0 {
		a.placed[i-1].end = s.end
		return
	}
	a.placed = slices.Insert(a.placed, i, s)
}
