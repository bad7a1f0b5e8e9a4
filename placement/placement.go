// Package placement lays encoded messages, their offset tables and the
// dictionary out in a paged image through an external allocator.
//
// A page is a fixed-size window of the image that the target maps at a
// fixed address (its origin) when selected. Every pointer written by this
// package is a 16-bit little-endian value: the page origin plus the offset
// within the page.
package placement

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/seiflotfy/romtext"
	"github.com/seiflotfy/romtext/internal/logger"
)

// Address is an offset into the image.
type Address uint32

// PageRange is the half-open range of pages [Start, End) a piece of data may
// be placed in; Org is the address the pages are mapped at.
type PageRange struct {
	Start int
	End   int
	Org   uint16
}

// Contains reports whether page p lies within r.
func (r PageRange) Contains(p int) bool { return r.Start <= p && p < r.End }

func (r PageRange) String() string { return fmt.Sprintf("pages [%#x, %#x) @ $%04x", r.Start, r.End, r.Org) }

// Allocator reserves space for data within pages and writes it there.
// Place must return an address whose bytes [addr, addr+len(data)) stay within
// one page of the range, and must be safe for concurrent use. Returning an
// address already holding identical bytes is allowed.
type Allocator interface {
	Place(ctx context.Context, data []byte, pages PageRange, label string) (Address, error)
}

// Patcher overwrites pointer slots in the image.
type Patcher interface {
	WriteUint16(addr Address, v uint16) error
}

// Slot names patched after placement.
const (
	SlotDictionary         = "dictionary"               // first dictionary string
	SlotDictionaryLong     = "dictionary_long"          // first two-byte entry string, or the end of the strings
	SlotDictionaryPointers = "dictionary_pointers"      // pointer table of single-byte entries
	SlotLongPointers       = "dictionary_long_pointers" // pointer table of two-byte entries
	SlotParts              = "parts"                    // per-group offset table pointers
	SlotBanks              = "banks"                    // per-group page bytes
)

var (
	// ErrPlacement indicates the allocator could not place a piece of data.
	ErrPlacement = errors.New("placement failed")
	// ErrAliasRange indicates an alias whose group lives in other pages than
	// its canonical message.
	ErrAliasRange = errors.New("alias outside canonical page range")
	// ErrLayout indicates an unusable layout.
	ErrLayout = errors.New("invalid layout")
)

// Layout says where each part of the output may go.
type Layout struct {
	PageSize   int
	Groups     []PageRange // per corpus group; each must be a single page
	Tables     PageRange   // offset, parts and bank tables
	Dictionary PageRange   // dictionary strings and pointer tables
	Slots      map[string]Address
}

// Pointer returns the mapped 16-bit pointer to addr in r.
func (l *Layout) Pointer(addr Address, r PageRange) uint16 {
	return r.Org + uint16(int(addr)%l.PageSize)
}

// Page returns the page holding addr.
func (l *Layout) Page(addr Address) int { return int(addr) / l.PageSize }

// pageOf narrows r to the page holding addr, so that data placed there can
// be reached with the same mapping as addr.
func (l *Layout) pageOf(addr Address, r PageRange) PageRange {
	pg := l.Page(addr)
	return PageRange{Start: pg, End: pg + 1, Org: r.Org}
}

// Validate checks the layout against a result with the given group count.
func (l *Layout) Validate(groups int) error {
	if l.PageSize <= 0 || l.PageSize > 1<<16 {
		return fmt.Errorf("%w: page size %d", ErrLayout, l.PageSize)
	}
	if len(l.Groups) < groups {
		return fmt.Errorf("%w: %d group ranges for %d groups", ErrLayout, len(l.Groups), groups)
	}
	for g, r := range l.Groups[:groups] {
		if r.End != r.Start+1 || r.Start < 0 || r.Start > 0xFF {
			return fmt.Errorf("%w: group %02x must map to a single page below $100, got %s", ErrLayout, g, r)
		}
	}
	for name, r := range map[string]PageRange{"tables": l.Tables, "dictionary": l.Dictionary} {
		if r.End <= r.Start || r.Start < 0 {
			return fmt.Errorf("%w: empty %s range %s", ErrLayout, name, r)
		}
	}
	return nil
}

// Placement records where everything went.
type Placement struct {
	Messages     map[romtext.MessageID]Address // every placed slot, aliases included
	Empty        map[int]Address               // shared empty message per group with unused slots
	GroupTables  []Address
	Parts        Address
	Banks        Address
	Dictionary   Address // dictionary strings
	LongStart    Address // first two-byte entry string, or the end of the strings
	ShortEntries Address // pointer table of single-byte entries
	LongEntries  Address // pointer table of two-byte entries
}

// Coordinator places a compression result.
type Coordinator struct {
	Layout      Layout
	Allocator   Allocator
	Patcher     Patcher // nil skips slot patches
	Concurrency int     // concurrent message placements (0 = 1)
}

func messageLabel(id romtext.MessageID) string { return "Message_" + id.String() }

// Place places every canonical message, then the empty message for unused
// slots, the offset tables, the parts and bank tables and the dictionary,
// and finally patches the configured slots.
func (c *Coordinator) Place(ctx context.Context, res *romtext.Result) (*Placement, error) {
	l := &c.Layout
	if err := l.Validate(len(res.Groups)); err != nil {
		return nil, err
	}
	for _, m := range res.Messages {
		for _, a := range m.Aliases {
			if l.Groups[a.Group] != l.Groups[m.ID.Group] {
				return nil, fmt.Errorf("%w: %s aliases %s", ErrAliasRange, a, m.ID)
			}
		}
	}

	p := &Placement{
		Messages: make(map[romtext.MessageID]Address),
		Empty:    make(map[int]Address),
	}
	addrs, err := c.placeMessages(ctx, res.Messages)
	if err != nil {
		return nil, err
	}
	for i, m := range res.Messages {
		p.Messages[m.ID] = addrs[i]
		for _, a := range m.Aliases {
			p.Messages[a] = addrs[i]
		}
	}

	// Unused slots share one empty message per group.
	for g, group := range res.Groups {
		if !slices.Contains(group, -1) {
			continue
		}
		label := fmt.Sprintf("Message_%02x:empty", g)
		addr, err := c.place(ctx, []byte{0}, l.Groups[g], label)
		if err != nil {
			return nil, err
		}
		p.Empty[g] = addr
	}

	if err := c.placeTables(ctx, res, p); err != nil {
		return nil, err
	}
	if err := c.placeDictionary(ctx, res.Dictionary, p); err != nil {
		return nil, err
	}
	if err := c.patch(p); err != nil {
		return nil, err
	}

	logger.Infof("placed %d messages in %d groups, %d dictionary entries", len(p.Messages), len(res.Groups), res.Dictionary.Len())
	return p, nil
}

// place calls the allocator and checks the returned address honors the range.
func (c *Coordinator) place(ctx context.Context, data []byte, pages PageRange, label string) (Address, error) {
	addr, err := c.Allocator.Place(ctx, data, pages, label)
	if err != nil {
		return 0, fmt.Errorf("%w: %s (%d bytes): %w", ErrPlacement, label, len(data), err)
	}
	first, last := c.Layout.Page(addr), c.Layout.Page(addr+Address(max(len(data), 1))-1)
	if first != last || !pages.Contains(first) {
		return 0, fmt.Errorf("%w: %s (%d bytes) placed at %#x outside %s", ErrPlacement, label, len(data), addr, pages)
	}
	return addr, nil
}

func (c *Coordinator) placeMessages(ctx context.Context, msgs []romtext.EncodedMessage) ([]Address, error) {
	addrs := make([]Address, len(msgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.Concurrency, 1))
	for i := range msgs {
		m := &msgs[i]
		g.Go(func() error {
			addr, err := c.place(gctx, m.Bytes, c.Layout.Groups[m.ID.Group], messageLabel(m.ID))
			if err != nil {
				return err
			}
			addrs[i] = addr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return addrs, nil
}

// placeTables writes the per-group offset tables as one block, then the
// parts table pointing at each of them and the bank table in the same page.
func (c *Coordinator) placeTables(ctx context.Context, res *romtext.Result, p *Placement) error {
	l := &c.Layout
	var (
		block   []byte
		offsets = make([]int, len(res.Groups))
	)
	for g, group := range res.Groups {
		offsets[g] = len(block)
		for i, n := range group {
			addr, ok := p.Messages[romtext.MessageID{Group: g, Index: i}]
			if n < 0 || !ok {
				addr = p.Empty[g]
			}
			block = binary.LittleEndian.AppendUint16(block, l.Pointer(addr, l.Groups[g]))
		}
	}
	if len(res.Groups) == 0 {
		return nil
	}

	base, err := c.place(ctx, nonEmpty(block), l.Tables, "MessageTables")
	if err != nil {
		return err
	}
	page := l.pageOf(base, l.Tables)
	parts := make([]byte, 0, 2*len(res.Groups))
	banks := make([]byte, 0, len(res.Groups))
	p.GroupTables = make([]Address, len(res.Groups))
	for g := range res.Groups {
		p.GroupTables[g] = base + Address(offsets[g])
		parts = binary.LittleEndian.AppendUint16(parts, l.Pointer(p.GroupTables[g], l.Tables))
		banks = append(banks, byte(l.Groups[g].Start))
	}
	if p.Parts, err = c.place(ctx, parts, page, "MessageParts"); err != nil {
		return err
	}
	if p.Banks, err = c.place(ctx, banks, page, "MessageBanks"); err != nil {
		return err
	}
	return nil
}

// placeDictionary writes the entry strings, then one pointer table for
// single-byte entries and one for two-byte entries in the same page.
func (c *Coordinator) placeDictionary(ctx context.Context, d *romtext.Dictionary, p *Placement) error {
	l := &c.Layout
	var err error
	table := d.Table()
	if p.Dictionary, err = c.place(ctx, nonEmpty(table), l.Dictionary, "Dictionary"); err != nil {
		return err
	}
	page := l.pageOf(p.Dictionary, l.Dictionary)

	offsets := d.Offsets()
	split := min(d.ShortCodes, len(offsets))
	p.LongStart = p.Dictionary + Address(len(table))
	if split < len(offsets) {
		p.LongStart = p.Dictionary + Address(offsets[split])
	}
	// Empty pointer tables sit where their entries would start.
	p.ShortEntries, p.LongEntries = p.Dictionary, p.LongStart
	pointers := func(offs []int) []byte {
		b := make([]byte, 0, 2*len(offs))
		for _, off := range offs {
			b = binary.LittleEndian.AppendUint16(b, l.Pointer(p.Dictionary+Address(off), l.Dictionary))
		}
		return b
	}
	if split > 0 {
		if p.ShortEntries, err = c.place(ctx, pointers(offsets[:split]), page, "DictionaryShort"); err != nil {
			return err
		}
	}
	if len(offsets) > split {
		if p.LongEntries, err = c.place(ctx, pointers(offsets[split:]), page, "DictionaryLong"); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) patch(p *Placement) error {
	if c.Patcher == nil {
		return nil
	}
	l := &c.Layout
	values := map[string]uint16{
		SlotDictionary:         l.Pointer(p.Dictionary, l.Dictionary),
		SlotDictionaryLong:     l.Pointer(p.LongStart, l.Dictionary),
		SlotDictionaryPointers: l.Pointer(p.ShortEntries, l.Dictionary),
		SlotLongPointers:       l.Pointer(p.LongEntries, l.Dictionary),
	}
	if p.GroupTables != nil {
		values[SlotParts] = l.Pointer(p.Parts, l.Tables)
		values[SlotBanks] = l.Pointer(p.Banks, l.Tables)
	}
	names := make([]string, 0, len(l.Slots))
	for name := range l.Slots {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		v, ok := values[name]
		if !ok {
			continue
		}
		if err := c.Patcher.WriteUint16(l.Slots[name], v); err != nil {
			return fmt.Errorf("patch slot %s at %#x: %w", name, l.Slots[name], err)
		}
		logger.Debugf("patched %s at %#x = $%04x", name, l.Slots[name], v)
	}
	return nil
}

// nonEmpty keeps zero-length tables addressable by placing a lone NUL.
func nonEmpty(b []byte) []byte {
	if len(b) == 0 {
		return []byte{0}
	}
	return b
}

// MemoryAllocator is an Allocator over an unbounded address space that
// packs data page by page. Data identical to an earlier placement within
// the requested pages resolves to the earlier address. It is useful for dry
// runs and tests.
type MemoryAllocator struct {
	PageSize int

	mu    sync.Mutex
	next  map[int]int // page -> next free offset
	data  map[Address][]byte
	order []Address // placement order, for deterministic reuse
}

// Place implements Allocator.
func (a *MemoryAllocator) Place(ctx context.Context, data []byte, pages PageRange, label string) (Address, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.next == nil {
		a.next = make(map[int]int)
		a.data = make(map[Address][]byte)
	}
	for _, addr := range a.order {
		if pages.Contains(int(addr)/a.PageSize) && bytes.Equal(a.data[addr], data) {
			return addr, nil
		}
	}
	for page := pages.Start; page < pages.End; page++ {
		off := a.next[page]
		if off+len(data) > a.PageSize {
			continue
		}
		a.next[page] = off + len(data)
		addr := Address(page*a.PageSize + off)
		a.data[addr] = append([]byte(nil), data...)
		a.order = append(a.order, addr)
		return addr, nil
	}
	return 0, fmt.Errorf("no room for %d bytes in %s", len(data), pages)
}

// Bytes returns the data placed at addr.
func (a *MemoryAllocator) Bytes(addr Address) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.data[addr]
}
