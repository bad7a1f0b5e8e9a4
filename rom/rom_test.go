package rom

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/seiflotfy/romtext"
	"github.com/seiflotfy/romtext/msgtext"
	"github.com/seiflotfy/romtext/placement"
)

func newTestImage(t *testing.T, pages int) *Image {
	t.Helper()
	im, err := NewImage(make([]byte, pages*0x100), 0x100)
	if err != nil {
		t.Fatal(err)
	}
	return im
}

// ============================================================================
// Image
// ============================================================================

func TestNewImage(t *testing.T) {
	if _, err := NewImage(make([]byte, 0x100), 0); err == nil {
		t.Error("zero page size accepted")
	}
	if _, err := NewImage(make([]byte, 0x180), 0x100); err == nil {
		t.Error("partial page accepted")
	}
	im := newTestImage(t, 4)
	if im.Pages() != 4 || im.Len() != 0x400 || im.PageSize() != 0x100 {
		t.Errorf("pages=%d len=%#x page size=%#x", im.Pages(), im.Len(), im.PageSize())
	}
	if im.Page(0x2ff) != 2 {
		t.Errorf("Page(0x2ff) = %d", im.Page(0x2ff))
	}
}

func TestImageReadWrite(t *testing.T) {
	im := newTestImage(t, 2)
	if err := im.Write(0x10, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	if got, _ := im.Read(0x10, 3); string(got) != "abc" {
		t.Errorf("Read = %q", got)
	}
	if err := im.WriteUint16(0x20, 0xBEEF); err != nil {
		t.Fatal(err)
	}
	if got := im.Bytes()[0x20:0x22]; !bytes.Equal(got, []byte{0xEF, 0xBE}) {
		t.Errorf("stored % x, want little endian", got)
	}
	if v, _ := im.ReadUint16(0x20); v != 0xBEEF {
		t.Errorf("ReadUint16 = %#x", v)
	}

	for name, err := range map[string]error{
		"write":  im.Write(0x1ff, []byte("ab")),
		"uint16": im.WriteUint16(0x1ff, 1),
	} {
		if !errors.Is(err, ErrOutOfRange) {
			t.Errorf("%s past end: %v", name, err)
		}
	}
	if _, err := im.ReadUint16(0x200); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("ReadUint16 past end: %v", err)
	}
}

func TestImageSaveLoad(t *testing.T) {
	im := newTestImage(t, 2)
	im.Write(0x123, []byte("saved"))
	path := filepath.Join(t.TempDir(), "out.bin")
	if err := im.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path, 0x100)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(loaded.Bytes(), im.Bytes()) {
		t.Error("loaded image differs")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.bin"), 0x100); err == nil {
		t.Error("missing file loaded")
	}
}

func TestImageResolve(t *testing.T) {
	im := newTestImage(t, 4)
	tests := []struct {
		ptr     uint16
		page    int
		want    placement.Address
		wantErr bool
	}{
		{0x8000, 2, 0x200, false},
		{0x80ff, 2, 0x2ff, false},
		{0x8100, 2, 0, true},
		{0x7fff, 2, 0, true},
		{0x8000, 4, 0, true},
	}
	for _, tt := range tests {
		got, err := im.Resolve(tt.ptr, tt.page, 0x8000)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("Resolve($%04x, %d) = %#x, %v", tt.ptr, tt.page, got, err)
		}
	}
}

func TestImageReadMessage(t *testing.T) {
	im := newTestImage(t, 1)
	im.Write(0x10, []byte{0x05, 0x00, 'a', 0x09, 0x00, 0x00, 'z'})
	got, err := im.ReadMessage(0x10)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0x05, 0x00, 'a', 0x09, 0x00, 0x00}) {
		t.Errorf("ReadMessage = % x", got)
	}

	full := bytes.Repeat([]byte{'x'}, 0x100)
	im.Write(0, full)
	if _, err := im.ReadMessage(0); !errors.Is(err, msgtext.ErrCorruptMessage) {
		t.Errorf("unterminated message: %v", err)
	}
	if _, err := im.ReadString(0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("unterminated string: %v", err)
	}
}

// ============================================================================
// Allocator
// ============================================================================

func TestAllocatorFree(t *testing.T) {
	im := newTestImage(t, 4)
	a := NewAllocator(im)
	if err := a.Free(0x80, 0x280); err != nil {
		t.Fatal(err)
	}
	if err := a.Free(0x280, 0x2a0); err != nil {
		t.Fatal(err)
	}
	if len(a.free) != 3 {
		t.Fatalf("free spans = %v, want 3 split at page boundaries", a.free)
	}
	if a.free[2] != (span{0x200, 0x2a0}) {
		t.Errorf("adjacent spans not merged: %v", a.free)
	}
	if got := a.FreeBytes(placement.PageRange{}); got != 0x220 {
		t.Errorf("FreeBytes = %#x", got)
	}
	if got := a.FreeBytes(placement.PageRange{Start: 1, End: 2}); got != 0x100 {
		t.Errorf("FreeBytes(page 1) = %#x", got)
	}
	if err := a.Free(0x300, 0x500); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Free past end: %v", err)
	}
	if err := a.Free(0x20, 0x10); err == nil {
		t.Error("reversed range accepted")
	}
}

func TestAllocatorPlace(t *testing.T) {
	ctx := context.Background()
	im := newTestImage(t, 4)
	a := NewAllocator(im)
	a.Free(0x80, 0x280)

	addr, err := a.Place(ctx, make([]byte, 0x90), placement.PageRange{Start: 0, End: 3}, "big")
	if err != nil {
		t.Fatal(err)
	}
	if addr != 0x100 {
		t.Errorf("first fit placed big chunk at %#x, want 0x100", addr)
	}

	addr, err = a.Place(ctx, []byte("hello\x00"), placement.PageRange{Start: 0, End: 1}, "hello")
	if err != nil || addr != 0x80 {
		t.Fatalf("Place = %#x, %v", addr, err)
	}
	if got, _ := im.Read(0x80, 6); string(got) != "hello\x00" {
		t.Errorf("image holds %q", got)
	}

	before := a.FreeBytes(placement.PageRange{})
	addr, err = a.Place(ctx, []byte("llo\x00"), placement.PageRange{Start: 0, End: 1}, "suffix")
	if err != nil || addr != 0x82 {
		t.Errorf("suffix reuse = %#x, %v", addr, err)
	}
	if a.FreeBytes(placement.PageRange{}) != before {
		t.Error("reuse consumed free space")
	}

	// Identical data outside the requested pages is not reused.
	addr, err = a.Place(ctx, []byte("hello\x00"), placement.PageRange{Start: 2, End: 3}, "elsewhere")
	if err != nil || addr != 0x200 {
		t.Errorf("Place in page 2 = %#x, %v", addr, err)
	}

	_, err = a.Place(ctx, make([]byte, 0x81), placement.PageRange{Start: 0, End: 1}, "too big")
	if !errors.Is(err, ErrNoSpace) {
		t.Errorf("oversized Place: %v", err)
	}
	_, err = a.Place(ctx, []byte("x"), placement.PageRange{Start: 3, End: 4}, "no free pages")
	if !errors.Is(err, ErrNoSpace) {
		t.Errorf("Place without free space: %v", err)
	}
}

func TestAllocatorExhaustsSpan(t *testing.T) {
	ctx := context.Background()
	a := NewAllocator(newTestImage(t, 1))
	a.Free(0, 4)
	for i := 0; i < 4; i++ {
		if _, err := a.Place(ctx, []byte{byte(i + 1)}, placement.PageRange{Start: 0, End: 1}, "byte"); err != nil {
			t.Fatal(err)
		}
	}
	if len(a.free) != 0 {
		t.Errorf("free spans left: %v", a.free)
	}
}

func TestAllocatorConcurrent(t *testing.T) {
	ctx := context.Background()
	a := NewAllocator(newTestImage(t, 4))
	a.Free(0, 0x400)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		addrs = map[placement.Address]bool{}
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data := []byte(fmt.Sprintf("chunk %02d\x00", i))
			addr, err := a.Place(ctx, data, placement.PageRange{Start: 0, End: 4}, "chunk")
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if addrs[addr] {
				t.Errorf("address %#x handed out twice", addr)
			}
			addrs[addr] = true
		}()
	}
	wg.Wait()
}

// ============================================================================
// String tables and placement round trip
// ============================================================================

func TestStringTable(t *testing.T) {
	im := newTestImage(t, 2)
	im.Write(0x100, []byte("Zelda\x00Mesia\x00"))
	im.WriteUint16(0x20, 0xC000)
	im.WriteUint16(0x22, 0xC006)
	im.WriteUint16(0x24, 0xD000)

	st, err := NewStringTable(im, 0x20, 3, 1, 0xC000, 1)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{"Zelda", "Mesia", "Zelda", "Mesia"} {
		got, err := st.Get(i % 2)
		if err != nil || got != want {
			t.Errorf("Get(%d) = %q, %v", i%2, got, err)
		}
	}
	if _, err := st.Get(2); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("bad pointer: %v", err)
	}
	if _, err := st.Get(3); !errors.Is(err, msgtext.ErrUnknownReference) {
		t.Errorf("index past table: %v", err)
	}
	if _, err := NewStringTable(im, 0x1fe, 2, 1, 0xC000, 0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("table past end: %v", err)
	}
}

func TestResolverMissingTable(t *testing.T) {
	r := &Resolver{}
	for _, op := range []byte{msgtext.CodeBase, msgtext.Extended, msgtext.Person, msgtext.ItemName} {
		if _, err := r.Resolve(op, 0); !errors.Is(err, msgtext.ErrUnknownReference) {
			t.Errorf("op $%02x: %v", op, err)
		}
	}
}

func TestPlacedMessagesDecodeFromImage(t *testing.T) {
	im := newTestImage(t, 8)
	// Person name table in page 6, mapped at $C000.
	im.Write(0x600, []byte("Zelda\x00"))
	im.WriteUint16(0x610, 0xC000)
	persons, err := NewStringTable(im, 0x610, 1, 6, 0xC000, 0)
	if err != nil {
		t.Fatal(err)
	}

	c := romtext.NewCorpus()
	c.Add(0, "go now friend", "")
	c.Add(0, "go now stranger", "")
	c.Add(0, "ask {00:Zelda} now", "")
	c.Add(1, "now friend", "")
	c.Add(1, "go now friend", "")
	c.Add(1, "never shown", "").Unused = true
	res, err := romtext.New(romtext.WithShortCodes(1)).Compress(c, nil)
	if err != nil {
		t.Fatal(err)
	}

	layout := placement.Layout{
		PageSize:   0x100,
		Groups:     []placement.PageRange{{Start: 1, End: 2, Org: 0x8000}, {Start: 1, End: 2, Org: 0x8000}},
		Tables:     placement.PageRange{Start: 3, End: 4, Org: 0xA000},
		Dictionary: placement.PageRange{Start: 4, End: 6, Org: 0xA000},
		Slots: map[string]placement.Address{
			placement.SlotDictionary:         0x10,
			placement.SlotDictionaryLong:     0x12,
			placement.SlotDictionaryPointers: 0x14,
			placement.SlotLongPointers:       0x16,
		},
	}
	alloc := NewAllocator(im)
	if err := alloc.Free(0x100, 0x600); err != nil {
		t.Fatal(err)
	}
	coord := &placement.Coordinator{Layout: layout, Allocator: alloc, Patcher: im}
	p, err := coord.Place(context.Background(), res)
	if err != nil {
		t.Fatal(err)
	}

	dict := res.Dictionary
	if dict.Len() < 2 {
		t.Fatalf("dictionary has %d entries, want short and long codes", dict.Len())
	}
	dictPage := im.Page(p.Dictionary)
	slot := func(addr placement.Address) placement.Address {
		ptr, err := im.ReadUint16(addr)
		if err != nil {
			t.Fatal(err)
		}
		a, err := im.Resolve(ptr, dictPage, layout.Dictionary.Org)
		if err != nil {
			t.Fatal(err)
		}
		return a
	}
	if got := slot(0x10); got != p.Dictionary {
		t.Errorf("dictionary slot points at %#x, want %#x", got, p.Dictionary)
	}
	if got, want := slot(0x12), p.Dictionary+placement.Address(len(dict.Entries[0].Text)+1); got != want {
		t.Errorf("dictionary_long slot points at %#x, want %#x", got, want)
	}
	if s, err := im.ReadString(slot(0x12)); err != nil || s != dict.Entries[1].Text {
		t.Errorf("first two-byte entry = %q, %v, want %q", s, err, dict.Entries[1].Text)
	}
	short, err := NewStringTable(im, slot(0x14), 1, dictPage, layout.Dictionary.Org, 0)
	if err != nil {
		t.Fatal(err)
	}
	long, err := NewStringTable(im, slot(0x16), dict.Len()-1, dictPage, layout.Dictionary.Org, 0)
	if err != nil {
		t.Fatal(err)
	}
	r := &Resolver{Short: short, Long: long, Persons: persons}

	for g := 0; g < c.Groups(); g++ {
		for i := 0; i < c.GroupLen(g); i++ {
			id := romtext.MessageID{Group: g, Index: i}
			ptr, err := im.ReadUint16(p.GroupTables[g] + placement.Address(2*i))
			if err != nil {
				t.Fatal(err)
			}
			addr, err := im.Resolve(ptr, layout.Groups[g].Start, layout.Groups[g].Org)
			if err != nil {
				t.Fatalf("%s: %v", id, err)
			}
			data, err := im.ReadMessage(addr)
			if err != nil {
				t.Fatalf("%s: %v", id, err)
			}
			got, err := msgtext.Decode(data, r)
			if err != nil {
				t.Fatalf("%s: decode % x: %v", id, data, err)
			}
			m, _ := c.Message(id)
			want := m.Text
			if m.Unused {
				want = ""
			}
			if got != want {
				t.Errorf("%s decodes to %q, want %q", id, got, want)
			}
		}
	}

	if got := im.Bytes()[0x700:]; !bytes.Equal(got, make([]byte, 0x100)) {
		t.Error("placement wrote outside freed space")
	}
}
