package rom

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/seiflotfy/romtext/msgtext"
	"github.com/seiflotfy/romtext/placement"
)

// DefaultCacheSize is the number of strings a StringTable keeps by default.
const DefaultCacheSize = 256

// StringTable reads NUL-terminated strings through a table of 16-bit
// pointers. Strings are read on first use and cached.
type StringTable struct {
	im    *Image
	table placement.Address
	count int
	page  int    // page holding the strings
	org   uint16 // address the page is mapped at
	cache *lru.Cache[int, string]
}

// NewStringTable returns a table of count pointers at table whose strings
// live in page, mapped at org. A cacheSize of zero selects DefaultCacheSize.
func NewStringTable(im *Image, table placement.Address, count, page int, org uint16, cacheSize int) (*StringTable, error) {
	if err := im.check(table, 2*count); err != nil {
		return nil, err
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[int, string](cacheSize)
	if err != nil {
		return nil, err
	}
	return &StringTable{im: im, table: table, count: count, page: page, org: org, cache: cache}, nil
}

// Len returns the number of entries.
func (t *StringTable) Len() int { return t.count }

// Get returns entry i.
func (t *StringTable) Get(i int) (string, error) {
	if i < 0 || i >= t.count {
		return "", fmt.Errorf("%w: entry %d of %d", msgtext.ErrUnknownReference, i, t.count)
	}
	if s, ok := t.cache.Get(i); ok {
		return s, nil
	}
	ptr, err := t.im.ReadUint16(t.table + placement.Address(2*i))
	if err != nil {
		return "", err
	}
	addr, err := t.im.Resolve(ptr, t.page, t.org)
	if err != nil {
		return "", fmt.Errorf("entry %d: %w", i, err)
	}
	s, err := t.im.ReadString(addr)
	if err != nil {
		return "", fmt.Errorf("entry %d: %w", i, err)
	}
	t.cache.Add(i, s)
	return s, nil
}

// Resolver expands message references from tables in the image: dictionary
// codes through Short and Long, named placeholders through Persons and
// Items. A nil table resolves nothing.
type Resolver struct {
	Short, Long    *StringTable
	Persons, Items *StringTable
}

// Resolve implements msgtext.Resolver.
func (r *Resolver) Resolve(op, index byte) (string, error) {
	var t *StringTable
	switch op {
	case msgtext.CodeBase:
		t = r.Short
	case msgtext.Extended:
		t = r.Long
	case msgtext.Person:
		t = r.Persons
	case msgtext.ItemName:
		t = r.Items
	}
	if t == nil {
		return "", fmt.Errorf("%w: $%02x:%02x", msgtext.ErrUnknownReference, op, index)
	}
	return t.Get(int(index))
}
