package romtext

import (
	"fmt"

	"github.com/seiflotfy/romtext/lpm"
	"github.com/seiflotfy/romtext/msgtext"
)

// Entry is an admitted dictionary string.
type Entry struct {
	Index  int
	Text   string
	Code   []byte      // reference bytes emitted in encoded messages
	Refs   []MessageID // messages the entry was found in, aliases included
	Saving int         // projected saving at admission
}

// Dictionary is the ordered set of admitted entries. Entries below
// ShortCodes use single-byte codes, the rest two-byte codes.
//
// Dictionaries returned by Compress and Result.ReadFrom index their entries
// once; Entries must not change afterwards. A Dictionary built by hand is
// indexed on every Encode.
type Dictionary struct {
	Entries    []Entry
	ShortCodes int

	matcher *lpm.LongestPrefixMatcher
}

func newDictionary(entries []Entry, shortCodes int) *Dictionary {
	return &Dictionary{Entries: entries, ShortCodes: shortCodes, matcher: buildMatcher(entries)}
}

// Len returns the number of entries.
func (d *Dictionary) Len() int { return len(d.Entries) }

// Table returns the serialized dictionary: every entry followed by a NUL.
func (d *Dictionary) Table() []byte {
	buf := make([]byte, 0, d.Size())
	for _, e := range d.Entries {
		buf = append(buf, e.Text...)
		buf = append(buf, 0)
	}
	return buf
}

// Size returns the length of Table.
func (d *Dictionary) Size() int {
	n := 0
	for _, e := range d.Entries {
		n += len(e.Text) + 1
	}
	return n
}

// Offsets returns the offset of every entry within Table.
func (d *Dictionary) Offsets() []int {
	offs := make([]int, len(d.Entries))
	n := 0
	for i, e := range d.Entries {
		offs[i] = n
		n += len(e.Text) + 1
	}
	return offs
}

// Lookup returns the entry referenced by a single-byte code (op CodeBase,
// index relative to CodeBase) or a two-byte code (op Extended).
func (d *Dictionary) Lookup(op, index byte) (string, error) {
	i := -1
	switch op {
	case msgtext.CodeBase:
		if int(index) < d.ShortCodes {
			i = int(index)
		}
	case msgtext.Extended:
		i = d.ShortCodes + int(index)
	}
	if i < 0 || i >= len(d.Entries) {
		return "", fmt.Errorf("%w: $%02x:%02x", msgtext.ErrUnknownReference, op, index)
	}
	return d.Entries[i].Text, nil
}

// Resolver returns a msgtext.Resolver expanding dictionary codes and
// delegating named placeholders to names, which may be nil.
func (d *Dictionary) Resolver(names msgtext.Resolver) msgtext.Resolver {
	return msgtext.ResolverFunc(func(op, index byte) (string, error) {
		switch op {
		case msgtext.CodeBase, msgtext.Extended:
			return d.Lookup(op, index)
		}
		if names == nil {
			return "", fmt.Errorf("%w: $%02x:%02x", msgtext.ErrUnknownReference, op, index)
		}
		return names.Resolve(op, index)
	})
}

// Decode expands an encoded message back into text.
func (d *Dictionary) Decode(data []byte, names msgtext.Resolver) (string, error) {
	return msgtext.Decode(data, d.Resolver(names))
}

func (d *Dictionary) index() *lpm.LongestPrefixMatcher {
	if d.matcher == nil {
		return buildMatcher(d.Entries)
	}
	return d.matcher
}

func buildMatcher(entries []Entry) *lpm.LongestPrefixMatcher {
	m := lpm.NewLongestPrefixMatcher()
	for i, e := range entries {
		m.Insert([]byte(e.Text), uint16(i))
	}
	return m
}
