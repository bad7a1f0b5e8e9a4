// Package msgtext defines the message byte grammar and its text form.
//
// A message is stored as a byte stream terminated by End. Its decoded text
// form uses printable ASCII plus a handful of placeholders:
//
//	\n         line break            0x02
//	#          continue marker       0x03 0x01
//	{:HERO:}   primary actor         0x04
//	[:ITEM:]   generic item          0x08
//	{hh:Name}  person/place name     0x06 hh
//	[hh:Name]  item name             0x07 hh
//	"   "      run of spaces         0x09 n
//
// Dictionary references (0x80..0xFF, or 0x05 followed by an index) never
// appear in text; they expand to the referenced string. A decoder inserts a
// single space after a dictionary reference or a named placeholder unless
// the following byte is a boundary (see IsBoundaryByte).
package msgtext

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Byte grammar.
const (
	End       byte = 0x00
	Start     byte = 0x01
	LineBreak byte = 0x02
	Continue  byte = 0x03
	Hero      byte = 0x04
	Extended  byte = 0x05 // two-byte dictionary reference
	Person    byte = 0x06
	ItemName  byte = 0x07
	Item      byte = 0x08
	Spaces    byte = 0x09
	CodeBase  byte = 0x80

	// MaxSpaceRun is the longest run a single Spaces token can carry.
	MaxSpaceRun = 0xFF
)

// Text placeholders.
const (
	ContinueChar = '#'
	HeroText     = "{:HERO:}"
	ItemText     = "[:ITEM:]"
)

var (
	// ErrCorruptText indicates text that cannot be expressed in the byte grammar.
	ErrCorruptText = errors.New("corrupt message text")
	// ErrCorruptMessage indicates an encoded byte stream outside the grammar.
	ErrCorruptMessage = errors.New("corrupt message bytes")
	// ErrUnknownReference indicates a reference the resolver cannot expand.
	ErrUnknownReference = errors.New("unknown reference")
)

// boundaries lists the text characters that end a word.
var boundaries = [256]bool{
	' ':          true,
	'!':          true,
	'\'':         true,
	',':          true,
	'.':          true,
	':':          true,
	';':          true,
	'?':          true,
	'_':          true,
	'\n':         true,
	ContinueChar: true,
}

// IsBoundary reports whether c ends a word in text form.
func IsBoundary(c byte) bool { return boundaries[c] }

// IsBoundaryByte reports whether an encoded byte suppresses the implicit
// space a decoder emits after a reference.
func IsBoundaryByte(b byte) bool {
	switch b {
	case End, Start, LineBreak, Continue, Spaces:
		return true
	case '\n', ContinueChar:
		return false
	}
	return boundaries[b]
}

// IsOpener reports whether c starts a placeholder.
func IsOpener(c byte) bool { return c == '{' || c == '[' }

// IsLiteral reports whether c may be stored as a literal byte.
func IsLiteral(c byte) bool { return c >= 0x20 && c < 0x80 }

// Placeholder is a bracketed reference parsed from text.
type Placeholder struct {
	Op    byte   // Hero, Item, Person or ItemName
	Index byte   // table index for Person and ItemName
	Name  string // name carried in the text, empty for Hero and Item
	Len   int    // length of the placeholder in text
}

// Spaced reports whether the decoder follows this placeholder with an
// implicit space.
func (p Placeholder) Spaced() bool { return p.Op == Person || p.Op == ItemName }

// AppendBytes appends the encoded form of p to dst.
func (p Placeholder) AppendBytes(dst []byte) []byte {
	if p.Spaced() {
		return append(dst, p.Op, p.Index)
	}
	return append(dst, p.Op)
}

// ParsePlaceholder parses the placeholder at the start of s. Named
// placeholders carry a two digit lower case hex index.
func ParsePlaceholder(s string) (Placeholder, error) {
	if strings.HasPrefix(s, HeroText) {
		return Placeholder{Op: Hero, Len: len(HeroText)}, nil
	}
	if strings.HasPrefix(s, ItemText) {
		return Placeholder{Op: Item, Len: len(ItemText)}, nil
	}
	if s == "" || !IsOpener(s[0]) {
		return Placeholder{}, fmt.Errorf("%w: expected placeholder at %q", ErrCorruptText, clip(s))
	}
	op, closer := Person, byte('}')
	if s[0] == '[' {
		op, closer = ItemName, ']'
	}
	end := strings.IndexByte(s, closer)
	colon := strings.IndexByte(s, ':')
	if end < 0 || colon < 0 || colon > end {
		return Placeholder{}, fmt.Errorf("%w: unterminated placeholder %q", ErrCorruptText, clip(s))
	}
	if colon != 3 || !isLowerHex(s[1]) || !isLowerHex(s[2]) {
		return Placeholder{}, fmt.Errorf("%w: bad placeholder index %q", ErrCorruptText, s[:end+1])
	}
	id, err := strconv.ParseUint(s[1:colon], 16, 8)
	if err != nil {
		return Placeholder{}, fmt.Errorf("%w: bad placeholder index %q", ErrCorruptText, s[:end+1])
	}
	return Placeholder{Op: op, Index: byte(id), Name: s[colon+1 : end], Len: end + 1}, nil
}

// FormatPlaceholder renders the text form of a named reference.
func FormatPlaceholder(op, index byte, name string) string {
	switch op {
	case Hero:
		return HeroText
	case Item:
		return ItemText
	case Person:
		return fmt.Sprintf("{%02x:%s}", index, name)
	case ItemName:
		return fmt.Sprintf("[%02x:%s]", index, name)
	}
	return ""
}

// Validate checks that every character of text can be encoded.
func Validate(text string) error {
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case IsOpener(c):
			p, err := ParsePlaceholder(text[i:])
			if err != nil {
				return err
			}
			i += p.Len
			if p.Spaced() && i < len(text) && !IsBoundary(text[i]) {
				return fmt.Errorf("%w: %q must be followed by a boundary", ErrCorruptText, text[i-p.Len:i])
			}
			i--
		case c == '\n' || IsLiteral(c):
		default:
			return fmt.Errorf("%w: control byte $%02x at offset %d", ErrCorruptText, c, i)
		}
	}
	return nil
}

func isLowerHex(c byte) bool { return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' }

func clip(s string) string {
	if len(s) > 16 {
		return s[:16] + "..."
	}
	return s
}
