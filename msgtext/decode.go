package msgtext

import (
	"fmt"
	"strings"
)

// Resolver expands references found in an encoded message.
//
// op is CodeBase for single-byte dictionary codes (index = byte - CodeBase),
// Extended for two-byte dictionary codes, and Person or ItemName for named
// placeholders.
type Resolver interface {
	Resolve(op, index byte) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(op, index byte) (string, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(op, index byte) (string, error) { return f(op, index) }

// Decode expands an encoded message back into text form. Decoding stops at
// the first End byte; a missing terminator is accepted.
func Decode(data []byte, r Resolver) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(data); i++ {
		b := data[i]
		switch {
		case b == End:
			return sb.String(), nil
		case b == Start:
			// A Continue consumes the Start after it, so only the leading
			// marker reaches here.
			if i != 0 {
				return "", fmt.Errorf("%w: start marker at offset %d", ErrCorruptMessage, i)
			}
		case b == LineBreak:
			sb.WriteByte('\n')
		case b == Continue:
			if i+1 >= len(data) || data[i+1] != Start {
				return "", fmt.Errorf("%w: continue marker at offset %d not followed by start", ErrCorruptMessage, i)
			}
			i++
			sb.WriteByte(ContinueChar)
		case b == Hero:
			sb.WriteString(HeroText)
		case b == Item:
			sb.WriteString(ItemText)
		case b == Spaces:
			if i+1 >= len(data) {
				return "", fmt.Errorf("%w: truncated space run at offset %d", ErrCorruptMessage, i)
			}
			i++
			sb.WriteString(strings.Repeat(" ", int(data[i])))
		case b == Extended || b == Person || b == ItemName:
			if i+1 >= len(data) {
				return "", fmt.Errorf("%w: truncated reference $%02x at offset %d", ErrCorruptMessage, b, i)
			}
			i++
			s, err := r.Resolve(b, data[i])
			if err != nil {
				return "", fmt.Errorf("reference $%02x:%02x at offset %d: %w", b, data[i], i-1, err)
			}
			if b != Extended {
				s = FormatPlaceholder(b, data[i], s)
			}
			sb.WriteString(s)
			implicitSpace(&sb, data, i+1)
		case b >= CodeBase:
			s, err := r.Resolve(CodeBase, b-CodeBase)
			if err != nil {
				return "", fmt.Errorf("reference $%02x at offset %d: %w", b, i, err)
			}
			sb.WriteString(s)
			implicitSpace(&sb, data, i+1)
		case b >= 0x20:
			sb.WriteByte(b)
		default:
			return "", fmt.Errorf("%w: control byte $%02x at offset %d", ErrCorruptMessage, b, i)
		}
	}
	return sb.String(), nil
}

func implicitSpace(sb *strings.Builder, data []byte, next int) {
	if next < len(data) && !IsBoundaryByte(data[next]) {
		sb.WriteByte(' ')
	}
}

// NameMap is a Resolver for named placeholders backed by maps. It is
// typically filled from the placeholders found in a corpus.
type NameMap struct {
	Persons map[byte]string
	Items   map[byte]string
}

// Resolve implements Resolver.
func (m *NameMap) Resolve(op, index byte) (string, error) {
	var (
		name string
		ok   bool
	)
	switch op {
	case Person:
		name, ok = m.Persons[index]
	case ItemName:
		name, ok = m.Items[index]
	}
	if !ok {
		return "", ErrUnknownReference
	}
	return name, nil
}

// Collect records the names carried by every placeholder in text.
func (m *NameMap) Collect(text string) error {
	for i := 0; i < len(text); i++ {
		if !IsOpener(text[i]) {
			continue
		}
		p, err := ParsePlaceholder(text[i:])
		if err != nil {
			return err
		}
		switch p.Op {
		case Person:
			if m.Persons == nil {
				m.Persons = make(map[byte]string)
			}
			m.Persons[p.Index] = p.Name
		case ItemName:
			if m.Items == nil {
				m.Items = make(map[byte]string)
			}
			m.Items[p.Index] = p.Name
		}
		i += p.Len - 1
	}
	return nil
}

// Len returns the length of the encoded message at the start of data,
// terminator included. Operand bytes may be zero, so a plain NUL scan is not
// enough.
func Len(data []byte) (int, error) {
	for i := 0; i < len(data); i++ {
		switch data[i] {
		case End:
			return i + 1, nil
		case Extended, Person, ItemName, Spaces:
			i++
		}
	}
	return 0, fmt.Errorf("%w: missing terminator", ErrCorruptMessage)
}
