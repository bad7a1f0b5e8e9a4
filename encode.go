package romtext

import (
	"fmt"

	"github.com/seiflotfy/romtext/msgtext"
)

// Encode converts text into the message byte grammar, replacing the longest
// boundary-aligned dictionary match at every word position. The result ends
// with msgtext.End.
func (d *Dictionary) Encode(text string) ([]byte, error) {
	if err := msgtext.Validate(text); err != nil {
		return nil, err
	}
	m := d.index()
	src := []byte(text)
	out := make([]byte, 0, len(src)+1)

	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '\n':
			out = append(out, msgtext.LineBreak)
			i++
		case c == msgtext.ContinueChar:
			out = append(out, msgtext.Continue, msgtext.Start)
			i++
		case msgtext.IsOpener(c):
			p, err := msgtext.ParsePlaceholder(text[i:])
			if err != nil {
				return nil, err
			}
			out = p.AppendBytes(out)
			i += p.Len
			if p.Spaced() {
				i = skipImplicitSpace(src, i)
			}
		case c == ' ':
			j := i
			for j < len(src) && src[j] == ' ' {
				j++
			}
			out = appendSpaces(out, j-i)
			i = j
		case !msgtext.IsLiteral(c):
			return nil, fmt.Errorf("%w: byte $%02x at offset %d", msgtext.ErrCorruptText, c, i)
		default:
			if !msgtext.IsBoundary(c) && m.Len() > 0 {
				rest := src[i:]
				id, n, ok := m.FindLongestMatchFunc(rest, func(_ uint16, n int) bool {
					return n == len(rest) || msgtext.IsBoundary(rest[n])
				})
				if ok {
					out = append(out, d.Entries[id].Code...)
					i = skipImplicitSpace(src, i+n)
					continue
				}
			}
			out = append(out, c)
			i++
		}
	}
	return append(out, msgtext.End), nil
}

// skipImplicitSpace drops the single space after a reference when the
// decoder will put it back.
func skipImplicitSpace(src []byte, i int) int {
	if i+1 < len(src) && src[i] == ' ' && !msgtext.IsBoundary(src[i+1]) {
		return i + 1
	}
	return i
}

func appendSpaces(out []byte, n int) []byte {
	for n > 0 {
		k := min(n, msgtext.MaxSpaceRun)
		if k == 1 {
			out = append(out, ' ')
		} else {
			out = append(out, msgtext.Spaces, byte(k))
		}
		n -= k
	}
	return out
}
