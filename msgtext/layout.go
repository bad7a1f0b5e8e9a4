package msgtext

import (
	"errors"
	"fmt"
)

// ErrLayout indicates text that overflows the dialog box.
var ErrLayout = errors.New("message does not fit the dialog box")

// Layout describes the dialog box a message is displayed in.
type Layout struct {
	Columns   int // characters per line
	Lines     int // lines per box; a continue marker starts a new box
	HeroWidth int // display width of {:HERO:}
	ItemWidth int // display width of [:ITEM:], the longest item name
}

// DefaultLayout matches the stock dialog box.
var DefaultLayout = Layout{Columns: 28, Lines: 4, HeroWidth: 6, ItemWidth: 14}

// Check reports the first line or box overflow in text. Named placeholders
// count the width of the name they carry; trailing spaces are ignored.
func (l Layout) Check(text string) error {
	var (
		line, width, visible int
		lineStart            int
	)
	flush := func(end int) error {
		if visible > l.Columns {
			return fmt.Errorf("%w: line %q is %d columns wide (max %d)", ErrLayout, text[lineStart:end], visible, l.Columns)
		}
		return nil
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '\n' || c == ContinueChar:
			if err := flush(i); err != nil {
				return err
			}
			width, visible = 0, 0
			lineStart = i + 1
			if c == ContinueChar {
				line = 0
				if i+1 < len(text) && text[i+1] == '\n' {
					i++
					lineStart++
				}
				continue
			}
			if line++; line >= l.Lines {
				return fmt.Errorf("%w: more than %d lines in one box", ErrLayout, l.Lines)
			}
		case IsOpener(c):
			p, err := ParsePlaceholder(text[i:])
			if err != nil {
				return err
			}
			switch p.Op {
			case Hero:
				width += l.HeroWidth
			case Item:
				width += l.ItemWidth
			default:
				width += len(p.Name)
			}
			visible = width
			i += p.Len - 1
		default:
			width++
			if c != ' ' {
				visible = width
			}
		}
	}
	return flush(len(text))
}
