package romtext

import (
	"fmt"

	"github.com/seiflotfy/romtext/msgtext"
)

// word is a maximal run of non-boundary characters in a message.
type word struct {
	msg   int32 // index into tokens.msgs
	start int32
	end   int32
	bytes int32 // encoded cost: length, +1 for a following space the encoder drops
	chain byte  // ' ' or '\'' when the word links to the next word, else 0
	used  int32 // bytes already covered by admitted entries
	touch []int32
}

// tokens holds the words of every canonical message in one flat arena, in
// message order. Word i chains into word i+1 when words[i].chain != 0.
type tokens struct {
	msgs  []*Message
	words []word
}

func (t *tokens) text(w int32) string {
	wd := &t.words[w]
	return t.msgs[wd.msg].Text[wd.start:wd.end]
}

func isWordChar(c byte) bool {
	return !msgtext.IsBoundary(c) && !msgtext.IsOpener(c)
}

// tokenize splits every message into words. Placeholders are skipped whole;
// a word running straight into a placeholder can never be matched on a
// boundary, so it is left out and the chain into it is cut.
func tokenize(msgs []*Message) (*tokens, error) {
	t := &tokens{msgs: msgs}
	for mi, m := range msgs {
		s := m.Text
		if err := msgtext.Validate(s); err != nil {
			return nil, fmt.Errorf("message %s: %w", m.ID, err)
		}
		prev := -1
		for i := 0; i < len(s); {
			c := s[i]
			if msgtext.IsOpener(c) {
				p, err := msgtext.ParsePlaceholder(s[i:])
				if err != nil {
					return nil, fmt.Errorf("message %s: %w", m.ID, err)
				}
				i += p.Len
				prev = -1
				continue
			}
			if msgtext.IsBoundary(c) {
				i++
				continue
			}

			j := i
			for j < len(s) && isWordChar(s[j]) {
				j++
			}
			if j < len(s) && msgtext.IsOpener(s[j]) {
				if prev >= 0 {
					t.words[prev].chain = 0
				}
				prev = -1
				i = j
				continue
			}

			w := word{msg: int32(mi), start: int32(i), end: int32(j), bytes: int32(j - i)}
			if j+1 < len(s) {
				next := s[j+1]
				if s[j] == ' ' && !msgtext.IsBoundary(next) {
					w.bytes++
				}
				if (s[j] == ' ' || s[j] == '\'') && isWordChar(next) {
					w.chain = s[j]
				}
			}
			t.words = append(t.words, w)
			prev = len(t.words) - 1
			i = j
		}
	}
	return t, nil
}
