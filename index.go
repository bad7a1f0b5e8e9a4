package romtext

import "slices"

// occurrence is one place a candidate starts: a word and the number of
// leading characters of that word the candidate leaves out.
type occurrence struct {
	word int32
	skip int32
}

// candidate is a distinct string considered for the dictionary.
type candidate struct {
	text     string
	links    int32 // words spanned after the first
	saving   int   // projected saving, stale while dirty
	occ      []occurrence
	dirty    bool
	admitted bool
}

// index maps every word suffix, and every chain of words starting with one,
// to a candidate. Candidates live in an arena in discovery order and words
// point back at the candidates touching them.
type index struct {
	tok   *tokens
	cands []candidate
}

func newIndex(tok *tokens, cfg Config) *index {
	ix := &index{tok: tok}
	byText := make(map[string]int32)

	register := func(text string, links int32, o occurrence, saving int) {
		id, ok := byText[text]
		if !ok {
			id = int32(len(ix.cands))
			byText[text] = id
			ix.cands = append(ix.cands, candidate{
				text:   text,
				links:  links,
				saving: -(len(text) + cfg.EntryOverhead),
			})
		}
		c := &ix.cands[id]
		c.occ = append(c.occ, o)
		c.saving += saving
		for k := int32(0); k <= links; k++ {
			w := &tok.words[o.word+k]
			w.touch = append(w.touch, id)
		}
	}

	for wi := range tok.words {
		w := &tok.words[wi]
		full := tok.text(int32(wi))
		for j := len(full) - 1; j >= 0; j-- {
			first := int(w.bytes) - j - cfg.RefCost
			if first <= 0 {
				continue
			}
			o := occurrence{word: int32(wi), skip: int32(j)}
			text, saving := full[j:], first
			register(text, 0, o, saving)

			for k := int32(wi); tok.words[k].chain != 0; k++ {
				links := k - int32(wi) + 1
				if cfg.MaxChainWords > 0 && int(links) >= cfg.MaxChainWords {
					break
				}
				text += string(tok.words[k].chain) + tok.text(k+1)
				saving += int(tok.words[k+1].bytes)
				register(text, links, o, saving)
			}
		}
	}

	for wi := range tok.words {
		w := &tok.words[wi]
		slices.Sort(w.touch)
		w.touch = slices.Compact(w.touch)
	}
	return ix
}
