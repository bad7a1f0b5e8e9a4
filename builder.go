package romtext

import (
	"cmp"
	"slices"

	"github.com/seiflotfy/romtext/internal/logger"
	"github.com/seiflotfy/romtext/msgtext"
)

// builder greedily admits the candidate with the highest projected saving
// until the saving turns non-positive, the entry limit is reached or the
// next entry would not fit the budget.
//
// Savings only ever decrease, so the sorted order is trusted as long as the
// top candidate is clean; a dirty top triggers a full re-sort.
type builder struct {
	ix      *index
	aliases *aliasMap
	cfg     Config

	order   []int32 // remaining candidates, best first
	entries []Entry
	size    int
}

func newBuilder(ix *index, aliases *aliasMap, cfg Config) *builder {
	return &builder{ix: ix, aliases: aliases, cfg: cfg}
}

// compare orders by saving, then by discovery.
func (b *builder) compare(x, y int32) int {
	if c := cmp.Compare(b.ix.cands[y].saving, b.ix.cands[x].saving); c != 0 {
		return c
	}
	return cmp.Compare(x, y)
}

func (b *builder) resort() {
	slices.SortFunc(b.order, b.compare)
	for _, id := range b.order {
		b.ix.cands[id].dirty = false
	}
}

func (b *builder) run() *Dictionary {
	b.start()
	for {
		id, cost, ok := b.next()
		if !ok {
			break
		}
		b.admit(id, cost)
	}
	return newDictionary(b.entries, b.cfg.ShortCodes)
}

func (b *builder) start() {
	b.order = make([]int32, len(b.ix.cands))
	for i := range b.order {
		b.order[i] = int32(i)
	}
	b.resort()
}

// next pops the best clean candidate and returns it with its storage cost,
// or false when building is done.
func (b *builder) next() (int32, int, bool) {
	for len(b.order) > 0 {
		id := b.order[0]
		c := &b.ix.cands[id]
		if c.dirty {
			b.resort()
			continue
		}
		cost := len(c.text) + b.cfg.EntryOverhead
		if c.saving <= 0 || len(b.entries) >= b.cfg.MaxEntries || b.size+cost > b.cfg.Budget {
			return 0, 0, false
		}
		b.order = b.order[1:]
		return id, cost, true
	}
	return 0, 0, false
}

func (b *builder) admit(id int32, cost int) {
	tok := b.ix.tok
	c := &b.ix.cands[id]
	c.admitted = true

	n := len(b.entries)
	e := Entry{
		Index:  n,
		Text:   c.text,
		Code:   entryCode(n, b.cfg.ShortCodes),
		Refs:   b.refs(c),
		Saving: c.saving,
	}
	b.entries = append(b.entries, e)
	b.size += cost
	logger.Debugf("dictionary: admit % x %q saving=%d occurrences=%d size=%d",
		e.Code, e.Text, e.Saving, len(c.occ), b.size)

	for _, o := range c.occ {
		for k := int32(0); k <= c.links; k++ {
			w := &tok.words[o.word+k]
			used := w.bytes
			if k == 0 {
				used -= o.skip
			}
			if used <= w.used {
				continue
			}
			delta := int(used - w.used)
			w.used = used
			for _, t := range w.touch {
				tc := &b.ix.cands[t]
				if tc.admitted {
					continue
				}
				tc.saving -= delta
				tc.dirty = true
			}
		}
	}

	if len(b.entries) == b.cfg.ShortCodes {
		// Every reference made from now on takes the long form.
		if extra := b.cfg.LongRefCost - b.cfg.RefCost; extra > 0 {
			for _, t := range b.order {
				tc := &b.ix.cands[t]
				tc.saving -= extra * len(tc.occ)
			}
		}
		b.resort()
	}
}

// refs lists the messages, aliases included, an entry occurs in.
func (b *builder) refs(c *candidate) []MessageID {
	tok := b.ix.tok
	seen := make(map[MessageID]bool)
	var ids []MessageID
	for _, o := range c.occ {
		m := tok.msgs[tok.words[o.word].msg]
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		ids = append(ids, b.aliases.refs(m.ID)...)
	}
	slices.SortFunc(ids, compareMessageID)
	return ids
}

// entryCode returns the reference bytes of the n-th entry.
func entryCode(n, shortCodes int) []byte {
	if n < shortCodes {
		return []byte{msgtext.CodeBase + byte(n)}
	}
	return []byte{msgtext.Extended, byte(n - shortCodes)}
}
