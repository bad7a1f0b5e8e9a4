package romtext

import (
	"cmp"
	"fmt"
	"io"
	"iter"

	"gopkg.in/yaml.v3"

	"github.com/seiflotfy/romtext/msgtext"
)

// MessageID addresses a message by group and index within the group.
type MessageID struct {
	Group int
	Index int
}

func (id MessageID) String() string { return fmt.Sprintf("%02x:%02x", id.Group, id.Index) }

func compareMessageID(a, b MessageID) int {
	if c := cmp.Compare(a.Group, b.Group); c != 0 {
		return c
	}
	return cmp.Compare(a.Index, b.Index)
}

// Message is one entry of the corpus in decoded text form.
type Message struct {
	ID     MessageID
	Text   string
	Key    string // stable alias key; messages sharing a key share storage
	Unused bool
}

// AliasKey returns the key messages are aliased by. Without an explicit key
// the text itself is the key.
func (m *Message) AliasKey() string {
	if m.Key != "" {
		return m.Key
	}
	return m.Text
}

// Corpus is an ordered collection of message groups.
type Corpus struct {
	groups [][]*Message
	n      int
}

// NewCorpus returns an empty corpus.
func NewCorpus() *Corpus { return &Corpus{} }

// Add appends a message to group, creating empty groups up to it as needed.
func (c *Corpus) Add(group int, text, key string) *Message {
	for len(c.groups) <= group {
		c.groups = append(c.groups, nil)
	}
	m := &Message{
		ID:   MessageID{Group: group, Index: len(c.groups[group])},
		Text: text,
		Key:  key,
	}
	c.groups[group] = append(c.groups[group], m)
	c.n++
	return m
}

// Message returns the message with the given ID.
func (c *Corpus) Message(id MessageID) (*Message, error) {
	if id.Group < 0 || id.Group >= len(c.groups) || id.Index < 0 || id.Index >= len(c.groups[id.Group]) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}
	return c.groups[id.Group][id.Index], nil
}

// Groups returns the number of groups.
func (c *Corpus) Groups() int { return len(c.groups) }

// GroupLen returns the number of messages in group g.
func (c *Corpus) GroupLen(g int) int {
	if g < 0 || g >= len(c.groups) {
		return 0
	}
	return len(c.groups[g])
}

// Len returns the total number of messages.
func (c *Corpus) Len() int { return c.n }

// Used is the default usage predicate: every message not flagged Unused.
func (c *Corpus) Used(id MessageID) bool {
	m, err := c.Message(id)
	return err == nil && !m.Unused
}

// Messages returns the messages accepted by used in group and index order.
// A nil predicate selects Used. The sequence can be iterated any number of
// times.
func (c *Corpus) Messages(used func(MessageID) bool) iter.Seq[*Message] {
	if used == nil {
		used = c.Used
	}
	return func(yield func(*Message) bool) {
		for _, group := range c.groups {
			for _, m := range group {
				if !used(m.ID) {
					continue
				}
				if !yield(m) {
					return
				}
			}
		}
	}
}

// aliasMap splits the used messages into canonical messages and aliases.
// The first message with a given key is canonical.
type aliasMap struct {
	canonical []*Message
	aliases   map[MessageID][]MessageID // canonical -> later messages with the same key
	count     int
}

func buildAliasMap(c *Corpus, used func(MessageID) bool) (*aliasMap, error) {
	am := &aliasMap{aliases: make(map[MessageID][]MessageID)}
	byKey := make(map[string]*Message)
	for m := range c.Messages(used) {
		key := m.AliasKey()
		first, ok := byKey[key]
		if !ok {
			byKey[key] = m
			am.canonical = append(am.canonical, m)
			continue
		}
		if first.Text != m.Text {
			return nil, fmt.Errorf("%w: %s and %s share key %q", ErrAliasMismatch, first.ID, m.ID, key)
		}
		am.aliases[first.ID] = append(am.aliases[first.ID], m.ID)
		am.count++
	}
	return am, nil
}

// refs returns the canonical ID followed by its aliases.
func (am *aliasMap) refs(id MessageID) []MessageID {
	return append([]MessageID{id}, am.aliases[id]...)
}

type corpusFile struct {
	Groups []struct {
		Messages []struct {
			Text   string `yaml:"text"`
			Key    string `yaml:"key"`
			Unused bool   `yaml:"unused"`
		} `yaml:"messages"`
	} `yaml:"groups"`
}

// ReadCorpus decodes a corpus document (YAML or JSON):
//
//	groups:
//	  - messages:
//	      - text: "Hello!"
//	        key: "npc-12"
//	        unused: false
//
// Every text is normalized with msgtext.Normalize.
func ReadCorpus(r io.Reader) (*Corpus, error) {
	var f corpusFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if err == io.EOF {
			return NewCorpus(), nil
		}
		return nil, fmt.Errorf("decode corpus: %w", err)
	}
	c := NewCorpus()
	for g, group := range f.Groups {
		for len(c.groups) <= g {
			c.groups = append(c.groups, nil)
		}
		for _, fm := range group.Messages {
			text, err := msgtext.Normalize(fm.Text)
			if err != nil {
				return nil, fmt.Errorf("message %02x:%02x: %w", g, len(c.groups[g]), err)
			}
			m := c.Add(g, text, fm.Key)
			m.Unused = fm.Unused
		}
	}
	return c, nil
}
