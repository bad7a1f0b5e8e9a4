// Package romtext builds an abbreviation dictionary for a corpus of short
// game messages and re-encodes every message against it.
//
// The pipeline is: tokenize every canonical message into words, index every
// word suffix (optionally chained into following words) as a candidate
// abbreviation, greedily admit the candidates with the best projected saving
// until the dictionary budget is exhausted, then encode each message with
// the admitted entries. Placing the result into an image is the job of the
// placement package.
package romtext

import (
	"errors"
	"fmt"

	"github.com/seiflotfy/romtext/internal/logger"
	"github.com/seiflotfy/romtext/msgtext"
)

const (
	defaultBudget        = 1250 // bytes of dictionary text, terminators included
	defaultShortCodes    = 128  // single-byte codes 0x80..0xFF
	defaultRefCost       = 1
	defaultLongRefCost   = 2
	defaultEntryOverhead = 1 // NUL terminator

	maxShortCodes    = 0x100 - int(msgtext.CodeBase)
	maxExtendedCodes = 0x100
)

// Config holds configuration for the compressor. Zero values select the
// defaults.
type Config struct {
	Budget        int // maximum dictionary table size in bytes (0 = 1250)
	ShortCodes    int // number of single-byte codes (0 = 128, max 128)
	MaxEntries    int // maximum dictionary entries (0 = ShortCodes+256)
	RefCost       int // bytes per single-byte reference (0 = 1)
	LongRefCost   int // bytes per two-byte reference (0 = 2)
	EntryOverhead int // bytes stored per entry beside its text (0 = 1)
	MaxChainWords int // words one entry may span (0 = unlimited, 1 = single words)
}

// Option is a functional option for configuring the compressor.
type Option func(*Config)

// WithBudget sets the dictionary table budget in bytes.
func WithBudget(n int) Option {
	return func(c *Config) {
		c.Budget = n
	}
}

// WithShortCodes sets how many entries get a single-byte code. Values above
// 128 are clamped.
func WithShortCodes(n int) Option {
	return func(c *Config) {
		c.ShortCodes = n
	}
}

// WithMaxEntries caps the number of dictionary entries. The cap can not
// exceed the number of codes available: ShortCodes plus 256 two-byte codes.
func WithMaxEntries(n int) Option {
	return func(c *Config) {
		c.MaxEntries = n
	}
}

// WithReferenceCost sets the encoded size of single-byte and two-byte
// references used when projecting savings.
func WithReferenceCost(short, long int) Option {
	return func(c *Config) {
		c.RefCost = short
		c.LongRefCost = long
	}
}

// WithEntryOverhead sets the per-entry storage cost beside the entry text.
func WithEntryOverhead(n int) Option {
	return func(c *Config) {
		c.EntryOverhead = n
	}
}

// WithMaxChainWords limits how many words a single entry may span.
// 1 restricts the dictionary to word suffixes. With the default, unlimited
// chains, a phrase repeated across messages can be admitted whole: for
// "go now friend" and "now friend" the dictionary holds "now friend" rather
// than "now" and "friend" separately.
func WithMaxChainWords(n int) Option {
	return func(c *Config) {
		c.MaxChainWords = n
	}
}

// resolve fills in defaults and clamps out-of-range values.
func (c Config) resolve() Config {
	if c.Budget <= 0 {
		c.Budget = defaultBudget
	}
	if c.ShortCodes <= 0 {
		c.ShortCodes = defaultShortCodes
	}
	c.ShortCodes = min(c.ShortCodes, maxShortCodes)
	if limit := c.ShortCodes + maxExtendedCodes; c.MaxEntries <= 0 || c.MaxEntries > limit {
		c.MaxEntries = limit
	}
	if c.RefCost <= 0 {
		c.RefCost = defaultRefCost
	}
	if c.LongRefCost <= 0 {
		c.LongRefCost = defaultLongRefCost
	}
	c.LongRefCost = max(c.LongRefCost, c.RefCost)
	if c.EntryOverhead <= 0 {
		c.EntryOverhead = defaultEntryOverhead
	}
	if c.MaxChainWords < 0 {
		c.MaxChainWords = 0
	}
	return c
}

var (
	// ErrAliasMismatch indicates two messages sharing an alias key with
	// different text.
	ErrAliasMismatch = errors.New("alias text differs from canonical message")
	// ErrUnknownMessage indicates a message ID outside the corpus.
	ErrUnknownMessage = errors.New("unknown message")
)

// Compressor builds dictionaries and encodes corpora.
type Compressor struct {
	config Config
}

// New creates a new compressor with the given options.
func New(opts ...Option) *Compressor {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Compressor{config: cfg.resolve()}
}

// Config returns the resolved configuration.
func (c *Compressor) Config() Config { return c.config }

// Build tokenizes the used messages of the corpus and returns the greedy
// dictionary for them.
func (c *Compressor) Build(corpus *Corpus, used func(MessageID) bool) (*Dictionary, error) {
	aliases, err := buildAliasMap(corpus, used)
	if err != nil {
		return nil, err
	}
	return c.build(aliases)
}

func (c *Compressor) build(aliases *aliasMap) (*Dictionary, error) {
	tok, err := tokenize(aliases.canonical)
	if err != nil {
		return nil, err
	}
	idx := newIndex(tok, c.config)
	return newBuilder(idx, aliases, c.config).run(), nil
}

// Compress builds the dictionary for the used messages of corpus and encodes
// every canonical message with it. Aliases share the canonical encoding.
func (c *Compressor) Compress(corpus *Corpus, used func(MessageID) bool) (*Result, error) {
	aliases, err := buildAliasMap(corpus, used)
	if err != nil {
		return nil, err
	}
	dict, err := c.build(aliases)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Dictionary: dict,
		Messages:   make([]EncodedMessage, 0, len(aliases.canonical)),
		Groups:     make([][]int, len(corpus.groups)),
	}
	for g, group := range corpus.groups {
		res.Groups[g] = make([]int, len(group))
		for i := range res.Groups[g] {
			res.Groups[g][i] = -1
		}
	}

	var before, after int
	for _, m := range aliases.canonical {
		data, err := dict.Encode(m.Text)
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", m.ID, err)
		}
		n := len(res.Messages)
		res.Messages = append(res.Messages, EncodedMessage{
			ID:      m.ID,
			Aliases: aliases.aliases[m.ID],
			Bytes:   data,
		})
		res.Groups[m.ID.Group][m.ID.Index] = n
		for _, a := range aliases.aliases[m.ID] {
			res.Groups[a.Group][a.Index] = n
		}
		before += len(m.Text) + 1
		after += len(data)
	}

	logger.Infof("compressed %d messages (%d aliases): %d -> %d bytes, dictionary %d entries / %d bytes",
		len(res.Messages), aliases.count, before, after, len(dict.Entries), dict.Size())
	return res, nil
}
