// Package config loads the romtext tool configuration from a YAML or JSON
// file and converts it into compressor options and a placement layout.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/seiflotfy/romtext"
	"github.com/seiflotfy/romtext/internal/logger"
	"github.com/seiflotfy/romtext/msgtext"
	"github.com/seiflotfy/romtext/placement"
)

// Default values applied by Parse before the document is decoded.
const (
	DefaultPageSize    = 0x2000
	DefaultConcurrency = 1
	DefaultLogLevel    = "INFO"
)

// ErrInvalid indicates a configuration that fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Config is the tool configuration. Integers may be written in hex (0x8000).
//
//	log_level: info
//	page_size: 0x2000
//	compression:
//	  budget: 1250
//	layout:
//	  groups: [{start: 0x14, end: 0x15, org: 0x8000}]
//	  tables: {start: 0x14, end: 0x15, org: 0x8000}
//	  dictionary: {start: 0x15, end: 0x16, org: 0xa000}
//	  slots: {dictionary: 0x28862, parts: 0x28866}
//	free:
//	  - {start: 0x28000, end: 0x28500}
type Config struct {
	LogLevel    string      `yaml:"log_level"`
	PageSize    int         `yaml:"page_size"`
	Concurrency int         `yaml:"concurrency"`
	Compression Compression `yaml:"compression"`
	Layout      Layout      `yaml:"layout"`
	Free        []Range     `yaml:"free"`
	Names       Names       `yaml:"names"`
	LayoutCheck LayoutCheck `yaml:"layout_check"`
}

// Compression mirrors romtext.Config; zero values select its defaults.
type Compression struct {
	Budget        int `yaml:"budget"`
	ShortCodes    int `yaml:"short_codes"`
	MaxEntries    int `yaml:"max_entries"`
	RefCost       int `yaml:"ref_cost"`
	LongRefCost   int `yaml:"long_ref_cost"`
	EntryOverhead int `yaml:"entry_overhead"`
	MaxChainWords int `yaml:"max_chain_words"`
}

type PageRange struct {
	Start int    `yaml:"start"`
	End   int    `yaml:"end"`
	Org   uint16 `yaml:"org"`
}

type Layout struct {
	Groups     []PageRange       `yaml:"groups"`
	Tables     PageRange         `yaml:"tables"`
	Dictionary PageRange         `yaml:"dictionary"`
	Slots      map[string]uint32 `yaml:"slots"`
}

// Range is a half-open range of image addresses.
type Range struct {
	Start uint32 `yaml:"start"`
	End   uint32 `yaml:"end"`
}

// NameTable locates a pointer table of NUL-terminated names in the image.
type NameTable struct {
	Table uint32 `yaml:"table"`
	Count int    `yaml:"count"`
	Page  int    `yaml:"page"`
	Org   uint16 `yaml:"org"`
}

// Names locates the tables named placeholders are read from when verifying
// the patched image. Without them names come from the corpus text.
type Names struct {
	Persons *NameTable `yaml:"persons"`
	Items   *NameTable `yaml:"items"`
}

// LayoutCheck configures the dialog box check. Zero fields take
// msgtext.DefaultLayout values.
type LayoutCheck struct {
	Disabled  bool `yaml:"disabled"`
	Columns   int  `yaml:"columns"`
	Lines     int  `yaml:"lines"`
	HeroWidth int  `yaml:"hero_width"`
	ItemWidth int  `yaml:"item_width"`
}

// Default returns a configuration with defaults and no layout.
func Default() *Config {
	return &Config{
		LogLevel:    DefaultLogLevel,
		PageSize:    DefaultPageSize,
		Concurrency: DefaultConcurrency,
	}
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a configuration document. Unknown keys are
// rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var slotNames = []string{
	placement.SlotDictionary,
	placement.SlotDictionaryLong,
	placement.SlotDictionaryPointers,
	placement.SlotLongPointers,
	placement.SlotParts,
	placement.SlotBanks,
}

// Validate checks the configuration for values no later stage can accept.
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("%w: concurrency %d", ErrInvalid, c.Concurrency)
	}
	cp := c.Compression
	for name, v := range map[string]int{
		"budget": cp.Budget, "short_codes": cp.ShortCodes, "max_entries": cp.MaxEntries,
		"ref_cost": cp.RefCost, "long_ref_cost": cp.LongRefCost,
		"entry_overhead": cp.EntryOverhead, "max_chain_words": cp.MaxChainWords,
	} {
		if v < 0 {
			return fmt.Errorf("%w: compression.%s is negative", ErrInvalid, name)
		}
	}
	if cp.ShortCodes > 0x80 {
		return fmt.Errorf("%w: compression.short_codes %d exceeds 128", ErrInvalid, cp.ShortCodes)
	}
	if cp.LongRefCost > 0 && cp.RefCost > cp.LongRefCost {
		return fmt.Errorf("%w: compression.long_ref_cost below ref_cost", ErrInvalid)
	}

	if len(c.Layout.Groups) > 0 {
		l := c.PlacementLayout()
		if err := l.Validate(len(c.Layout.Groups)); err != nil {
			return err
		}
	} else if c.PageSize <= 0 {
		return fmt.Errorf("%w: page size %d", ErrInvalid, c.PageSize)
	}
	for name := range c.Layout.Slots {
		if !slices.Contains(slotNames, name) {
			return fmt.Errorf("%w: unknown slot %q", ErrInvalid, name)
		}
	}
	for _, r := range c.Free {
		if r.End <= r.Start {
			return fmt.Errorf("%w: empty free range %#x-%#x", ErrInvalid, r.Start, r.End)
		}
	}
	for name, t := range map[string]*NameTable{"persons": c.Names.Persons, "items": c.Names.Items} {
		if t != nil && (t.Count <= 0 || t.Count > 0x100) {
			return fmt.Errorf("%w: names.%s count %d", ErrInvalid, name, t.Count)
		}
	}
	return nil
}

// Options returns the compressor options for the compression section.
func (c *Config) Options() []romtext.Option {
	cp := c.Compression
	return []romtext.Option{
		romtext.WithBudget(cp.Budget),
		romtext.WithShortCodes(cp.ShortCodes),
		romtext.WithMaxEntries(cp.MaxEntries),
		romtext.WithReferenceCost(cp.RefCost, cp.LongRefCost),
		romtext.WithEntryOverhead(cp.EntryOverhead),
		romtext.WithMaxChainWords(cp.MaxChainWords),
	}
}

func (r PageRange) pageRange() placement.PageRange {
	return placement.PageRange{Start: r.Start, End: r.End, Org: r.Org}
}

// PlacementLayout converts the layout section.
func (c *Config) PlacementLayout() placement.Layout {
	l := placement.Layout{
		PageSize:   c.PageSize,
		Tables:     c.Layout.Tables.pageRange(),
		Dictionary: c.Layout.Dictionary.pageRange(),
		Slots:      make(map[string]placement.Address, len(c.Layout.Slots)),
	}
	for _, g := range c.Layout.Groups {
		l.Groups = append(l.Groups, g.pageRange())
	}
	for name, addr := range c.Layout.Slots {
		l.Slots[name] = placement.Address(addr)
	}
	return l
}

// TextLayout returns the dialog box to check messages against, or false when
// the check is disabled.
func (c *Config) TextLayout() (msgtext.Layout, bool) {
	lc := c.LayoutCheck
	if lc.Disabled {
		return msgtext.Layout{}, false
	}
	l := msgtext.DefaultLayout
	if lc.Columns > 0 {
		l.Columns = lc.Columns
	}
	if lc.Lines > 0 {
		l.Lines = lc.Lines
	}
	if lc.HeroWidth > 0 {
		l.HeroWidth = lc.HeroWidth
	}
	if lc.ItemWidth > 0 {
		l.ItemWidth = lc.ItemWidth
	}
	return l, true
}
