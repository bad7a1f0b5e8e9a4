package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/seiflotfy/romtext"
	"github.com/seiflotfy/romtext/msgtext"
	"github.com/seiflotfy/romtext/placement"
)

const sampleYAML = `
log_level: debug
page_size: 0x2000
concurrency: 4
compression:
  budget: 1000
  short_codes: 100
  max_chain_words: 2
layout:
  groups:
    - {start: 0x14, end: 0x15, org: 0x8000}
    - {start: 0x15, end: 0x16, org: 0xa000}
  tables: {start: 0x14, end: 0x15, org: 0x8000}
  dictionary: {start: 0x16, end: 0x17, org: 0xa000}
  slots:
    dictionary: 0x28862
    dictionary_pointers: 0x28864
    parts: 0x28866
free:
  - {start: 0x28000, end: 0x28500}
names:
  persons: {table: 0x29000, count: 16, page: 0x14, org: 0x8000}
layout_check:
  columns: 30
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Concurrency != 4 || cfg.PageSize != 0x2000 {
		t.Errorf("top level = %+v", cfg)
	}
	if cfg.Compression.Budget != 1000 || cfg.Compression.ShortCodes != 100 {
		t.Errorf("compression = %+v", cfg.Compression)
	}
	if cfg.Names.Persons == nil || cfg.Names.Persons.Table != 0x29000 || cfg.Names.Items != nil {
		t.Errorf("names = %+v", cfg.Names)
	}

	l := cfg.PlacementLayout()
	if len(l.Groups) != 2 || l.Groups[1] != (placement.PageRange{Start: 0x15, End: 0x16, Org: 0xa000}) {
		t.Errorf("groups = %v", l.Groups)
	}
	if l.Slots[placement.SlotParts] != 0x28866 || l.Slots[placement.SlotDictionaryPointers] != 0x28864 {
		t.Errorf("slots = %v", l.Slots)
	}

	c := romtext.New(cfg.Options()...).Config()
	if c.Budget != 1000 || c.ShortCodes != 100 || c.MaxChainWords != 2 || c.RefCost != 1 || c.LongRefCost != 2 {
		t.Errorf("compressor config = %+v", c)
	}

	tl, ok := cfg.TextLayout()
	if !ok || tl.Columns != 30 || tl.Lines != msgtext.DefaultLayout.Lines {
		t.Errorf("text layout = %+v, %v", tl, ok)
	}
}

func TestParseJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"page_size": 256, "compression": {"budget": 64}, "layout_check": {"disabled": true}}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PageSize != 256 || cfg.Compression.Budget != 64 {
		t.Errorf("cfg = %+v", cfg)
	}
	if _, ok := cfg.TextLayout(); ok {
		t.Error("disabled layout check reported enabled")
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	def := Default()
	if cfg.LogLevel != def.LogLevel || cfg.PageSize != def.PageSize || cfg.Concurrency != def.Concurrency {
		t.Errorf("empty document = %+v, want defaults", cfg)
	}
	if cfg.Compression != (Compression{}) || len(cfg.Layout.Groups) != 0 || len(cfg.Free) != 0 {
		t.Errorf("empty document set sections: %+v", cfg)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "page_sise: 4"},
		{"log level", "log_level: loud"},
		{"negative budget", "compression: {budget: -1}"},
		{"short codes", "compression: {short_codes: 129}"},
		{"reference costs", "compression: {ref_cost: 3, long_ref_cost: 2}"},
		{"concurrency", "concurrency: -2"},
		{"page size", "page_size: 0"},
		{"unknown slot", "layout: {slots: {nowhere: 0x10}}"},
		{"free range", "free: [{start: 0x10, end: 0x10}]"},
		{"name count", "names: {items: {table: 0x10, count: 0}}"},
		{"group range", "layout: {groups: [{start: 1, end: 3}], tables: {start: 1, end: 2}, dictionary: {start: 1, end: 2}}"},
		{"not a mapping", "- 1\n- 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Fatalf("Parse(%q) succeeded", tt.doc)
			}
		})
	}

	_, err := Parse([]byte("free: [{start: 2, end: 1}]"))
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("error %v does not wrap ErrInvalid", err)
	}
	_, err = Parse([]byte("layout: {groups: [{start: 1, end: 2}]}"))
	if !errors.Is(err, placement.ErrLayout) {
		t.Errorf("error %v does not wrap placement.ErrLayout", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "romtext.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Free) != 1 || cfg.Free[0].End != 0x28500 {
		t.Errorf("free = %v", cfg.Free)
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: %v", err)
	}
}
