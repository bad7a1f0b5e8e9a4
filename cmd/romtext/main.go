package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/seiflotfy/romtext"
	"github.com/seiflotfy/romtext/config"
	"github.com/seiflotfy/romtext/internal/logger"
	"github.com/seiflotfy/romtext/msgtext"
	"github.com/seiflotfy/romtext/placement"
	"github.com/seiflotfy/romtext/rom"
)

var (
	Version = "unknown"
)

var (
	configFile   = flag.String("c", "", "Path to the YAML or JSON configuration file.")
	corpusFile   = flag.String("corpus", "", "Path to the message corpus (YAML or JSON).")
	inFile       = flag.String("in", "", "Path to the input image. Without it placement is a dry run.")
	outFile      = flag.String("out", "", "Path to write the patched image (requires -in).")
	artifactFile = flag.String("artifact", "", "Path to write the build artifact.")
	fromArtifact = flag.String("from-artifact", "", "Reuse a build artifact instead of compressing the corpus.")
	reportFile   = flag.String("report", "", "Path to write a dictionary report, - for stdout.")
	logLevel     = flag.String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR, NONE). Overrides the configuration.")
	version      = flag.Bool("version", false, "Show version information.")
)

// options carries the flag values into run.
type options struct {
	config       string
	corpus       string
	in           string
	out          string
	artifact     string
	fromArtifact string
	report       string
	logLevel     string
}

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("Version: %s\n", Version)
		return
	}

	opts := options{
		config:       *configFile,
		corpus:       *corpusFile,
		in:           *inFile,
		out:          *outFile,
		artifact:     *artifactFile,
		fromArtifact: *fromArtifact,
		report:       *reportFile,
		logLevel:     *logLevel,
	}
	if err := run(context.Background(), opts); err != nil {
		logger.Fatalf("%v", err)
	}
}

func run(ctx context.Context, opts options) error {
	if opts.corpus == "" {
		return errors.New("a corpus is required (-corpus)")
	}
	if opts.out != "" && opts.in == "" {
		return errors.New("-out requires -in")
	}

	cfg := config.Default()
	if opts.config != "" {
		var err error
		if cfg, err = config.Load(opts.config); err != nil {
			return err
		}
	}
	level := cfg.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	if err := logger.SetLevelFromString(level); err != nil {
		return err
	}

	corpus, err := readCorpus(opts.corpus)
	if err != nil {
		return err
	}
	names := &msgtext.NameMap{}
	for m := range corpus.Messages(nil) {
		if err := names.Collect(m.Text); err != nil {
			return fmt.Errorf("message %s: %w", m.ID, err)
		}
	}

	var res *romtext.Result
	if opts.fromArtifact != "" {
		res, err = readArtifact(opts.fromArtifact)
	} else {
		res, err = romtext.New(cfg.Options()...).Compress(corpus, nil)
	}
	if err != nil {
		return err
	}
	if err := verify(corpus, res, res.Dictionary.Resolver(names)); err != nil {
		return err
	}
	checkLayout(cfg, corpus)

	if len(cfg.Layout.Groups) > 0 {
		if err := place(ctx, cfg, opts, corpus, res, names); err != nil {
			return err
		}
	} else {
		logger.Warnf("no layout configured, skipping placement")
	}

	if opts.artifact != "" {
		if err := writeArtifact(opts.artifact, res); err != nil {
			return err
		}
	}
	if opts.report != "" {
		if err := writeReport(opts.report, corpus, res); err != nil {
			return err
		}
	}
	return nil
}

func readCorpus(path string) (*romtext.Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	c, err := romtext.ReadCorpus(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func readArtifact(path string) (*romtext.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	res := &romtext.Result{}
	if _, err := res.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return res, nil
}

func writeArtifact(path string, res *romtext.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := res.WriteTo(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write artifact %s: %w", path, err)
	}
	logger.Infof("wrote artifact %s (%d bytes)", path, n)
	return nil
}

// verify decodes every used message of corpus and compares it to its text.
func verify(corpus *romtext.Corpus, res *romtext.Result, r msgtext.Resolver) error {
	for m := range corpus.Messages(nil) {
		enc, ok := res.Lookup(m.ID)
		if !ok {
			return fmt.Errorf("message %s: not encoded", m.ID)
		}
		got, err := msgtext.Decode(enc.Bytes, r)
		if err != nil {
			return fmt.Errorf("message %s: %w", m.ID, err)
		}
		if got != m.Text {
			return fmt.Errorf("message %s decodes to %q, want %q", m.ID, got, m.Text)
		}
	}
	return nil
}

func checkLayout(cfg *config.Config, corpus *romtext.Corpus) {
	l, ok := cfg.TextLayout()
	if !ok {
		return
	}
	for m := range corpus.Messages(nil) {
		if err := l.Check(m.Text); err != nil {
			logger.Warnf("message %s: %v", m.ID, err)
		}
	}
}

// place lays the result out in the input image, or in a scratch address
// space when there is no input image, and verifies the image by decoding
// every message back through the tables that were written.
func place(ctx context.Context, cfg *config.Config, opts options, corpus *romtext.Corpus, res *romtext.Result, names *msgtext.NameMap) error {
	layout := cfg.PlacementLayout()
	coord := &placement.Coordinator{Layout: layout, Concurrency: cfg.Concurrency}

	if opts.in == "" {
		coord.Allocator = &placement.MemoryAllocator{PageSize: layout.PageSize}
		_, err := coord.Place(ctx, res)
		return err
	}

	im, err := rom.Load(opts.in, layout.PageSize)
	if err != nil {
		return err
	}
	alloc := rom.NewAllocator(im)
	for _, r := range cfg.Free {
		if err := alloc.Free(placement.Address(r.Start), placement.Address(r.End)); err != nil {
			return fmt.Errorf("free range %#x-%#x: %w", r.Start, r.End, err)
		}
	}
	logger.Debugf("%d bytes free before placement", alloc.FreeBytes(placement.PageRange{}))
	coord.Allocator, coord.Patcher = alloc, im

	p, err := coord.Place(ctx, res)
	if err != nil {
		return err
	}
	logger.Infof("%d bytes free after placement", alloc.FreeBytes(placement.PageRange{}))

	r, err := imageResolver(im, cfg, layout, p, res.Dictionary, names)
	if err != nil {
		return err
	}
	if err := verifyImage(im, layout, p, corpus, r); err != nil {
		return err
	}

	if opts.out != "" {
		if err := im.Save(opts.out); err != nil {
			return err
		}
		logger.Infof("wrote %s", opts.out)
	}
	return nil
}

// imageResolver reads dictionary entries back from the placed tables, and
// names from the configured tables or, failing that, the corpus.
func imageResolver(im *rom.Image, cfg *config.Config, layout placement.Layout, p *placement.Placement, dict *romtext.Dictionary, names *msgtext.NameMap) (msgtext.Resolver, error) {
	page := layout.Page(p.Dictionary)
	org := layout.Dictionary.Org
	short := min(dict.ShortCodes, dict.Len())

	r := &rom.Resolver{}
	var err error
	if r.Short, err = rom.NewStringTable(im, p.ShortEntries, short, page, org, 0); err != nil {
		return nil, err
	}
	if r.Long, err = rom.NewStringTable(im, p.LongEntries, dict.Len()-short, page, org, 0); err != nil {
		return nil, err
	}
	table := func(t *config.NameTable) (*rom.StringTable, error) {
		if t == nil {
			return nil, nil
		}
		return rom.NewStringTable(im, placement.Address(t.Table), t.Count, t.Page, t.Org, 0)
	}
	if r.Persons, err = table(cfg.Names.Persons); err != nil {
		return nil, err
	}
	if r.Items, err = table(cfg.Names.Items); err != nil {
		return nil, err
	}

	return msgtext.ResolverFunc(func(op, index byte) (string, error) {
		switch {
		case op == msgtext.Person && r.Persons == nil, op == msgtext.ItemName && r.Items == nil:
			return names.Resolve(op, index)
		}
		return r.Resolve(op, index)
	}), nil
}

// verifyImage walks the group tables in the image and decodes every slot.
func verifyImage(im *rom.Image, layout placement.Layout, p *placement.Placement, corpus *romtext.Corpus, r msgtext.Resolver) error {
	for g := range p.GroupTables {
		gr := layout.Groups[g]
		for i := 0; i < corpus.GroupLen(g); i++ {
			id := romtext.MessageID{Group: g, Index: i}
			ptr, err := im.ReadUint16(p.GroupTables[g] + placement.Address(2*i))
			if err != nil {
				return err
			}
			addr, err := im.Resolve(ptr, gr.Start, gr.Org)
			if err != nil {
				return fmt.Errorf("message %s: %w", id, err)
			}
			data, err := im.ReadMessage(addr)
			if err != nil {
				return fmt.Errorf("message %s: %w", id, err)
			}
			got, err := msgtext.Decode(data, r)
			if err != nil {
				return fmt.Errorf("message %s in image: %w", id, err)
			}
			m, _ := corpus.Message(id)
			want := m.Text
			if !corpus.Used(id) {
				want = ""
			}
			if got != want {
				return fmt.Errorf("message %s in image decodes to %q, want %q", id, got, want)
			}
		}
	}
	return nil
}
