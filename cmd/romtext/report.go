package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/seiflotfy/romtext"
)

// writeReport writes the dictionary breakdown and compression totals to
// path, or to stdout for "-".
func writeReport(path string, corpus *romtext.Corpus, res *romtext.Result) error {
	if path == "-" {
		return report(os.Stdout, corpus, res)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = report(f, corpus, res)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func report(w io.Writer, corpus *romtext.Corpus, res *romtext.Result) error {
	bw := bufio.NewWriter(w)
	dict := res.Dictionary

	before, messages := 0, 0
	for m := range corpus.Messages(nil) {
		before += len(m.Text) + 1
		messages++
	}

	var shortSize, longSize, shortN, longN int
	for _, e := range dict.Entries {
		if len(e.Code) == 1 {
			shortN++
			shortSize += len(e.Text) + 1
		} else {
			longN++
			longSize += len(e.Text) + 1
		}
	}

	fmt.Fprintf(bw, "Dictionary breakdown:\n")
	fmt.Fprintf(bw, "  Single-byte codes: %d entries, %d bytes\n", shortN, shortSize)
	fmt.Fprintf(bw, "  Two-byte codes:    %d entries, %d bytes\n", longN, longSize)
	fmt.Fprintf(bw, "  Pointer tables:    %d bytes\n", 2*dict.Len())
	fmt.Fprintf(bw, "  Total dict:        %d bytes\n\n", dict.Size()+2*dict.Len())

	after := res.Size()
	total := after + dict.Size() + 2*dict.Len()
	fmt.Fprintf(bw, "Messages: %d used, %d encoded (%d aliases)\n", messages, len(res.Messages), messages-len(res.Messages))
	fmt.Fprintf(bw, "  Text:    %d bytes\n", before)
	fmt.Fprintf(bw, "  Encoded: %d bytes\n", after)
	fmt.Fprintf(bw, "  Total:   %d bytes\n", total)
	if total > 0 {
		fmt.Fprintf(bw, "  Ratio:   %.2fx\n", float64(before)/float64(total))
	}

	fmt.Fprintf(bw, "\nEntries:\n")
	for _, e := range dict.Entries {
		fmt.Fprintf(bw, "  %-6s %4d %4d  %q\n", fmt.Sprintf("% x", e.Code), e.Saving, len(e.Refs), e.Text)
	}
	return bw.Flush()
}
