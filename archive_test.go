package romtext

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

func TestSerialization(t *testing.T) {
	c := newTestCorpus(sampleMessages...)
	c.Add(1, sampleMessages[0], "")
	res := mustCompress(t, c, WithShortCodes(4))

	var buf bytes.Buffer
	n, err := res.WriteTo(&buf)
	if err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if n != int64(buf.Len()) {
		t.Fatalf("WriteTo reported %d bytes, wrote %d", n, buf.Len())
	}

	var got Result
	m, err := got.ReadFrom(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if m != n {
		t.Errorf("ReadFrom consumed %d bytes, want %d", m, n)
	}

	if !bytes.Equal(got.Dictionary.Table(), res.Dictionary.Table()) {
		t.Fatalf("dictionary mismatch")
	}
	if got.Dictionary.ShortCodes != 4 {
		t.Errorf("ShortCodes = %d", got.Dictionary.ShortCodes)
	}
	for i, e := range res.Dictionary.Entries {
		ge := got.Dictionary.Entries[i]
		if !bytes.Equal(ge.Code, e.Code) || ge.Saving != e.Saving || len(ge.Refs) != len(e.Refs) {
			t.Errorf("entry %d = %+v, want %+v", i, ge, e)
		}
	}
	if len(got.Messages) != len(res.Messages) {
		t.Fatalf("%d messages, want %d", len(got.Messages), len(res.Messages))
	}
	for i := range res.Messages {
		a, b := res.Messages[i], got.Messages[i]
		if a.ID != b.ID || !bytes.Equal(a.Bytes, b.Bytes) || len(a.Aliases) != len(b.Aliases) {
			t.Errorf("message %d = %+v, want %+v", i, b, a)
		}
	}
	if len(got.Messages[0].Aliases) != 1 {
		t.Errorf("aliases = %v", got.Messages[0].Aliases)
	}
	for g := range res.Groups {
		for i := range res.Groups[g] {
			if got.Groups[g][i] != res.Groups[g][i] {
				t.Errorf("slot %d:%d = %d, want %d", g, i, got.Groups[g][i], res.Groups[g][i])
			}
		}
	}
	checkRoundTrip(t, c, &got)
}

func TestSerializationUsesFlateWhenSmaller(t *testing.T) {
	c := NewCorpus()
	for i := 0; i < 200; i++ {
		c.Add(0, strings.Repeat("zq", 40), "")
	}
	// Distinct keys keep every message canonical.
	for i, m := range c.groups[0] {
		m.Key = string(rune('A' + i%26)) + strings.Repeat("k", i/26)
	}
	res := mustCompress(t, c)
	payload, param, err := encodeMessagesStage(res.Messages)
	if err != nil {
		t.Fatal(err)
	}
	if param != stageMessagesParamFlate {
		t.Fatalf("param = %d, want flate", param)
	}

	var dst Result
	if err := decodeMessagesStage(&dst, []byte{param}, payload); err != nil {
		t.Fatal(err)
	}
	if len(dst.Messages) != 200 {
		t.Fatalf("%d messages", len(dst.Messages))
	}
}

func TestDecodeMessagesStageRejectsInvalidFlatePayload(t *testing.T) {
	var dst Result
	if err := decodeMessagesStage(&dst, []byte{stageMessagesParamFlate}, []byte{0xff, 0x00, 0x01}); err == nil {
		t.Fatal("expected error")
	}
}

func TestReadFromSkipsUnknownStage(t *testing.T) {
	res := mustCompress(t, newTestCorpus("go now friend", "now friend"))
	var buf bytes.Buffer
	if _, err := res.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()

	var extra bytes.Buffer
	if _, err := writeStage(&extra, "notes", []byte{1, 2}, []byte("ignored payload")); err != nil {
		t.Fatal(err)
	}
	patched := append([]byte(nil), raw[:8]...)
	binary.LittleEndian.PutUint16(patched[6:], 4)
	patched = append(patched, extra.Bytes()...)
	patched = append(patched, raw[8:]...)

	var got Result
	if _, err := got.ReadFrom(bytes.NewReader(patched)); err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("%d messages", len(got.Messages))
	}
}

func TestReadFromRejectsCorruptArchives(t *testing.T) {
	res := mustCompress(t, newTestCorpus("go now friend", "now friend"))
	var buf bytes.Buffer
	if _, err := res.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte("NOPE"), raw[4:]...)},
		{"truncated", raw[:len(raw)-3]},
		{"missing stages", func() []byte {
			b := append([]byte(nil), raw...)
			binary.LittleEndian.PutUint16(b[6:], 1)
			return b
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Result
			if _, err := got.ReadFrom(bytes.NewReader(tt.data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestWriteToRejectsUnterminatedMessage(t *testing.T) {
	res := &Result{
		Dictionary: newDictionary(nil, 128),
		Messages:   []EncodedMessage{{ID: MessageID{0, 0}, Bytes: []byte("abc")}},
		Groups:     [][]int{{0}},
	}
	if _, err := res.WriteTo(&bytes.Buffer{}); err == nil {
		t.Fatal("expected error")
	}
}
