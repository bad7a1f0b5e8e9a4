package romtext

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/seiflotfy/romtext/msgtext"
)

// EncodedMessage is the encoding of one canonical message.
type EncodedMessage struct {
	ID      MessageID
	Aliases []MessageID // later messages sharing these bytes
	Bytes   []byte      // terminated by msgtext.End
}

// Result is the output of Compress: the dictionary, one encoding per
// canonical message and, per corpus group, the index into Messages of every
// message slot (-1 for unused messages).
type Result struct {
	Dictionary *Dictionary
	Messages   []EncodedMessage
	Groups     [][]int
}

// Size returns the total number of encoded message bytes.
func (r *Result) Size() int {
	n := 0
	for _, m := range r.Messages {
		n += len(m.Bytes)
	}
	return n
}

// Lookup returns the encoding used for the message with the given ID.
func (r *Result) Lookup(id MessageID) (*EncodedMessage, bool) {
	if id.Group < 0 || id.Group >= len(r.Groups) || id.Index < 0 || id.Index >= len(r.Groups[id.Group]) {
		return nil, false
	}
	n := r.Groups[id.Group][id.Index]
	if n < 0 {
		return nil, false
	}
	return &r.Messages[n], true
}

const (
	archiveMagic   = "RTXA"
	archiveVersion = uint16(1)

	stageDictionary = "dictionary"
	stageMessages   = "messages"
	stageGroups     = "groups"

	stageMessagesParamRaw   = uint8(0)
	stageMessagesParamFlate = uint8(1)

	maxArchiveStages     = 16
	maxStagePayloadBytes = 64 << 20
)

var errTruncated = errors.New("truncated payload")

// Wire format (version 1):
//
//	magic[4] = "RTXA"
//	version  = uint16 little-endian
//	stageCnt = uint16 little-endian
//	repeat stageCnt times:
//	  nameLen  = uint8
//	  paramLen = uint16 little-endian
//	  dataLen  = uint32 little-endian
//	  name     = nameLen bytes
//	  params   = paramLen bytes
//	  payload  = dataLen bytes
//
// Required stage names:
//
//	dictionary (params: short code count), messages (params: raw or flate), groups
//
// Integers inside payloads are varints. Unknown stages are skipped via
// dataLen framing.
type wireStageHeader struct {
	name     string
	paramLen uint16
	dataLen  uint32
}

func writeBytes(w io.Writer, b []byte) (int64, error) {
	n, err := w.Write(b)
	if err != nil {
		return int64(n), err
	}
	if n != len(b) {
		return int64(n), io.ErrShortWrite
	}
	return int64(n), nil
}

func writeStage(w io.Writer, name string, params []byte, payload []byte) (int64, error) {
	if len(name) == 0 || len(name) > 255 {
		return 0, fmt.Errorf("invalid stage name length: %d", len(name))
	}
	if len(params) > int(^uint16(0)) {
		return 0, fmt.Errorf("stage params too large for %q: %d", name, len(params))
	}
	if len(payload) > maxStagePayloadBytes {
		return 0, fmt.Errorf("stage payload too large for %q: %d", name, len(payload))
	}

	hdr := make([]byte, 0, 7+len(name))
	hdr = append(hdr, uint8(len(name)))
	hdr = binary.LittleEndian.AppendUint16(hdr, uint16(len(params)))
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(len(payload)))
	hdr = append(hdr, name...)

	var total int64
	for _, b := range [][]byte{hdr, params, payload} {
		n, err := writeBytes(w, b)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func readStageHeader(r io.Reader) (wireStageHeader, int64, error) {
	var fixed [7]byte
	n, err := io.ReadFull(r, fixed[:])
	total := int64(n)
	if err != nil {
		return wireStageHeader{}, total, err
	}
	nameLen := int(fixed[0])
	if nameLen == 0 {
		return wireStageHeader{}, total, fmt.Errorf("stage name length must be > 0")
	}
	dataLen := binary.LittleEndian.Uint32(fixed[3:])
	if dataLen > maxStagePayloadBytes {
		return wireStageHeader{}, total, fmt.Errorf("stage payload too large: %d", dataLen)
	}

	name := make([]byte, nameLen)
	n, err = io.ReadFull(r, name)
	total += int64(n)
	if err != nil {
		return wireStageHeader{}, total, err
	}
	return wireStageHeader{
		name:     string(name),
		paramLen: binary.LittleEndian.Uint16(fixed[1:]),
		dataLen:  dataLen,
	}, total, nil
}

func encodeFlatePayload(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeFlatePayload(payload []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(payload))
	defer r.Close()

	raw, err := io.ReadAll(io.LimitReader(r, maxStagePayloadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(raw) > maxStagePayloadBytes {
		return nil, fmt.Errorf("flate payload expands beyond limit")
	}
	return raw, nil
}

// payloadReader decodes varint framed payloads. The first error sticks.
type payloadReader struct {
	b   []byte
	err error
}

func (p *payloadReader) uvarint() int {
	if p.err != nil {
		return 0
	}
	v, n := binary.Uvarint(p.b)
	if n <= 0 || v > maxStagePayloadBytes {
		p.err = errTruncated
		return 0
	}
	p.b = p.b[n:]
	return int(v)
}

func (p *payloadReader) varint() int {
	if p.err != nil {
		return 0
	}
	v, n := binary.Varint(p.b)
	if n <= 0 || v > maxStagePayloadBytes || v < -maxStagePayloadBytes {
		p.err = errTruncated
		return 0
	}
	p.b = p.b[n:]
	return int(v)
}

func (p *payloadReader) bytes(n int) []byte {
	if p.err != nil {
		return nil
	}
	if n > len(p.b) {
		p.err = errTruncated
		return nil
	}
	out := append([]byte(nil), p.b[:n]...)
	p.b = p.b[n:]
	return out
}

func (p *payloadReader) id() MessageID {
	return MessageID{Group: p.uvarint(), Index: p.uvarint()}
}

// count reads a length prefix that must be backed by at least minSize bytes
// per element.
func (p *payloadReader) count(minSize int) int {
	n := p.uvarint()
	if p.err == nil && n*minSize > len(p.b) {
		p.err = errTruncated
		return 0
	}
	return n
}

func (p *payloadReader) done() error {
	if p.err != nil {
		return p.err
	}
	if len(p.b) != 0 {
		return fmt.Errorf("%d trailing bytes", len(p.b))
	}
	return nil
}

func appendID(b []byte, id MessageID) []byte {
	b = binary.AppendUvarint(b, uint64(id.Group))
	return binary.AppendUvarint(b, uint64(id.Index))
}

func encodeDictionaryStage(d *Dictionary) []byte {
	b := binary.AppendUvarint(nil, uint64(len(d.Entries)))
	for _, e := range d.Entries {
		b = binary.AppendUvarint(b, uint64(len(e.Text)))
		b = append(b, e.Text...)
		b = binary.AppendVarint(b, int64(e.Saving))
		b = binary.AppendUvarint(b, uint64(len(e.Refs)))
		for _, id := range e.Refs {
			b = appendID(b, id)
		}
	}
	return b
}

func decodeDictionaryStage(dst *Result, params []byte, payload []byte) error {
	if len(params) != 1 {
		return fmt.Errorf("expected 1 param byte, got %d", len(params))
	}
	shortCodes := int(params[0])
	if shortCodes == 0 || shortCodes > maxShortCodes {
		return fmt.Errorf("invalid short code count: %d", shortCodes)
	}
	p := payloadReader{b: payload}
	n := p.count(3)
	entries := make([]Entry, 0, n)
	for i := 0; i < n && p.err == nil; i++ {
		text := string(p.bytes(p.uvarint()))
		saving := p.varint()
		refs := make([]MessageID, p.count(2))
		for j := range refs {
			refs[j] = p.id()
		}
		entries = append(entries, Entry{
			Index:  i,
			Text:   text,
			Code:   entryCode(i, shortCodes),
			Refs:   refs,
			Saving: saving,
		})
	}
	if err := p.done(); err != nil {
		return err
	}
	dst.Dictionary = newDictionary(entries, shortCodes)
	return nil
}

func encodeMessagesStage(msgs []EncodedMessage) ([]byte, uint8, error) {
	raw := binary.AppendUvarint(nil, uint64(len(msgs)))
	for _, m := range msgs {
		raw = appendID(raw, m.ID)
		raw = binary.AppendUvarint(raw, uint64(len(m.Aliases)))
		for _, a := range m.Aliases {
			raw = appendID(raw, a)
		}
		raw = binary.AppendUvarint(raw, uint64(len(m.Bytes)))
		raw = append(raw, m.Bytes...)
	}
	packed, err := encodeFlatePayload(raw)
	if err != nil {
		return nil, 0, err
	}
	if len(packed) < len(raw) {
		return packed, stageMessagesParamFlate, nil
	}
	return raw, stageMessagesParamRaw, nil
}

func decodeMessagesStage(dst *Result, params []byte, payload []byte) error {
	if len(params) != 1 {
		return fmt.Errorf("expected 1 param byte, got %d", len(params))
	}
	switch params[0] {
	case stageMessagesParamRaw:
	case stageMessagesParamFlate:
		raw, err := decodeFlatePayload(payload)
		if err != nil {
			return err
		}
		payload = raw
	default:
		return fmt.Errorf("unsupported messages param: %d", params[0])
	}

	p := payloadReader{b: payload}
	msgs := make([]EncodedMessage, p.count(4))
	for i := range msgs {
		m := &msgs[i]
		m.ID = p.id()
		if n := p.count(2); n > 0 {
			m.Aliases = make([]MessageID, n)
			for j := range m.Aliases {
				m.Aliases[j] = p.id()
			}
		}
		m.Bytes = p.bytes(p.uvarint())
	}
	if err := p.done(); err != nil {
		return err
	}
	dst.Messages = msgs
	return nil
}

func encodeGroupsStage(groups [][]int) []byte {
	b := binary.AppendUvarint(nil, uint64(len(groups)))
	for _, g := range groups {
		b = binary.AppendUvarint(b, uint64(len(g)))
		for _, n := range g {
			b = binary.AppendVarint(b, int64(n))
		}
	}
	return b
}

func decodeGroupsStage(dst *Result, _ []byte, payload []byte) error {
	p := payloadReader{b: payload}
	groups := make([][]int, p.count(1))
	for g := range groups {
		groups[g] = make([]int, p.count(1))
		for i := range groups[g] {
			groups[g][i] = p.varint()
		}
	}
	if err := p.done(); err != nil {
		return err
	}
	dst.Groups = groups
	return nil
}

func validateResult(r *Result) error {
	if r.Dictionary == nil {
		return fmt.Errorf("missing dictionary")
	}
	if limit := r.Dictionary.ShortCodes + maxExtendedCodes; len(r.Dictionary.Entries) > limit {
		return fmt.Errorf("%d dictionary entries exceed %d codes", len(r.Dictionary.Entries), limit)
	}
	for i, m := range r.Messages {
		if len(m.Bytes) == 0 || m.Bytes[len(m.Bytes)-1] != msgtext.End {
			return fmt.Errorf("message %s (index %d) is not terminated", m.ID, i)
		}
	}
	for g, group := range r.Groups {
		for i, n := range group {
			if n < -1 || n >= len(r.Messages) {
				return fmt.Errorf("group %02x slot %02x references message %d of %d", g, i, n, len(r.Messages))
			}
		}
	}
	return nil
}

// WriteTo serializes the Result to an io.Writer.
func (r *Result) WriteTo(w io.Writer) (int64, error) {
	if err := validateResult(r); err != nil {
		return 0, fmt.Errorf("invalid result: %w", err)
	}
	messagesPayload, messagesParam, err := encodeMessagesStage(r.Messages)
	if err != nil {
		return 0, err
	}

	stages := []struct {
		name    string
		params  []byte
		payload []byte
	}{
		{
			name:    stageDictionary,
			params:  []byte{uint8(r.Dictionary.ShortCodes)},
			payload: encodeDictionaryStage(r.Dictionary),
		},
		{
			name:    stageMessages,
			params:  []byte{messagesParam},
			payload: messagesPayload,
		},
		{
			name:    stageGroups,
			payload: encodeGroupsStage(r.Groups),
		},
	}

	hdr := append([]byte(archiveMagic), 0, 0, 0, 0)
	binary.LittleEndian.PutUint16(hdr[4:], archiveVersion)
	binary.LittleEndian.PutUint16(hdr[6:], uint16(len(stages)))
	total, err := writeBytes(w, hdr)
	if err != nil {
		return total, err
	}

	for _, stage := range stages {
		n, err := writeStage(w, stage.name, stage.params, stage.payload)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReadFrom deserializes a Result from an io.Reader.
func (r *Result) ReadFrom(rd io.Reader) (int64, error) {
	var hdr [8]byte
	n, err := io.ReadFull(rd, hdr[:])
	total := int64(n)
	if err != nil {
		return total, fmt.Errorf("read archive header: %w", err)
	}
	if string(hdr[:4]) != archiveMagic {
		return total, fmt.Errorf("invalid archive magic: %q", string(hdr[:4]))
	}
	if version := binary.LittleEndian.Uint16(hdr[4:]); version != archiveVersion {
		return total, fmt.Errorf("unsupported archive version: %d", version)
	}
	stageCount := binary.LittleEndian.Uint16(hdr[6:])
	if stageCount == 0 || stageCount > maxArchiveStages {
		return total, fmt.Errorf("invalid stage count: %d", stageCount)
	}

	var tmp Result
	decoders := map[string]func(*Result, []byte, []byte) error{
		stageDictionary: decodeDictionaryStage,
		stageMessages:   decodeMessagesStage,
		stageGroups:     decodeGroupsStage,
	}
	seen := make(map[string]bool, stageCount)

	for i := 0; i < int(stageCount); i++ {
		headerOffset := total
		header, n, err := readStageHeader(rd)
		total += n
		if err != nil {
			return total, fmt.Errorf("read stage header at offset %d (stage index %d): %w", headerOffset, i, err)
		}
		if seen[header.name] {
			return total, fmt.Errorf("duplicate stage %q at stage index %d", header.name, i)
		}

		params := make([]byte, header.paramLen)
		nParams, err := io.ReadFull(rd, params)
		total += int64(nParams)
		if err != nil {
			return total, fmt.Errorf("read stage %q params (stage index %d): %w", header.name, i, err)
		}

		decode, known := decoders[header.name]
		if !known {
			skipped, err := io.CopyN(io.Discard, rd, int64(header.dataLen))
			total += skipped
			if err != nil {
				return total, fmt.Errorf("skip unknown stage %q (stage index %d): %w", header.name, i, err)
			}
			continue
		}

		payload := make([]byte, header.dataLen)
		payloadOffset := total
		nPayload, err := io.ReadFull(rd, payload)
		total += int64(nPayload)
		if err != nil {
			return total, fmt.Errorf("read stage %q payload at offset %d (stage index %d): %w", header.name, payloadOffset, i, err)
		}
		if err := decode(&tmp, params, payload); err != nil {
			return total, fmt.Errorf("decode stage %q at offset %d (stage index %d): %w", header.name, payloadOffset, i, err)
		}
		seen[header.name] = true
	}

	for _, name := range []string{stageDictionary, stageMessages, stageGroups} {
		if !seen[name] {
			return total, fmt.Errorf("missing required stage %q", name)
		}
	}
	if err := validateResult(&tmp); err != nil {
		return total, fmt.Errorf("invalid archive structure: %w", err)
	}
	*r = tmp
	return total, nil
}
