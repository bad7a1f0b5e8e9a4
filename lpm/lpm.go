// Package lpm provides longest prefix matching over dictionary entries.
package lpm

import (
	"bytes"
	"encoding/binary"
	"unsafe"
)

// Bit masks for extracting prefixes of different lengths (little-endian)
var masks = [9]uint64{
	0x0000000000000000, // 0 bytes
	0x00000000000000FF, // 1 byte
	0x000000000000FFFF, // 2 bytes
	0x0000000000FFFFFF, // 3 bytes
	0x00000000FFFFFFFF, // 4 bytes
	0x000000FFFFFFFFFF, // 5 bytes
	0x0000FFFFFFFFFFFF, // 6 bytes
	0x00FFFFFFFFFFFFFF, // 7 bytes
	0xFFFFFFFFFFFFFFFF, // 8 bytes
}

const minMatch = 8

// prefixKey is a composite key for short pattern lookups.
type prefixKey struct {
	prefix uint64
	length uint8
}

// LongestPrefixMatcher is a hybrid longest prefix matcher supporting
// arbitrary-length patterns.
//
// Short patterns (up to 8 bytes) are found by direct hash lookup; longer ones
// are bucketed by their first 8 bytes and verified against suffix storage.
type LongestPrefixMatcher struct {
	longMatchBuckets map[uint64][]uint16  // 8-byte prefix → candidate IDs
	shortMatchLookup map[prefixKey]uint16 // (prefix, length) → ID
	dictionary       []byte               // Suffix storage for long patterns
	endPositions     []uint32             // Boundary positions in dictionary
	maxLen           int
}

// NewLongestPrefixMatcher creates a new empty longest prefix matcher.
func NewLongestPrefixMatcher() *LongestPrefixMatcher {
	return &LongestPrefixMatcher{
		longMatchBuckets: make(map[uint64][]uint16),
		shortMatchLookup: make(map[prefixKey]uint16),
		endPositions:     []uint32{0},
	}
}

// Len returns the number of inserted patterns.
func (lpm *LongestPrefixMatcher) Len() int { return len(lpm.endPositions) - 1 }

// MaxLen returns the length of the longest inserted pattern.
func (lpm *LongestPrefixMatcher) MaxLen() int { return lpm.maxLen }

// Insert inserts a new pattern with associated ID.
//
// Long pattern buckets are kept sorted by pattern length (descending) so
// lookups visit the longest candidate first.
//
// IDs must be inserted sequentially starting from 0. Inserting a short
// pattern twice keeps the first ID.
func (lpm *LongestPrefixMatcher) Insert(entry []byte, id uint16) {
	if len(entry) == 0 {
		lpm.endPositions = append(lpm.endPositions, uint32(len(lpm.dictionary)))
		return
	}
	lpm.maxLen = max(lpm.maxLen, len(entry))
	if len(entry) > minMatch {
		prefix := bytesToU64LE(entry, minMatch)
		lpm.dictionary = append(lpm.dictionary, entry[minMatch:]...)
		lpm.endPositions = append(lpm.endPositions, uint32(len(lpm.dictionary)))

		bucket := append(lpm.longMatchBuckets[prefix], id)
		// Insertion sort: one new element per call.
		for i := len(bucket) - 1; i > 0; i-- {
			if lpm.suffixLen(bucket[i]) > lpm.suffixLen(bucket[i-1]) {
				bucket[i], bucket[i-1] = bucket[i-1], bucket[i]
			} else {
				break
			}
		}
		lpm.longMatchBuckets[prefix] = bucket
		return
	}

	key := prefixKey{prefix: bytesToU64LE(entry, len(entry)), length: uint8(len(entry))}
	if _, ok := lpm.shortMatchLookup[key]; !ok {
		lpm.shortMatchLookup[key] = id
	}
	lpm.endPositions = append(lpm.endPositions, uint32(len(lpm.dictionary)))
}

func (lpm *LongestPrefixMatcher) suffixLen(id uint16) int {
	return int(lpm.endPositions[id+1]) - int(lpm.endPositions[id])
}

// FindLongestMatch returns the ID and length of the longest pattern that
// prefixes data.
func (lpm *LongestPrefixMatcher) FindLongestMatch(data []byte) (uint16, int, bool) {
	return lpm.FindLongestMatchFunc(data, nil)
}

// FindLongestMatchFunc is like FindLongestMatch but only returns matches
// accepted by accept. Candidates are offered longest first; a nil accept
// takes the first one.
//
// 1. Long pattern search: bucketed patterns (>8 bytes), longest first
// 2. Short pattern search: direct lookup patterns (≤8 bytes), decreasing length
func (lpm *LongestPrefixMatcher) FindLongestMatchFunc(data []byte, accept func(id uint16, length int) bool) (uint16, int, bool) {
	if len(data) > minMatch && len(lpm.longMatchBuckets) > 0 {
		prefix := bytesToU64LE(data, minMatch)
		for _, id := range lpm.longMatchBuckets[prefix] {
			suffix := lpm.dictionary[lpm.endPositions[id]:lpm.endPositions[id+1]]
			if !bytes.HasPrefix(data[minMatch:], suffix) {
				continue
			}
			length := minMatch + len(suffix)
			if accept == nil || accept(id, length) {
				return id, length, true
			}
		}
	}

	maxLen := min(minMatch, len(data), lpm.maxLen)
	prefix := bytesToU64LE(data, maxLen)
	for length := maxLen; length >= 1; length-- {
		key := prefixKey{prefix: prefix & masks[length], length: uint8(length)}
		if id, ok := lpm.shortMatchLookup[key]; ok {
			if accept == nil || accept(id, length) {
				return id, length, true
			}
		}
	}
	return 0, 0, false
}

// bytesToU64LE converts byte sequence to little-endian u64 with length masking.
func bytesToU64LE(bytes []byte, length int) uint64 {
	if length > 8 {
		length = 8
	}
	if length < 0 {
		length = 0
	}

	if len(bytes) < 8 {
		var buf [8]byte
		copy(buf[:], bytes)
		value := binary.LittleEndian.Uint64(buf[:])
		return value & masks[length]
	}

	// Safe because we verified len(bytes) >= 8 above
	ptr := unsafe.Pointer(&bytes[0])
	value := *(*uint64)(ptr)
	return value & masks[length]
}
