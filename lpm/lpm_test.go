package lpm

import "testing"

func newTestMatcher(entries ...string) *LongestPrefixMatcher {
	m := NewLongestPrefixMatcher()
	for i, e := range entries {
		m.Insert([]byte(e), uint16(i))
	}
	return m
}

func TestFindLongestMatch(t *testing.T) {
	m := newTestMatcher("go", "good", "goodbye forever", "goodbye for", "x")
	if m.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", m.Len())
	}
	if m.MaxLen() != len("goodbye forever") {
		t.Fatalf("MaxLen() = %d", m.MaxLen())
	}

	tests := []struct {
		in     string
		id     uint16
		length int
		ok     bool
	}{
		{"go", 0, 2, true},
		{"goo", 0, 2, true},
		{"goods", 1, 4, true},
		{"goodbye forever and ever", 2, 15, true},
		{"goodbye fortune", 3, 11, true},
		{"goodbye", 1, 4, true},
		{"xylophone", 4, 1, true},
		{"nothing", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tt := range tests {
		id, length, ok := m.FindLongestMatch([]byte(tt.in))
		if ok != tt.ok || (ok && (id != tt.id || length != tt.length)) {
			t.Errorf("FindLongestMatch(%q) = (%d, %d, %v), want (%d, %d, %v)",
				tt.in, id, length, ok, tt.id, tt.length, tt.ok)
		}
	}
}

func TestFindLongestMatchFunc(t *testing.T) {
	m := newTestMatcher("now", "now friend", "no")
	data := []byte("now friendly")

	// Only accept matches that end at a space or the end of data.
	aligned := func(_ uint16, n int) bool { return n == len(data) || data[n] == ' ' }
	id, length, ok := m.FindLongestMatchFunc(data, aligned)
	if !ok || id != 0 || length != 3 {
		t.Fatalf("FindLongestMatchFunc = (%d, %d, %v), want (0, 3, true)", id, length, ok)
	}

	var offered []int
	m.FindLongestMatchFunc(data, func(_ uint16, n int) bool {
		offered = append(offered, n)
		return false
	})
	want := []int{10, 3, 2}
	if len(offered) != len(want) {
		t.Fatalf("offered %v, want %v", offered, want)
	}
	for i := range want {
		if offered[i] != want[i] {
			t.Fatalf("offered %v, want %v", offered, want)
		}
	}
}

func TestInsertDuplicateKeepsFirst(t *testing.T) {
	m := newTestMatcher("abc", "abc")
	id, _, ok := m.FindLongestMatch([]byte("abc"))
	if !ok || id != 0 {
		t.Fatalf("FindLongestMatch = (%d, %v), want (0, true)", id, ok)
	}
}

func BenchmarkFindLongestMatch(b *testing.B) {
	m := newTestMatcher("the", "there", "therefore", "the end", "then", "they")
	data := []byte("therefore they went")
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		m.FindLongestMatch(data)
	}
}
