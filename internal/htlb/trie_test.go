package htlb

import "testing"

func TestTrieLongestPrefixMatch(t *testing.T) {
	trie := NewTrieIndex()

	giga := &TlbEntry{Vaddr: 0x40000000}
	small := &TlbEntry{Vaddr: 0x40001000}

	trie.Insert(BuildKey(0x40000000, 0), significantBits(30), giga)
	trie.Insert(BuildKey(0x40001000, 0), significantBits(12), small)

	got, ok := trie.Lookup(BuildKey(0x40001000, 0))
	if !ok || got != small {
		t.Fatalf("expected the 4KiB entry to shadow the 1GiB entry, got %+v ok=%v", got, ok)
	}

	got, ok = trie.Lookup(BuildKey(0x40002000, 0))
	if !ok || got != giga {
		t.Fatalf("expected the 1GiB entry to cover an address outside the 4KiB entry, got %+v ok=%v", got, ok)
	}
}

func TestTrieRemove(t *testing.T) {
	trie := NewTrieIndex()
	e := &TlbEntry{Vaddr: 0x1000}
	h := trie.Insert(BuildKey(0x1000, 7), significantBits(12), e)

	trie.Remove(h)
	if _, ok := trie.Lookup(BuildKey(0x1000, 7)); ok {
		t.Fatal("expected lookup to miss after remove")
	}

	// Double remove must be a no-op, not a panic.
	trie.Remove(h)
	trie.Remove(Handle{})
}

func TestTrieDistinctAsid(t *testing.T) {
	trie := NewTrieIndex()
	a := &TlbEntry{Vaddr: 0x2000, Asid: 1}
	b := &TlbEntry{Vaddr: 0x2000, Asid: 2}
	trie.Insert(BuildKey(0x2000, 1), significantBits(12), a)
	trie.Insert(BuildKey(0x2000, 2), significantBits(12), b)

	got, ok := trie.Lookup(BuildKey(0x2000, 1))
	if !ok || got != a {
		t.Fatalf("expected asid-1 entry, got %+v ok=%v", got, ok)
	}
	got, ok = trie.Lookup(BuildKey(0x2000, 2))
	if !ok || got != b {
		t.Fatalf("expected asid-2 entry, got %+v ok=%v", got, ok)
	}
}
