package htlb

// TrieIndex performs longest-prefix-match lookup over 64-bit keys built
// from (ASID, masked virtual address) pairs. Entries for smaller pages
// carry a larger significantBits width and therefore shadow entries for
// larger pages that cover the same address range — this is the
// "finer-grained matches win" rule the partitions rely on.
//
// Handles are opaque (width, key) indices, not raw pointers: a handle only
// encodes which width-bucket and which truncated key it belongs to, so a
// double-remove is a no-op rather than a dangling-pointer bug. Handles
// carry no generation: a stale handle still removes whatever entry has
// since been installed under the same width and key.
type TrieIndex struct {
	buckets map[uint]map[uint64]*TlbEntry
	widths  []uint // maintained sorted descending (most specific first)
}

// MaxBits is the width of the key space (asid<<48 | maskedVaddr).
const MaxBits = 64

// Handle identifies a single installed trie entry.
type Handle struct {
	width uint
	key   uint64
	valid bool
}

// NewTrieIndex creates an empty trie.
func NewTrieIndex() *TrieIndex {
	return &TrieIndex{buckets: make(map[uint]map[uint64]*TlbEntry)}
}

func truncate(key uint64, significantBits uint) uint64 {
	if significantBits >= 64 {
		return key
	}
	if significantBits == 0 {
		return 0
	}
	mask := ^uint64(0) << (64 - significantBits)
	return key & mask
}

// Insert installs payload under key, matched against the query's top
// significantBits bits. Returns a handle used for later removal.
func (t *TrieIndex) Insert(key uint64, significantBits uint, payload *TlbEntry) Handle {
	trunc := truncate(key, significantBits)
	b, ok := t.buckets[significantBits]
	if !ok {
		b = make(map[uint64]*TlbEntry)
		t.buckets[significantBits] = b
		t.insertWidth(significantBits)
	}
	b[trunc] = payload
	return Handle{width: significantBits, key: trunc, valid: true}
}

func (t *TrieIndex) insertWidth(w uint) {
	// Keep widths sorted descending: wider (more specific) prefixes are
	// tried first so smaller pages shadow larger ones.
	idx := 0
	for idx < len(t.widths) && t.widths[idx] > w {
		idx++
	}
	if idx < len(t.widths) && t.widths[idx] == w {
		return
	}
	t.widths = append(t.widths, 0)
	copy(t.widths[idx+1:], t.widths[idx:])
	t.widths[idx] = w
}

// Lookup returns the installed entry whose key agrees with query on the
// most significant bits up to that entry's width, preferring the entry
// with the largest such width (longest match).
func (t *TrieIndex) Lookup(key uint64) (*TlbEntry, bool) {
	for _, w := range t.widths {
		if v, ok := t.buckets[w][truncate(key, w)]; ok {
			return v, true
		}
	}
	return nil, false
}

// Remove releases the slot referenced by h. A zero-value or already-
// removed handle is a no-op.
func (t *TrieIndex) Remove(h Handle) {
	if !h.valid {
		return
	}
	delete(t.buckets[h.width], h.key)
}
