package htlb

import "github.com/rv39sim/xvsim/internal/rv39"

// TlbEntry is a single resident translation, shared by L1TLB and every
// L2TLB partition (each partition owns its own backing array of these).
type TlbEntry struct {
	Vaddr    uint64   // virtual address masked down to this entry's page size
	Paddr    uint64   // physical page number (PPN)
	Asid     uint16   // 16-bit address-space id
	Pte      rv39.PTE // raw PTE backing this entry
	LogBytes uint     // 12, 21, or 30
	Level    int      // 0 = 4KiB, 1 = 1GiB super, 2 = 2MiB super
	LruSeq   uint64   // monotonic access counter
	Index    uint64   // partition-local hash, used for set-indexed eviction

	// GroupStart is the backing-array index of this entry's link group's
	// first (primary) slot. L2TLB partitions allocate and free in
	// 8-entry groups; GroupStart lets a hit on any member locate its
	// siblings for the group-wide lruSeq refresh without pointer math.
	GroupStart int

	// TrieHandle is non-zero-valued iff this entry is currently installed
	// in its partition's trie. Removing with a zero-value Handle is safe
	// (TrieIndex.Remove is a no-op on it).
	TrieHandle Handle
}

// BuildKey packs (asid, maskedVaddr) into the 64-bit trie key:
// (asid << 48) | maskedVaddr.
func BuildKey(maskedVaddr uint64, asid uint16) uint64 {
	return (uint64(asid) << 48) | maskedVaddr
}

// Size returns the byte size of the page this entry covers.
func (e *TlbEntry) Size() uint64 {
	return uint64(1) << e.LogBytes
}

// Mask returns the page mask (size-1) for this entry.
func (e *TlbEntry) Mask() uint64 {
	return e.Size() - 1
}

// significantBits is the trie-match width for a given page logBytes, i.e.
// MaxBits - logBytes. Finer pages (smaller logBytes) get a wider,
// more-specific match and therefore shadow coarser pages on lookup.
func significantBits(logBytes uint) uint {
	return MaxBits - logBytes
}
