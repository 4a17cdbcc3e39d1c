package htlb

import (
	"log/slog"

	"github.com/rv39sim/xvsim/internal/rv39"
)

// Partition selectors for lookupL2TLB/Insert/Evict. The numbering matches
// the source's flevel convention so cross-referencing against the walk
// depth (flevelDepth) stays obvious.
const (
	Flevel1 = 1 // l2l1: 1GiB mappings
	Flevel2 = 2 // l2l2: 2MiB mappings
	Flevel3 = 3 // l2l3: 4KiB mappings
	Flevel4 = 4 // l2sp: 1GiB super-page slot
	Flevel5 = 5 // l2sp: 2MiB super-page slot
)

// l2Partition is one of L2TLB's four independently-sized backing pools.
// l2sp is logically two partitions (1GiB and 2MiB super-pages) sharing
// one pool, disambiguated by TlbEntry.Level.
type l2Partition struct {
	pool *groupPool
	trie *TrieIndex
}

func newL2Partition(groups int) *l2Partition {
	return &l2Partition{pool: newGroupPool(groups), trie: NewTrieIndex()}
}

// L2Hit describes a priority-ordered L2TLB lookup result.
type L2Hit struct {
	Entry  *TlbEntry
	Flevel int
	// Depth is the remaining walk depth the matched partition represents:
	// 0 for l2l3, 1 for l2l2/l2sp(2MiB), 2 for l2l1/l2sp(1GiB).
	Depth int
}

// L2TLB is the partitioned second-level translation cache: separate
// pools per page size plus a shared super-page pool, each with its own
// trie and its own eviction discipline.
type L2TLB struct {
	l1Part *l2Partition // 1GiB, fully-associative LRU
	l2Part *l2Partition // 2MiB, set-indexed eviction
	l3Part *l2Partition // 4KiB, set-indexed eviction
	spPart *l2Partition // shared super-page, fully-associative LRU

	clock *lruClock
	log   *slog.Logger

	Stats Stats
}

// NewL2TLB creates an L2TLB whose partitions hold n1/n2/n3/nsp groups of
// 8 entries each.
func NewL2TLB(n1, n2, n3, nsp int, clock *lruClock, log *slog.Logger) *L2TLB {
	if log == nil {
		log = slog.Default()
	}
	return &L2TLB{
		l1Part: newL2Partition(n1),
		l2Part: newL2Partition(n2),
		l3Part: newL2Partition(n3),
		spPart: newL2Partition(nsp),
		clock:  clock,
		log:    log,
	}
}

func l2Index(vaddr uint64) uint64 { return (vaddr >> 24) & 0x1F }
func l3Index(vaddr uint64) uint64 { return (vaddr >> 15) & 0x7F }

func indexOf(flevel int, vaddr uint64) uint64 {
	switch flevel {
	case Flevel2:
		return l2Index(vaddr)
	case Flevel3:
		return l3Index(vaddr)
	default:
		return 0
	}
}

func flevelDepth(flevel int) int {
	switch flevel {
	case Flevel3:
		return 0
	case Flevel2, Flevel5:
		return 1
	case Flevel1, Flevel4:
		return 2
	default:
		panic("htlb: invalid flevel")
	}
}

// partitionFor resolves the partition, trie key, and trie match width for
// flevel against vpn. For the shared super-page partition it also returns
// the TlbEntry.Level value a hit must carry to count, disambiguating the
// 1GiB and 2MiB slots of the same pool.
func (t *L2TLB) partitionFor(vpn uint64, flevel int) (part *l2Partition, key uint64, sigBits uint, levelFilter *int) {
	switch flevel {
	case Flevel1:
		return t.l1Part, (vpn >> 30) << 30, significantBits(30), nil
	case Flevel2:
		return t.l2Part, (vpn >> 21) << 21, significantBits(21), nil
	case Flevel3:
		return t.l3Part, vpn, significantBits(12), nil
	case Flevel4:
		f := rv39.Level1G
		return t.spPart, (vpn >> 30) << 30, significantBits(30), &f
	case Flevel5:
		f := rv39.Level2M
		return t.spPart, (vpn >> 21) << 21, significantBits(21), &f
	default:
		panic("htlb: invalid flevel")
	}
}

// lookupL2TLB probes a single partition, per the flevel convention
// documented on the Flevel* constants.
func (t *L2TLB) lookupL2TLB(vpn uint64, asid uint16, mode rv39.AccessMode, hidden bool, flevel int) (*TlbEntry, bool) {
	part, key, _, levelFilter := t.partitionFor(vpn, flevel)
	entry, ok := part.trie.Lookup(BuildKey(key, asid))
	if ok && levelFilter != nil && entry.Level != *levelFilter {
		entry, ok = nil, false
	}
	if hidden {
		return entry, ok
	}
	t.Stats.record(mode, ok)
	if ok {
		t.refreshGroup(part, entry)
	}
	return entry, ok
}

// refreshGroup bumps LruSeq on every resident member of entry's link
// group. Siblings that have not yet been filled in by the walker (see
// Insert) are skipped rather than treated as a structural violation:
// this package models link groups as lazily populated, so "every
// sibling is resident" is relaxed to "every resident sibling is
// refreshed".
func (t *L2TLB) refreshGroup(part *l2Partition, entry *TlbEntry) {
	start := entry.GroupStart
	for i := start; i < start+groupSize; i++ {
		if part.pool.entries[i].TrieHandle.valid {
			part.pool.entries[i].LruSeq = t.clock.next()
		}
	}
}

// l2LookupOrder is the priority TranslateDriver probes partitions in:
// l2l3 (4KiB) first, then the super-page partition's 1GiB and 2MiB
// slots, then l2l2 (2MiB) and l2l1 (1GiB). A 4KiB hit therefore shadows
// every coarser partition, but a super-page hit shadows l2l2 and l2l1
// regardless of page size.
var l2LookupOrder = [...]int{Flevel3, Flevel4, Flevel5, Flevel2, Flevel1}

// Lookup probes every partition in priority order and returns the first
// hit.
func (t *L2TLB) Lookup(vpn uint64, asid uint16, mode rv39.AccessMode, hidden bool) (L2Hit, bool) {
	for _, fl := range l2LookupOrder {
		if entry, ok := t.lookupL2TLB(vpn, asid, mode, hidden, fl); ok {
			return L2Hit{Entry: entry, Flevel: fl, Depth: flevelDepth(fl)}, true
		}
	}
	return L2Hit{}, false
}

// Insert installs entry into the partition selected by choose. If a
// matching entry is already present (hidden lookup) its PTE is refreshed
// in place. sign distinguishes unconditional set-associative eviction
// (sign == 0, on l2l2/l2l3 only) from "evict only if the free list is
// empty" (every other case).
func (t *L2TLB) Insert(vpn uint64, entry TlbEntry, choose int, sign int) *TlbEntry {
	part, key, sigBits, levelFilter := t.partitionFor(vpn, choose)

	if existing, ok := t.lookupL2TLB(vpn, entry.Asid, rv39.AccessRead, true, choose); ok {
		existing.Pte = entry.Pte
		return existing
	}

	idx := indexOf(choose, key)
	switch {
	case (choose == Flevel2 || choose == Flevel3) && sign == 0:
		t.evictIndexSet(part, choose, idx)
	case part.pool.empty():
		t.evictOne(part)
	}

	start, ok := part.pool.allocGroup()
	if !ok {
		panic("htlb: l2tlb group free list exhausted immediately after eviction")
	}

	slot := &part.pool.entries[start]
	*slot = entry
	slot.Vaddr = key
	slot.Index = idx
	slot.GroupStart = start
	slot.LruSeq = t.clock.next()
	if levelFilter != nil {
		slot.Level = *levelFilter
	}
	slot.TrieHandle = part.trie.Insert(BuildKey(key, entry.Asid), sigBits, slot)
	return slot
}

// FillSibling installs entry into link-group slot groupStart+offset
// (offset in [1,7]; offset 0 is the primary slot written by Insert). The
// walker calls this as it resolves neighbouring translations within an
// already-allocated group.
func (t *L2TLB) FillSibling(choose int, groupStart, offset int, entry TlbEntry) *TlbEntry {
	part, _, sigBits, _ := t.partitionFor(entry.Vaddr, choose)
	if offset <= 0 || offset >= groupSize {
		panic("htlb: sibling offset out of range")
	}
	idx := groupStart + offset
	slot := &part.pool.entries[idx]
	*slot = entry
	slot.GroupStart = groupStart
	slot.LruSeq = t.clock.next()
	slot.TrieHandle = part.trie.Insert(BuildKey(entry.Vaddr, entry.Asid), sigBits, slot)
	return slot
}

// evictIndexSet evicts the lowest-LruSeq group among those whose primary
// slot's Index matches idx. maxMatches bounds the hard invariant from the
// source (at most 2 matching groups in l2l2, at most 4 in l2l3).
func (t *L2TLB) evictIndexSet(part *l2Partition, choose int, idx uint64) {
	maxMatches := 2
	if choose == Flevel3 {
		maxMatches = 4
	}
	victim, matches := -1, 0
	for start := 0; start < len(part.pool.entries); start += groupSize {
		p := &part.pool.entries[start]
		if !p.TrieHandle.valid || p.Index != idx {
			continue
		}
		matches++
		if victim == -1 || p.LruSeq < part.pool.entries[victim].LruSeq {
			victim = start
		}
	}
	if matches > maxMatches {
		panic("htlb: index set over capacity")
	}
	if victim == -1 {
		return
	}
	t.removeGroup(part, victim)
}

// evictOne evicts the partition-wide minimum-LruSeq group: the
// fully-associative policy used by l2l1 and l2sp, and the fallback for
// l2l2/l2l3 when the free list is empty but sign != 0.
func (t *L2TLB) evictOne(part *l2Partition) {
	victim := -1
	for start := 0; start < len(part.pool.entries); start += groupSize {
		p := &part.pool.entries[start]
		if !p.TrieHandle.valid {
			continue
		}
		if victim == -1 || p.LruSeq < part.pool.entries[victim].LruSeq {
			victim = start
		}
	}
	if victim == -1 {
		return
	}
	t.removeGroup(part, victim)
}

func (t *L2TLB) removeGroup(part *l2Partition, start int) {
	for i := start; i < start+groupSize; i++ {
		e := &part.pool.entries[i]
		if e.TrieHandle.valid {
			part.trie.Remove(e.TrieHandle)
		}
	}
	part.pool.releaseGroup(start)
}

// Evict releases the 8-aligned group covering vaddr in the partition
// selected by flevel. Evict takes no ASID, so a matching group is
// released for every ASID that has one resident.
func (t *L2TLB) Evict(flevel int, vaddr uint64) {
	part, key, _, levelFilter := t.partitionFor(vaddr, flevel)
	key &^= rv39.PageMask(rv39.LogBytes4K)
	for i := range part.pool.entries {
		e := &part.pool.entries[i]
		if e.TrieHandle.valid && e.Vaddr == key && (levelFilter == nil || e.Level == *levelFilter) {
			t.removeGroup(part, e.GroupStart)
		}
	}
}

func (t *L2TLB) partitions() [4]*l2Partition {
	return [4]*l2Partition{t.l1Part, t.l2Part, t.l3Part, t.spPart}
}

// FlushAll evicts every resident group in every partition.
func (t *L2TLB) FlushAll() {
	for _, part := range t.partitions() {
		for start := 0; start < len(part.pool.entries); start += groupSize {
			if part.pool.entries[start].TrieHandle.valid {
				t.removeGroup(part, start)
			}
		}
	}
}

// DemapPage flushes matching groups from every partition, masking vpn to
// each partition's canonical page size before comparing. (0,0) is
// equivalent to FlushAll.
func (t *L2TLB) DemapPage(vpn uint64, asid uint16) {
	if vpn == 0 && asid == 0 {
		t.FlushAll()
		return
	}
	t.demapPartition(t.l1Part, vpn, asid, 30)
	t.demapPartition(t.l2Part, vpn, asid, 21)
	t.demapPartition(t.l3Part, vpn, asid, 12)
	t.demapPartition(t.spPart, vpn, asid, 30)
	t.demapPartition(t.spPart, vpn, asid, 21)
}

func (t *L2TLB) demapPartition(part *l2Partition, vpn uint64, asid uint16, logBytes uint) {
	masked := (vpn >> logBytes) << logBytes
	for start := 0; start < len(part.pool.entries); start += groupSize {
		p := &part.pool.entries[start]
		if !p.TrieHandle.valid {
			continue
		}
		if (vpn == 0 || p.Vaddr == masked) && (asid == 0 || p.Asid == asid) {
			t.removeGroup(part, start)
		}
	}
}

// Resident reports the number of resident groups (not slots) in each
// partition, in l1/l2/l3/sp order, for tests.
func (t *L2TLB) Resident() [4]int {
	var out [4]int
	for i, part := range t.partitions() {
		out[i] = part.pool.capacity()/groupSize - len(part.pool.freeGroups)
	}
	return out
}
