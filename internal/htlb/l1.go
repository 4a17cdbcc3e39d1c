package htlb

import (
	"log/slog"

	"github.com/rv39sim/xvsim/internal/rv39"
)

// Stats tallies read/write hit-miss traffic for a single lookup surface.
// Execute-mode accesses are folded into the read counters, matching the
// teacher's TLB where only Read vs Write stats buckets exist.
type Stats struct {
	ReadHits, ReadMisses, ReadAccesses    uint64
	WriteHits, WriteMisses, WriteAccesses uint64
}

func (s *Stats) record(mode rv39.AccessMode, hit bool) {
	if mode == rv39.AccessWrite {
		s.WriteAccesses++
		if hit {
			s.WriteHits++
		} else {
			s.WriteMisses++
		}
		return
	}
	s.ReadAccesses++
	if hit {
		s.ReadHits++
	} else {
		s.ReadMisses++
	}
}

// L1TLB is the single-level 4KiB translation cache that every full
// translation resolves through before falling back to L2TLB and the
// walker.
type L1TLB struct {
	pool  *singleSlotPool
	trie  *TrieIndex
	clock *lruClock
	log   *slog.Logger

	Stats Stats
}

// NewL1TLB creates an L1TLB with room for capacity resident entries.
func NewL1TLB(capacity int, clock *lruClock, log *slog.Logger) *L1TLB {
	if log == nil {
		log = slog.Default()
	}
	return &L1TLB{pool: newSingleSlotPool(capacity), trie: NewTrieIndex(), clock: clock, log: log}
}

// Lookup probes the trie with (vaddrMasked, asid). If hidden is false, a
// hit refreshes LruSeq and both are reflected in Stats.
func (l *L1TLB) Lookup(vaddrMasked uint64, asid uint16, mode rv39.AccessMode, hidden bool) (*TlbEntry, bool) {
	entry, ok := l.trie.Lookup(BuildKey(vaddrMasked, asid))
	if hidden {
		return entry, ok
	}
	l.Stats.record(mode, ok)
	if ok {
		entry.LruSeq = l.clock.next()
	}
	l.log.Debug("l1tlb lookup", "vaddr", vaddrMasked, "asid", asid, "hit", ok)
	return entry, ok
}

// Insert installs entry at vaddrMasked. If an entry already exists for
// (vaddrMasked, asid) its PTE is overwritten in place (propagating
// dirty/writable updates) and that entry is returned; otherwise a free
// slot is allocated, evicting the minimum-LruSeq entry if necessary.
func (l *L1TLB) Insert(vaddrMasked uint64, entry TlbEntry) *TlbEntry {
	if existing, ok := l.Lookup(vaddrMasked, entry.Asid, rv39.AccessRead, true); ok {
		existing.Pte = entry.Pte
		return existing
	}

	if l.pool.empty() {
		l.evictLRU()
	}
	idx, ok := l.pool.alloc()
	if !ok {
		panic("htlb: l1tlb free list exhausted immediately after eviction")
	}

	slot := &l.pool.entries[idx]
	*slot = entry
	slot.Vaddr = vaddrMasked
	slot.LruSeq = l.clock.next()
	slot.TrieHandle = l.trie.Insert(BuildKey(vaddrMasked, entry.Asid), significantBits(entry.LogBytes), slot)
	return slot
}

func (l *L1TLB) evictLRU() {
	lru := -1
	for i := range l.pool.entries {
		e := &l.pool.entries[i]
		if !e.TrieHandle.valid {
			continue
		}
		if lru == -1 || e.LruSeq < l.pool.entries[lru].LruSeq {
			lru = i
		}
	}
	if lru == -1 {
		return
	}
	l.remove(lru)
}

func (l *L1TLB) remove(idx int) {
	e := &l.pool.entries[idx]
	l.trie.Remove(e.TrieHandle)
	e.TrieHandle = Handle{}
	l.pool.release(idx)
}

// FlushAll evicts every resident entry.
func (l *L1TLB) FlushAll() {
	for i := range l.pool.entries {
		if l.pool.entries[i].TrieHandle.valid {
			l.remove(i)
		}
	}
}

// DemapPage flushes entries matching vaddrMasked/asid. (0,0) is
// equivalent to FlushAll.
func (l *L1TLB) DemapPage(vaddrMasked uint64, asid uint16) {
	if vaddrMasked == 0 && asid == 0 {
		l.FlushAll()
		return
	}
	for i := range l.pool.entries {
		e := &l.pool.entries[i]
		if !e.TrieHandle.valid {
			continue
		}
		mask := ^e.Mask()
		if (vaddrMasked == 0 || (vaddrMasked&mask) == e.Vaddr) && (asid == 0 || e.Asid == asid) {
			l.remove(i)
		}
	}
}

// Resident reports how many entries are currently installed.
func (l *L1TLB) Resident() int { return l.pool.len() - len(l.pool.free) }

// Capacity reports the total number of L1TLB slots.
func (l *L1TLB) Capacity() int { return l.pool.len() }
