package htlb

import (
	"testing"

	"github.com/rv39sim/xvsim/internal/rv39"
)

func TestL2TLBInsertAndLookupPriority(t *testing.T) {
	clock := &lruClock{}
	l2 := NewL2TLB(2, 2, 2, 2, clock, nil)

	// A 1GiB mapping and, within it, a 4KiB mapping at the same address.
	l2.Insert(0x40000000, TlbEntry{Asid: 1, LogBytes: rv39.LogBytes1G}, Flevel1, 1)
	l2.Insert(0x40000000, TlbEntry{Asid: 1, LogBytes: rv39.LogBytes4K}, Flevel3, 1)

	hit, ok := l2.Lookup(0x40000000, 1, rv39.AccessRead, false)
	if !ok {
		t.Fatal("expected a hit")
	}
	if hit.Flevel != Flevel3 {
		t.Fatalf("expected l2l3 (finer-grained) to win priority, got flevel %d", hit.Flevel)
	}
}

func TestL2TLBSuperPageDisambiguation(t *testing.T) {
	clock := &lruClock{}
	l2 := NewL2TLB(1, 1, 1, 2, clock, nil)

	l2.Insert(0x80000000, TlbEntry{Asid: 1, LogBytes: rv39.LogBytes1G}, Flevel4, 1)

	if _, ok := l2.lookupL2TLB(0x80000000, 1, rv39.AccessRead, true, Flevel4); !ok {
		t.Fatal("expected the 1GiB slot to hit on flevel 4")
	}
	if _, ok := l2.lookupL2TLB(0x80000000, 1, rv39.AccessRead, true, Flevel5); ok {
		t.Fatal("expected the 2MiB slot to miss: the resident entry is tagged level-1G")
	}
}

func TestL2TLBInsertRefreshesExisting(t *testing.T) {
	clock := &lruClock{}
	l2 := NewL2TLB(1, 1, 2, 1, clock, nil)

	l2.Insert(0x3000, TlbEntry{Asid: 1, LogBytes: rv39.LogBytes4K, Pte: 0x1}, Flevel3, 1)
	slot := l2.Insert(0x3000, TlbEntry{Asid: 1, LogBytes: rv39.LogBytes4K, Pte: 0x5}, Flevel3, 1)

	if slot.Pte != 0x5 {
		t.Fatalf("expected pte refreshed to 0x5, got %v", slot.Pte)
	}
	if res := l2.Resident(); res[2] != 1 {
		t.Fatalf("expected exactly 1 resident l2l3 group after refresh-insert, got %v", res)
	}
}

func TestL2TLBFlushAll(t *testing.T) {
	clock := &lruClock{}
	l2 := NewL2TLB(1, 1, 1, 1, clock, nil)
	l2.Insert(0x40000000, TlbEntry{Asid: 1, LogBytes: rv39.LogBytes1G}, Flevel1, 1)
	l2.Insert(0x1000, TlbEntry{Asid: 1, LogBytes: rv39.LogBytes4K}, Flevel3, 1)

	l2.FlushAll()
	res := l2.Resident()
	for i, n := range res {
		if n != 0 {
			t.Fatalf("expected partition %d empty after flushAll, got %d", i, n)
		}
	}
}

func TestL2TLBFillSiblingInstallsAndRefreshesWithPrimary(t *testing.T) {
	clock := &lruClock{}
	l2 := NewL2TLB(1, 1, 1, 1, clock, nil)

	primary := l2.Insert(0x1000, TlbEntry{Asid: 1, LogBytes: rv39.LogBytes4K, Pte: 0x1}, Flevel3, 1)
	sibling := l2.FillSibling(Flevel3, primary.GroupStart, 1, TlbEntry{
		Vaddr: 0x2000, Asid: 1, LogBytes: rv39.LogBytes4K, Pte: 0x5,
	})

	if hit, ok := l2.Lookup(0x2000, 1, rv39.AccessRead, true); !ok || hit.Entry != sibling {
		t.Fatalf("expected the sibling slot to be independently resolvable, got %+v ok=%v", hit, ok)
	}

	before := sibling.LruSeq
	// A hit on the primary slot refreshes every resident sibling in its
	// link group, not just the slot that was looked up.
	l2.Lookup(0x1000, 1, rv39.AccessRead, false)
	if sibling.LruSeq <= before {
		t.Fatalf("expected the primary's hit to refresh its sibling too, before=%d after=%d", before, sibling.LruSeq)
	}
}

func TestL2TLBEvictRemovesWholeGroupIncludingSiblings(t *testing.T) {
	clock := &lruClock{}
	l2 := NewL2TLB(1, 1, 1, 1, clock, nil)

	primary := l2.Insert(0x1000, TlbEntry{Asid: 1, LogBytes: rv39.LogBytes4K, Pte: 0x1}, Flevel3, 1)
	l2.FillSibling(Flevel3, primary.GroupStart, 1, TlbEntry{
		Vaddr: 0x2000, Asid: 1, LogBytes: rv39.LogBytes4K, Pte: 0x5,
	})

	l2.Evict(Flevel3, 0x1000)

	if _, ok := l2.Lookup(0x1000, 1, rv39.AccessRead, true); ok {
		t.Fatal("expected Evict to remove the primary slot")
	}
	if _, ok := l2.Lookup(0x2000, 1, rv39.AccessRead, true); ok {
		t.Fatal("expected Evict to remove the sibling slot along with its group")
	}
}

func TestL2TLBGroupLRURefreshOnHit(t *testing.T) {
	clock := &lruClock{}
	l2 := NewL2TLB(1, 1, 1, 1, clock, nil)
	l2.Insert(0x1000, TlbEntry{Asid: 1, LogBytes: rv39.LogBytes4K}, Flevel3, 1)

	primary, _ := l2.lookupL2TLB(0x1000, 1, rv39.AccessRead, true, Flevel3)
	before := primary.LruSeq
	l2.lookupL2TLB(0x1000, 1, rv39.AccessRead, false, Flevel3)
	if primary.LruSeq <= before {
		t.Fatalf("expected lruSeq to advance on non-hidden hit, before=%d after=%d", before, primary.LruSeq)
	}
}
