package htlb

import (
	"testing"

	"github.com/rv39sim/xvsim/internal/rv39"
)

func TestL1TLBInsertLookup(t *testing.T) {
	clock := &lruClock{}
	l1 := NewL1TLB(2, clock, nil)

	l1.Insert(0x1000, TlbEntry{Asid: 1, LogBytes: rv39.LogBytes4K, Pte: 0x7})
	entry, ok := l1.Lookup(0x1000, 1, rv39.AccessRead, false)
	if !ok || entry.Pte != 0x7 {
		t.Fatalf("expected hit with pte 0x7, got %+v ok=%v", entry, ok)
	}
	if l1.Stats.ReadHits != 1 {
		t.Fatalf("expected 1 read hit, got %d", l1.Stats.ReadHits)
	}

	if _, ok := l1.Lookup(0x2000, 1, rv39.AccessRead, false); ok {
		t.Fatal("expected miss on unrelated address")
	}
	if l1.Stats.ReadMisses != 1 {
		t.Fatalf("expected 1 read miss, got %d", l1.Stats.ReadMisses)
	}
}

func TestL1TLBInsertOverwritesExisting(t *testing.T) {
	clock := &lruClock{}
	l1 := NewL1TLB(2, clock, nil)

	l1.Insert(0x1000, TlbEntry{Asid: 1, LogBytes: rv39.LogBytes4K, Pte: 0x1})
	slot := l1.Insert(0x1000, TlbEntry{Asid: 1, LogBytes: rv39.LogBytes4K, Pte: 0x3})

	if l1.Resident() != 1 {
		t.Fatalf("expected 1 resident entry after overwrite-insert, got %d", l1.Resident())
	}
	if slot.Pte != 0x3 {
		t.Fatalf("expected overwritten pte 0x3, got %v", slot.Pte)
	}
}

func TestL1TLBEvictsLRUWhenFull(t *testing.T) {
	clock := &lruClock{}
	l1 := NewL1TLB(1, clock, nil)

	l1.Insert(0x1000, TlbEntry{Asid: 1, LogBytes: rv39.LogBytes4K})
	l1.Lookup(0x1000, 1, rv39.AccessRead, false) // bump lruSeq
	l1.Insert(0x2000, TlbEntry{Asid: 1, LogBytes: rv39.LogBytes4K})

	if _, ok := l1.Lookup(0x1000, 1, rv39.AccessRead, true); ok {
		t.Fatal("expected the original entry to have been evicted")
	}
	if _, ok := l1.Lookup(0x2000, 1, rv39.AccessRead, true); !ok {
		t.Fatal("expected the new entry to be resident")
	}
}

func TestL1TLBDemapPage(t *testing.T) {
	clock := &lruClock{}
	l1 := NewL1TLB(4, clock, nil)
	l1.Insert(0x1000, TlbEntry{Asid: 1, LogBytes: rv39.LogBytes4K})
	l1.Insert(0x2000, TlbEntry{Asid: 2, LogBytes: rv39.LogBytes4K})

	l1.DemapPage(0x1000, 1)
	if _, ok := l1.Lookup(0x1000, 1, rv39.AccessRead, true); ok {
		t.Fatal("expected demapped entry to be gone")
	}
	if _, ok := l1.Lookup(0x2000, 2, rv39.AccessRead, true); !ok {
		t.Fatal("expected unrelated entry to survive")
	}

	l1.DemapPage(0, 0)
	if l1.Resident() != 0 {
		t.Fatalf("expected flushAll semantics from demapPage(0,0), got %d resident", l1.Resident())
	}
}
