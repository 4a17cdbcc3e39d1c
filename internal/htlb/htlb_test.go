package htlb

import (
	"bytes"
	"testing"

	"github.com/rv39sim/xvsim/internal/rv39"
)

func TestHTLBDemapPageSpansBothLevels(t *testing.T) {
	h := New(Config{L1Entries: 4, N1: 1, N2: 1, N3: 2, Nsp: 1}, nil)

	h.L1.Insert(0x1000, TlbEntry{Asid: 1, LogBytes: rv39.LogBytes4K})
	h.L2.Insert(0x1000, TlbEntry{Asid: 1, LogBytes: rv39.LogBytes4K}, Flevel3, 1)

	h.DemapPage(0x1000, 1)

	if _, ok := h.L1.Lookup(0x1000, 1, rv39.AccessRead, true); ok {
		t.Fatal("expected L1 entry demapped")
	}
	if _, ok := h.L2.lookupL2TLB(0x1000, 1, rv39.AccessRead, true, Flevel3); ok {
		t.Fatal("expected L2 entry demapped")
	}
}

func TestHTLBCheckpointRoundTrip(t *testing.T) {
	h := New(Config{L1Entries: 4, N1: 1, N2: 1, N3: 1, Nsp: 1}, nil)
	h.L1.Insert(0x1000, TlbEntry{Asid: 1, LogBytes: rv39.LogBytes4K, Pte: 0xAB, Paddr: 7})
	h.L1.Insert(0x2000, TlbEntry{Asid: 2, LogBytes: rv39.LogBytes4K, Pte: 0xCD, Paddr: 9})

	var buf bytes.Buffer
	if err := h.WriteCheckpoint(&buf); err != nil {
		t.Fatalf("write checkpoint: %v", err)
	}

	h2 := New(Config{L1Entries: 4, N1: 1, N2: 1, N3: 1, Nsp: 1}, nil)
	if err := h2.ReadCheckpoint(&buf); err != nil {
		t.Fatalf("read checkpoint: %v", err)
	}

	entry, ok := h2.L1.Lookup(0x1000, 1, rv39.AccessRead, true)
	if !ok || entry.Pte != 0xAB || entry.Paddr != 7 {
		t.Fatalf("expected restored entry at 0x1000, got %+v ok=%v", entry, ok)
	}
	entry, ok = h2.L1.Lookup(0x2000, 2, rv39.AccessRead, true)
	if !ok || entry.Pte != 0xCD || entry.Paddr != 9 {
		t.Fatalf("expected restored entry at 0x2000, got %+v ok=%v", entry, ok)
	}
}

func TestHTLBCheckpointRejectsOversized(t *testing.T) {
	h := New(Config{L1Entries: 4, N1: 1, N2: 1, N3: 1, Nsp: 1}, nil)
	for _, vaddr := range []uint64{0x1000, 0x2000, 0x3000, 0x4000} {
		h.L1.Insert(vaddr, TlbEntry{Asid: 1, LogBytes: rv39.LogBytes4K})
	}
	var buf bytes.Buffer
	if err := h.WriteCheckpoint(&buf); err != nil {
		t.Fatalf("write checkpoint: %v", err)
	}

	small := New(Config{L1Entries: 2, N1: 1, N2: 1, N3: 1, Nsp: 1}, nil)
	if err := small.ReadCheckpoint(&buf); err == nil {
		t.Fatal("expected an oversized checkpoint to be rejected")
	}
}
