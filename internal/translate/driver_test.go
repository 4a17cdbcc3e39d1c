package translate

import (
	"testing"

	"github.com/rv39sim/xvsim/internal/htlb"
	"github.com/rv39sim/xvsim/internal/rv39"
)

type fakeRequest struct {
	vaddr uint64
	paddr uint64
	pc    uint64
	hasPC bool
	inst  bool
}

func (r *fakeRequest) Vaddr() uint64      { return r.vaddr }
func (r *fakeRequest) SetPaddr(a uint64)  { r.paddr = a }
func (r *fakeRequest) Size() uint64       { return 8 }
func (r *fakeRequest) IsInstFetch() bool  { return r.inst }
func (r *fakeRequest) HasVaddr() bool     { return true }
func (r *fakeRequest) HasPC() bool        { return r.hasPC }
func (r *fakeRequest) PC() uint64         { return r.pc }
func (r *fakeRequest) PrefetchSource() int { return 0 }
func (r *fakeRequest) PrefetchDepth() int  { return 0 }

type fakeTC struct {
	satp   uint64
	status uint64
	priv   int
}

func (tc *fakeTC) ReadSATP() uint64   { return tc.satp }
func (tc *fakeTC) ReadStatus() uint64 { return tc.status }
func (tc *fakeTC) Privilege() int     { return tc.priv }
func (tc *fakeTC) Process() Process   { return nil }

type fakeTranslation struct {
	delayed bool
	fault   *Fault
	done    bool
}

func (f *fakeTranslation) Finish(fault *Fault, req Request, tc ThreadContext, mode rv39.AccessMode) {
	f.fault = fault
	f.done = true
}
func (f *fakeTranslation) MarkDelayed() { f.delayed = true }

type fakeWalker struct{ started bool }

func (w *fakeWalker) Start(rootPPN uint64, vaddr uint64, tc ThreadContext, translation Translation, req Request, mode rv39.AccessMode, startLevel int, fromL2 bool) *Fault {
	w.started = true
	return nil
}
func (w *fakeWalker) StartFunctional(vaddr uint64, tc ThreadContext, mode rv39.AccessMode) (uint64, uint, *Fault) {
	return 0, 0, pageFault(mode, vaddr)
}
func (w *fakeWalker) DoL2TLBHitSchedule(req Request, tc ThreadContext, translation Translation, mode rv39.AccessMode, paddr uint64) {
}

func satpFor(asid uint16, rootPPN uint64) uint64 {
	return (uint64(rv39.SatpModeSv39) << 60) | (uint64(asid) << 44) | rootPPN
}

// S1: a pre-inserted 4KiB L1TLB entry resolves without touching the
// walker.
func TestTranslateS1L1Hit(t *testing.T) {
	h := htlb.New(htlb.DefaultConfig(), nil)
	vpn := uint64(0x12345) << 12
	h.L1.Insert(vpn, htlb.TlbEntry{
		Asid: 7, LogBytes: rv39.LogBytes4K,
		Pte:   rv39.PTE(rv39.PteV | rv39.PteR | rv39.PteW | rv39.PteA | rv39.PteD),
		Paddr: 0xABCDE,
	})

	walker := &fakeWalker{}
	d := NewTranslateDriver(h, walker, FullSystem, nil)
	tc := &fakeTC{satp: satpFor(7, 0), priv: rv39.PrivSupervisor}
	req := &fakeRequest{vaddr: 0x12345_678}
	tr := &fakeTranslation{}

	if f := d.Translate(req, tc, tr, rv39.AccessRead, false); f != nil {
		t.Fatalf("unexpected fault: %v", f)
	}
	if walker.started {
		t.Fatal("expected L1 hit to avoid the walker")
	}
	if req.paddr != 0xABCDE678 {
		t.Fatalf("expected paddr 0xABCDE678, got 0x%x", req.paddr)
	}
}

// S3: a 1GiB super-page hit in l2l1 resolves via the PPN-combine rule
// and does not require a walk (fast path, schedules L1 promotion).
func TestTranslateS3SuperPageLeaf(t *testing.T) {
	h := htlb.New(htlb.DefaultConfig(), nil)
	vpn2 := uint64(3)
	base := vpn2 << 30
	h.L2.Insert(base, htlb.TlbEntry{
		Asid: 1, LogBytes: rv39.LogBytes1G, Level: rv39.Level1G,
		Pte:   rv39.PTE(rv39.PteV | rv39.PteR | rv39.PteW | rv39.PteA | rv39.PteD),
		Paddr: 0x555,
	}, htlb.Flevel1, 1)

	walker := &fakeWalker{}
	d := NewTranslateDriver(h, walker, FullSystem, nil)
	tc := &fakeTC{satp: satpFor(1, 0), priv: rv39.PrivSupervisor}
	req := &fakeRequest{vaddr: base | 0x1000}
	tr := &fakeTranslation{}

	if f := d.Translate(req, tc, tr, rv39.AccessRead, false); f != nil {
		t.Fatalf("unexpected fault: %v", f)
	}
	if !tr.delayed {
		t.Fatal("expected super-page leaf hit to schedule an async completion")
	}
}

// S5: a user-mode page accessed from supervisor with SUM clear faults.
func TestTranslateS5PermissionFault(t *testing.T) {
	h := htlb.New(htlb.DefaultConfig(), nil)
	vpn := uint64(0x1) << 12
	h.L1.Insert(vpn, htlb.TlbEntry{
		Asid: 1, LogBytes: rv39.LogBytes4K,
		Pte: rv39.PTE(rv39.PteV | rv39.PteR | rv39.PteU | rv39.PteA),
	})

	walker := &fakeWalker{}
	d := NewTranslateDriver(h, walker, FullSystem, nil)
	tc := &fakeTC{satp: satpFor(1, 0), priv: rv39.PrivSupervisor, status: 0}
	req := &fakeRequest{vaddr: 0x1000}
	tr := &fakeTranslation{}

	f := d.Translate(req, tc, tr, rv39.AccessRead, false)
	if f == nil {
		t.Fatal("expected a page fault")
	}
	if f.Cause != rv39.CauseLoadPageFault {
		t.Fatalf("expected load page fault, got %v", f.Cause)
	}
}

// A cached L2TLB entry that no longer resolves (the backing PTE was
// invalidated since it was cached) is evicted as soon as it faults,
// rather than left resident to fault on every subsequent lookup too.
func TestTranslateL2HitFaultEvictsStaleEntry(t *testing.T) {
	h := htlb.New(htlb.DefaultConfig(), nil)
	vpn := uint64(0x7) << 12
	h.L2.Insert(vpn, htlb.TlbEntry{
		Asid: 1, LogBytes: rv39.LogBytes4K, Level: rv39.Level4K,
		Pte: rv39.PTE(0), // invalid: V clear
	}, htlb.Flevel3, 1)

	walker := &fakeWalker{}
	d := NewTranslateDriver(h, walker, FullSystem, nil)
	tc := &fakeTC{satp: satpFor(1, 0), priv: rv39.PrivSupervisor}
	req := &fakeRequest{vaddr: vpn}
	tr := &fakeTranslation{}

	if f := d.Translate(req, tc, tr, rv39.AccessRead, false); f == nil {
		t.Fatal("expected a page fault from the invalid cached entry")
	}
	if _, ok := h.L2.Lookup(vpn, 1, rv39.AccessRead, true); ok {
		t.Fatal("expected the stale entry to be evicted after faulting")
	}
}

// Invariant 8: insert then lookup round-trips; demapPage then lookup
// misses.
func TestTranslateRoundTripAndDemap(t *testing.T) {
	h := htlb.New(htlb.DefaultConfig(), nil)
	vpn := uint64(0x9) << 12
	h.L1.Insert(vpn, htlb.TlbEntry{Asid: 4, LogBytes: rv39.LogBytes4K, Paddr: 0x42})

	if e, ok := h.L1.Lookup(vpn, 4, rv39.AccessRead, false); !ok || e.Paddr != 0x42 {
		t.Fatalf("expected round-trip hit with paddr 0x42, got %+v ok=%v", e, ok)
	}

	h.DemapPage(vpn, 4)
	if _, ok := h.L1.Lookup(vpn, 4, rv39.AccessRead, true); ok {
		t.Fatal("expected demapPage to remove the entry")
	}
}
