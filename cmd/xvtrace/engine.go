package main

import (
	"github.com/rv39sim/xvsim/internal/config"
	"github.com/rv39sim/xvsim/internal/htlb"
	"github.com/rv39sim/xvsim/internal/prefetch/berti"
	"github.com/rv39sim/xvsim/internal/prefetch/cdp"
	"github.com/rv39sim/xvsim/internal/rv39"
	"github.com/rv39sim/xvsim/internal/translate"
)

// traceRequest is the translate.Request a replayed access drives.
type traceRequest struct {
	vaddr uint64
	paddr uint64
	pc    uint64
	hasPC bool
	inst  bool
}

func (r *traceRequest) Vaddr() uint64       { return r.vaddr }
func (r *traceRequest) SetPaddr(a uint64)   { r.paddr = a }
func (r *traceRequest) Size() uint64        { return 8 }
func (r *traceRequest) IsInstFetch() bool   { return r.inst }
func (r *traceRequest) HasVaddr() bool      { return true }
func (r *traceRequest) HasPC() bool         { return r.hasPC }
func (r *traceRequest) PC() uint64          { return r.pc }
func (r *traceRequest) PrefetchSource() int { return 0 }
func (r *traceRequest) PrefetchDepth() int  { return 0 }

// traceTC is a fixed single-ASID, supervisor-mode Sv39 thread context.
type traceTC struct {
	satp   uint64
	status uint64
	priv   int
}

func (tc *traceTC) ReadSATP() uint64            { return tc.satp }
func (tc *traceTC) ReadStatus() uint64          { return tc.status }
func (tc *traceTC) Privilege() int              { return tc.priv }
func (tc *traceTC) Process() translate.Process  { return nil }

type traceTranslation struct {
	fault *translate.Fault
	done  bool
}

func (t *traceTranslation) Finish(fault *translate.Fault, req translate.Request, tc translate.ThreadContext, mode rv39.AccessMode) {
	t.fault = fault
	t.done = true
}
func (t *traceTranslation) MarkDelayed() {}

// identityWalker stands in for a real page-table walker: it resolves
// every address with a fixed ppn = vaddr >> PageShift mapping and
// installs the result into the HTLB, the same way a real walker's
// completion would. A trace-replay tool measures HTLB and prefetcher
// traffic against a virtual-address stream; the physical mapping behind
// it is immaterial, so unlike internal/pagewalk's reference walker (used
// in correctness tests against real page tables), this one never
// consults backing memory.
type identityWalker struct {
	htlb *htlb.HTLB
}

func (w *identityWalker) Start(rootPPN, vaddr uint64, tc translate.ThreadContext, translation translate.Translation, req translate.Request, mode rv39.AccessMode, startLevel int, fromL2 bool) *translate.Fault {
	ppn := vaddr >> rv39.PageShift
	paddr := (ppn << rv39.PageShift) | (vaddr & rv39.PageMask(rv39.LogBytes4K))
	if paddr&(uint64(1)<<63) != 0 {
		f := &translate.Fault{Cause: rv39.AccessFaultCause(mode), Vaddr: vaddr}
		translation.Finish(f, req, tc, mode)
		return nil
	}
	req.SetPaddr(paddr)

	asid := asidFromSATP(tc.ReadSATP())
	vaddrMasked := vaddr &^ rv39.PageMask(rv39.LogBytes4K)
	pte := rv39.PTE(rv39.PteV | rv39.PteR | rv39.PteW | rv39.PteX | rv39.PteU | rv39.PteA | rv39.PteD)
	entry := htlb.TlbEntry{Paddr: ppn, Asid: asid, Pte: pte, LogBytes: rv39.LogBytes4K, Level: rv39.Level4K}
	w.htlb.L1.Insert(vaddrMasked, entry)
	w.htlb.L2.Insert(vaddrMasked, entry, htlb.Flevel3, 1)

	translation.Finish(nil, req, tc, mode)
	return nil
}

func (w *identityWalker) StartFunctional(vaddr uint64, tc translate.ThreadContext, mode rv39.AccessMode) (uint64, uint, *translate.Fault) {
	return vaddr >> rv39.PageShift, rv39.LogBytes4K, nil
}

func (w *identityWalker) DoL2TLBHitSchedule(req translate.Request, tc translate.ThreadContext, translation translate.Translation, mode rv39.AccessMode, paddr uint64) {
	translation.Finish(nil, req, tc, mode)
}

func asidFromSATP(satp uint64) uint16 { return uint16((satp >> 44) & rv39.ASIDMask) }

// engine replays one trace file's accesses through a private HTLB and
// pair of prefetchers, accumulating summary counters.
type engine struct {
	h      *htlb.HTLB
	driver *translate.TranslateDriver
	berti  *berti.BertiPrefetcher
	cdp    *cdp.CDPPrefetcher

	satp  uint64
	priv  int
	cycle uint64

	accesses        int
	faults          int
	bertiCandidates int
	cdpCandidates   int
}

func newEngine(cfg config.Config) *engine {
	h := htlb.New(cfg.HTLB.ToHTLB(), nil)
	w := &identityWalker{htlb: h}
	return &engine{
		h:      h,
		driver: translate.NewTranslateDriver(h, w, translate.FullSystem, nil),
		berti:  berti.New(cfg.Berti, nil),
		cdp:    cdp.New(cfg.CDP, true, nil),
		satp:   uint64(rv39.SatpModeSv39) << 60,
		priv:   rv39.PrivSupervisor,
	}
}

// replay drives every access through translation and both prefetchers,
// invoking onProgress once per access for progress-bar reporting.
func (e *engine) replay(accesses []access, onProgress func()) {
	for _, a := range accesses {
		e.cycle++
		e.accesses++

		mode := rv39.AccessRead
		switch a.mode {
		case 'W':
			mode = rv39.AccessWrite
		case 'X':
			mode = rv39.AccessExecute
		}

		req := &traceRequest{vaddr: a.addr, pc: a.pc, hasPC: a.pc != 0, inst: mode == rv39.AccessExecute}
		tc := &traceTC{satp: e.satp, priv: e.priv}
		tr := &traceTranslation{}

		f := e.driver.Translate(req, tc, tr, mode, false)
		if f == nil {
			f = tr.fault
		}
		if f != nil {
			e.faults++
		}

		e.bertiCandidates += len(e.berti.CalculatePrefetch(berti.Access{PC: a.pc, Addr: a.addr, IsMiss: f != nil}, e.cycle))
		e.cdpCandidates += len(e.cdp.CalculatePrefetch(cdp.Access{Addr: a.addr, IsMiss: f != nil}))

		if onProgress != nil {
			onProgress()
		}
	}
}
