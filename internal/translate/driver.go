package translate

import (
	"log/slog"

	"github.com/rv39sim/xvsim/internal/htlb"
	"github.com/rv39sim/xvsim/internal/rv39"
)

// SystemMode selects whether TranslateDriver resolves addresses through
// the HTLB/walker pipeline (FullSystem) or a flat per-process page table
// (SyscallEmulation).
type SystemMode int

const (
	FullSystem SystemMode = iota
	SyscallEmulation
)

// CheckFunc validates a resolved physical address, e.g. against a PMA or
// PMP table. Returning nil means the address is permitted.
type CheckFunc func(paddr uint64, mode rv39.AccessMode) *Fault

// TranslateDriver is the top-level translation operation: HTLB lookup,
// L2TLB promotion, and walker dispatch on a complete miss.
type TranslateDriver struct {
	htlb   *htlb.HTLB
	walker Walker
	mode   SystemMode
	log    *slog.Logger

	pma CheckFunc
	pmp CheckFunc
}

// Option configures a TranslateDriver at construction.
type Option func(*TranslateDriver)

// WithPMA installs a physical-memory-attribute checker.
func WithPMA(f CheckFunc) Option { return func(d *TranslateDriver) { d.pma = f } }

// WithPMP installs a physical-memory-protection checker.
func WithPMP(f CheckFunc) Option { return func(d *TranslateDriver) { d.pmp = f } }

// NewTranslateDriver builds a driver over h, dispatching misses to
// walker under the given system mode.
func NewTranslateDriver(h *htlb.HTLB, walker Walker, mode SystemMode, log *slog.Logger, opts ...Option) *TranslateDriver {
	if log == nil {
		log = slog.Default()
	}
	d := &TranslateDriver{htlb: h, walker: walker, mode: mode, log: log}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// walkCtx bundles the per-call state threaded through Translate's
// sub-steps so they don't each need a long, duplicated parameter list.
type walkCtx struct {
	vaddr         uint64
	vaddrMasked4K uint64
	mode          rv39.AccessMode
	priv          int
	status        uint64
	asid          uint16
	rootPPN       uint64
	req           Request
	tc            ThreadContext
	translation   Translation
	functional    bool
}

// Translate resolves req.Vaddr() and, on success, calls req.SetPaddr.
// In timing mode (functional == false, translation != nil) completion
// may be asynchronous: Translate returns nil with translation.MarkDelayed
// already invoked, and the real outcome arrives later via
// translation.Finish.
func (d *TranslateDriver) Translate(req Request, tc ThreadContext, translation Translation, mode rv39.AccessMode, functional bool) *Fault {
	if d.mode == SyscallEmulation {
		return d.translateSE(req, tc, mode)
	}

	priv := tc.Privilege()
	satp := tc.ReadSATP()
	status := tc.ReadStatus()
	satpMode := (satp >> 60) & 0xf

	if priv == rv39.PrivMachine || satpMode == rv39.SatpModeBare {
		req.SetPaddr(req.Vaddr())
		return nil
	}

	c := &walkCtx{
		vaddr:       rv39.SignExtendVaddr(req.Vaddr()),
		mode:        mode,
		priv:        effectivePrivilege(priv, status, mode),
		status:      status,
		asid:        uint16((satp >> 44) & rv39.ASIDMask),
		rootPPN:     satp & rv39.PPNMask,
		req:         req,
		tc:          tc,
		translation: translation,
		functional:  functional,
	}
	c.vaddrMasked4K = c.vaddr &^ uint64(rv39.PageSize-1)

	if e, ok := d.htlb.L1.Lookup(c.vaddrMasked4K, c.asid, mode, functional); ok {
		return d.finishHit(c, e)
	}

	if hit, ok := d.htlb.L2.Lookup(c.vaddrMasked4K, c.asid, mode, functional); ok {
		return d.finishL2Hit(c, hit)
	}

	return d.walk(c, c.rootPPN, 2, false)
}

func (d *TranslateDriver) finishL2Hit(c *walkCtx, hit htlb.L2Hit) *Fault {
	e := hit.Entry
	if f := l2tlbCheck(e.Pte, hit.Depth, c.mode, c.priv, c.status, c.vaddr, c.req.HasPC(), c.req.PC()); f != nil {
		// The cached PTE no longer resolves: evict it instead of leaving
		// a permanently-faulting entry resident for the next lookup.
		d.htlb.L2.Evict(hit.Flevel, c.vaddr)
		return f
	}

	if hitInSP(e.Pte) {
		if c.functional {
			return d.finishPaddr(c, e.Paddr, e.LogBytes)
		}
		ppn4k := combineSuperPagePPN(e.Paddr, c.vaddr, e.LogBytes)
		d.htlb.L1.Insert(c.vaddrMasked4K, htlb.TlbEntry{
			Paddr: ppn4k, Asid: c.asid, Pte: e.Pte,
			LogBytes: rv39.LogBytes4K, Level: rv39.Level4K,
		})
		addr := byteAddr(ppn4k, c.vaddr, rv39.LogBytes4K)
		d.walker.DoL2TLBHitSchedule(c.req, c.tc, c.translation, c.mode, addr)
		c.translation.MarkDelayed()
		return nil
	}

	return d.walk(c, e.Pte.PPN(), hit.Depth-1, true)
}

// finishHit applies the permission recheck and write/dirty-bit handling
// to an L1TLB hit (step 7 of the translation algorithm).
func (d *TranslateDriver) finishHit(c *walkCtx, e *htlb.TlbEntry) *Fault {
	if f := checkPermissions(e.Pte, c.mode, c.priv, c.status, c.vaddr); f != nil {
		return f
	}
	if c.mode == rv39.AccessWrite && !e.Pte.D() {
		return d.walk(c, c.rootPPN, 2, false)
	}
	return d.finishPaddr(c, e.Paddr, e.LogBytes)
}

// walk dispatches to the external walker, synchronously in functional
// mode and otherwise asynchronously via translation.Finish.
func (d *TranslateDriver) walk(c *walkCtx, rootPPN uint64, startLevel int, fromL2 bool) *Fault {
	if c.functional {
		paddr, logBytes, f := d.walker.StartFunctional(c.vaddr, c.tc, c.mode)
		if f != nil {
			return f
		}
		return d.finishPaddr(c, paddr, logBytes)
	}
	if f := d.walker.Start(rootPPN, c.vaddr, c.tc, c.translation, c.req, c.mode, startLevel, fromL2); f != nil {
		return f
	}
	c.translation.MarkDelayed()
	return nil
}

func (d *TranslateDriver) finishPaddr(c *walkCtx, ppn uint64, logBytes uint) *Fault {
	paddr := byteAddr(ppn, c.vaddr, logBytes)
	if paddr&(uint64(1)<<63) != 0 {
		return accessFault(c.mode, c.vaddr)
	}
	if d.pma != nil {
		if f := d.pma(paddr, c.mode); f != nil {
			return f
		}
	}
	if d.pmp != nil {
		if f := d.pmp(paddr, c.mode); f != nil {
			return f
		}
	}
	c.req.SetPaddr(paddr)
	return nil
}

func byteAddr(ppn uint64, vaddr uint64, logBytes uint) uint64 {
	return (ppn << rv39.PageShift) | (vaddr & rv39.PageMask(logBytes))
}

func (d *TranslateDriver) translateSE(req Request, tc ThreadContext, mode rv39.AccessMode) *Fault {
	proc := tc.Process()
	vaddr := req.Vaddr()
	if paddr, ok := proc.Translate(vaddr); ok {
		req.SetPaddr(paddr)
		return nil
	}
	if proc.GrowStack(vaddr) {
		if paddr, ok := proc.Translate(vaddr); ok {
			req.SetPaddr(paddr)
			return nil
		}
	}
	return pageFault(mode, vaddr)
}
