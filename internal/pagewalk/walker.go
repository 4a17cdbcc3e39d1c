package pagewalk

import (
	"log/slog"

	"github.com/rv39sim/xvsim/internal/htlb"
	"github.com/rv39sim/xvsim/internal/rv39"
	"github.com/rv39sim/xvsim/internal/translate"
)

// Walker is a reference translate.Walker: a synchronous Sv39 walk over
// an in-process Memory, installing the resolved leaf into the HTLB
// before completing. It models every walk as zero-latency: Start always
// returns nil (accepted) and calls translation.Finish immediately,
// rather than truly suspending the caller. Real timing-accurate walkers
// would instead schedule Finish for a future cycle.
type Walker struct {
	mem  Memory
	htlb *htlb.HTLB
	log  *slog.Logger
}

// New creates a Walker resolving page tables out of mem and installing
// hits into h.
func New(mem Memory, h *htlb.HTLB, log *slog.Logger) *Walker {
	if log == nil {
		log = slog.Default()
	}
	return &Walker{mem: mem, htlb: h, log: log}
}

func (w *Walker) Start(rootPPN uint64, vaddr uint64, tc translate.ThreadContext, translation translate.Translation, req translate.Request, mode rv39.AccessMode, startLevel int, fromL2 bool) *translate.Fault {
	asid := asidFromSATP(tc.ReadSATP())
	ppn, logBytes, pte, tablePPN, level, fault := w.walk(rootPPN, vaddr, startLevel, mode, tc)
	if fault == nil {
		paddr := (ppn << rv39.PageShift) | (vaddr & rv39.PageMask(logBytes))
		if paddr&(uint64(1)<<63) != 0 {
			fault = &translate.Fault{Cause: rv39.AccessFaultCause(mode), Vaddr: vaddr}
		} else {
			req.SetPaddr(paddr)
			w.install(tablePPN, vaddr, ppn, pte, logBytes, level, asid)
		}
	}
	translation.Finish(fault, req, tc, mode)
	return nil
}

func (w *Walker) StartFunctional(vaddr uint64, tc translate.ThreadContext, mode rv39.AccessMode) (uint64, uint, *translate.Fault) {
	satp := tc.ReadSATP()
	rootPPN := satp & rv39.PPNMask
	ppn, logBytes, _, _, _, fault := w.walk(rootPPN, vaddr, 2, mode, tc)
	if fault != nil {
		return 0, 0, fault
	}
	return ppn, logBytes, nil
}

func (w *Walker) DoL2TLBHitSchedule(req translate.Request, tc translate.ThreadContext, translation translate.Translation, mode rv39.AccessMode, paddr uint64) {
	translation.Finish(nil, req, tc, mode)
}

// install records the resolved leaf in the HTLB, then opportunistically
// fills in the L2TLB's other link-group slots from the same page-table
// cache-line read (see fillSiblings) — a real walker fetches a whole
// cache line's worth of adjacent PTEs to read one, so the neighbors it
// already has in hand get cached too instead of being thrown away.
func (w *Walker) install(tablePPN, vaddr, ppn uint64, pte rv39.PTE, logBytes uint, level int, asid uint16) {
	vaddrMasked := vaddr &^ rv39.PageMask(logBytes)
	entry := htlb.TlbEntry{Paddr: ppn, Asid: asid, Pte: pte, LogBytes: logBytes}
	switch logBytes {
	case rv39.LogBytes4K:
		entry.Level = rv39.Level4K
		w.htlb.L1.Insert(vaddrMasked, entry)
		slot := w.htlb.L2.Insert(vaddrMasked, entry, htlb.Flevel3, 1)
		w.fillSiblings(tablePPN, vaddr, level, htlb.Flevel3, slot.GroupStart, asid, logBytes)
	case rv39.LogBytes2M:
		entry.Level = rv39.Level2M
		slot := w.htlb.L2.Insert(vaddrMasked, entry, htlb.Flevel5, 1)
		w.fillSiblings(tablePPN, vaddr, level, htlb.Flevel5, slot.GroupStart, asid, logBytes)
	case rv39.LogBytes1G:
		entry.Level = rv39.Level1G
		slot := w.htlb.L2.Insert(vaddrMasked, entry, htlb.Flevel1, 1)
		w.fillSiblings(tablePPN, vaddr, level, htlb.Flevel1, slot.GroupStart, asid, logBytes)
	}
}

// fillSiblings installs the other leaf PTEs sharing the 8-entry,
// cache-line-aligned chunk of the page-table page that was just read to
// resolve vaddr. vpnShift always equals logBytes at the leaf level, so a
// sibling's page-aligned key is its own vpn substituted into that field
// of vaddr. Siblings that are absent, non-leaf, or misaligned are
// skipped; a mostly-empty page-table page is the common case.
func (w *Walker) fillSiblings(tablePPN, vaddr uint64, level int, flevel int, groupStart int, asid uint16, logBytes uint) {
	vpnShift := uint(rv39.PageShift) + uint(level)*rv39.VpnBits
	vpn := (vaddr >> vpnShift) & 0x1ff
	groupBase := vpn &^ 7
	lowMask := (uint64(1) << (uint(level) * rv39.VpnBits)) - 1

	offset := 1
	for i := uint64(0); i < 8 && offset <= 7; i++ {
		sibVpn := groupBase + i
		if sibVpn == vpn {
			continue
		}
		addr := (tablePPN << rv39.PageShift) + sibVpn*8
		raw, err := w.mem.Read64(addr)
		if err != nil {
			continue
		}
		p := rv39.PTE(raw)
		if !p.V() || (!p.R() && p.W()) || !p.IsLeaf() {
			continue
		}
		if level > 0 && p.PPN()&lowMask != 0 {
			continue
		}

		sibPPN := p.PPN()
		if level > 0 {
			sibPPN = (sibPPN &^ lowMask) | (sibVpn & lowMask)
		}
		sibVaddr := (vaddr &^ (uint64(0x1ff) << vpnShift)) | (sibVpn << vpnShift)
		entry := htlb.TlbEntry{
			Vaddr: sibVaddr &^ rv39.PageMask(logBytes), Paddr: sibPPN,
			Asid: asid, Pte: p, LogBytes: logBytes, Level: levelForLogBytes(logBytes),
		}
		w.htlb.L2.FillSibling(flevel, groupStart, offset, entry)
		offset++
	}
}

func levelForLogBytes(logBytes uint) int {
	switch logBytes {
	case rv39.LogBytes2M:
		return rv39.Level2M
	case rv39.LogBytes1G:
		return rv39.Level1G
	default:
		return rv39.Level4K
	}
}

// walk performs a synchronous Sv39 page-table walk for vaddr, starting
// at startLevel (2 = 1GiB entries, 1 = 2MiB, 0 = 4KiB leaf). It mirrors
// the reference MMU's walkPageTable: read, validate, and on a leaf,
// set the accessed/dirty bits and combine the superpage PPN. On success
// it also returns the containing page table's PPN and the leaf's level,
// so the caller can look up the leaf's link-group siblings.
func (w *Walker) walk(rootPPN, vaddr uint64, startLevel int, mode rv39.AccessMode, tc translate.ThreadContext) (ppn uint64, logBytes uint, pte rv39.PTE, tablePPNOut uint64, level int, fault *translate.Fault) {
	priv := effectivePrivilege(tc, mode)
	status := tc.ReadStatus()

	tablePPN := rootPPN
	for lvl := startLevel; lvl >= 0; lvl-- {
		vpnShift := uint(rv39.PageShift) + uint(lvl)*rv39.VpnBits
		vpn := (vaddr >> vpnShift) & 0x1ff
		addr := (tablePPN << rv39.PageShift) + vpn*8

		raw, err := w.mem.Read64(addr)
		if err != nil {
			return 0, 0, 0, 0, 0, &translate.Fault{Cause: rv39.AccessFaultCause(mode), Vaddr: vaddr}
		}
		p := rv39.PTE(raw)
		if !p.V() || (!p.R() && p.W()) {
			return 0, 0, 0, 0, 0, &translate.Fault{Cause: rv39.PageFaultCause(mode), Vaddr: vaddr}
		}

		if !p.IsLeaf() {
			tablePPN = p.PPN()
			continue
		}

		lb := uint(rv39.PageShift) + uint(lvl)*rv39.VpnBits
		lowMask := (uint64(1) << (uint(lvl) * rv39.VpnBits)) - 1
		if lvl > 0 && p.PPN()&lowMask != 0 {
			return 0, 0, 0, 0, 0, &translate.Fault{Cause: rv39.PageFaultCause(mode), Vaddr: vaddr}
		}
		if f := checkAccess(p, mode, priv, status, vaddr); f != nil {
			return 0, 0, 0, 0, 0, f
		}

		updated := p
		if !p.A() || (mode == rv39.AccessWrite && !p.D()) {
			updated = p.WithAccessed()
			if mode == rv39.AccessWrite {
				updated = updated.WithDirty()
			}
			if err := w.mem.Write64(addr, uint64(updated)); err != nil {
				return 0, 0, 0, 0, 0, &translate.Fault{Cause: rv39.AccessFaultCause(mode), Vaddr: vaddr}
			}
		}

		combined := updated.PPN()
		if lvl > 0 {
			vpnLow := (vaddr >> rv39.PageShift) & lowMask
			combined = (combined &^ lowMask) | vpnLow
		}
		return combined, lb, updated, tablePPN, lvl, nil
	}
	return 0, 0, 0, 0, 0, &translate.Fault{Cause: rv39.PageFaultCause(mode), Vaddr: vaddr}
}

func checkAccess(pte rv39.PTE, mode rv39.AccessMode, priv int, status uint64, vaddr uint64) *translate.Fault {
	mxr := status&rv39.StatusMXR != 0
	sum := status&rv39.StatusSUM != 0
	if !pte.Permits(mode, mxr) {
		return &translate.Fault{Cause: rv39.PageFaultCause(mode), Vaddr: vaddr}
	}
	if priv == rv39.PrivUser && !pte.U() {
		return &translate.Fault{Cause: rv39.PageFaultCause(mode), Vaddr: vaddr}
	}
	if priv == rv39.PrivSupervisor && pte.U() && !sum {
		return &translate.Fault{Cause: rv39.PageFaultCause(mode), Vaddr: vaddr}
	}
	return nil
}

func effectivePrivilege(tc translate.ThreadContext, mode rv39.AccessMode) int {
	priv := tc.Privilege()
	if mode == rv39.AccessExecute {
		return priv
	}
	status := tc.ReadStatus()
	if priv != rv39.PrivMachine || status&rv39.StatusMPRV == 0 {
		return priv
	}
	return int((status >> rv39.StatusMPPShift) & 0x3)
}

func asidFromSATP(satp uint64) uint16 {
	return uint16((satp >> 44) & rv39.ASIDMask)
}
