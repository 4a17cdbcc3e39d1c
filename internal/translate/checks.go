package translate

import "github.com/rv39sim/xvsim/internal/rv39"

// effectivePrivilege applies the MPRV override: non-execute accesses in
// M-mode with status.MPRV set are checked as if running at status.MPP.
func effectivePrivilege(priv int, status uint64, mode rv39.AccessMode) int {
	if mode == rv39.AccessExecute {
		return priv
	}
	if priv != rv39.PrivMachine || status&rv39.StatusMPRV == 0 {
		return priv
	}
	return int((status >> rv39.StatusMPPShift) & 0x3)
}

// checkPermissions validates a leaf PTE's R/W/X/U bits against the
// requested access and effective privilege.
func checkPermissions(pte rv39.PTE, mode rv39.AccessMode, priv int, status uint64, vaddr uint64) *Fault {
	mxr := status&rv39.StatusMXR != 0
	sum := status&rv39.StatusSUM != 0

	if !pte.Permits(mode, mxr) {
		return pageFault(mode, vaddr)
	}
	if priv == rv39.PrivUser && !pte.U() {
		return pageFault(mode, vaddr)
	}
	if priv == rv39.PrivSupervisor && pte.U() && !sum {
		return pageFault(mode, vaddr)
	}
	return nil
}

// logBytesForDepth maps an L2TLB partition depth (0 = 4KiB, 1 = 2MiB,
// 2 = 1GiB) to the page size it caches.
func logBytesForDepth(depth int) uint {
	switch depth {
	case 1:
		return rv39.LogBytes2M
	case 2:
		return rv39.LogBytes1G
	default:
		return rv39.LogBytes4K
	}
}

// l2tlbCheck validates a cached L2TLB entry's PTE before it can be
// promoted to an L1TLB install. depth is the remaining walk depth the
// matched partition represents (0 = 4KiB, 1 = 2MiB, 2 = 1GiB). An
// instruction-fetch fault on a request that carries a PC reports the
// page-aligned base address (or the PC itself, when it lies within the
// page) per l2tlbPagefault rather than the raw faulting vaddr.
func l2tlbCheck(pte rv39.PTE, depth int, mode rv39.AccessMode, priv int, status uint64, vaddr uint64, hasPC bool, pc uint64) *Fault {
	fault := func() *Fault {
		if mode == rv39.AccessExecute {
			return l2tlbPagefault(mode, vaddr, hasPC, pc, logBytesForDepth(depth))
		}
		return pageFault(mode, vaddr)
	}

	if !pte.V() || (!pte.R() && pte.W()) {
		return fault()
	}

	if hitInSP(pte) {
		// Misaligned-superpage check: a leaf above level 0 must not
		// carry non-zero low PPN fields.
		if depth >= 1 && pte.PPN0() != 0 {
			return fault()
		}
		if depth >= 2 && pte.PPN1() != 0 {
			return fault()
		}
		if f := checkPermissions(pte, mode, priv, status, vaddr); f != nil {
			return fault()
		}
		if !pte.A() {
			return fault()
		}
		if mode == rv39.AccessWrite && !pte.D() {
			return fault()
		}
		return nil
	}

	// Non-leaf PTE cached mid-walk at a coarse partition: nothing more
	// to validate here, the walker continues the descent.
	return nil
}

// hitInSP reports whether the matched entry is a genuine leaf, as
// opposed to a non-terminal PTE the partition cached mid-walk (which
// requires a further descent). A PTE's R/W/X bits alone determine
// leaf-ness regardless of which partition cached it.
func hitInSP(pte rv39.PTE) bool {
	return pte.IsLeaf()
}

// l2tlbPagefault chooses the fault address for an instruction fetch: the
// page-aligned base address, unless the triggering PC itself falls
// within the page (in which case the PC is more informative to report).
// A request without a PC reports the raw vaddr.
func l2tlbPagefault(mode rv39.AccessMode, vaddr uint64, hasPC bool, pc uint64, logBytes uint) *Fault {
	addr := vaddr
	if mode == rv39.AccessExecute && hasPC {
		mask := (uint64(1) << logBytes) - 1
		base := vaddr &^ mask
		if pc >= base && pc <= base+mask {
			addr = pc
		} else {
			addr = base
		}
	}
	return pageFault(mode, addr)
}

// combineSuperPagePPN builds the full 4KiB-granular PPN for a superpage
// hit by taking the high PPN fields from the cached entry and the low
// fields directly from the virtual address, per the Sv39 superpage rule.
func combineSuperPagePPN(superPPN uint64, vaddr uint64, logBytes uint) uint64 {
	lowBits := logBytes - rv39.PageShift
	lowMask := (uint64(1) << lowBits) - 1
	vpn := vaddr >> rv39.PageShift
	return (superPPN &^ lowMask) | (vpn & lowMask)
}
