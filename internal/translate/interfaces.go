package translate

import "github.com/rv39sim/xvsim/internal/rv39"

// Request is the memory reference being translated. Implementations are
// owned by the caller (the core/memory subsystem); TranslateDriver only
// reads from it and, on success, calls SetPaddr.
type Request interface {
	Vaddr() uint64
	SetPaddr(addr uint64)
	Size() uint64
	IsInstFetch() bool
	HasVaddr() bool
	HasPC() bool
	PC() uint64
	PrefetchSource() int
	PrefetchDepth() int
}

// Process is the syscall-emulation-mode page table: a flat, host-backed
// virtual-to-physical mapping with on-demand stack growth, used in place
// of the HTLB/walker pipeline when SystemMode is SyscallEmulation.
type Process interface {
	Translate(vaddr uint64) (paddr uint64, ok bool)
	GrowStack(vaddr uint64) bool
}

// ThreadContext exposes the translating hart's architectural state.
type ThreadContext interface {
	ReadSATP() uint64
	ReadStatus() uint64
	Privilege() int
	Process() Process // nil in FullSystem mode
}

// Translation is the timing-mode completion callback supplied by the
// caller. MarkDelayed is invoked as soon as TranslateDriver knows the
// walk won't finish synchronously; Finish is invoked once it does.
type Translation interface {
	Finish(fault *Fault, req Request, tc ThreadContext, mode rv39.AccessMode)
	MarkDelayed()
}

// Walker is the asynchronous page-table walker TranslateDriver defers
// to on a complete HTLB miss. It is an external collaborator: this
// package only depends on the interface, never a concrete walker.
type Walker interface {
	// Start begins a walk for vaddr from rootPPN at startLevel (2 =
	// root, 1, 0 = leaf). fromL2 indicates the walk resumes from an
	// L2TLB-cached intermediate PTE rather than the SATP root. It
	// returns a synchronous fault, or nil if the walk will complete
	// asynchronously via translation.Finish.
	Start(rootPPN uint64, vaddr uint64, tc ThreadContext, translation Translation, req Request, mode rv39.AccessMode, startLevel int, fromL2 bool) *Fault

	// StartFunctional synchronously resolves vaddr without touching LRU
	// state or scheduling any completion.
	StartFunctional(vaddr uint64, tc ThreadContext, mode rv39.AccessMode) (paddr uint64, logBytes uint, fault *Fault)

	// DoL2TLBHitSchedule enqueues a future translation.Finish for a
	// super-page hit that was fast-pathed out of L2TLB directly (no
	// walk needed, but still modeled as taking walker latency).
	DoL2TLBHitSchedule(req Request, tc ThreadContext, translation Translation, mode rv39.AccessMode, paddr uint64)
}
