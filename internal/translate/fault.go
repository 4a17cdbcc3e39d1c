// Package translate implements TranslateDriver: the top-level address
// translation operation that consults the HTLB and, on a complete miss,
// an external page-table walker.
package translate

import (
	"fmt"

	"github.com/rv39sim/xvsim/internal/rv39"
)

// Fault is the outcome of a translation attempt. A nil *Fault means the
// translation succeeded.
type Fault struct {
	Cause rv39.ExceptionCode
	Vaddr uint64
}

func (f *Fault) Error() string {
	if f == nil {
		return "no fault"
	}
	return fmt.Sprintf("%s at 0x%x", f.Cause, f.Vaddr)
}

func pageFault(mode rv39.AccessMode, vaddr uint64) *Fault {
	return &Fault{Cause: rv39.PageFaultCause(mode), Vaddr: vaddr}
}

func accessFault(mode rv39.AccessMode, vaddr uint64) *Fault {
	return &Fault{Cause: rv39.AccessFaultCause(mode), Vaddr: vaddr}
}
