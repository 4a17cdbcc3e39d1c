package rv39

// PTE is a raw 64-bit Sv39 page-table entry, as stored by TlbEntry.Pte.
type PTE uint64

func (p PTE) V() bool { return p&PteV != 0 }
func (p PTE) R() bool { return p&PteR != 0 }
func (p PTE) W() bool { return p&PteW != 0 }
func (p PTE) X() bool { return p&PteX != 0 }
func (p PTE) U() bool { return p&PteU != 0 }
func (p PTE) G() bool { return p&PteG != 0 }
func (p PTE) A() bool { return p&PteA != 0 }
func (p PTE) D() bool { return p&PteD != 0 }

// IsLeaf reports whether the PTE terminates a walk (any of R/W/X set).
func (p PTE) IsLeaf() bool { return p&(PteR|PteW|PteX) != 0 }

// PPN returns the full 44-bit physical page number packed in bits [53:10].
func (p PTE) PPN() uint64 { return (uint64(p) >> 10) & PPNMask }

// PPN0 returns bits [8:0] of the PPN (the lowest 9-bit VPN-sized field).
func (p PTE) PPN0() uint64 { return p.PPN() & 0x1ff }

// PPN1 returns bits [17:9] of the PPN.
func (p PTE) PPN1() uint64 { return (p.PPN() >> VpnBits) & 0x1ff }

// WithAccessed returns a copy of p with the accessed bit set.
func (p PTE) WithAccessed() PTE { return p | PteA }

// WithDirty returns a copy of p with the dirty bit set.
func (p PTE) WithDirty() PTE { return p | PteD }

// Permits reports whether access mode is allowed given the PTE's R/W/X
// bits alone (ignores privilege/U/SUM, which checkPermissions layers on).
func (p PTE) Permits(mode AccessMode, mxr bool) bool {
	switch mode {
	case AccessWrite:
		return p.W()
	case AccessExecute:
		return p.X()
	default:
		if p.R() {
			return true
		}
		return mxr && p.X()
	}
}
