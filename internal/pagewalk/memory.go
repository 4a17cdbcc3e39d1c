// Package pagewalk provides a reference implementation of the
// translate.Walker contract: a synchronous Sv39 page-table walker over
// a byte-addressable physical memory, used by integration tests and by
// any harness that doesn't supply its own walker/bus.
package pagewalk

import "fmt"

// Memory is the physical address space the walker reads page-table
// entries from and writes accessed/dirty bit updates back to.
type Memory interface {
	Read64(paddr uint64) (uint64, error)
	Write64(paddr uint64, val uint64) error
}

// RAM is a flat, map-backed Memory sized for tests and small
// simulations: page-table fixtures, not a performance model.
type RAM struct {
	pages map[uint64][]byte
}

// NewRAM creates an empty RAM.
func NewRAM() *RAM {
	return &RAM{pages: make(map[uint64][]byte)}
}

const ramPageSize = 4096

func (m *RAM) page(paddr uint64) []byte {
	base := paddr &^ uint64(ramPageSize-1)
	p, ok := m.pages[base]
	if !ok {
		p = make([]byte, ramPageSize)
		m.pages[base] = p
	}
	return p
}

func (m *RAM) Read64(paddr uint64) (uint64, error) {
	if paddr%8 != 0 {
		return 0, fmt.Errorf("pagewalk: unaligned read at 0x%x", paddr)
	}
	p := m.page(paddr)
	off := paddr % ramPageSize
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(p[off+uint64(i)]) << (8 * i)
	}
	return v, nil
}

func (m *RAM) Write64(paddr uint64, val uint64) error {
	if paddr%8 != 0 {
		return fmt.Errorf("pagewalk: unaligned write at 0x%x", paddr)
	}
	p := m.page(paddr)
	off := paddr % ramPageSize
	for i := 0; i < 8; i++ {
		p[off+uint64(i)] = byte(val >> (8 * i))
	}
	return nil
}

// WritePTE is a test/fixture helper: installs a PTE at the table slot
// for vpnField within the page table rooted at tablePPN.
func (m *RAM) WritePTE(tablePPN uint64, vpnField uint64, pte uint64) {
	addr := (tablePPN << 12) + vpnField*8
	_ = m.Write64(addr, pte)
}
