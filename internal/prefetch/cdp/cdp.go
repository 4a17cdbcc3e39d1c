// Package cdp implements a pointer-chasing data prefetcher: it scans
// cache-line payloads for plausible Sv39 virtual addresses and issues
// depth-limited follow-up prefetches for the ones a VPN table confirms
// are not noise.
package cdp

import (
	"encoding/binary"
	"log/slog"

	"github.com/rv39sim/xvsim/internal/config"
	"github.com/rv39sim/xvsim/internal/prefetch"
)

// Access describes a demand reference observed on the data path.
type Access struct {
	Addr     uint64
	IsMiss   bool
	PFDepth  int
	PFSource int
	// Data is the filled cache line's payload, present only on a demand
	// hit that still carries data (e.g. a hit on a line still being
	// filled from an earlier prefetch).
	Data []byte
}

// FillInfo describes a completed cache fill carrying data and a virtual
// address.
type FillInfo struct {
	Addr     uint64
	HasVaddr bool
	HasData  bool
	Data     []byte
	PFDepth  int
	PFSource int
}

// Candidate is a prefetch address this engine wants issued.
type Candidate struct {
	Addr     uint64
	Priority int
	Depth    int
}

// CDPPrefetcher is a pointer-chasing prefetcher gated by a VPN table and
// a depth cap, preventing it from chasing garbage bit patterns or
// chaining indefinitely.
type CDPPrefetcher struct {
	cfg      config.CDPConfig
	vpnTable *VpnTable
	filter   *prefetch.RecentFilter

	// tlbAttached mirrors whether a TLB capable of translating
	// candidate addresses is available; without one, page-crossing
	// candidates cannot be resolved and are dropped.
	tlbAttached bool

	enablePrfFilter map[int]bool

	log *slog.Logger
}

// New builds a CDPPrefetcher from cfg.
func New(cfg config.CDPConfig, tlbAttached bool, log *slog.Logger) *CDPPrefetcher {
	if log == nil {
		log = slog.Default()
	}
	return &CDPPrefetcher{
		cfg:             cfg,
		vpnTable:        NewVpnTable(64),
		filter:          prefetch.NewRecentFilter(32),
		tlbAttached:     tlbAttached,
		enablePrfFilter: make(map[int]bool),
		log:             log,
	}
}

func bits(v uint64, hi, lo uint) uint64 {
	width := hi - lo + 1
	return (v >> lo) & ((uint64(1) << width) - 1)
}

func blockAddress(addr uint64) uint64 { return addr &^ 63 }

func samePage(a, b uint64) bool { return a>>12 == b>>12 }

func decodeLanes(data []byte, bigEndian bool) []uint64 {
	n := len(data) / 8
	out := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		chunk := data[i*8 : i*8+8]
		var v uint64
		if bigEndian {
			v = binary.BigEndian.Uint64(chunk)
		} else {
			v = binary.LittleEndian.Uint64(chunk)
		}
		out = append(out, v)
	}
	return out
}

// scanPointer filters candidate lane values down to the ones plausible
// as Sv39 virtual addresses and already confirmed by the VPN table:
// canonical upper bits, a non-zero vpn0, the low two bits clear, and a known
// (vpn2, vpn1) pair.
func (c *CDPPrefetcher) scanPointer(lanes []uint64) []uint64 {
	var out []uint64
	for _, addr := range lanes {
		if bits(addr, 63, 39) != 0 {
			continue
		}
		vpn2 := bits(addr, 38, 30)
		vpn1 := bits(addr, 29, 21)
		vpn0 := bits(addr, 20, 12)
		if vpn0 == 0 {
			continue
		}
		if bits(addr, 1, 0) != 0 {
			continue
		}
		if !c.vpnTable.Search(int(vpn2), int(vpn1)) {
			continue
		}
		out = append(out, addr)
	}
	return out
}

func (c *CDPPrefetcher) sendPF(addr uint64, prio, depth int) (Candidate, bool) {
	if c.filter.Contains(addr) {
		return Candidate{}, false
	}
	c.filter.Insert(addr)
	return Candidate{Addr: addr, Priority: prio, Depth: depth}, true
}

// CalculatePrefetch handles the two demand-side triggers: on a miss, it
// records the address's (vpn2, vpn1) in the VPN table for later
// candidate gating; on a hit carrying data at propagated depth 2 or 4,
// it scans that payload for pointer candidates at depth 1, unless the
// hit's own source has been suppressed by PfHitNotify.
func (c *CDPPrefetcher) CalculatePrefetch(acc Access) []Candidate {
	if acc.IsMiss {
		vpn2 := int(bits(acc.Addr, 38, 30))
		vpn1 := int(bits(acc.Addr, 29, 21))
		c.vpnTable.Add(vpn2, vpn1)
		c.vpnTable.ResetConfidence()
		return nil
	}

	if acc.Data == nil || (acc.PFDepth != 4 && acc.PFDepth != 2) {
		return nil
	}
	if c.enablePrfFilter[acc.PFSource] {
		return nil
	}
	var out []Candidate
	for _, p := range c.scanPointer(decodeLanes(acc.Data, c.cfg.BigEndian)) {
		if cand, ok := c.sendPF(blockAddress(p), 30, 1); ok {
			out = append(out, cand)
		}
	}
	return out
}

// NotifyFill handles a completed cache fill: it scans the line's payload
// for pointer candidates and, for each one the VPN table confirms,
// emits the candidate's own block and the following block at a priority
// and depth derived from the fill's own prefetch depth. Candidates
// crossing a page boundary from the fill address are dropped unless a
// TLB is attached to resolve them.
func (c *CDPPrefetcher) NotifyFill(fill FillInfo) []Candidate {
	if !fill.HasData || !fill.HasVaddr {
		return nil
	}
	if c.enablePrfFilter[fill.PFSource] {
		return nil
	}

	accepted := c.scanPointer(decodeLanes(fill.Data, c.cfg.BigEndian))
	if len(accepted) == 0 {
		return nil
	}
	if fill.PFDepth >= c.cfg.DepthThreshold {
		return nil
	}
	nextDepth := fill.PFDepth + 1
	if fill.PFDepth == 0 {
		nextDepth = 4
	}

	var out []Candidate
	for _, p := range accepted {
		base := blockAddress(p)
		for _, cand := range [2]struct {
			addr uint64
			prio int
		}{
			{base, 29 + nextDepth},
			{base + 64, 29 + nextDepth - 10},
		} {
			if !samePage(cand.addr, fill.Addr) && !c.tlbAttached {
				continue
			}
			if v, ok := c.sendPF(cand.addr, cand.prio, nextDepth); ok {
				out = append(out, v)
			}
		}
	}
	return out
}

// PfHitNotify is the accuracy feedback hook: a poorly-performing source
// gets its future CDP expansions suppressed until its accuracy
// recovers.
func (c *CDPPrefetcher) PfHitNotify(accuracy float64, source int) {
	c.enablePrfFilter[source] = accuracy < 0.1
}
