// Package htlb implements the hierarchical TLB: a single-level 4KiB
// L1TLB backed by a partitioned L2TLB (1GiB, 2MiB, 4KiB, and a shared
// super-page partition), both indexed by a longest-prefix-match trie
// keyed on (ASID, masked virtual address).
package htlb

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"

	"github.com/rv39sim/xvsim/internal/rv39"
)

// Config sizes each partition in 8-entry groups, mirroring the source's
// N1/N2/N3/Nsp capacity parameters.
type Config struct {
	L1Entries int // L1TLB slot count
	N1        int // l2l1 group count
	N2        int // l2l2 group count
	N3        int // l2l3 group count
	Nsp       int // l2sp group count
}

// DefaultConfig returns the reference sizing used when no site
// configuration overrides it.
func DefaultConfig() Config {
	return Config{L1Entries: 32, N1: 4, N2: 4, N3: 16, Nsp: 8}
}

// HTLB is the combined two-level translation cache. L1 and L2 share a
// single monotonic LRU clock so victim selection stays comparable across
// every partition, matching the source's single lruSeq counter.
type HTLB struct {
	L1 *L1TLB
	L2 *L2TLB

	clock *lruClock
	log   *slog.Logger
}

// New builds an HTLB sized per cfg.
func New(cfg Config, log *slog.Logger) *HTLB {
	if log == nil {
		log = slog.Default()
	}
	clock := &lruClock{}
	return &HTLB{
		L1:    NewL1TLB(cfg.L1Entries, clock, log),
		L2:    NewL2TLB(cfg.N1, cfg.N2, cfg.N3, cfg.Nsp, clock, log),
		clock: clock,
		log:   log,
	}
}

// FlushAll empties both levels.
func (h *HTLB) FlushAll() {
	h.L1.FlushAll()
	h.L2.FlushAll()
}

// DemapPage flushes the given (vpn, asid) — or everything, if both are
// zero — from L1 and from every L2 partition.
func (h *HTLB) DemapPage(vpn uint64, asid uint16) {
	h.L1.DemapPage(vpn, asid)
	h.L2.DemapPage(vpn, asid)
}

// checkpointEntry is the on-disk representation of one resident
// TlbEntry. The remaining TlbEntry fields (Index, GroupStart,
// TrieHandle) are reconstructed on load rather than serialized.
type checkpointEntry struct {
	Vaddr    uint64
	Paddr    uint64
	Asid     uint16
	Pte      uint64
	LogBytes uint8
	Level    uint8
	LruSeq   uint64
}

// WriteCheckpoint serializes every resident L1 entry in allocation
// order, preceded by the resident count and the current LRU clock
// value. L2 partitions are not checkpointed: they are a pure
// performance cache, rebuilt by re-walking on the next miss.
func (h *HTLB) WriteCheckpoint(w io.Writer) error {
	bw := bufio.NewWriter(w)
	resident := h.L1.Resident()
	if err := writeUint64(bw, uint64(resident)); err != nil {
		return err
	}
	if err := writeUint64(bw, h.clock.seq); err != nil {
		return err
	}
	for i := range h.L1.pool.entries {
		e := &h.L1.pool.entries[i]
		if !e.TrieHandle.valid {
			continue
		}
		ce := checkpointEntry{
			Vaddr: e.Vaddr, Paddr: e.Paddr, Asid: e.Asid,
			Pte: uint64(e.Pte), LogBytes: uint8(e.LogBytes),
			Level: uint8(e.Level), LruSeq: e.LruSeq,
		}
		if err := writeEntry(bw, ce); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadCheckpoint rebuilds L1TLB state from a stream written by
// WriteCheckpoint. It refuses checkpoints claiming more resident entries
// than the current L1 capacity.
func (h *HTLB) ReadCheckpoint(r io.Reader) error {
	br := bufio.NewReader(r)
	count, err := readUint64(br)
	if err != nil {
		return err
	}
	if count > uint64(h.L1.Capacity()) {
		return fmt.Errorf("htlb: checkpoint has %d entries, capacity is %d", count, h.L1.Capacity())
	}
	seq, err := readUint64(br)
	if err != nil {
		return err
	}
	h.L1.FlushAll()
	h.clock.seq = seq
	for i := uint64(0); i < count; i++ {
		ce, err := readEntry(br)
		if err != nil {
			return err
		}
		slot := h.L1.Insert(ce.Vaddr, TlbEntry{
			Paddr: ce.Paddr, Asid: ce.Asid, Pte: rv39.PTE(ce.Pte),
			LogBytes: uint(ce.LogBytes), Level: int(ce.Level), LruSeq: ce.LruSeq,
		})
		slot.LruSeq = ce.LruSeq
	}
	return nil
}
