// Package berti implements a PC-indexed timely-delta prefetcher: it
// learns, per instruction, which strides between recent references were
// confirmed before the next demand arrived, and prefetches along the
// highest-confidence stride.
package berti

import (
	"log/slog"

	"github.com/rv39sim/xvsim/internal/config"
	"github.com/rv39sim/xvsim/internal/prefetch"
)

// blockShift assumes a 64-byte cache line, matching the rest of the
// simulator's data-path granularity.
const blockShift = 6

// Access describes a demand reference observed by the prefetcher.
type Access struct {
	PC       uint64
	Addr     uint64
	IsMiss   bool
	IsSecure bool
}

// Fill describes a completed cache fill notification.
type Fill struct {
	PC          uint64
	Addr        uint64
	IsInstFetch bool
	IsPrefetch  bool
	HasVaddr    bool
	HasPC       bool
	DemandCycle uint64
}

// Candidate is a prefetch address this engine wants issued.
type Candidate struct {
	Addr      uint64
	Priority  int
	Confident bool
}

// BertiPrefetcher is a PC-keyed timely-delta learner with best-delta
// confidence, trained by demand accesses and cache fills.
type BertiPrefetcher struct {
	cfg    config.BertiConfig
	table  *historyTable
	filter *prefetch.RecentFilter
	train  *prefetch.RecentFilter

	lastFillLatency   uint64
	evictedBestDelta  int64
	lastUsedBestDelta int64

	log *slog.Logger
}

// New builds a BertiPrefetcher from cfg.
func New(cfg config.BertiConfig, log *slog.Logger) *BertiPrefetcher {
	if log == nil {
		log = slog.Default()
	}
	numSets := cfg.HistoryTableSize / cfg.HistoryTableAssoc
	if numSets <= 0 {
		numSets = 1
	}
	return &BertiPrefetcher{
		cfg:    cfg,
		table:  newHistoryTable(numSets, cfg.HistoryTableAssoc, cfg.DeltaListSize),
		filter: prefetch.NewRecentFilter(32),
		train:  prefetch.NewRecentFilter(8),
		log:    log,
	}
}

func (b *BertiPrefetcher) blockIndex(addr uint64) uint64 { return addr >> blockShift }

func (b *BertiPrefetcher) trainingAddr(addr uint64) uint64 {
	if b.cfg.UseByteAddr {
		return addr
	}
	return b.blockIndex(addr)
}

func (b *BertiPrefetcher) deltaAddr(addr uint64, delta int64) uint64 {
	if b.cfg.UseByteAddr {
		return uint64(int64(addr) + delta)
	}
	return uint64(int64(b.blockIndex(addr))+delta) << blockShift
}

// CalculatePrefetch trains on a demand access and returns any candidate
// prefetches it wants issued.
func (b *BertiPrefetcher) CalculatePrefetch(acc Access, currentCycle uint64) []Candidate {
	b.evictedBestDelta = 0
	b.lastUsedBestDelta = 0
	b.train.Insert(b.blockIndex(acc.Addr))

	if !acc.IsMiss {
		if entry := b.table.find(acc.PC); entry != nil {
			b.searchTimelyDeltas(entry, b.lastFillLatency, currentCycle, b.trainingAddr(acc.Addr))
		}
	}

	entry := b.updateHistoryTable(acc, currentCycle)
	if entry == nil {
		return nil
	}

	var out []Candidate
	if b.cfg.AggressivePF {
		for _, d := range entry.deltas {
			if d.Status == NoPref {
				continue
			}
			confident := d.Delta == entry.bestDelta.Delta && entry.bestDelta.CoverageCounter >= 8
			if c, ok := b.sendPF(acc.Addr, b.deltaAddr(acc.Addr, d.Delta), 32, confident); ok {
				out = append(out, c)
			}
		}
	} else if entry.bestDelta.Status != NoPref {
		confident := entry.bestDelta.CoverageCounter >= 8
		if c, ok := b.sendPF(acc.Addr, b.deltaAddr(acc.Addr, entry.bestDelta.Delta), 32, confident); ok {
			out = append(out, c)
		}
	}
	return out
}

func (b *BertiPrefetcher) sendPF(triggerAddr, addr uint64, prio int, confident bool) (Candidate, bool) {
	if confident {
		b.lastUsedBestDelta = int64(b.blockIndex(addr)) - int64(b.blockIndex(triggerAddr))
	}
	if b.filter.Contains(addr) {
		return Candidate{}, false
	}
	b.filter.Insert(addr)
	return Candidate{Addr: addr, Priority: prio, Confident: confident}, true
}

// updateHistoryTable trains the history table with acc, returning the
// touched entry when the PC hit (for immediate prefetch issue) or nil on
// a redundant reference or a cold PC miss.
func (b *BertiPrefetcher) updateHistoryTable(acc Access, currentCycle uint64) *historyEntry {
	trainingAddr := b.trainingAddr(acc.Addr)
	info := historyInfo{vAddr: trainingAddr, timestamp: currentCycle}

	if entry := b.table.find(acc.PC); entry != nil {
		b.table.touch(entry, currentCycle)
		for _, h := range entry.history {
			if h.vAddr == trainingAddr {
				return nil // redundant reference, ignore
			}
		}
		if len(entry.history) >= b.cfg.AddrListSize {
			entry.history = entry.history[1:]
		}
		entry.history = append(entry.history, info)
		entry.hysteresis = true
		return entry
	}

	victim := b.table.findVictim(acc.PC)
	if victim.valid && victim.hysteresis {
		victim.hysteresis = false
		b.table.touch(victim, currentCycle)
		return nil // hysteresis grants one more chance before real eviction
	}

	if victim.valid && victim.bestDelta.Status != NoPref {
		b.evictedBestDelta = victim.bestDelta.Delta
	}
	victim.valid = true
	victim.pc = acc.PC
	victim.history = victim.history[:0]
	victim.history = append(victim.history, info)
	victim.deltas = make([]DeltaInfo, b.cfg.DeltaListSize)
	victim.bestDelta = DeltaInfo{}
	victim.counter = 0
	b.table.touch(victim, currentCycle)
	return nil
}

// searchTimelyDeltas scans entry's history newest-first for deltas that
// were confirmed before a later demand arrived, folding up to
// maxDeltafound of them into entry's coverage-counted delta set.
func (b *BertiPrefetcher) searchTimelyDeltas(entry *historyEntry, latency, demandCycle, triggerAddr uint64) {
	deltaThres := int64(8)
	if b.cfg.UseByteAddr {
		deltaThres = int64(1) << blockShift
	}

	var newDeltas []int64
	for i := len(entry.history) - 1; i >= 0; i-- {
		h := entry.history[i]
		delta := int64(triggerAddr) - int64(h.vAddr)
		if abs64(delta) <= deltaThres {
			continue
		}
		if h.timestamp+latency >= demandCycle {
			continue
		}
		newDeltas = append(newDeltas, delta)
		if len(newDeltas) >= b.cfg.MaxDeltaFound {
			break
		}
	}

	entry.counter++
	for _, delta := range newDeltas {
		miss := true
		for i := range entry.deltas {
			if entry.deltas[i].CoverageCounter != 0 && entry.deltas[i].Delta == delta {
				entry.deltas[i].CoverageCounter++
				miss = false
				break
			}
		}
		if miss {
			replace := 0
			for i := range entry.deltas {
				if entry.deltas[replace].CoverageCounter >= entry.deltas[i].CoverageCounter {
					replace = i
				}
			}
			entry.deltas[replace] = DeltaInfo{Delta: delta, CoverageCounter: 1, Status: NoPref}
		}
	}

	if entry.counter >= 6 {
		entry.updateStatus()
		if entry.counter >= 16 {
			entry.resetConfidence(false)
		}
	}
}

// NotifyFill trains on a completed cache fill, searching for timely
// deltas against the filling PC's history the same way a demand hit
// would.
func (b *BertiPrefetcher) NotifyFill(fill Fill) {
	if fill.IsInstFetch || !fill.HasVaddr || !fill.HasPC || fill.IsPrefetch {
		return
	}
	b.lastFillLatency = 1

	entry := b.table.find(fill.PC)
	if entry == nil {
		return
	}
	b.searchTimelyDeltas(entry, b.lastFillLatency, fill.DemandCycle, b.trainingAddr(fill.Addr))
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
