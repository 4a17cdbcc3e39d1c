package berti

// DeltaStatus classifies a learned delta by how strongly it has been
// confirmed timely.
type DeltaStatus int

const (
	NoPref DeltaStatus = iota
	L1Pref
	L2Pref
)

// DeltaInfo is one observed stride and its running confirmation count.
type DeltaInfo struct {
	Delta           int64
	CoverageCounter int
	Status          DeltaStatus
}

// historyInfo is one timestamped reference recorded against a PC.
type historyInfo struct {
	vAddr     uint64
	timestamp uint64
}

// historyEntry is the per-PC training record: a FIFO of recent addresses
// and a bounded multiset of candidate deltas.
type historyEntry struct {
	valid      bool
	pc         uint64
	hysteresis bool
	counter    int
	history    []historyInfo
	deltas     []DeltaInfo
	bestDelta  DeltaInfo
	lastUsed   uint64
}

func newHistoryEntry(deltaListSize int) *historyEntry {
	return &historyEntry{deltas: make([]DeltaInfo, deltaListSize)}
}

// updateStatus recomputes each delta's confidence tier and bestDelta,
// the highest-coverage delta currently tracked.
func (e *historyEntry) updateStatus() {
	var best DeltaInfo
	for i := range e.deltas {
		d := &e.deltas[i]
		switch {
		case d.CoverageCounter == 0:
			d.Status = NoPref
		case d.CoverageCounter >= 8:
			d.Status = L1Pref
		case d.CoverageCounter >= 2:
			d.Status = L2Pref
		default:
			d.Status = NoPref
		}
		if d.CoverageCounter > best.CoverageCounter {
			best = *d
		}
	}
	e.bestDelta = best
}

// resetConfidence halves every delta's coverage, decaying stale entries
// toward eviction without discarding them outright.
func (e *historyEntry) resetConfidence(full bool) {
	for i := range e.deltas {
		if full {
			e.deltas[i] = DeltaInfo{}
			continue
		}
		e.deltas[i].CoverageCounter /= 2
		if e.deltas[i].CoverageCounter == 0 {
			e.deltas[i].Status = NoPref
		}
	}
	e.counter = 0
}

// historyTable is a set-associative table of historyEntry, indexed by a
// hash of the training PC, each set holding `ways` fully-associative
// entries replaced by recency.
type historyTable struct {
	sets [][]*historyEntry
}

func newHistoryTable(numSets, ways, deltaListSize int) *historyTable {
	if numSets <= 0 {
		numSets = 1
	}
	if ways <= 0 {
		ways = 1
	}
	sets := make([][]*historyEntry, numSets)
	for i := range sets {
		set := make([]*historyEntry, ways)
		for w := range set {
			set[w] = newHistoryEntry(deltaListSize)
		}
		sets[i] = set
	}
	return &historyTable{sets: sets}
}

func pcHash(pc uint64) uint64 {
	h := pc >> 2
	h ^= h >> 16
	h ^= h >> 8
	return h
}

func (t *historyTable) setFor(pc uint64) []*historyEntry {
	return t.sets[pcHash(pc)%uint64(len(t.sets))]
}

func (t *historyTable) find(pc uint64) *historyEntry {
	for _, e := range t.setFor(pc) {
		if e.valid && e.pc == pc {
			return e
		}
	}
	return nil
}

// findVictim returns an invalid way if one exists in the PC's set,
// otherwise the least-recently-touched occupant.
func (t *historyTable) findVictim(pc uint64) *historyEntry {
	set := t.setFor(pc)
	victim := set[0]
	for _, e := range set {
		if !e.valid {
			return e
		}
		if e.lastUsed < victim.lastUsed {
			victim = e
		}
	}
	return victim
}

func (t *historyTable) touch(e *historyEntry, cycle uint64) {
	e.lastUsed = cycle
}
