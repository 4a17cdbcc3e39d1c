package cdp

// vpnKey identifies a (vpn2, vpn1) pair: the two high-order levels of an
// Sv39 virtual address, which is as much of a miss address as CDP
// remembers for gating later pointer candidates.
type vpnKey struct {
	vpn2, vpn1 int
}

// VpnTable remembers (vpn2, vpn1) pairs seen on demand misses, gating
// which pointer candidates scanned out of cache-line payloads are
// plausible enough to chase. It is a bounded, FIFO-evicted set with a
// per-entry confidence counter.
type VpnTable struct {
	capacity   int
	order      []vpnKey
	confidence map[vpnKey]int
	last       *vpnKey
}

// NewVpnTable builds a table holding up to capacity entries.
func NewVpnTable(capacity int) *VpnTable {
	if capacity <= 0 {
		capacity = 1
	}
	return &VpnTable{capacity: capacity, confidence: make(map[vpnKey]int, capacity)}
}

// Add records (vpn2, vpn1), bumping its confidence if already present or
// inserting it and evicting the oldest entry if the table is full.
func (t *VpnTable) Add(vpn2, vpn1 int) {
	k := vpnKey{vpn2, vpn1}
	if _, ok := t.confidence[k]; !ok {
		if len(t.order) >= t.capacity {
			oldest := t.order[0]
			t.order = t.order[1:]
			delete(t.confidence, oldest)
		}
		t.order = append(t.order, k)
	}
	t.confidence[k]++
	t.last = &k
}

// ResetConfidence clears the confidence counter of the pair most
// recently passed to Add.
func (t *VpnTable) ResetConfidence() {
	if t.last == nil {
		return
	}
	t.confidence[*t.last] = 0
}

// Search reports whether (vpn2, vpn1) has been recorded.
func (t *VpnTable) Search(vpn2, vpn1 int) bool {
	_, ok := t.confidence[vpnKey{vpn2, vpn1}]
	return ok
}
