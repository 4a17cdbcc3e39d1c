package htlb

// lruClock is a single monotonic sequence counter shared by L1TLB and
// every L2TLB partition, mirroring the original TLB's single `lruSeq`
// field that both levels increment from. Sharing one clock keeps victim
// selection comparable across partitions even though each partition's
// entries are stored in separate backing arrays.
type lruClock struct {
	seq uint64
}

func (c *lruClock) next() uint64 {
	c.seq++
	return c.seq
}
