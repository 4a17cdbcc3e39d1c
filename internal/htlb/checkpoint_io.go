package htlb

import (
	"encoding/binary"
	"io"
)

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// writeEntry/readEntry serialize a checkpointEntry field by field rather
// than via encoding/gob: the format needs to stay stable independent of
// Go struct layout, since a checkpoint may be read back by a different
// build of this simulator.
func writeEntry(w io.Writer, e checkpointEntry) error {
	for _, v := range [...]uint64{e.Vaddr, e.Paddr, uint64(e.Asid), e.Pte, uint64(e.LogBytes), uint64(e.Level), e.LruSeq} {
		if err := writeUint64(w, v); err != nil {
			return err
		}
	}
	return nil
}

func readEntry(r io.Reader) (checkpointEntry, error) {
	var vals [7]uint64
	for i := range vals {
		v, err := readUint64(r)
		if err != nil {
			return checkpointEntry{}, err
		}
		vals[i] = v
	}
	return checkpointEntry{
		Vaddr: vals[0], Paddr: vals[1], Asid: uint16(vals[2]), Pte: vals[3],
		LogBytes: uint8(vals[4]), Level: uint8(vals[5]), LruSeq: vals[6],
	}, nil
}
