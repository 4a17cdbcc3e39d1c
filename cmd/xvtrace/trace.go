package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// access is one parsed line of a memory trace: an access mode, a
// virtual address, and (for loads/stores) the PC that issued it.
type access struct {
	mode rune // 'R', 'W', or 'X'
	pc   uint64
	addr uint64
}

// parseTrace reads a whitespace-separated trace: "<R|W|X> <addr-hex> [pc-hex]"
// per line, blank lines and lines starting with '#' ignored.
func parseTrace(r io.Reader) ([]access, error) {
	var out []access
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("trace line %d: expected at least 2 fields, got %d", lineNo, len(fields))
		}
		mode := []rune(strings.ToUpper(fields[0]))[0]
		if mode != 'R' && mode != 'W' && mode != 'X' {
			return nil, fmt.Errorf("trace line %d: unknown access mode %q", lineNo, fields[0])
		}
		addr, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("trace line %d: bad address %q: %w", lineNo, fields[1], err)
		}
		var pc uint64
		if len(fields) >= 3 {
			pc, err = strconv.ParseUint(strings.TrimPrefix(fields[2], "0x"), 16, 64)
			if err != nil {
				return nil, fmt.Errorf("trace line %d: bad pc %q: %w", lineNo, fields[2], err)
			}
		}
		out = append(out, access{mode: mode, addr: addr, pc: pc})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading trace: %w", err)
	}
	return out, nil
}
