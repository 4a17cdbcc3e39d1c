package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"
)

// summary is one trace file's replay results, named for the file it
// came from so batch mode can print a report per input.
type summary struct {
	name string
	e    *engine
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return 100 * float64(hits) / float64(total)
}

const (
	sgrReset = "\x1b[0m"
	sgrBold  = "\x1b[1m"
	sgrRed   = "\x1b[31m"
	sgrGreen = "\x1b[32m"
)

func style(code, s string) string { return code + s + sgrReset }

// printReport writes one summary. Color is used only when out is a
// terminal; a plain table is printed otherwise so redirected output
// stays grep-friendly. The terminal width only decides which lines lose
// their color codes; the layout is the same at every width.
func printReport(out io.Writer, s summary) {
	color := false
	width := 80
	if f, ok := out.(*os.File); ok {
		if term.IsTerminal(int(f.Fd())) {
			color = true
			if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
				width = w
			}
		}
	}

	name := s.name
	if color {
		name = style(sgrBold, name)
	}
	fmt.Fprintln(out, name)

	e := s.e
	l1 := e.h.L1.Stats
	l2 := e.h.L2.Stats

	faultText := fmt.Sprintf("%d", e.faults)
	if color {
		if e.faults == 0 {
			faultText = style(sgrGreen, faultText)
		} else {
			faultText = style(sgrRed, faultText)
		}
	}

	lines := []string{
		fmt.Sprintf("  accesses: %d  faults: %s", e.accesses, faultText),
		fmt.Sprintf("  l1tlb:  reads %d/%d (%.1f%%)  writes %d/%d (%.1f%%)",
			l1.ReadHits, l1.ReadAccesses, hitRate(l1.ReadHits, l1.ReadMisses),
			l1.WriteHits, l1.WriteAccesses, hitRate(l1.WriteHits, l1.WriteMisses)),
		fmt.Sprintf("  l2tlb:  reads %d/%d (%.1f%%)  writes %d/%d (%.1f%%)",
			l2.ReadHits, l2.ReadAccesses, hitRate(l2.ReadHits, l2.ReadMisses),
			l2.WriteHits, l2.WriteAccesses, hitRate(l2.WriteHits, l2.WriteMisses)),
		fmt.Sprintf("  berti candidates: %d  cdp candidates: %d", e.bertiCandidates, e.cdpCandidates),
	}

	for _, line := range lines {
		// A narrow terminal still gets the full line; ansi.StringWidth
		// measures the line's printable width regardless of the color
		// codes embedded above, and ansi.Strip drops those codes from
		// lines wider than the terminal.
		if ansi.StringWidth(line) > width {
			fmt.Fprintln(out, ansi.Strip(line))
			continue
		}
		fmt.Fprintln(out, line)
	}
}
