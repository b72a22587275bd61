package terminal

import (
	"bufio"
	"fmt"
	"io"

	"github.com/phantom-dbg/phantom/pkg/disasm"
)

// disasmPrint writes one decoded instruction per line. The instruction
// at pc is marked with "=>" and instructions with a breakpoint on them
// with "*".
func disasmPrint(lines []disasm.Line, out io.Writer, pc uint64, breakpoints map[uint64]bool) {
	bw := bufio.NewWriter(out)
	defer bw.Flush()
	for _, l := range lines {
		atpc := "  "
		if l.Addr == pc {
			atpc = "=>"
		}
		atbp := " "
		if breakpoints[l.Addr] {
			atbp = "*"
		}
		fmt.Fprintf(bw, "%s%s %s\n", atpc, atbp, l)
	}
}

// printDisassembly prints lines, marking the program counter and the
// breakpoints at their slid addresses.
func printDisassembly(t *Term, lines []disasm.Line) {
	pc, err := t.sess.ProgramCounter()
	if err != nil {
		pc = 0
	}
	slide, on := t.sess.Slide()
	bps := make(map[uint64]bool)
	for _, p := range t.sess.Breakpoints() {
		addr := p.Addr
		if on {
			addr += slide
		}
		bps[addr] = true
	}
	disasmPrint(lines, t.stdout, pc, bps)
}
