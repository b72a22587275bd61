package terminal

import (
	"bufio"
	"fmt"
	"io"
)

const hexdumpWidth = 16

// hexdump writes data as rows of 16 uppercase hex bytes, split in two
// groups of 8, followed by an ASCII gutter. The last row is padded so
// its gutter lines up with the full rows.
func hexdump(out io.Writer, data []byte) {
	bw := bufio.NewWriter(out)
	defer bw.Flush()

	var ascii [hexdumpWidth]byte
	for i, b := range data {
		fmt.Fprintf(bw, "%02X ", b)
		if b >= ' ' && b <= '~' {
			ascii[i%hexdumpWidth] = b
		} else {
			ascii[i%hexdumpWidth] = '.'
		}
		n := i + 1
		if n%8 != 0 && n != len(data) {
			continue
		}
		bw.WriteByte(' ')
		switch r := n % hexdumpWidth; {
		case r == 0:
			fmt.Fprintf(bw, "|  %s \n", ascii[:])
		case n == len(data):
			if r <= 8 {
				bw.WriteByte(' ')
			}
			for j := r; j < hexdumpWidth; j++ {
				bw.WriteString("   ")
			}
			fmt.Fprintf(bw, "|  %s \n", ascii[:r])
		}
	}
}
