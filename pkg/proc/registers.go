package proc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/phantom-dbg/phantom/pkg/mach"
)

// Register identifies a register of the general purpose file.
// Values 0 to 28 are X0-X28.
type Register uint8

const (
	RegFP Register = 29
	RegLR Register = 30
	RegSP Register = 31
	RegPC Register = 32
)

func (r Register) String() string {
	switch r {
	case RegFP:
		return "FP"
	case RegLR:
		return "LR"
	case RegSP:
		return "SP"
	case RegPC:
		return "PC"
	}
	return fmt.Sprintf("X%d", uint8(r))
}

// ParseRegister maps a register name to a Register. X29 and X30 are the
// frame pointer and the link register. Names are case insensitive and
// register numbers are written without leading zeros.
func ParseRegister(name string) (Register, error) {
	upper := strings.ToUpper(name)
	switch upper {
	case "FP":
		return RegFP, nil
	case "LR":
		return RegLR, nil
	case "SP":
		return RegSP, nil
	case "PC":
		return RegPC, nil
	}
	if len(upper) < 2 || len(upper) > 3 || upper[0] != 'X' || (len(upper) == 3 && upper[1] == '0') {
		return 0, InvalidRegisterError{name}
	}
	for _, c := range upper[1:] {
		if c < '0' || c > '9' {
			return 0, InvalidRegisterError{name}
		}
	}
	n, err := strconv.Atoi(upper[1:])
	if err != nil || n > 30 {
		return 0, InvalidRegisterError{name}
	}
	return Register(n), nil
}

// Get returns the value of r in regs.
func (r Register) Get(regs *mach.ThreadState64) uint64 {
	switch r {
	case RegFP:
		return regs.FP
	case RegLR:
		return regs.LR
	case RegSP:
		return regs.SP
	case RegPC:
		return regs.PC
	}
	return regs.X[r]
}

// Set stores value into r in regs.
func (r Register) Set(regs *mach.ThreadState64, value uint64) {
	switch r {
	case RegFP:
		regs.FP = value
	case RegLR:
		regs.LR = value
	case RegSP:
		regs.SP = value
	case RegPC:
		regs.PC = value
	default:
		regs.X[r] = value
	}
}

// RegisterValue is a named register value.
type RegisterValue struct {
	Name  string
	Value uint64
}

// RegisterSlice lists regs in architectural order, CPSR last.
func RegisterSlice(regs *mach.ThreadState64) []RegisterValue {
	out := make([]RegisterValue, 0, 34)
	for r := Register(0); r <= RegPC; r++ {
		out = append(out, RegisterValue{r.String(), r.Get(regs)})
	}
	return append(out, RegisterValue{"CPSR", uint64(regs.CPSR)})
}
