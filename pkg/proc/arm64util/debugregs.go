package arm64util

import (
	"errors"
	"math/bits"

	"github.com/phantom-dbg/phantom/pkg/mach"
)

// Control register fields shared by DBGBCR<n>_EL1 and DBGWCR<n>_EL1, as
// described in the Arm Architecture Reference Manual, section D2.
const (
	ctrlEnable = 1 << 0

	// Breakpoints: PMC=0b10 plus HMC/SSC left as the hardware expects for
	// EL0 only matching, BT=0b0000 (address match), BAS=0b0011.
	bcrPrivUserOnly = (1 << 3) | (1 << 2)
	bcrMatchExecute = 0b00 << 1
	bcrSize4Bytes   = 0b11 << 5

	// Watchpoints: PAC=0b10 (EL0), LSC=0b11 (load and store), BAS=0xff
	// (the whole doubleword at WVR).
	wcrPrivUser    = 0b10 << 1
	wcrLoadStore   = 0b11 << 3
	wcrBAS8Bytes   = 0xff << 5
	wcrAddressMask = ^uint64(7)

	// MDSCR_EL1.SS
	mdscrSingleStep = 1 << 0
)

// BreakpointControl is the DBGBCR value of an enabled user mode execute
// breakpoint.
const BreakpointControl uint64 = ctrlEnable | bcrPrivUserOnly | bcrMatchExecute | bcrSize4Bytes

// WatchpointControl is the DBGWCR value of an enabled user mode
// load/store watchpoint on a doubleword.
const WatchpointControl uint64 = ctrlEnable | wcrPrivUser | wcrLoadStore | wcrBAS8Bytes

// Kind selects the breakpoint or the watchpoint bank.
type Kind uint8

const (
	Breakpoint Kind = iota
	Watchpoint
)

func (k Kind) String() string {
	if k == Watchpoint {
		return "watchpoint"
	}
	return "breakpoint"
}

// ErrSlotsExhausted is returned when a slot index is outside the bank.
var ErrSlotsExhausted = errors.New("hardware breakpoints exhausted")

// DebugRegisters edits the debug register banks of one thread. Dirty is
// set when an edit changed the state and it must be written back.
type DebugRegisters struct {
	state *mach.DebugState64
	Dirty bool
}

func NewDebugRegisters(state *mach.DebugState64) *DebugRegisters {
	return &DebugRegisters{state: state}
}

func (drs *DebugRegisters) bank(kind Kind) (value, control *[mach.NumDebugSlots]uint64) {
	if kind == Watchpoint {
		return &drs.state.WVR, &drs.state.WCR
	}
	return &drs.state.BVR, &drs.state.BCR
}

// SetBreakpoint programs slot idx of the bank selected by kind to match
// addr. A slot already in use is overwritten.
func (drs *DebugRegisters) SetBreakpoint(kind Kind, idx int, addr uint64) error {
	if idx < 0 || idx >= mach.NumDebugSlots {
		return ErrSlotsExhausted
	}
	v, c := addr, BreakpointControl
	if kind == Watchpoint {
		v, c = addr&wcrAddressMask, WatchpointControl
	}
	drs.store(kind, idx, v, c)
	return nil
}

// ClearBreakpoint zeroes the value/control pair of slot idx.
func (drs *DebugRegisters) ClearBreakpoint(kind Kind, idx int) error {
	if idx < 0 || idx >= mach.NumDebugSlots {
		return ErrSlotsExhausted
	}
	drs.store(kind, idx, 0, 0)
	return nil
}

func (drs *DebugRegisters) store(kind Kind, idx int, v, c uint64) {
	value, control := drs.bank(kind)
	if value[idx] == v && control[idx] == c {
		return
	}
	value[idx], control[idx] = v, c
	drs.Dirty = true
}

// Slot describes a decoded value/control pair.
type Slot struct {
	Index   int
	Addr    uint64
	Control uint64
	Enabled bool
	// UserOnly is set when the privilege field restricts matching to EL0.
	UserOnly bool
	// Load and Store are only meaningful for watchpoints.
	Load, Store bool
	// Size is the number of bytes selected by BAS.
	Size int
}

// Slot decodes slot idx of the bank selected by kind.
func (drs *DebugRegisters) Slot(kind Kind, idx int) Slot {
	value, control := drs.bank(kind)
	ctrl := control[idx]
	s := Slot{
		Index:   idx,
		Addr:    value[idx],
		Control: ctrl,
		Enabled: ctrl&ctrlEnable != 0,
	}
	if kind == Watchpoint {
		s.UserOnly = (ctrl>>1)&0b11 == 0b10
		s.Load = ctrl&(1<<3) != 0
		s.Store = ctrl&(1<<4) != 0
		s.Size = bits.OnesCount8(uint8(ctrl >> 5))
	} else {
		s.UserOnly = ctrl&bcrPrivUserOnly == bcrPrivUserOnly
		s.Size = bits.OnesCount8(uint8((ctrl>>5)&0b11)) * 2
	}
	return s
}

// Active returns the enabled slots of the bank selected by kind.
func (drs *DebugRegisters) Active(kind Kind) []Slot {
	var r []Slot
	for i := 0; i < mach.NumDebugSlots; i++ {
		if s := drs.Slot(kind, i); s.Enabled {
			r = append(r, s)
		}
	}
	return r
}

// SetSingleStep sets or clears MDSCR_EL1.SS.
func (drs *DebugRegisters) SetSingleStep(on bool) {
	old := drs.state.MDSCR
	if on {
		drs.state.MDSCR |= mdscrSingleStep
	} else {
		drs.state.MDSCR &^= mdscrSingleStep
	}
	if drs.state.MDSCR != old {
		drs.Dirty = true
	}
}

// SingleStep reports whether MDSCR_EL1.SS is set.
func (drs *DebugRegisters) SingleStep() bool {
	return drs.state.MDSCR&mdscrSingleStep != 0
}
