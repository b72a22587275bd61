package mach

import "fmt"

// ThreadStateFlavor is a thread_state_flavor_t.
type ThreadStateFlavor int32

const (
	ARMThreadState64    ThreadStateFlavor = 6
	ARMExceptionState64 ThreadStateFlavor = 7
	ARMDebugState64     ThreadStateFlavor = 15
	ThreadStateNone     ThreadStateFlavor = 5
)

// Sizes of the flavors in 32 bit words, the unit of
// mach_msg_type_number_t counts.
const (
	ARMThreadState64Count    = 68
	ARMExceptionState64Count = 4
	ARMDebugState64Count     = 130
)

// NumDebugSlots is the number of breakpoint and of watchpoint
// value/control register pairs in ARMDebugState64.
const NumDebugSlots = 16

// ThreadState is one register flavor of a thread. The concrete types
// have the exact memory layout of the corresponding kernel structure.
type ThreadState interface {
	Flavor() ThreadStateFlavor
}

// ThreadState64 is arm_thread_state64_t.
type ThreadState64 struct {
	X    [29]uint64
	FP   uint64
	LR   uint64
	SP   uint64
	PC   uint64
	CPSR uint32
	Pad  uint32
}

func (*ThreadState64) Flavor() ThreadStateFlavor { return ARMThreadState64 }

// ExceptionState64 is arm_exception_state64_t.
type ExceptionState64 struct {
	FAR       uint64
	ESR       uint32
	Exception uint32
}

func (*ExceptionState64) Flavor() ThreadStateFlavor { return ARMExceptionState64 }

// DebugState64 is arm_debug_state64_t.
type DebugState64 struct {
	BVR   [NumDebugSlots]uint64
	BCR   [NumDebugSlots]uint64
	WVR   [NumDebugSlots]uint64
	WCR   [NumDebugSlots]uint64
	MDSCR uint64
}

func (*DebugState64) Flavor() ThreadStateFlavor { return ARMDebugState64 }

// NewThreadState returns a zeroed state of the given flavor.
func NewThreadState(flavor ThreadStateFlavor) (ThreadState, error) {
	switch flavor {
	case ARMThreadState64:
		return &ThreadState64{}, nil
	case ARMExceptionState64:
		return &ExceptionState64{}, nil
	case ARMDebugState64:
		return &DebugState64{}, nil
	}
	return nil, fmt.Errorf("unsupported thread state flavor %d", flavor)
}

// CloneThreadState returns a deep copy of st.
func CloneThreadState(st ThreadState) ThreadState {
	switch s := st.(type) {
	case *ThreadState64:
		c := *s
		return &c
	case *ExceptionState64:
		c := *s
		return &c
	case *DebugState64:
		c := *s
		return &c
	}
	return nil
}
