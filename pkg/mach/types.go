package mach

import (
	"errors"
	"fmt"
)

// Task is a task port name in the debugger's IPC space.
type Task uint32

// Thread is a thread port name in the debugger's IPC space.
type Thread uint32

// Port is any other port name.
type Port uint32

const PortNull Port = 0

var (
	// ErrNotSupported is returned by every Kernel method on hosts without
	// a Mach kernel.
	ErrNotSupported = errors.New("mach kernel interface not available on this host")
	// ErrNoSuchProcess is returned by TaskForPid when the pid does not
	// name a running process.
	ErrNoSuchProcess = errors.New("no such process")
)

// ExceptionType is an exception_type_t.
type ExceptionType int32

const (
	ExcBadAccess      ExceptionType = 1
	ExcBadInstruction ExceptionType = 2
	ExcArithmetic     ExceptionType = 3
	ExcEmulation      ExceptionType = 4
	ExcSoftware       ExceptionType = 5
	ExcBreakpoint     ExceptionType = 6
	ExcSyscall        ExceptionType = 7
	ExcMachSyscall    ExceptionType = 8
	ExcRPCAlert       ExceptionType = 9
	ExcCrash          ExceptionType = 10
	ExcResource       ExceptionType = 11
	ExcGuard          ExceptionType = 12
	ExcCorpseNotify   ExceptionType = 13

	// ExcTypesCount is the number of exception types, and so the largest
	// number of handler tuples task_get_exception_ports can return.
	ExcTypesCount = 14
)

var exceptionNames = [...]string{
	"UNKNOWN",
	"EXC_BAD_ACCESS",
	"EXC_BAD_INSTRUCTION",
	"EXC_ARITHMETIC",
	"EXC_EMULATION",
	"EXC_SOFTWARE",
	"EXC_BREAKPOINT",
	"EXC_SYSCALL",
	"EXC_MACH_SYSCALL",
	"EXC_RPC_ALERT",
	"EXC_CRASH",
	"EXC_RESOURCE",
	"EXC_GUARD",
	"EXC_CORPSE_NOTIFY",
}

func (e ExceptionType) String() string {
	if e > 0 && int(e) < len(exceptionNames) {
		return exceptionNames[e]
	}
	return fmt.Sprintf("EXC_%d", int32(e))
}

// Mask returns the exception_mask_t bit selecting e.
func (e ExceptionType) Mask() ExceptionMask {
	return ExceptionMask(1) << uint(e)
}

// ExceptionMask is an exception_mask_t.
type ExceptionMask uint32

// Has reports whether m selects e.
func (m ExceptionMask) Has(e ExceptionType) bool {
	return m&e.Mask() != 0
}

// Behavior is an exception_behavior_t.
type Behavior int32

const (
	BehaviorDefault       Behavior = 1
	BehaviorState         Behavior = 2
	BehaviorStateIdentity Behavior = 3

	// MachExceptionCodes asks the kernel for 64 bit exception codes.
	MachExceptionCodes Behavior = -0x80000000
)

// VMProt is a vm_prot_t.
type VMProt int32

const (
	ProtNone    VMProt = 0
	ProtRead    VMProt = 1
	ProtWrite   VMProt = 2
	ProtExecute VMProt = 4
	ProtCopy    VMProt = 0x10
)

func (p VMProt) String() string {
	b := []byte("---")
	if p&ProtRead != 0 {
		b[0] = 'r'
	}
	if p&ProtWrite != 0 {
		b[1] = 'w'
	}
	if p&ProtExecute != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// ExceptionPortInfo is one handler tuple as returned by
// task_get_exception_ports.
type ExceptionPortInfo struct {
	Mask     ExceptionMask
	Port     Port
	Behavior Behavior
	Flavor   ThreadStateFlavor
}

// Region describes the VM region containing an address.
type Region struct {
	Start      uint64
	Size       uint64
	Protection VMProt
	MaxProt    VMProt
}

// DyldInfo is the TASK_DYLD_INFO flavor of task_info.
type DyldInfo struct {
	AllImageInfoAddr   uint64
	AllImageInfoSize   uint64
	AllImageInfoFormat int32
}

// ThreadList is the result of task_threads. The caller owns the kernel
// allocated array and the thread send rights in it and must call Release
// exactly once.
type ThreadList struct {
	Threads []Thread
	release func() error
}

// NewThreadList returns a ThreadList whose Release calls release.
func NewThreadList(threads []Thread, release func() error) *ThreadList {
	return &ThreadList{Threads: threads, release: release}
}

// Release gives the thread array and the rights it holds back to the
// kernel. Calling it more than once is a no-op.
func (tl *ThreadList) Release() error {
	if tl == nil || tl.release == nil {
		return nil
	}
	rel := tl.release
	tl.release = nil
	return rel()
}
