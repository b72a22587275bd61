package proc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/phantom-dbg/phantom/pkg/mach"
	"github.com/phantom-dbg/phantom/pkg/proc/arm64util"
)

var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrNoSuchProcess     = errors.New("no such process")
	ErrPortSetup         = errors.New("exception port setup failed")
	ErrThreadEnumeration = errors.New("could not enumerate threads")
	ErrPartialState      = errors.New("thread state access failed")
	ErrDuplicate         = errors.New("duplicate address")
	ErrInvalidRegister   = errors.New("invalid register")
	ErrShortRead         = errors.New("short read")
	ErrInvalidSize       = errors.New("invalid size")
	ErrWriteFailure      = errors.New("memory write failed")
	ErrProtectionRestore = errors.New("could not restore page protection")
	ErrSlideUnresolvable = errors.New("could not resolve ASLR slide")
	ErrHardwareProgram   = errors.New("could not program debug registers on any thread")

	ErrNotAttached     = errors.New("not attached to a process")
	ErrAlreadyAttached = errors.New("already attached to a process")
	ErrSelfAttach      = errors.New("refusing to attach to the debugger itself")
	ErrSlotsExhausted  = arm64util.ErrSlotsExhausted
)

// KernelError is a failed kernel call. Kind, when set, is the taxonomy
// sentinel the failure maps to; Err is the kernel status.
type KernelError struct {
	Op   string
	Kind error
	Err  error
}

func (e *KernelError) Error() string {
	if e.Kind != nil {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *KernelError) Unwrap() []error {
	if e.Kind != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Err}
}

// Status returns the numeric kernel status behind e, if there is one.
func (e *KernelError) Status() (mach.KernReturn, bool) {
	var kr mach.KernReturn
	ok := errors.As(e.Err, &kr)
	return kr, ok
}

func kernelErr(op string, kind, err error) error {
	if err == nil {
		return nil
	}
	return &KernelError{Op: op, Kind: kind, Err: err}
}

// PointExistsError is returned when trying to set a breakpoint or a
// watchpoint at an address that already has one.
type PointExistsError struct {
	Kind  arm64util.Kind
	Addr  uint64
	Index int
}

func (e PointExistsError) Error() string {
	return fmt.Sprintf("%s %d already set at %#x", e.Kind, e.Index, e.Addr)
}

func (e PointExistsError) Is(target error) bool { return target == ErrDuplicate }

// NoPointError is returned when trying to clear a breakpoint or a
// watchpoint that does not exist.
type NoPointError struct {
	Kind  arm64util.Kind
	Addr  uint64
	Index int
	ByIdx bool
}

func (e NoPointError) Error() string {
	if e.ByIdx {
		return fmt.Sprintf("no %s with index %d", e.Kind, e.Index)
	}
	return fmt.Sprintf("no %s at %#x", e.Kind, e.Addr)
}

// InvalidRegisterError is returned for register names outside the
// general purpose register file.
type InvalidRegisterError struct {
	Name string
}

func (e InvalidRegisterError) Error() string {
	return fmt.Sprintf("invalid register name: %s", e.Name)
}

func (e InvalidRegisterError) Is(target error) bool { return target == ErrInvalidRegister }

// ShortReadError is returned when the kernel copied fewer bytes than
// requested.
type ShortReadError struct {
	Addr      uint64
	Want, Got int
}

func (e ShortReadError) Error() string {
	return fmt.Sprintf("read at %#x returned %d bytes instead of %d", e.Addr, e.Got, e.Want)
}

func (e ShortReadError) Is(target error) bool { return target == ErrShortRead }

// ThreadFailure is the failure of one thread in a multi-thread operation.
type ThreadFailure struct {
	Thread mach.Thread
	Err    error
}

// ThreadStateError aggregates the per-thread failures of an operation
// applied to every thread of the task.
type ThreadStateError struct {
	Op        string
	Threads   int
	Succeeded int
	Failures  []ThreadFailure
}

func (e *ThreadStateError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed on %d of %d threads", e.Op, len(e.Failures), e.Threads)
	for i, f := range e.Failures {
		if i == 3 {
			fmt.Fprintf(&b, " (and %d more)", len(e.Failures)-i)
			break
		}
		fmt.Fprintf(&b, "; thread %#x: %v", f.Thread, f.Err)
	}
	return b.String()
}

func (e *ThreadStateError) Is(target error) bool { return target == ErrPartialState }

func (e *ThreadStateError) Unwrap() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[0].Err
}
