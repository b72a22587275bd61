package mach

// Kernel is the set of kernel calls the debugger makes. Port names are
// interpreted in the debugger's own IPC space.
//
// Every failing call returns a KernReturn (possibly wrapped) so callers
// can recover the numeric status.
type Kernel interface {
	// TaskForPid acquires a send right to the task of pid.
	TaskForPid(pid int) (Task, error)
	TaskSuspend(task Task) error
	TaskResume(task Task) error
	// TaskThreads enumerates the threads of task. The returned list must
	// be released by the caller.
	TaskThreads(task Task) (*ThreadList, error)

	GetThreadState(thread Thread, flavor ThreadStateFlavor) (ThreadState, error)
	SetThreadState(thread Thread, state ThreadState) error

	// GetExceptionPorts returns the handler tuples currently registered
	// for the exceptions in mask.
	GetExceptionPorts(task Task, mask ExceptionMask) ([]ExceptionPortInfo, error)
	SetExceptionPorts(task Task, mask ExceptionMask, port Port, behavior Behavior, flavor ThreadStateFlavor) error

	AllocateReceivePort() (Port, error)
	// InsertSendRight makes a send right for a receive right we hold.
	InsertSendRight(port Port) error
	// DestroyPort destroys every right named by port, waking any
	// receiver blocked on it.
	DestroyPort(port Port) error
	DeallocatePort(port Port) error

	// ReceiveException blocks until a message arrives on port.
	ReceiveException(port Port) (*ExceptionMessage, error)
	SendReply(reply *ExceptionReply) error

	// ReadMemory reads len(buf) bytes at addr and returns how many were
	// copied.
	ReadMemory(task Task, addr uint64, buf []byte) (int, error)
	WriteMemory(task Task, addr uint64, data []byte) error
	// Region returns the VM region containing addr.
	Region(task Task, addr uint64) (Region, error)
	Protect(task Task, addr, size uint64, prot VMProt) error
	DyldInfo(task Task) (DyldInfo, error)
	PageSize() uint64

	// AttachExc is the process-local attach primitive (PT_ATTACHEXC).
	AttachExc(pid int) error
	// DetachExc undoes AttachExc.
	DetachExc(pid int) error
}
