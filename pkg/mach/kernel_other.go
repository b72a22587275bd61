//go:build !(darwin && arm64 && cgo)

package mach

type unsupportedKernel struct{}

// Host returns a Kernel whose every call fails with ErrNotSupported.
func Host() Kernel {
	return unsupportedKernel{}
}

func (unsupportedKernel) TaskForPid(int) (Task, error)          { return 0, ErrNotSupported }
func (unsupportedKernel) TaskSuspend(Task) error                { return ErrNotSupported }
func (unsupportedKernel) TaskResume(Task) error                 { return ErrNotSupported }
func (unsupportedKernel) TaskThreads(Task) (*ThreadList, error) { return nil, ErrNotSupported }
func (unsupportedKernel) GetThreadState(Thread, ThreadStateFlavor) (ThreadState, error) {
	return nil, ErrNotSupported
}
func (unsupportedKernel) SetThreadState(Thread, ThreadState) error { return ErrNotSupported }
func (unsupportedKernel) GetExceptionPorts(Task, ExceptionMask) ([]ExceptionPortInfo, error) {
	return nil, ErrNotSupported
}
func (unsupportedKernel) SetExceptionPorts(Task, ExceptionMask, Port, Behavior, ThreadStateFlavor) error {
	return ErrNotSupported
}
func (unsupportedKernel) AllocateReceivePort() (Port, error) { return PortNull, ErrNotSupported }
func (unsupportedKernel) InsertSendRight(Port) error         { return ErrNotSupported }
func (unsupportedKernel) DestroyPort(Port) error             { return ErrNotSupported }
func (unsupportedKernel) DeallocatePort(Port) error          { return ErrNotSupported }
func (unsupportedKernel) ReceiveException(Port) (*ExceptionMessage, error) {
	return nil, ErrNotSupported
}
func (unsupportedKernel) SendReply(*ExceptionReply) error                { return ErrNotSupported }
func (unsupportedKernel) ReadMemory(Task, uint64, []byte) (int, error)   { return 0, ErrNotSupported }
func (unsupportedKernel) WriteMemory(Task, uint64, []byte) error         { return ErrNotSupported }
func (unsupportedKernel) Region(Task, uint64) (Region, error)            { return Region{}, ErrNotSupported }
func (unsupportedKernel) Protect(Task, uint64, uint64, VMProt) error     { return ErrNotSupported }
func (unsupportedKernel) DyldInfo(Task) (DyldInfo, error)                { return DyldInfo{}, ErrNotSupported }
func (unsupportedKernel) PageSize() uint64                               { return 0x4000 }
func (unsupportedKernel) AttachExc(int) error                            { return ErrNotSupported }
func (unsupportedKernel) DetachExc(int) error                            { return ErrNotSupported }
